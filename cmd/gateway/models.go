package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v2"

	"llms-gateway/internal/config"
	"llms-gateway/internal/llm"
	"llms-gateway/pkg/logging/logging"
)

var modelsJSON bool

var modelsCommand = &cli.Command{
	Name:  "models",
	Usage: "List the models served by the enabled providers",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the listing as JSON",
			Destination: &modelsJSON,
		},
	},
	Action: func(c *cli.Context) error {
		ctx := logging.WithLogger(c.Context, logging.DefaultLogger())
		return listModels(ctx, c.App.Writer, modelsJSON)
	},
}

func listModels(ctx context.Context, out io.Writer, asJSON bool) error {
	cfgPath, err := resolveConfigPath(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(ctx, cfgPath)
	if err != nil {
		return err
	}

	// no media is resolved here, so no fetch cache
	snap, err := snapshotBuilder(llm.NewHTTPClient(llm.HTTPConfig{}), nil)(ctx, cfg)
	if err != nil {
		return err
	}
	active := snap.ActiveModels()

	if asJSON {
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(active)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tPROVIDER\tPROVIDER MODEL\tPRICING")
	for _, m := range active {
		pricing := "-"
		if m.Pricing != nil {
			pricing = m.Pricing.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Provider, m.ProviderModel, pricing)
	}
	return tw.Flush()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"llms-gateway/internal/config"
	"llms-gateway/internal/llm"
	"llms-gateway/internal/provider"
	"llms-gateway/pkg/logging/logging"
)

var checkCommand = &cli.Command{
	Name:      "check",
	Usage:     "Send a ping request to the models of one provider",
	ArgsUsage: "<provider> [model...|all]",
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.Exit("check expects a provider name", 2)
		}
		ctx := logging.WithLogger(c.Context, logging.DefaultLogger())
		return runCheck(ctx, c.App.Writer, c.Args().First(), c.Args().Tail())
	},
}

func runCheck(ctx context.Context, out io.Writer, name string, models []string) error {
	cfgPath, err := resolveConfigPath(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(ctx, cfgPath)
	if err != nil {
		return err
	}

	snap, err := snapshotBuilder(llm.NewHTTPClient(llm.HTTPConfig{}), nil)(ctx, cfg)
	if err != nil {
		return err
	}

	p, ok := snap.Provider(name)
	if !ok {
		fmt.Fprintf(out, "Provider '%s' not found or not enabled\n", name)
		fmt.Fprintf(out, "Available providers: %s\n", strings.Join(snap.Status().Enabled, ", "))
		return nil
	}
	pc, _ := cfg.Provider(name)

	targets := checkTargets(out, p, models)
	if len(targets) == 0 {
		fmt.Fprintf(out, "No models to check for provider '%s'\n", name)
		return nil
	}

	plural := "s"
	if len(targets) == 1 {
		plural = ""
	}
	fmt.Fprintf(out, "\nChecking %d model%s for provider '%s':\n\n", len(targets), plural, name)

	for _, model := range targets {
		req, err := cfg.CheckRequest(pc, model)
		if err != nil {
			return err
		}

		started := time.Now()
		resp, err := p.Chat(ctx, req)
		fmt.Fprintln(out, checkLine(model, resp, err, time.Since(started)))
	}
	fmt.Fprintln(out)
	return nil
}

// checkTargets picks the aliases to probe: all of them when none or "all"
// is given, otherwise the named ones the provider serves.
func checkTargets(out io.Writer, p provider.Provider, models []string) []string {
	if len(models) == 0 || (len(models) == 1 && models[0] == "all") {
		all := make([]string, 0)
		for alias := range p.Models() {
			all = append(all, alias)
		}
		sort.Strings(all)
		return all
	}

	var targets []string
	for _, m := range models {
		if p.HasModel(m) {
			targets = append(targets, m)
			continue
		}
		fmt.Fprintf(out, "Model '%s' not found in provider '%s'\n", m, p.Name())
	}
	return targets
}

func checkLine(model string, resp *llm.ChatResponse, err error, elapsed time.Duration) string {
	ms := elapsed.Milliseconds()
	if err == nil {
		if resp == nil || len(resp.Choices) == 0 {
			return fmt.Sprintf("  ✗ %-40s Invalid response format", model)
		}
		return fmt.Sprintf("  ✓ %-40s (%dms)", model, ms)
	}

	var e *llm.Error
	if errors.As(err, &e) {
		switch {
		case e.Kind == llm.KindUpstreamHTTP:
			msg := e.Message
			if msg == "" && e.Body != "" {
				msg = llm.Truncate(e.Body, 100)
			}
			if msg == "" {
				msg = fmt.Sprintf("HTTP %d", e.Status)
			}
			return fmt.Sprintf("  ✗ %-40s %s", model, msg)
		case e.Kind == llm.KindTransport && e.Timeout:
			return fmt.Sprintf("  ✗ %-40s Timeout after %dms", model, ms)
		}
	}
	return fmt.Sprintf("  ✗ %-40s %s", model, llm.Truncate(err.Error(), 100))
}

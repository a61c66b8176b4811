package main

import (
	"errors"
	"io/fs"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	_ "github.com/viant/afsc/s3"

	"llms-gateway/pkg/logging/logging"
)

var configPath string
var logLevel string

var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:        "config",
		Usage:       "Path or URL (file://, s3://) of the provider configuration (YAML or JSON)",
		Aliases:     []string{"c"},
		EnvVars:     []string{"LLMS_CONFIG"},
		Value:       "llms.yaml",
		Destination: &configPath,
	},
	&cli.StringFlag{
		Name:        "log-level",
		Usage:       "Log level (debug, info, warn, error)",
		EnvVars:     []string{"LOG_LEVEL"},
		Destination: &logLevel,
	},
}

func newApp() *cli.App {
	return &cli.App{
		Name:     "gateway",
		Usage:    "OpenAI-compatible gateway in front of multiple LLM providers",
		Flags:    globalFlags,
		Before:   setupLogger,
		Commands: []*cli.Command{serveCommand, checkCommand, modelsCommand},
	}
}

func setupLogger(c *cli.Context) error {
	logger, err := logging.Build(os.Getenv("ENV"), logLevel)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)
	return nil
}

func main() {
	// .env is optional; variables already set in the environment win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("ignoring .env: %v", err)
	}

	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"messaging-relay/internal/config"
	"messaging-relay/pkg/logger"
)

type contextKey int

const contextKeyConfig contextKey = iota

func getConfig(ctx *cli.Context) config.Config {
	return ctx.Context.Value(contextKeyConfig).(config.Config)
}

func prepareApp(ctx *cli.Context) error {
	config.LoadEnvFiles(ctx.StringSlice("env-file")...)
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	newCtx := context.WithValue(ctx.Context, contextKeyConfig, cfg)
	ctx.Context = logger.With(newCtx, logger.NewWithWriter(cfg.App.Env, os.Stderr))
	return nil
}

func main() {
	app := &cli.App{
		Name:  "relayctl",
		Usage: "Operate the messaging relay",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Env files to load before reading the environment",
				Value: cli.NewStringSlice(".env.local", ".env"),
			},
		},
		Before: prepareApp,
		Commands: []*cli.Command{
			configureWebhookCommand,
			migrateCommand,
			orphansCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

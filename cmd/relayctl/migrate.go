package main

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/urfave/cli/v2"

	"messaging-relay/internal/store"
	"messaging-relay/pkg/utils"
)

var migrateCommand = &cli.Command{
	Name:   "migrate",
	Usage:  "Apply the database schema",
	Action: cmdMigrate,
}

func cmdMigrate(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	db, err := utils.OpenPostgres(ctx.Context, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	if err := store.Migrate(ctx.Context, db); err != nil {
		return err
	}
	fmt.Println("Schema applied")
	return nil
}

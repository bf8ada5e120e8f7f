package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"messaging-relay/internal/audit"
	"messaging-relay/internal/store"
	"messaging-relay/pkg/utils"
)

var orphansCommand = &cli.Command{
	Name:  "orphans",
	Usage: "List provider messages that were sent but never recorded locally",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Maximum number of events to show",
			Value: 50,
		},
	},
	Action: cmdOrphans,
}

func cmdOrphans(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	db, err := utils.OpenPostgres(ctx.Context, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	svc := audit.NewService(audit.NewPostgresRepo(db))
	events, err := svc.List(ctx.Context, audit.EventTypeOrphanedProviderMessage, ctx.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("No orphaned provider messages")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tCONVERSATION\tPROVIDER CONVERSATION\tPROVIDER MESSAGE\tCAUSE")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			store.Deref(e.ConversationID),
			store.Deref(e.ExternalConversationID),
			store.Deref(e.ExternalMessageID),
			e.Cause(),
		)
	}
	return tw.Flush()
}

package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"messaging-relay/internal/telephony"
)

var configureWebhookCommand = &cli.Command{
	Name:      "configure-webhook",
	Usage:     "Point the Conversations service webhook at this relay",
	ArgsUsage: "[BASE_URL]",
	Action:    cmdConfigureWebhook,
}

func cmdConfigureWebhook(ctx *cli.Context) error {
	cfg := getConfig(ctx)

	baseURL := cfg.Twilio.PublicBaseURL
	if ctx.NArg() > 0 {
		baseURL = ctx.Args().Get(0)
	}
	if strings.TrimSpace(baseURL) == "" {
		return fmt.Errorf("you must pass a base URL or set PUBLIC_BASE_URL")
	}

	w := telephony.NewWebhookConfigurator(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
	setup, err := w.Configure(ctx.Context, baseURL)
	if err != nil {
		return fmt.Errorf("failed to configure webhook: %w", err)
	}

	if setup.Created {
		fmt.Printf("Created Conversations service %s\n", setup.ServiceSID)
	}
	fmt.Printf("Webhook: POST %s\n", setup.WebhookURL)
	fmt.Printf("Filters: %s\n", strings.Join(setup.Filters, ", "))
	if cb := cfg.StatusCallback(); cb != "" {
		fmt.Printf("Messaging status callback URL: %s\n", cb)
	}
	fmt.Printf("\nTWILIO_CONVERSATIONS_SERVICE_SID=%s\n", setup.ServiceSID)
	return nil
}

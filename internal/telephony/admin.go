package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	conversations "github.com/twilio/twilio-go/rest/conversations/v1"
)

const (
	defaultServiceName = "Messages App Service"
	conversationsPath  = "/api/twilio-conversations-webhook"
)

// WebhookFilters are the Conversations events the relay consumes.
var WebhookFilters = []string{"onMessageAdded", "onParticipantAdded", "onDeliveryUpdated"}

// WebhookConfigurator points a Conversations service's post-event webhook at the relay.
type WebhookConfigurator struct {
	api serviceAdminAPI
}

func NewWebhookConfigurator(accountSID, authToken string) *WebhookConfigurator {
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &WebhookConfigurator{api: rc.ConversationsV1}
}

type WebhookSetup struct {
	ServiceSID string
	Created    bool
	WebhookURL string
	Filters    []string
}

// Configure finds the first service (creating one when none exists) and sets its webhook.
func (w *WebhookConfigurator) Configure(ctx context.Context, baseURL string) (WebhookSetup, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return WebhookSetup{}, errors.New("base url is required")
	}
	if err := ctx.Err(); err != nil {
		return WebhookSetup{}, err
	}

	setup := WebhookSetup{WebhookURL: baseURL + conversationsPath, Filters: WebhookFilters}

	list := &conversations.ListServiceParams{}
	list.SetLimit(1)
	services, err := w.api.ListService(list)
	if err != nil {
		return WebhookSetup{}, fmt.Errorf("list services: %w", err)
	}
	if len(services) > 0 {
		setup.ServiceSID = deref(services[0].Sid)
	}
	if setup.ServiceSID == "" {
		params := &conversations.CreateServiceParams{}
		params.SetFriendlyName(defaultServiceName)
		svc, err := w.api.CreateService(params)
		if err != nil {
			return WebhookSetup{}, fmt.Errorf("create service: %w", err)
		}
		setup.ServiceSID = deref(svc.Sid)
		setup.Created = true
	}
	if setup.ServiceSID == "" {
		return WebhookSetup{}, errors.New("service has no sid")
	}

	if err := ctx.Err(); err != nil {
		return WebhookSetup{}, err
	}
	cfg := &conversations.UpdateServiceWebhookConfigurationParams{}
	cfg.SetPostWebhookUrl(setup.WebhookURL)
	cfg.SetMethod("POST")
	cfg.SetFilters(WebhookFilters)
	if _, err := w.api.UpdateServiceWebhookConfiguration(setup.ServiceSID, cfg); err != nil {
		return WebhookSetup{}, fmt.Errorf("update webhook configuration: %w", err)
	}
	return setup, nil
}

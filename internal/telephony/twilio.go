package telephony

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/twilio/twilio-go"
	conversations "github.com/twilio/twilio-go/rest/conversations/v1"
	"golang.org/x/time/rate"

	"messaging-relay/internal/messaging"
)

const defaultMediaBaseURL = "https://mcs.us1.twilio.com/v1"

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// ServiceSID selects a Conversations service. Empty uses the account default service.
	ServiceSID string
	// RateLimitRPS paces REST calls. Zero disables pacing.
	RateLimitRPS float64
	// MediaBaseURL is the Media Content Service root.
	MediaBaseURL string
	HTTPClient   *http.Client
}

// TwilioProvider implements messaging.Provider on Twilio Conversations.
type TwilioProvider struct {
	api     conversationsAPI
	cfg     TwilioConfig
	limiter *rate.Limiter
	http    *http.Client

	mu sync.Mutex
	// services caches the chat service of conversations created or fetched here.
	services map[string]string
}

var _ messaging.Provider = (*TwilioProvider)(nil)

func NewTwilioProvider(cfg TwilioConfig) *TwilioProvider {
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioProvider(rc.ConversationsV1, cfg)
}

func newTwilioProvider(api conversationsAPI, cfg TwilioConfig) *TwilioProvider {
	if cfg.MediaBaseURL == "" {
		cfg.MediaBaseURL = defaultMediaBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	p := &TwilioProvider{
		api:      api,
		cfg:      cfg,
		http:     cfg.HTTPClient,
		services: map[string]string{},
	}
	if cfg.RateLimitRPS > 0 {
		burst := int(cfg.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	return p
}

func (p *TwilioProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

func (p *TwilioProvider) CreateConversation(ctx context.Context, friendlyName string) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}

	if p.cfg.ServiceSID != "" {
		params := &conversations.CreateServiceConversationParams{}
		params.SetFriendlyName(friendlyName)
		resp, err := p.api.CreateServiceConversation(p.cfg.ServiceSID, params)
		if err != nil {
			return "", err
		}
		sid := deref(resp.Sid)
		if sid == "" {
			return "", errors.New("twilio: conversation created without sid")
		}
		p.rememberService(sid, p.cfg.ServiceSID)
		return sid, nil
	}

	params := &conversations.CreateConversationParams{}
	params.SetFriendlyName(friendlyName)
	resp, err := p.api.CreateConversation(params)
	if err != nil {
		return "", err
	}
	sid := deref(resp.Sid)
	if sid == "" {
		return "", errors.New("twilio: conversation created without sid")
	}
	p.rememberService(sid, deref(resp.ChatServiceSid))
	return sid, nil
}

func (p *TwilioProvider) AddParticipant(ctx context.Context, conversationID, address, proxyAddress string) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}

	if p.cfg.ServiceSID != "" {
		params := &conversations.CreateServiceConversationParticipantParams{}
		params.SetMessagingBindingAddress(address)
		params.SetMessagingBindingProxyAddress(proxyAddress)
		resp, err := p.api.CreateServiceConversationParticipant(p.cfg.ServiceSID, conversationID, params)
		if err != nil {
			return "", err
		}
		return deref(resp.Sid), nil
	}

	params := &conversations.CreateConversationParticipantParams{}
	params.SetMessagingBindingAddress(address)
	params.SetMessagingBindingProxyAddress(proxyAddress)
	resp, err := p.api.CreateConversationParticipant(conversationID, params)
	if err != nil {
		return "", err
	}
	return deref(resp.Sid), nil
}

func (p *TwilioProvider) CreateMessage(ctx context.Context, conversationID string, m messaging.OutboundMessage) (string, error) {
	var mediaSID string
	if m.Media != nil {
		serviceSID, err := p.serviceFor(ctx, conversationID)
		if err != nil {
			return "", err
		}
		mediaSID, err = p.uploadMedia(ctx, serviceSID, m.Media)
		if err != nil {
			return "", err
		}
	}

	if err := p.wait(ctx); err != nil {
		return "", err
	}

	if p.cfg.ServiceSID != "" {
		params := &conversations.CreateServiceConversationMessageParams{}
		params.SetAuthor(m.Author)
		if m.Body != nil {
			params.SetBody(*m.Body)
		}
		if mediaSID != "" {
			params.SetMediaSid(mediaSID)
		}
		resp, err := p.api.CreateServiceConversationMessage(p.cfg.ServiceSID, conversationID, params)
		if err != nil {
			return "", err
		}
		return messageSID(resp.Sid)
	}

	params := &conversations.CreateConversationMessageParams{}
	params.SetAuthor(m.Author)
	if m.Body != nil {
		params.SetBody(*m.Body)
	}
	if mediaSID != "" {
		params.SetMediaSid(mediaSID)
	}
	resp, err := p.api.CreateConversationMessage(conversationID, params)
	if err != nil {
		return "", err
	}
	return messageSID(resp.Sid)
}

func messageSID(sid *string) (string, error) {
	if deref(sid) == "" {
		return "", errors.New("twilio: message created without sid")
	}
	return *sid, nil
}

func (p *TwilioProvider) rememberService(conversationSID, serviceSID string) {
	if serviceSID == "" {
		return
	}
	p.mu.Lock()
	p.services[conversationSID] = serviceSID
	p.mu.Unlock()
}

// serviceFor returns the chat service owning a conversation; media is uploaded per service.
func (p *TwilioProvider) serviceFor(ctx context.Context, conversationSID string) (string, error) {
	if p.cfg.ServiceSID != "" {
		return p.cfg.ServiceSID, nil
	}
	p.mu.Lock()
	sid, ok := p.services[conversationSID]
	p.mu.Unlock()
	if ok {
		return sid, nil
	}

	if err := p.wait(ctx); err != nil {
		return "", err
	}
	resp, err := p.api.FetchConversation(conversationSID)
	if err != nil {
		return "", err
	}
	sid = deref(resp.ChatServiceSid)
	if sid == "" {
		return "", errors.New("twilio: conversation has no chat service")
	}
	p.rememberService(conversationSID, sid)
	return sid, nil
}

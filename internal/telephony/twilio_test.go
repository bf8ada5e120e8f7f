package telephony

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	conversations "github.com/twilio/twilio-go/rest/conversations/v1"

	"messaging-relay/internal/messaging"
)

func strp(s string) *string { return &s }

type fakeConversationsAPI struct {
	mu sync.Mutex

	created      []string
	serviceCalls []string
	participants []string
	messages     []messageCall
	fetches      int

	chatService string
	failMessage error
}

type messageCall struct {
	Service      string
	Conversation string
	Author       string
	Body         *string
	MediaSid     *string
}

func (f *fakeConversationsAPI) CreateConversation(params *conversations.CreateConversationParams) (*conversations.ConversationsV1Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, deref(params.FriendlyName))
	return &conversations.ConversationsV1Conversation{Sid: strp("CH1"), ChatServiceSid: strp(f.chatService)}, nil
}

func (f *fakeConversationsAPI) CreateServiceConversation(chatServiceSid string, params *conversations.CreateServiceConversationParams) (*conversations.ConversationsV1ServiceConversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, deref(params.FriendlyName))
	f.serviceCalls = append(f.serviceCalls, chatServiceSid)
	return &conversations.ConversationsV1ServiceConversation{Sid: strp("CH2")}, nil
}

func (f *fakeConversationsAPI) FetchConversation(sid string) (*conversations.ConversationsV1Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return &conversations.ConversationsV1Conversation{Sid: strp(sid), ChatServiceSid: strp(f.chatService)}, nil
}

func (f *fakeConversationsAPI) CreateConversationParticipant(conversationSid string, params *conversations.CreateConversationParticipantParams) (*conversations.ConversationsV1ConversationParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants = append(f.participants, conversationSid+"|"+deref(params.MessagingBindingAddress)+"|"+deref(params.MessagingBindingProxyAddress))
	return &conversations.ConversationsV1ConversationParticipant{Sid: strp("MB1")}, nil
}

func (f *fakeConversationsAPI) CreateServiceConversationParticipant(chatServiceSid string, conversationSid string, params *conversations.CreateServiceConversationParticipantParams) (*conversations.ConversationsV1ServiceConversationParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serviceCalls = append(f.serviceCalls, chatServiceSid)
	f.participants = append(f.participants, conversationSid+"|"+deref(params.MessagingBindingAddress)+"|"+deref(params.MessagingBindingProxyAddress))
	return &conversations.ConversationsV1ServiceConversationParticipant{Sid: strp("MB2")}, nil
}

func (f *fakeConversationsAPI) CreateConversationMessage(conversationSid string, params *conversations.CreateConversationMessageParams) (*conversations.ConversationsV1ConversationMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMessage != nil {
		return nil, f.failMessage
	}
	f.messages = append(f.messages, messageCall{
		Conversation: conversationSid,
		Author:       deref(params.Author),
		Body:         params.Body,
		MediaSid:     params.MediaSid,
	})
	return &conversations.ConversationsV1ConversationMessage{Sid: strp("IM1")}, nil
}

func (f *fakeConversationsAPI) CreateServiceConversationMessage(chatServiceSid string, conversationSid string, params *conversations.CreateServiceConversationMessageParams) (*conversations.ConversationsV1ServiceConversationMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, messageCall{
		Service:      chatServiceSid,
		Conversation: conversationSid,
		Author:       deref(params.Author),
		Body:         params.Body,
		MediaSid:     params.MediaSid,
	})
	return &conversations.ConversationsV1ServiceConversationMessage{Sid: strp("IM2")}, nil
}

type mcsRecorder struct {
	mu          sync.Mutex
	paths       []string
	contentType string
	disposition string
	body        string
	user        string
}

func newMCSServer(t *testing.T, rec *mcsRecorder) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		user, _, _ := r.BasicAuth()
		rec.mu.Lock()
		rec.paths = append(rec.paths, r.URL.Path)
		rec.contentType = r.Header.Get("Content-Type")
		rec.disposition = r.Header.Get("Content-Disposition")
		rec.body = string(b)
		rec.user = user
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"sid":"ME123"}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTwilioProvider_ImplementsProvider(t *testing.T) {
	var _ messaging.Provider = (*TwilioProvider)(nil)
}

func TestTwilioProvider_DefaultServiceFlow(t *testing.T) {
	api := &fakeConversationsAPI{chatService: "IS1"}
	rec := &mcsRecorder{}
	srv := newMCSServer(t, rec)
	p := newTwilioProvider(api, TwilioConfig{AccountSID: "AC1", AuthToken: "tok", MediaBaseURL: srv.URL})
	ctx := context.Background()

	conv, err := p.CreateConversation(ctx, "contact:+15551234567")
	if err != nil || conv != "CH1" {
		t.Fatalf("CreateConversation = %q, %v", conv, err)
	}
	if len(api.created) != 1 || api.created[0] != "contact:+15551234567" {
		t.Fatalf("friendly names = %v", api.created)
	}

	part, err := p.AddParticipant(ctx, conv, "+15551234567", "+15550009999")
	if err != nil || part != "MB1" {
		t.Fatalf("AddParticipant = %q, %v", part, err)
	}
	if api.participants[0] != "CH1|+15551234567|+15550009999" {
		t.Fatalf("participant = %q", api.participants[0])
	}

	sid, err := p.CreateMessage(ctx, conv, messaging.OutboundMessage{
		Author: "+15550009999",
		Body:   strp("look"),
		Media:  &messaging.MediaUpload{ContentType: "image/png", Filename: "a.png", Body: strings.NewReader("PNGDATA")},
	})
	if err != nil || sid != "IM1" {
		t.Fatalf("CreateMessage = %q, %v", sid, err)
	}

	// Service learned at creation; no fetch needed.
	if api.fetches != 0 {
		t.Fatalf("fetches = %d", api.fetches)
	}
	if len(rec.paths) != 1 || rec.paths[0] != "/Services/IS1/Media" {
		t.Fatalf("upload paths = %v", rec.paths)
	}
	if rec.contentType != "image/png" || rec.body != "PNGDATA" || rec.user != "AC1" {
		t.Fatalf("upload = %+v", rec)
	}
	if !strings.Contains(rec.disposition, `filename=a.png`) {
		t.Fatalf("disposition = %q", rec.disposition)
	}

	m := api.messages[0]
	if m.Author != "+15550009999" || deref(m.Body) != "look" || deref(m.MediaSid) != "ME123" {
		t.Fatalf("message = %+v", m)
	}
}

func TestTwilioProvider_TextMessageHasNoMedia(t *testing.T) {
	api := &fakeConversationsAPI{}
	p := newTwilioProvider(api, TwilioConfig{})

	if _, err := p.CreateMessage(context.Background(), "CH9", messaging.OutboundMessage{Author: "+1", Body: strp("")}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	m := api.messages[0]
	if m.MediaSid != nil {
		t.Fatalf("unexpected media sid %q", *m.MediaSid)
	}
	if m.Body == nil || *m.Body != "" {
		t.Fatalf("body = %v", m.Body)
	}
}

func TestTwilioProvider_FetchesServiceForUnknownConversation(t *testing.T) {
	api := &fakeConversationsAPI{chatService: "IS7"}
	rec := &mcsRecorder{}
	srv := newMCSServer(t, rec)
	p := newTwilioProvider(api, TwilioConfig{MediaBaseURL: srv.URL})
	ctx := context.Background()

	for range 2 {
		_, err := p.CreateMessage(ctx, "CHX", messaging.OutboundMessage{
			Author: "+1",
			Media:  &messaging.MediaUpload{Body: strings.NewReader("x")},
		})
		if err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}
	if api.fetches != 1 {
		t.Fatalf("fetches = %d, want 1 (cached)", api.fetches)
	}
	if rec.paths[1] != "/Services/IS7/Media" {
		t.Fatalf("path = %q", rec.paths[1])
	}
	if rec.contentType != "application/octet-stream" {
		t.Fatalf("content type = %q", rec.contentType)
	}
}

func TestTwilioProvider_ConfiguredServiceUsesServiceEndpoints(t *testing.T) {
	api := &fakeConversationsAPI{}
	p := newTwilioProvider(api, TwilioConfig{ServiceSID: "ISconf"})
	ctx := context.Background()

	conv, err := p.CreateConversation(ctx, "contact:+1")
	if err != nil || conv != "CH2" {
		t.Fatalf("CreateConversation = %q, %v", conv, err)
	}
	if _, err := p.AddParticipant(ctx, conv, "+1", "+2"); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	sid, err := p.CreateMessage(ctx, conv, messaging.OutboundMessage{Author: "+2", Body: strp("hi")})
	if err != nil || sid != "IM2" {
		t.Fatalf("CreateMessage = %q, %v", sid, err)
	}
	for _, s := range api.serviceCalls {
		if s != "ISconf" {
			t.Fatalf("service calls = %v", api.serviceCalls)
		}
	}
	if api.messages[0].Service != "ISconf" {
		t.Fatalf("message service = %q", api.messages[0].Service)
	}
}

func TestTwilioProvider_MediaUploadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	api := &fakeConversationsAPI{}
	p := newTwilioProvider(api, TwilioConfig{ServiceSID: "IS1", MediaBaseURL: srv.URL})

	_, err := p.CreateMessage(context.Background(), "CH1", messaging.OutboundMessage{
		Author: "+1",
		Media:  &messaging.MediaUpload{Body: strings.NewReader("x")},
	})
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("err = %v", err)
	}
	if len(api.messages) != 0 {
		t.Fatalf("message created despite upload failure")
	}
}

func TestTwilioProvider_MessageError(t *testing.T) {
	boom := errors.New("boom")
	api := &fakeConversationsAPI{failMessage: boom}
	p := newTwilioProvider(api, TwilioConfig{})

	if _, err := p.CreateMessage(context.Background(), "CH1", messaging.OutboundMessage{Author: "+1"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestTwilioProvider_RateLimitHonorsContext(t *testing.T) {
	api := &fakeConversationsAPI{}
	p := newTwilioProvider(api, TwilioConfig{RateLimitRPS: 0.001})
	ctx := context.Background()

	if _, err := p.CreateConversation(ctx, "a"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := p.CreateConversation(cctx, "b"); err == nil {
		t.Fatalf("expected error from exhausted limiter with canceled context")
	}
	if len(api.created) != 1 {
		t.Fatalf("created = %v", api.created)
	}
}

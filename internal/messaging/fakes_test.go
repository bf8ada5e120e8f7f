package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"messaging-relay/internal/audit"
	"messaging-relay/internal/store"
)

type sentMessage struct {
	ConversationID string
	Author         string
	Body           *string
	ContentType    string
	Filename       string
	Payload        string
}

type fakeProvider struct {
	mu sync.Mutex

	conversations []string
	participants  [][3]string
	messages      []sentMessage

	failCreateConversation error
	// failMessageAt fails the n-th CreateMessage call (0-based) when >= 0.
	failMessageAt int
}

func newFakeProvider() *fakeProvider { return &fakeProvider{failMessageAt: -1} }

func (p *fakeProvider) CreateConversation(ctx context.Context, friendlyName string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCreateConversation != nil {
		return "", p.failCreateConversation
	}
	p.conversations = append(p.conversations, friendlyName)
	return fmt.Sprintf("CH%d", len(p.conversations)), nil
}

func (p *fakeProvider) AddParticipant(ctx context.Context, conversationID, address, proxyAddress string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.participants = append(p.participants, [3]string{conversationID, address, proxyAddress})
	return fmt.Sprintf("MB%d", len(p.participants)), nil
}

func (p *fakeProvider) CreateMessage(ctx context.Context, conversationID string, m OutboundMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failMessageAt >= 0 && len(p.messages) == p.failMessageAt {
		return "", errors.New("provider rejected message")
	}
	sm := sentMessage{ConversationID: conversationID, Author: m.Author, Body: m.Body}
	if m.Media != nil {
		b, _ := io.ReadAll(m.Media.Body)
		sm.ContentType = m.Media.ContentType
		sm.Filename = m.Media.Filename
		sm.Payload = string(b)
	}
	p.messages = append(p.messages, sm)
	return fmt.Sprintf("IM%d", len(p.messages)), nil
}

func (p *fakeProvider) conversationCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conversations)
}

type fakeFetcher struct {
	fail map[string]error
}

func (f fakeFetcher) Fetch(ctx context.Context, rawURL string, index int) (FetchedMedia, error) {
	if err := f.fail[rawURL]; err != nil {
		return FetchedMedia{}, mediaErr(rawURL, err)
	}
	return FetchedMedia{
		Body:        io.NopCloser(strings.NewReader("bytes:" + rawURL)),
		ContentType: "application/test",
		Filename:    FilenameFromURL(rawURL, index),
	}, nil
}

// failingRepo fails RecordMessages.
type failingRepo struct {
	*store.MemoryRepo
}

func (failingRepo) RecordMessages(ctx context.Context, conversationID string, msgs []store.Message, opts store.RecordOptions) ([]store.Message, error) {
	return nil, errors.New("connection reset")
}

type harness struct {
	repo     *store.MemoryRepo
	provider *fakeProvider
	audit    *audit.MemoryRepo
	svc      *Service
}

func newHarness() *harness {
	return newHarnessWith(store.NewMemoryRepo(), nil, fakeFetcher{})
}

func newHarnessWith(mem *store.MemoryRepo, repo store.Repository, fetcher MediaFetcher) *harness {
	if repo == nil {
		repo = mem
	}
	provider := newFakeProvider()
	auditRepo := audit.NewMemoryRepo()
	auditSvc := audit.NewService(auditRepo)
	recon := NewReconciler(repo, provider, NewLocalLocker(), auditSvc)
	svc := NewService(repo, recon, provider, fetcher, auditSvc, Options{
		SendingAddress: "+15550009999",
		ProxyAddress:   "+15550009999",
	})
	return &harness{repo: mem, provider: provider, audit: auditRepo, svc: svc}
}

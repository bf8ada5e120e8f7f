package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"messaging-relay/internal/messaging"
)

type mcsMedia struct {
	Sid string `json:"sid"`
}

// uploadMedia streams an attachment to the Media Content Service and returns its ME sid.
func (p *TwilioProvider) uploadMedia(ctx context.Context, serviceSID string, m *messaging.MediaUpload) (string, error) {
	if m == nil || m.Body == nil {
		return "", errors.New("twilio: media body is required")
	}
	if err := p.wait(ctx); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/Services/%s/Media", strings.TrimRight(p.cfg.MediaBaseURL, "/"), url.PathEscape(serviceSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, m.Body)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	ct := m.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	req.Header.Set("Content-Type", ct)
	if m.Filename != "" {
		req.Header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": m.Filename}))
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio: media upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("twilio: media upload: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out mcsMedia
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("twilio: media upload: decode: %w", err)
	}
	if out.Sid == "" {
		return "", errors.New("twilio: media upload returned no sid")
	}
	return out.Sid, nil
}

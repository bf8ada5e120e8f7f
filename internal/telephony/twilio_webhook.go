package telephony

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"messaging-relay/internal/messaging"
)

// Twilio posts application/x-www-form-urlencoded by default; Conversations webhooks may
// also arrive as JSON. Both are flattened into Params.
// Ref: https://www.twilio.com/docs/conversations/conversations-webhooks

const (
	maxWebhookBody = 1 << 20
	// maxMediaItems caps NumMedia so a forged count cannot fan out unbounded rows.
	maxMediaItems = 20
)

// Params is a flattened webhook payload. Nested JSON objects use dotted keys
// ("MessagingBinding.Address"), matching the form field names.
type Params map[string]string

func (p Params) Get(key string) string {
	return strings.TrimSpace(p[key])
}

// ParseParams reads the request body once and restores it for later readers.
// It returns the params and the raw body (used for JSON signature validation).
func ParseParams(r *http.Request) (Params, []byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return nil, nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))

	if isJSON(r.Header.Get("Content-Type")) {
		if p, err := parseJSONParams(raw); err == nil {
			return p, raw, nil
		}
	}
	p, err := parseFormParams(raw)
	if err != nil {
		return nil, raw, err
	}
	return p, raw, nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json"
}

func parseFormParams(raw []byte) (Params, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, err
	}
	p := make(Params, len(values))
	for k, v := range values {
		if len(v) > 0 {
			p[k] = v[0]
		}
	}
	return p, nil
}

func parseJSONParams(raw []byte) (Params, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	p := Params{}
	flatten(p, "", doc)
	return p, nil
}

func flatten(dst Params, prefix string, v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(dst, key, child)
		}
	case []any:
		b, _ := json.Marshal(t)
		dst[prefix] = string(b)
	case nil:
	case string:
		dst[prefix] = t
	default:
		dst[prefix] = fmt.Sprint(t)
	}
}

// mediaItem is an entry of the Conversations "Media" array.
type mediaItem struct {
	Sid         string `json:"Sid"`
	ContentType string `json:"ContentType"`
	Filename    string `json:"Filename"`
}

// ConversationEventFromParams maps a Conversations webhook to the messaging event.
func ConversationEventFromParams(p Params, mediaBaseURL string) messaging.ConversationEvent {
	ev := messaging.ConversationEvent{
		EventType:       p.Get("EventType"),
		ConversationSID: p.Get("ConversationSid"),
		ParticipantSID:  p.Get("ParticipantSid"),
		MessageSID:      p.Get("MessageSid"),
		Address:         p.Get("MessagingBinding.Address"),
		ProxyAddress:    p.Get("MessagingBinding.ProxyAddress"),
		Author:          p.Get("Author"),
		Body:            p["Body"],
		Status:          p.Get("Status"),
	}
	if ev.Status == "" {
		ev.Status = p.Get("DeliveryStatus")
	}

	if n := mediaCount(p.Get("NumMedia")); n > 0 {
		ev.Media = make([]messaging.InboundMedia, n)
		for i := range n {
			ev.Media[i] = messaging.InboundMedia{
				URL:         p.Get("Media.Url" + strconv.Itoa(i)),
				ContentType: p.Get("Media.ContentType" + strconv.Itoa(i)),
			}
		}
		return ev
	}
	ev.Media = mediaFromArray(p.Get("Media"), p.Get("ChatServiceSid"), mediaBaseURL)
	return ev
}

// mediaFromArray decodes the JSON "Media" field. Content URLs are derived from the
// service media endpoint when the chat service is known.
func mediaFromArray(raw, serviceSID, baseURL string) []messaging.InboundMedia {
	if raw == "" {
		return nil
	}
	var items []mediaItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	if len(items) > maxMediaItems {
		items = items[:maxMediaItems]
	}
	if baseURL == "" {
		baseURL = defaultMediaBaseURL
	}
	out := make([]messaging.InboundMedia, 0, len(items))
	for _, it := range items {
		m := messaging.InboundMedia{ContentType: it.ContentType}
		if serviceSID != "" && it.Sid != "" {
			m.URL = fmt.Sprintf("%s/Services/%s/Media/%s", strings.TrimRight(baseURL, "/"), serviceSID, it.Sid)
		}
		out = append(out, m)
	}
	return out
}

// SMSEventFromParams maps a Programmable Messaging inbound webhook.
func SMSEventFromParams(p Params) messaging.SMSEvent {
	ev := messaging.SMSEvent{
		From:       p.Get("From"),
		To:         p.Get("To"),
		Body:       p["Body"],
		MessageSID: p.Get("MessageSid"),
	}
	if ev.MessageSID == "" {
		ev.MessageSID = p.Get("SmsMessageSid")
	}
	n := mediaCount(p.Get("NumMedia"))
	for i := range n {
		ev.Media = append(ev.Media, messaging.InboundMedia{
			URL:         p.Get("MediaUrl" + strconv.Itoa(i)),
			ContentType: p.Get("MediaContentType" + strconv.Itoa(i)),
		})
	}
	return ev
}

// StatusUpdate is a message status callback.
type StatusUpdate struct {
	MessageSID string
	Status     string
}

func StatusUpdateFromParams(p Params) StatusUpdate {
	s := StatusUpdate{
		MessageSID: p.Get("MessageSid"),
		Status:     p.Get("MessageStatus"),
	}
	if s.MessageSID == "" {
		s.MessageSID = p.Get("SmsSid")
	}
	if s.Status == "" {
		s.Status = p.Get("SmsStatus")
	}
	return s
}

func mediaCount(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	if n > maxMediaItems {
		return maxMediaItems
	}
	return n
}

package telephony

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/client"

	"messaging-relay/pkg/logger"
)

const (
	signatureHeader = "X-Twilio-Signature"
	paramsKey       = "twilio.params"
)

// SignatureVerifier checks X-Twilio-Signature against the auth token and the public request URL.
type SignatureVerifier struct {
	validator     client.RequestValidator
	authToken     string
	enabled       bool
	publicBaseURL string
}

func NewSignatureVerifier(authToken string, enabled bool, publicBaseURL string) *SignatureVerifier {
	return &SignatureVerifier{
		validator:     client.NewRequestValidator(authToken),
		authToken:     authToken,
		enabled:       enabled,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// RequestURL reconstructs the URL Twilio signed. Behind a proxy the forwarded
// headers win; a configured public base URL overrides both.
func (v *SignatureVerifier) RequestURL(r *http.Request) string {
	uri := r.URL.RequestURI()
	if v.publicBaseURL != "" {
		return v.publicBaseURL + uri
	}
	proto := firstHeaderValue(r.Header.Get("X-Forwarded-Proto"))
	if proto == "" {
		proto = "https"
	}
	host := firstHeaderValue(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = r.Host
	}
	return proto + "://" + host + uri
}

func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// Verify reports whether the request carries a valid signature. Disabled verification accepts everything.
func (v *SignatureVerifier) Verify(r *http.Request, params Params, raw []byte) bool {
	if !v.enabled {
		return true
	}
	sig := r.Header.Get(signatureHeader)
	if sig == "" || v.authToken == "" {
		return false
	}
	u := v.RequestURL(r)

	if isJSON(r.Header.Get("Content-Type")) {
		if parsed, err := url.Parse(u); err == nil && parsed.Query().Get("bodySHA256") != "" {
			return v.validator.ValidateBody(u, raw, sig)
		}
		return v.validator.Validate(u, map[string]string{}, sig)
	}
	return v.validator.Validate(u, params, sig)
}

// Middleware parses the webhook payload, rejects bad signatures with 403 and
// stores the params for the handler.
func (v *SignatureVerifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromGin(c)

		params, raw, err := ParseParams(c.Request)
		if err != nil {
			log.Warn("twilio webhook parse failed", "err", err)
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		if !v.Verify(c.Request, params, raw) {
			log.Warn("twilio signature rejected", "url", v.RequestURL(c.Request))
			c.String(http.StatusForbidden, "Invalid signature")
			c.Abort()
			return
		}
		c.Set(paramsKey, params)
		c.Next()
	}
}

// ParamsFromGin returns the params stored by Middleware, parsing the body when absent.
func ParamsFromGin(c *gin.Context) (Params, error) {
	if v, ok := c.Get(paramsKey); ok {
		if p, ok := v.(Params); ok {
			return p, nil
		}
	}
	p, _, err := ParseParams(c.Request)
	return p, err
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:    AppConfig{Env: "local", Port: 8080},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "relay"},
		Twilio: TwilioConfig{AccountSID: "AC123", AuthToken: "tok", ValidateWebhooks: true},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "DB_HOST", "TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Media.FetchTimeout != 20*time.Second {
		t.Fatalf("expected default media timeout, got %s", c.Media.FetchTimeout)
	}
	if c.RedisEnabled() {
		t.Fatalf("redis should be disabled without host")
	}
}

func TestValidate_DatabaseURLReplacesDiscreteFields(t *testing.T) {
	c := validLocal()
	c.DB = DBConfig{URL: "postgres://u:p@db:5432/relay?sslmode=disable"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.PostgresDSN() != c.DB.URL {
		t.Fatalf("expected DSN to be DATABASE_URL")
	}

	c.DB.URL = "mysql://nope"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for non-postgres url")
	}
}

func TestValidate_ProductionRejectsDisabledSignatureCheck(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.DB.SSLMode = "require"
	c.Twilio.ValidateWebhooks = false
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAddresses_Fallbacks(t *testing.T) {
	c := validLocal()
	if c.SendingAddress() != "" || c.ProxyAddress() != "" {
		t.Fatalf("expected empty addresses")
	}

	c.Twilio.ProxyAddress = "+15550000009"
	if c.SendingAddress() != "" {
		t.Fatalf("proxy address must not become the sender, got %q", c.SendingAddress())
	}
	c.Twilio.ProxyAddress = ""

	c.Twilio.PhoneNumber = "+15550000001"
	if c.SendingAddress() != "+15550000001" || c.ProxyAddress() != "+15550000001" {
		t.Fatalf("expected phone number fallback, got %q %q", c.SendingAddress(), c.ProxyAddress())
	}

	c.Twilio.MessagingFrom = "+15550000002"
	c.Twilio.ProxyAddress = "+15550000003"
	if c.SendingAddress() != "+15550000002" {
		t.Fatalf("sending address: got %q", c.SendingAddress())
	}
	if c.ProxyAddress() != "+15550000003" {
		t.Fatalf("proxy address: got %q", c.ProxyAddress())
	}
}

func TestStatusCallback(t *testing.T) {
	c := validLocal()
	if c.StatusCallback() != "" {
		t.Fatalf("expected empty")
	}
	c.Twilio.PublicBaseURL = "https://relay.example.com"
	if got := c.StatusCallback(); got != "https://relay.example.com/api/twilio-status-callback" {
		t.Fatalf("got %q", got)
	}
	c.Twilio.StatusCallbackURL = "https://cb.example.com/x"
	if got := c.StatusCallback(); got != "https://cb.example.com/x" {
		t.Fatalf("got %q", got)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "3000")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/relay")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC1")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	t.Setenv("TWILIO_WEBHOOK_VALIDATE", "false")
	t.Setenv("TWILIO_RATE_LIMIT_RPS", "2.5")
	t.Setenv("MEDIA_FETCH_TIMEOUT", "5s")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test,")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.App.Port != 3000 || c.RedisAddr() != "cache:6379" {
		t.Fatalf("unexpected app/redis: %+v %s", c.App, c.RedisAddr())
	}
	if c.Twilio.ValidateWebhooks {
		t.Fatalf("expected validation disabled")
	}
	if c.Twilio.RateLimitRPS != 2.5 || c.Media.FetchTimeout != 5*time.Second {
		t.Fatalf("unexpected twilio/media: %+v %+v", c.Twilio, c.Media)
	}
	if len(c.HTTP.AllowedOrigins) != 2 || c.HTTP.AllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %v", c.HTTP.AllowedOrigins)
	}
}

func TestLoad_ReportsParseErrors(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "abc")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/relay")
	t.Setenv("TWILIO_WEBHOOK_VALIDATE", "maybe")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "APP_PORT") || !strings.Contains(err.Error(), "TWILIO_WEBHOOK_VALIDATE") {
		t.Fatalf("expected aggregated errors, got %q", err.Error())
	}
}

func TestLoadEnvFiles_ExistingEnvWins(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env.local")
	if err := os.WriteFile(p, []byte("RELAY_TEST_A=file\nRELAY_TEST_B=file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RELAY_TEST_A", "env")
	t.Setenv("RELAY_TEST_B", "")
	os.Unsetenv("RELAY_TEST_B")

	LoadEnvFiles(p, filepath.Join(dir, "missing.env"))

	if got := os.Getenv("RELAY_TEST_A"); got != "env" {
		t.Fatalf("expected env to win, got %q", got)
	}
	if got := os.Getenv("RELAY_TEST_B"); got != "file" {
		t.Fatalf("expected file value, got %q", got)
	}
}

package telephony

import (
	"strings"
	"testing"
)

func TestRenderMessagingTwiML_Empty(t *testing.T) {
	out, err := RenderMessagingTwiML("")
	if err != nil {
		t.Fatalf("RenderMessagingTwiML: %v", err)
	}
	if !strings.HasPrefix(out, "<?xml") {
		t.Fatalf("missing xml header: %q", out)
	}
	if !strings.Contains(out, "<Response></Response>") {
		t.Fatalf("out = %q", out)
	}
}

func TestRenderMessagingTwiML_Reply(t *testing.T) {
	out, err := RenderMessagingTwiML("thanks & bye")
	if err != nil {
		t.Fatalf("RenderMessagingTwiML: %v", err)
	}
	if !strings.Contains(out, "<Message>thanks &amp; bye</Message>") {
		t.Fatalf("out = %q", out)
	}
}

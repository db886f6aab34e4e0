package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"meetbid.org/internal/identity"
	"meetbid.org/internal/obs"
)

func TestLogEventIncludesContext(t *testing.T) {
	logger := obs.Logger()
	orig := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(orig)

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = identity.ContextWithPrincipal(ctx, identity.Principal{Subject: "bidder-9"})

	if err := LogEvent(ctx, "auction.bid.place", map[string]any{"auction_id": uint64(4)}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("audit entry is not JSON: %v", err)
	}
	if entry["event"] != "auction.bid.place" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("missing request id: %v", entry)
	}
	if entry["caller"] != "bidder-9" {
		t.Fatalf("missing caller: %v", entry)
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

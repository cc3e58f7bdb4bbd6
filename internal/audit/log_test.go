package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"fivesteps.org/internal/auth"
	"fivesteps.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	obs.InitLogger(obs.LogConfig{Output: &buf})
	defer obs.InitLogger(obs.LogConfig{})

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithIdentity(ctx, auth.Identity{SubjectID: 42, Role: auth.RoleAdmin})

	if err := LogEvent(ctx, "member.delete", map[string]any{"member_id": 7}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" || entry["event"] != "member.delete" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["subject_id"] != float64(42) || entry["role"] != "Admin" {
		t.Fatalf("unexpected caller: %v", entry)
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["member_id"] != float64(7) {
		t.Fatalf("unexpected fields: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

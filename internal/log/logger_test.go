package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"moneta/internal/core"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLevel(%q) err=%v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerJSONIncludesComponentOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Format: FormatJSON, Output: &buf}).WithComponent(ComponentLedger)

	logger.Info("hello", FieldUserID, "alice")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry[FieldComponent] != ComponentLedger {
		t.Errorf("component = %v", entry[FieldComponent])
	}
	if entry[FieldUserID] != "alice" {
		t.Errorf("user_id = %v", entry[FieldUserID])
	}
	if bytes.Count(buf.Bytes(), []byte(`"component"`)) != 1 {
		t.Errorf("component repeated: %s", buf.String())
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Output: &buf})
	logger.Debug("quiet")
	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
	logger.Warn("loud")
	if buf.Len() == 0 {
		t.Fatal("expected warn output")
	}
}

func TestMiddlewareInstallsLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: FormatJSON, Output: &buf})

	handler := Middleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithLogger(r.Context(), FromContext(r.Context()).With(FieldRequestID, "req_1"))
		FromContext(ctx).InfoContext(ctx, "handled")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"req_1"`)) {
		t.Fatalf("missing request id: %s", buf.String())
	}
}

func TestFromContextDefault(t *testing.T) {
	if FromContext(context.Background()).Component() != "unknown" {
		t.Fatal("expected fallback logger")
	}
}

func TestStructuredLoggerLogError(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Format: FormatJSON, Output: &buf}))
	sl.LogError(context.Background(), "boom", errors.New("disk full"), ComponentStorage, OpCreate, nil)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry[FieldError] != "disk full" || entry[FieldOperation] != OpCreate || entry[FieldComponent] != ComponentStorage {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestErrorKind(t *testing.T) {
	cases := map[string]error{
		"":                   nil,
		"validation":         core.ErrInvalidAmount,
		"not_found":          fmt.Errorf("budget b1: %w", core.ErrNotFound),
		"conflict":           core.ErrConflict,
		"write_failure":      core.ErrWriteFailure,
		"missing_identifier": core.ErrMissingIdentifier,
		"internal":           errors.New("boom"),
	}
	for want, err := range cases {
		if got := ErrorKind(err); got != want {
			t.Errorf("ErrorKind(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestFieldsKeepOrder(t *testing.T) {
	args := NewFields().
		WithRequestID("").
		WithUser("alice").
		WithError(core.ErrNotFound).
		Args()
	if len(args) != 3 {
		t.Fatalf("got %d attrs, want 3", len(args))
	}
	keys := []string{FieldUserID, FieldError, FieldErrorKind}
	for i, a := range args {
		if attr := a.(slog.Attr); attr.Key != keys[i] {
			t.Errorf("attr %d = %q, want %q", i, attr.Key, keys[i])
		}
	}
}

func TestWithComponentKeepsAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: FormatJSON, Output: &buf}).
		With(FieldRequestID, "req_9").
		WithComponent(ComponentStream)

	logger.Info("tick")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry[FieldRequestID] != "req_9" || entry[FieldComponent] != ComponentStream {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if bytes.Count(buf.Bytes(), []byte(`"component"`)) != 1 {
		t.Errorf("component repeated: %s", buf.String())
	}
}

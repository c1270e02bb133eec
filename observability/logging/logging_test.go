package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"testing"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := Setup(Options{Service: " lendingd ", Env: "test", Level: "warn", Output: &buf})
	logger.Info("dropped")
	logger.Warn("kept", MaskField("authorization", "Bearer abc"), MaskField("pool", "2"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	want := map[string]any{
		"message":       "kept",
		"severity":      "WARN",
		"service":       "lendingd",
		"env":           "test",
		"authorization": RedactedValue,
		"pool":          "2",
	}
	for key, value := range want {
		if line[key] != value {
			t.Fatalf("%s: expected %v, got %v", key, value, line[key])
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("expected timestamp key")
	}
}

func TestRedactionAllowlist(t *testing.T) {
	keys := RedactionAllowlist()
	if !sort.StringsAreSorted(keys) {
		t.Fatalf("expected sorted keys, got %v", keys)
	}
	found := false
	for _, key := range keys {
		if !IsAllowlisted(key) || !IsAllowlisted(" "+strings.ToUpper(key)+" ") {
			t.Fatalf("listed key %q is not allowlisted", key)
		}
		found = found || key == "request_id"
	}
	if !found {
		t.Fatalf("expected request_id in %v", keys)
	}
	if IsAllowlisted("authorization") {
		t.Fatalf("authorization must be redacted")
	}
	keys[0] = "authorization"
	if IsAllowlisted("authorization") {
		t.Fatalf("allowlist copy leaked into the package state")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("%q: expected %v, got %v", input, want, got)
		}
	}
}

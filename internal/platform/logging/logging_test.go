package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewAttachesServiceField(t *testing.T) {
	var buf bytes.Buffer
	logger := New("server", Options{Output: &buf})
	logger.Info().Msg("started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["service"] != "server" {
		t.Fatalf("service = %v, want server", entry["service"])
	}
	if entry["message"] != "started" {
		t.Fatalf("message = %v, want started", entry["message"])
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New("server", Options{Level: "warn", Output: &buf})
	logger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line emitted at warn level: %q", buf.String())
	}
	logger.Warn().Msg("kept")
	if buf.Len() == 0 {
		t.Fatal("warn line missing")
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	for _, level := range []string{"", "verbose", " INFO "} {
		if got := parseLevel(level); got != zerolog.InfoLevel {
			t.Fatalf("parseLevel(%q) = %v, want info", level, got)
		}
	}
	if got := parseLevel("debug"); got != zerolog.DebugLevel {
		t.Fatalf("parseLevel(debug) = %v, want debug", got)
	}
}

package logging

import (
	"bytes"
	"strings"
	"testing"
)

// TestNew_FiltersBelowLevel verifies debug lines are dropped at warn level
func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "WARN"}, &buf)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	logger.Debug().Msg("hidden")
	logger.Warn().Str("image", "cover.png").Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Debug message should be filtered")
	}
	if !strings.Contains(out, `"image":"cover.png"`) {
		t.Errorf("Expected structured field in output, got %s", out)
	}
}

// TestNew_DefaultLevel verifies an empty level means info
func TestNew_DefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{}, &buf)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	logger.Info().Msg("started")
	if !strings.Contains(buf.String(), "started") {
		t.Error("Expected info message to be written")
	}
}

// TestNew_InvalidLevel verifies unknown levels are rejected
func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New(Config{Level: "chatty"}, &bytes.Buffer{}); err == nil {
		t.Error("Expected error for invalid level")
	}
}

// TestNew_Pretty verifies console output is not JSON
func TestNew_Pretty(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Pretty: true}, &buf)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	logger.Info().Msg("hello")
	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("Expected console format, got %s", buf.String())
	}
}

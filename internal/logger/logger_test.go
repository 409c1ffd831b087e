package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	if !strings.Contains(buf.String(), "test message") {
		t.Fatalf("expected output to contain 'test message', got: %s", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	retrieved := FromContext(ctx)
	retrieved.Info().Msg("test")

	if buf.Len() == 0 {
		t.Fatalf("expected log output from retrieved logger")
	}
}

func TestFromContextDefaultLogger(t *testing.T) {
	log := FromContext(context.Background())
	if log.GetLevel() == zerolog.Disabled {
		t.Fatalf("expected default logger to be enabled")
	}
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithFields(NewWithWriter(buf), map[string]interface{}{
		"deal_number": "0001",
		"role":        "seller",
	})
	log.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, `"deal_number":"0001"`) {
		t.Fatalf("expected output to contain deal_number field, got: %s", output)
	}
	if !strings.Contains(output, `"role":"seller"`) {
		t.Fatalf("expected output to contain role field, got: %s", output)
	}
}

func TestConfigureLevelAndFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := Configure("warn", "json", buf)
	if err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Fatalf("expected info message to be filtered, got: %s", output)
	}
	if !strings.Contains(output, "shown") {
		t.Fatalf("expected warn message, got: %s", output)
	}
}

func TestConfigureRejectsUnknownValues(t *testing.T) {
	if _, err := Configure("loud", "json", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected invalid level error")
	}
	if _, err := Configure("info", "xml", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected invalid format error")
	}
}

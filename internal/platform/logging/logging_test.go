package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"sightsync/internal/platform/logging"
)

func TestNewHonoursLevelAndFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := logging.New(logging.Options{Level: "warn", JSON: true, Output: &buf})
	logger.Info("hidden")
	logger.Warn("visible", "device", "SIM-0001")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"device":"SIM-0001"`) || !strings.Contains(out, `"@module":"sightsync"`) {
		t.Fatalf("expected json warn line with default name, got %s", out)
	}
}

func TestNewFallsBackToInfo(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := logging.New(logging.Options{Name: "test", Level: "nonsense", Output: &buf})
	logger.Debug("quiet")
	logger.Info("loud")
	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "loud") {
		t.Fatalf("unexpected output for fallback level: %s", buf.String())
	}
}

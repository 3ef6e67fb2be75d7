package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{" error ", ERROR},
		{"fatal", FATAL},
		{"verbose", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestJSONOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, true)
	logger.SetOutput(&buf)

	child := logger.WithField("request_id", "abc").WithFields(map[string]interface{}{"stage": "simulation"})
	child.Debug("dropped")
	child.Info("verdict issued", map[string]interface{}{"verdict": "GO"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d: %q", len(lines), buf.String())
	}

	var entry LogEntry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Failed to decode entry: %v", err)
	}
	if entry.Level != "INFO" || entry.Message != "verdict issued" {
		t.Errorf("Unexpected entry %+v", entry)
	}
	for _, key := range []string{"request_id", "stage", "verdict"} {
		if _, ok := entry.Fields[key]; !ok {
			t.Errorf("Expected field %s in %v", key, entry.Fields)
		}
	}
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(DEBUG, false)
	parent.SetOutput(&buf)

	_ = parent.WithField("child", true)
	parent.Info("plain")

	if strings.Contains(buf.String(), "child") {
		t.Errorf("Parent logger picked up child field: %q", buf.String())
	}
}

func TestFatalCallsExit(t *testing.T) {
	logger := Discard()
	logger.level = DEBUG
	code := -1
	logger.exit = func(c int) { code = c }

	logger.Fatal("boom")
	if code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
}

func TestLogrotateConfigNamesComponent(t *testing.T) {
	cfg := GenerateLogrotateConfig("server")
	if !strings.Contains(cfg, DefaultLogDir+"/server/*.log") {
		t.Errorf("Expected log glob for server, got:\n%s", cfg)
	}
}

package logging_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jamesainslie/shelf/pkg/shelf/logging"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    logging.Level
		wantErr bool
	}{
		{"debug", logging.LevelDebug, false},
		{"INFO", logging.LevelInfo, false},
		{"", logging.LevelInfo, false},
		{"warning", logging.LevelWarn, false},
		{" error ", logging.LevelError, false},
		{"loud", logging.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := logging.ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr && !errors.Is(err, logging.ErrInvalidLevel) {
			t.Errorf("ParseLevel(%q) error = %v, want ErrInvalidLevel", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// The remaining tests mutate global logging state and do not run in parallel.

func TestInit_InvalidLevels(t *testing.T) {
	dir := t.TempDir()

	cases := []logging.Config{
		{Level: "nope", Path: filepath.Join(dir, "a.log")},
		{Level: "info", Path: filepath.Join(dir, "b.log"), Components: map[string]string{"backup": "nope"}},
		{Level: "info", Path: filepath.Join(dir, "c.log"), ConsoleLevel: "nope"},
	}
	for i, cfg := range cases {
		if err := logging.Init(cfg); err == nil {
			_ = logging.Close()
			t.Errorf("case %d: Init() succeeded, want error", i)
		}
	}
}

func TestLoggerWritesToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "shelf.log")

	// Obtained before Init, as package-level loggers are.
	early := logging.Get("restore")

	if err := logging.Init(logging.Config{Level: "info", Path: logPath}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	early.Info("restore finished", "files", 3)
	logging.Get("restore").Debug("hidden at info level")

	if err := logging.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "restore finished") {
		t.Errorf("log missing info record: %q", content)
	}
	if !strings.Contains(content, "files=3") {
		t.Errorf("log missing key/value pair: %q", content)
	}
	if strings.Contains(content, "hidden at info level") {
		t.Errorf("debug record written at info level: %q", content)
	}
}

func TestComponentOverride(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "shelf.log")

	err := logging.Init(logging.Config{
		Level:      "warn",
		Path:       logPath,
		Components: map[string]string{"journal": "debug"},
	})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	logging.Get("journal").Debug("journal detail")
	logging.Get("cleanup").Info("cleanup detail")
	logging.Get("cleanup").With("run", "abc").Warn("cleanup warning")

	if err := logging.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "journal detail") {
		t.Errorf("component override not applied: %q", content)
	}
	if strings.Contains(content, "cleanup detail") {
		t.Errorf("info record written at warn level: %q", content)
	}
	if !strings.Contains(content, "run=abc") {
		t.Errorf("With() fields missing: %q", content)
	}
}

func TestGet_ReturnsSameLogger(t *testing.T) {
	if logging.Get("detect") != logging.Get("detect") {
		t.Error("Get() returned distinct loggers for the same component")
	}
}

func TestCloseWithoutInit(t *testing.T) {
	if err := logging.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	// Silent loggers must not panic.
	logging.Get("uninstall").Error("discarded")
}

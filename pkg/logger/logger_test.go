package logger

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "chatty"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaignflow.log")
	log, err := NewLogger(Config{Level: "debug", Format: "json", File: FileConfig{Path: path}})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	log.Info("hello")
	_ = log.Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(b) == 0 {
		t.Fatal("log file is empty")
	}
}

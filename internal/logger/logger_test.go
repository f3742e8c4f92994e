package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetupLevelFiltersDebug(t *testing.T) {
	t.Cleanup(func() { log = newDefault() })
	if err := Setup(Options{Level: "info"}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	var buf bytes.Buffer
	SetOutput(&buf)
	Debugf("[Test] hidden %d", 1)
	Infof("[Test] shown %d", 2)
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("debug line should be filtered: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "[Test] shown 2") {
		t.Fatalf("expected info line, got %s", buf.String())
	}
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	t.Cleanup(func() { log = newDefault() })
	if err := Setup(Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestSetupWritesFile(t *testing.T) {
	t.Cleanup(func() { log = newDefault() })
	path := filepath.Join(t.TempDir(), "dustsweep.log")
	if err := Setup(Options{Level: "debug", File: path}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
	Warnf("[Sweep] wrote %s", "line")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "[Sweep] wrote line") {
		t.Fatalf("unexpected log file contents: %s", data)
	}
}

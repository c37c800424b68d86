package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "warden.log")
	if err := SetLogFile(path); err != nil {
		t.Fatal(err)
	}
	defer Close()

	InfoCF("test", "hello from the logger", map[string]interface{}{"n": 7})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "[INFO] test: hello from the logger") {
		t.Errorf("unexpected log line: %q", out)
	}
	if !strings.Contains(out, "n=7") {
		t.Errorf("fields missing from log line: %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.log")
	if err := SetLogFile(path); err != nil {
		t.Fatal(err)
	}
	defer Close()

	SetLevel(WARN)
	defer SetLevel(INFO)

	InfoC("test", "filtered out")
	WarnC("test", "kept")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "filtered out") {
		t.Error("info line should be filtered at WARN level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("warn line should pass at WARN level")
	}
}

func TestFieldsSortedDeterministically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.log")
	if err := SetLogFile(path); err != nil {
		t.Fatal(err)
	}
	defer Close()

	ErrorCF("test", "msg", map[string]interface{}{"b": 2, "a": 1, "c": 3})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	ai, bi, ci := strings.Index(out, "a=1"), strings.Index(out, "b=2"), strings.Index(out, "c=3")
	if ai < 0 || bi < 0 || ci < 0 || !(ai < bi && bi < ci) {
		t.Errorf("fields not in sorted order: %q", out)
	}
}

package runner

import (
	"context"
	"runtime"
	"testing"
	"time"
)

func TestRunSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell test")
	}

	r := &ExecRunner{}
	res := r.Run(context.Background(), "sh", "-c", "echo hello; echo oops >&2")

	if !res.OK() {
		t.Fatalf("expected success, got exit=%d err=%v", res.ExitCode, res.Err)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("unexpected stdout: %q", res.Stdout)
	}
	if res.Stderr != "oops\n" {
		t.Errorf("unexpected stderr: %q", res.Stderr)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell test")
	}

	r := &ExecRunner{}
	res := r.Run(context.Background(), "sh", "-c", "exit 3")

	if res.OK() {
		t.Fatal("expected failure")
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", res.ExitCode)
	}
	if res.Err != nil {
		t.Errorf("non-zero exit should not set Err, got %v", res.Err)
	}
}

func TestRunTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	r := &ExecRunner{}
	res := r.Run(ctx, "sleep", "10")

	if !res.TimedOut {
		t.Fatal("expected timeout")
	}
	if res.OK() {
		t.Error("timed out command should not be OK")
	}
}

func TestRunMissingBinary(t *testing.T) {
	r := &ExecRunner{}
	res := r.Run(context.Background(), "definitely-not-a-binary-xyz")

	if res.OK() {
		t.Fatal("expected failure")
	}
	if res.Err == nil {
		t.Error("expected Err for missing binary")
	}
}

func TestCombined(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want string
	}{
		{"both", Result{Stdout: "out\n", Stderr: "err\n"}, "out\nerr"},
		{"stdout only", Result{Stdout: "out\n"}, "out"},
		{"stderr only", Result{Stderr: "err\n"}, "err"},
		{"empty", Result{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.Combined(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

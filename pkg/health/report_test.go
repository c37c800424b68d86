package health

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/openclaw/warden/pkg/config"
)

func TestAssembleOverall(t *testing.T) {
	r := NewReporter(config.DefaultConfig())

	tests := []struct {
		name   string
		checks []CheckResult
		want   CheckStatus
	}{
		{"all healthy", []CheckResult{{Status: CheckHealthy}, {Status: CheckHealthy}}, CheckHealthy},
		{"warning degrades", []CheckResult{{Status: CheckHealthy}, {Status: CheckWarning}}, CheckWarning},
		{"error degrades", []CheckResult{{Status: CheckError}}, CheckWarning},
		{"critical wins", []CheckResult{{Status: CheckWarning}, {Status: CheckCritical}}, CheckCritical},
		{"critical not masked", []CheckResult{{Status: CheckCritical}, {Status: CheckHealthy}}, CheckCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := r.assemble(tt.checks...)
			if rep.Overall != tt.want {
				t.Errorf("overall = %s, want %s", rep.Overall, tt.want)
			}
		})
	}
}

func TestFullReport(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()
	cfg.Sessions.RecordsPath = filepath.Join(t.TempDir(), "absent.json")
	r := NewReporter(cfg)

	rep := r.Full(context.Background())
	if rep.Timestamp == 0 {
		t.Error("expected timestamp")
	}
	if len(rep.Checks) != 6 {
		t.Fatalf("expected 6 checks, got %d", len(rep.Checks))
	}

	byName := map[string]CheckResult{}
	for _, c := range rep.Checks {
		byName[c.Name] = c
	}
	// Missing records and state files are warnings, not failures
	if byName["session_records"].Status != CheckWarning {
		t.Errorf("expected session_records warning, got %s", byName["session_records"].Status)
	}
	if byName["monitor_state"].Status != CheckWarning {
		t.Errorf("expected monitor_state warning, got %s", byName["monitor_state"].Status)
	}
	if byName["memory_store"].Status != CheckHealthy {
		t.Errorf("absent memory db should be healthy, got %s", byName["memory_store"].Status)
	}
}

func TestQuickReport(t *testing.T) {
	r := NewReporter(config.DefaultConfig())

	rep := r.Quick(context.Background())
	if len(rep.Checks) != 1 || rep.Checks[0].Name != "gateway_process" {
		t.Fatalf("expected single process check, got %+v", rep.Checks)
	}
}

func TestWriteFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()
	r := NewReporter(cfg)

	path := filepath.Join(cfg.StateDirPath(), "health_report.json")
	rep := r.assemble(CheckResult{Name: "x", Status: CheckHealthy})
	if err := r.WriteFile(rep, path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report not valid json: %v", err)
	}
	if decoded["overall_status"] != "healthy" {
		t.Errorf("expected string status in json, got %v", decoded["overall_status"])
	}
}

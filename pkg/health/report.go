package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/openclaw/warden/pkg/config"
)

// CheckStatus classifies one report check.
type CheckStatus int

const (
	CheckUnknown CheckStatus = iota
	CheckHealthy
	CheckWarning
	CheckCritical
	CheckError
)

func (s CheckStatus) String() string {
	switch s {
	case CheckHealthy:
		return "healthy"
	case CheckWarning:
		return "warning"
	case CheckCritical:
		return "critical"
	case CheckError:
		return "error"
	default:
		return "unknown"
	}
}

func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CheckResult is one check in the report.
type CheckResult struct {
	Name    string                 `json:"name"`
	Status  CheckStatus            `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Report is a full system health snapshot.
type Report struct {
	Timestamp int64         `json:"timestamp"`
	Overall   CheckStatus   `json:"overall_status"`
	Checks    []CheckResult `json:"checks"`
}

// Reporter assembles the health report.
type Reporter struct {
	cfg *config.Config
}

func NewReporter(cfg *config.Config) *Reporter {
	return &Reporter{cfg: cfg}
}

// Quick runs only the gateway process check.
func (r *Reporter) Quick(ctx context.Context) *Report {
	return r.assemble(r.checkProcess(ctx))
}

// Full runs every check.
func (r *Reporter) Full(ctx context.Context) *Report {
	return r.assemble(
		r.checkProcess(ctx),
		r.checkPort(),
		r.checkResources(ctx),
		r.checkSessions(),
		r.checkMemory(),
		r.checkState(),
	)
}

// WriteFile persists the report as JSON next to the state file.
func (r *Reporter) WriteFile(rep *Report, path string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func (r *Reporter) assemble(checks ...CheckResult) *Report {
	overall := CheckHealthy
	for _, c := range checks {
		switch c.Status {
		case CheckCritical:
			overall = CheckCritical
		case CheckError, CheckWarning:
			if overall == CheckHealthy {
				overall = CheckWarning
			}
		}
	}
	return &Report{
		Timestamp: time.Now().UnixMilli(),
		Overall:   overall,
		Checks:    checks,
	}
}

// checkProcess looks for the gateway process by name in the process table.
func (r *Reporter) checkProcess(ctx context.Context) CheckResult {
	result := CheckResult{Name: "gateway_process", Status: CheckUnknown, Details: map[string]interface{}{}}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		result.Status = CheckError
		result.Details["error"] = err.Error()
		return result
	}

	needle := r.cfg.Gateway.ProcessName
	var pids []int32
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err == nil && strings.Contains(name, needle) {
			pids = append(pids, p.Pid)
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err == nil && strings.Contains(cmdline, needle) {
			pids = append(pids, p.Pid)
		}
	}

	result.Details["process_name"] = needle
	result.Details["pids"] = pids
	if len(pids) > 0 {
		result.Status = CheckHealthy
	} else {
		result.Status = CheckCritical
	}
	return result
}

// checkPort dials the gateway listen port.
func (r *Reporter) checkPort() CheckResult {
	addr := net.JoinHostPort(r.cfg.Gateway.Host, strconv.Itoa(r.cfg.Gateway.Port))
	result := CheckResult{Name: "gateway_port", Status: CheckUnknown, Details: map[string]interface{}{
		"addr": addr,
	}}

	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		result.Status = CheckCritical
		result.Details["error"] = err.Error()
		return result
	}
	conn.Close()
	result.Status = CheckHealthy
	return result
}

// checkResources reads disk and memory pressure.
func (r *Reporter) checkResources(ctx context.Context) CheckResult {
	result := CheckResult{Name: "system_resources", Status: CheckUnknown, Details: map[string]interface{}{}}

	du, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		result.Status = CheckError
		result.Details["error"] = err.Error()
		return result
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		result.Status = CheckError
		result.Details["error"] = err.Error()
		return result
	}

	result.Details["disk_used_percent"] = fmt.Sprintf("%.1f", du.UsedPercent)
	result.Details["disk_free_gb"] = du.Free / (1 << 30)
	result.Details["mem_used_percent"] = fmt.Sprintf("%.1f", vm.UsedPercent)

	if du.UsedPercent > 90 || vm.UsedPercent > 95 {
		result.Status = CheckCritical
	} else if du.UsedPercent > 80 || vm.UsedPercent > 90 {
		result.Status = CheckWarning
	} else {
		result.Status = CheckHealthy
	}
	return result
}

// checkSessions verifies the gateway records file exists and is fresh.
func (r *Reporter) checkSessions() CheckResult {
	result := CheckResult{Name: "session_records", Status: CheckUnknown, Details: map[string]interface{}{}}

	path := r.cfg.RecordsPath()
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			result.Status = CheckWarning
			result.Details["missing"] = path
		} else {
			result.Status = CheckError
			result.Details["error"] = err.Error()
		}
		return result
	}

	age := time.Since(info.ModTime())
	result.Details["age_minutes"] = int(age.Minutes())
	result.Details["size_kb"] = info.Size() / 1024
	if age > 24*time.Hour {
		result.Status = CheckWarning
	} else {
		result.Status = CheckHealthy
	}
	return result
}

func (r *Reporter) checkMemory() CheckResult {
	result := CheckResult{Name: "memory_store", Status: CheckUnknown, Details: map[string]interface{}{}}

	info, err := os.Stat(r.cfg.MemoryDBPath())
	if err != nil {
		if os.IsNotExist(err) {
			// No memories consolidated yet is fine
			result.Status = CheckHealthy
			result.Details["db"] = "not created yet"
		} else {
			result.Status = CheckError
			result.Details["error"] = err.Error()
		}
		return result
	}

	result.Status = CheckHealthy
	result.Details["size_kb"] = info.Size() / 1024
	return result
}

func (r *Reporter) checkState() CheckResult {
	result := CheckResult{Name: "monitor_state", Status: CheckUnknown, Details: map[string]interface{}{}}

	info, err := os.Stat(r.cfg.StatePath())
	if err != nil {
		if os.IsNotExist(err) {
			result.Status = CheckWarning
			result.Details["missing"] = r.cfg.StatePath()
		} else {
			result.Status = CheckError
			result.Details["error"] = err.Error()
		}
		return result
	}

	result.Status = CheckHealthy
	result.Details["updated_minutes_ago"] = int(time.Since(info.ModTime()).Minutes())
	return result
}

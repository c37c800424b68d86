// Package monitor runs the watchdog cycle: context budget checks with
// session rollover, gateway and channel probing with the restart policy,
// quota alarming and periodic maintenance.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/openclaw/warden/pkg/config"
	"github.com/openclaw/warden/pkg/health"
	"github.com/openclaw/warden/pkg/logger"
	"github.com/openclaw/warden/pkg/notify"
	"github.com/openclaw/warden/pkg/quota"
	"github.com/openclaw/warden/pkg/runner"
	"github.com/openclaw/warden/pkg/sessions"
	"github.com/openclaw/warden/pkg/state"
)

const errorSleep = 10 * time.Second

// Sampler reads the gateway session records.
type Sampler interface {
	Sample() (*sessions.Report, error)
}

// Summarizer captures a session's key points before rollover.
type Summarizer interface {
	Summarize(ctx context.Context, rec sessions.Record) error
}

// SessionCreator creates the replacement session and switches to it.
type SessionCreator interface {
	Rollover(ctx context.Context, rec sessions.Record) (string, error)
}

// Maintainer runs the periodic maintenance pass.
type Maintainer interface {
	Maintain(ctx context.Context) error
}

// CycleResult summarizes one monitor cycle.
type CycleResult struct {
	Report         *sessions.Report
	Gateway        health.Outcome
	Channel        health.ChannelOutcome
	Quota          quota.Check
	RolledOver     bool
	NewSessionID   string
	MaintenanceRan bool
}

// Monitor owns one watchdog loop.
type Monitor struct {
	cfg        *config.Config
	store      *state.Store
	sampler    Sampler
	prober     *health.Prober
	summarizer Summarizer
	creator    SessionCreator
	maintainer Maintainer
	tracker    *quota.Tracker
	notifier   notify.Notifier
	cron       *gronx.Gronx
	fixRunner  runner.CommandRunner
}

// SetFixRunner enables the configured fix command to run after an
// escalation.
func (m *Monitor) SetFixRunner(r runner.CommandRunner) {
	m.fixRunner = r
}

func New(
	cfg *config.Config,
	store *state.Store,
	sampler Sampler,
	prober *health.Prober,
	summarizer Summarizer,
	creator SessionCreator,
	maintainer Maintainer,
	tracker *quota.Tracker,
	notifier notify.Notifier,
) *Monitor {
	return &Monitor{
		cfg:        cfg,
		store:      store,
		sampler:    sampler,
		prober:     prober,
		summarizer: summarizer,
		creator:    creator,
		maintainer: maintainer,
		tracker:    tracker,
		notifier:   notifier,
		cron:       gronx.New(),
	}
}

// RunCycle executes one full check pass.
func (m *Monitor) RunCycle(ctx context.Context) (*CycleResult, error) {
	st := m.store.Load()
	st.CheckCount++

	result := &CycleResult{}

	if m.maintenanceDue(st) {
		result.MaintenanceRan = true
		st.LastMaintenanceAt = time.Now().UnixMilli()
		if err := m.maintainer.Maintain(ctx); err != nil {
			logger.ErrorCF("monitor", "maintenance failed", map[string]interface{}{"error": err.Error()})
		}
	}

	// 1. Context budget
	report, err := m.sampler.Sample()
	if err != nil {
		logger.WarnCF("monitor", "context sampling failed", map[string]interface{}{"error": err.Error()})
	} else {
		result.Report = report
		m.logSessions(report)
		if report.NeedsRollover && report.Highest != nil {
			result.RolledOver, result.NewSessionID = m.maybeRollover(ctx, st, *report.Highest)
		}
	}

	// 2. Gateway health and restart policy
	result.Gateway = m.prober.Evaluate(ctx, st)
	logger.InfoCF("monitor", "gateway probed", map[string]interface{}{
		"status":      result.Gateway.Health.Status.String(),
		"response_ms": result.Gateway.Health.ResponseTime.Milliseconds(),
	})
	if result.Gateway.Action == health.ActionEscalated {
		m.notifyBestEffort(ctx, "gateway restart attempts exhausted, manual intervention required")
		m.runFixCommand(ctx)
	}

	// 3. Relay channel health
	result.Channel = m.prober.EvaluateChannel(ctx, st, "dingtalk")
	if result.Channel.Action == health.ActionRestartTriggered {
		m.notifyBestEffort(ctx, "relay channel was down, gateway restarted")
	}

	// 4. Quota edge trigger
	activeSessions := 0
	if report != nil {
		activeSessions = len(report.Sessions)
	}
	result.Quota = m.tracker.Check(activeSessions)
	if result.Quota.ThresholdReached && !st.QuotaAlarmed {
		st.QuotaAlarmed = true
		m.notifyBestEffort(ctx, fmt.Sprintf("API quota estimate low (%d units remaining), pausing work", result.Quota.Remaining))
	} else if !result.Quota.ThresholdReached {
		st.QuotaAlarmed = false
	}

	if err := m.store.Save(st); err != nil {
		return result, fmt.Errorf("save monitor state: %w", err)
	}
	return result, nil
}

// Run loops RunCycle until the context is cancelled. A cycle error gets a
// short fixed sleep instead of the full interval so transient failures
// recover quickly.
func (m *Monitor) Run(ctx context.Context) error {
	interval := time.Duration(m.cfg.Monitor.Interval) * time.Second
	logger.InfoCF("monitor", "watchdog started", map[string]interface{}{
		"interval_s":  m.cfg.Monitor.Interval,
		"threshold":   m.cfg.Monitor.ContextThreshold,
		"gateway_bin": m.cfg.Gateway.Bin,
	})

	for {
		sleep := interval
		if _, err := m.RunCycle(ctx); err != nil {
			logger.ErrorCF("monitor", "cycle failed", map[string]interface{}{"error": err.Error()})
			sleep = errorSleep
		}

		select {
		case <-ctx.Done():
			logger.InfoC("monitor", "watchdog stopped")
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// maybeRollover applies the dedup gate and orchestrates the rollover.
// The session is marked processed and persisted before any orchestration
// step runs, so a crash mid-rollover cannot trigger it twice.
func (m *Monitor) maybeRollover(ctx context.Context, st *state.State, rec sessions.Record) (bool, string) {
	latest := m.store.Load()
	// Carry over keys another writer appended since cycle start so the
	// save below does not drop them.
	for _, key := range latest.ProcessedSessions {
		st.MarkProcessed(key)
	}
	if st.HasProcessed(rec.Key) {
		logger.InfoCF("monitor", "session already rolled over, skipping", map[string]interface{}{
			"session": rec.Key,
		})
		return false, ""
	}

	st.MarkProcessed(rec.Key)
	if err := m.store.Save(st); err != nil {
		logger.ErrorCF("monitor", "failed to persist rollover mark, aborting", map[string]interface{}{
			"error": err.Error(),
		})
		return false, ""
	}

	logger.WarnCF("monitor", "context over threshold, rolling over", map[string]interface{}{
		"session": rec.Key,
		"usage":   rec.UsagePercent,
	})

	if err := m.summarizer.Summarize(ctx, rec); err != nil {
		logger.ErrorCF("monitor", "summary failed, rollover aborted", map[string]interface{}{
			"session": rec.Key,
			"error":   err.Error(),
		})
		return false, ""
	}

	newID, err := m.creator.Rollover(ctx, rec)
	if err != nil {
		logger.ErrorCF("monitor", "session rollover failed", map[string]interface{}{
			"session": rec.Key,
			"error":   err.Error(),
		})
		return false, ""
	}

	m.notifyBestEffort(ctx, fmt.Sprintf("context usage reached %.1f%%, switched to new session %s", rec.UsagePercent, newID))
	return true, newID
}

// maintenanceDue gates maintenance on either the cron expression or the
// every-Nth-cycle counter.
func (m *Monitor) maintenanceDue(st *state.State) bool {
	if expr := m.cfg.Monitor.MaintenanceCron; expr != "" {
		due, err := m.cron.IsDue(expr, time.Now())
		if err != nil {
			logger.WarnCF("monitor", "invalid maintenance cron", map[string]interface{}{
				"expr":  expr,
				"error": err.Error(),
			})
			return false
		}
		return due
	}

	every := m.cfg.Monitor.MaintenanceEvery
	return every > 0 && st.CheckCount%every == 0
}

// runFixCommand hands the failure to the configured repair agent.
func (m *Monitor) runFixCommand(ctx context.Context) {
	cmd := m.cfg.Gateway.FixCommand
	if cmd == "" || m.fixRunner == nil {
		return
	}

	fixCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	res := m.fixRunner.Run(fixCtx, "sh", "-c", cmd)
	if !res.OK() {
		logger.ErrorCF("monitor", "fix command failed", map[string]interface{}{
			"exit":   res.ExitCode,
			"output": res.Combined(),
		})
		return
	}
	logger.InfoC("monitor", "fix command dispatched")
}

func (m *Monitor) notifyBestEffort(ctx context.Context, message string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, message); err != nil {
		logger.ErrorCF("monitor", "notification failed", map[string]interface{}{
			"message": message,
			"error":   err.Error(),
		})
	}
}

func (m *Monitor) logSessions(report *sessions.Report) {
	for _, s := range report.Sessions {
		logger.InfoCF("monitor", "session usage", map[string]interface{}{
			"session": tail(s.Key, 8),
			"usage":   s.UsagePercent,
			"tokens":  s.TotalTokens,
		})
	}
	if report.Highest != nil {
		logger.InfoCF("monitor", "highest usage", map[string]interface{}{
			"session": report.Highest.Key,
			"usage":   report.Highest.UsagePercent,
		})
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

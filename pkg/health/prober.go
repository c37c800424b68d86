// Package health drives the gateway restart policy and produces the
// system health report.
package health

import (
	"context"
	"time"

	"github.com/openclaw/warden/pkg/config"
	"github.com/openclaw/warden/pkg/gateway"
	"github.com/openclaw/warden/pkg/logger"
	"github.com/openclaw/warden/pkg/state"
)

// GatewayAPI is the slice of the gateway client the prober needs.
type GatewayAPI interface {
	Health(ctx context.Context) gateway.Health
	Channel(ctx context.Context, name string) gateway.ChannelHealth
	Restart(ctx context.Context) error
}

// Action is what the prober did about one probe.
type Action int

const (
	ActionNone Action = iota
	ActionRecovered
	ActionRestartTriggered
	ActionRestartFailed
	ActionRestartSkippedCooldown
	ActionEscalated
)

func (a Action) String() string {
	switch a {
	case ActionRecovered:
		return "recovered"
	case ActionRestartTriggered:
		return "restart_triggered"
	case ActionRestartFailed:
		return "restart_failed"
	case ActionRestartSkippedCooldown:
		return "restart_skipped_cooldown"
	case ActionEscalated:
		return "escalated"
	default:
		return "none"
	}
}

// Outcome is the result of one probe evaluation.
type Outcome struct {
	Health   gateway.Health
	Action   Action
	Downtime time.Duration
}

// ChannelOutcome is the result of one channel probe evaluation.
type ChannelOutcome struct {
	Health   gateway.ChannelHealth
	Action   Action
	Downtime time.Duration
}

// Prober applies the bounded restart policy: tolerate downtime up to the
// gateway timeout, then restart with a cooldown between attempts, and
// escalate exactly once when attempts run out.
type Prober struct {
	api         GatewayAPI
	timeout     time.Duration
	chanTimeout time.Duration
	cooldown    time.Duration
	maxAttempts int
	// Now is swappable for tests.
	Now func() time.Time
}

func NewProber(cfg *config.Config, api GatewayAPI) *Prober {
	return &Prober{
		api:         api,
		timeout:     time.Duration(cfg.Monitor.GatewayTimeout) * time.Second,
		chanTimeout: time.Duration(cfg.Monitor.DingtalkTimeout) * time.Second,
		cooldown:    time.Duration(cfg.Monitor.RestartCooldown) * time.Second,
		maxAttempts: cfg.Monitor.RestartMaxAttempts,
		Now:         time.Now,
	}
}

// Evaluate probes the gateway once and mutates st according to the
// restart policy. The caller persists st.
func (p *Prober) Evaluate(ctx context.Context, st *state.State) Outcome {
	h := p.api.Health(ctx)
	now := p.Now()

	if h.Status == gateway.StatusHealthy {
		out := Outcome{Health: h}
		if st.DowntimeStart != 0 {
			out.Action = ActionRecovered
			logger.InfoCF("health", "gateway recovered", map[string]interface{}{
				"downtime_s": int(now.Sub(time.UnixMilli(st.DowntimeStart)).Seconds()),
			})
		}
		st.DowntimeStart = 0
		st.RestartAttempts = 0
		st.Escalated = false
		return out
	}

	if st.DowntimeStart == 0 {
		st.DowntimeStart = now.UnixMilli()
	}
	downtime := now.Sub(time.UnixMilli(st.DowntimeStart))

	out := Outcome{Health: h, Downtime: downtime}
	if downtime <= p.timeout {
		logger.WarnCF("health", "gateway unhealthy, within tolerance", map[string]interface{}{
			"status":     h.Status.String(),
			"downtime_s": int(downtime.Seconds()),
		})
		return out
	}

	out.Action = p.restart(ctx, st, now)
	return out
}

// EvaluateChannel probes a named channel and restarts the gateway if the
// channel has been down past its own timeout. Unconfigured channels are
// left alone.
func (p *Prober) EvaluateChannel(ctx context.Context, st *state.State, name string) ChannelOutcome {
	ch := p.api.Channel(ctx, name)
	now := p.Now()

	healthy := ch.Status == gateway.ChannelHealthy || ch.Status == gateway.ChannelNotConfigured
	if healthy {
		st.DingtalkDownStart = 0
		return ChannelOutcome{Health: ch}
	}

	if st.DingtalkDownStart == 0 {
		st.DingtalkDownStart = now.UnixMilli()
	}
	downtime := now.Sub(time.UnixMilli(st.DingtalkDownStart))

	out := ChannelOutcome{Health: ch, Downtime: downtime}
	if downtime <= p.chanTimeout {
		return out
	}

	logger.WarnCF("health", "channel down past timeout, restarting gateway", map[string]interface{}{
		"channel":    name,
		"downtime_s": int(downtime.Seconds()),
	})
	out.Action = p.restart(ctx, st, now)
	if out.Action == ActionRestartTriggered {
		st.DingtalkDownStart = 0
	}
	return out
}

func (p *Prober) restart(ctx context.Context, st *state.State, now time.Time) Action {
	if st.LastRestartAt != 0 {
		since := now.Sub(time.UnixMilli(st.LastRestartAt))
		if since < p.cooldown {
			logger.InfoCF("health", "restart in cooldown", map[string]interface{}{
				"remaining_s": int((p.cooldown - since).Seconds()),
			})
			return ActionRestartSkippedCooldown
		}
	}

	if st.RestartAttempts >= p.maxAttempts {
		if st.Escalated {
			return ActionNone
		}
		st.Escalated = true
		logger.ErrorCF("health", "restart attempts exhausted, escalating", map[string]interface{}{
			"attempts": st.RestartAttempts,
		})
		return ActionEscalated
	}

	st.LastRestartAt = now.UnixMilli()
	if err := p.api.Restart(ctx); err != nil {
		st.RestartAttempts++
		logger.ErrorCF("health", "gateway restart failed", map[string]interface{}{
			"attempt": st.RestartAttempts,
			"error":   err.Error(),
		})
		if st.RestartAttempts >= p.maxAttempts && !st.Escalated {
			st.Escalated = true
			return ActionEscalated
		}
		return ActionRestartFailed
	}

	st.RestartAttempts = 0
	logger.InfoC("health", "gateway restart issued")
	return ActionRestartTriggered
}

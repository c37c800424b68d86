// Package quota estimates upstream API quota burn from session activity
// and classifies it against the configured threshold.
package quota

import (
	"github.com/openclaw/warden/pkg/config"
)

// Level classifies quota headroom.
type Level int

const (
	LevelUnknown Level = iota
	LevelOK
	LevelLow
)

func (l Level) String() string {
	switch l {
	case LevelOK:
		return "ok"
	case LevelLow:
		return "low"
	default:
		return "unknown"
	}
}

// Check is one quota estimate.
type Check struct {
	Estimated        int   `json:"estimated"`
	Remaining        int   `json:"remaining"`
	ThresholdReached bool  `json:"threshold_reached"`
	Level            Level `json:"-"`
}

// Tracker estimates quota usage from the number of active sessions.
// There is no usage API, so the estimate is sessions times a per-session
// unit cost.
type Tracker struct {
	threshold       int
	unitsPerSession int
}

func NewTracker(cfg *config.Config) *Tracker {
	return &Tracker{
		threshold:       cfg.Quota.Threshold,
		unitsPerSession: cfg.Quota.UnitsPerSession,
	}
}

func (t *Tracker) Check(activeSessions int) Check {
	estimated := activeSessions * t.unitsPerSession
	reached := estimated >= t.threshold

	level := LevelOK
	if reached {
		level = LevelLow
	}

	return Check{
		Estimated:        estimated,
		Remaining:        t.threshold - estimated,
		ThresholdReached: reached,
		Level:            level,
	}
}

package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openclaw/warden/pkg/config"
)

func TestCheck(t *testing.T) {
	cfg := config.DefaultConfig() // threshold 100, 5 units per session
	tracker := NewTracker(cfg)

	tests := []struct {
		name     string
		sessions int
		reached  bool
		level    Level
		remain   int
	}{
		{"idle", 0, false, LevelOK, 100},
		{"under", 10, false, LevelOK, 50},
		{"just under", 19, false, LevelOK, 5},
		{"exactly at threshold", 20, true, LevelLow, 0},
		{"over", 30, true, LevelLow, -50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tracker.Check(tt.sessions)
			assert.Equal(t, tt.reached, c.ThresholdReached)
			assert.Equal(t, tt.level, c.Level)
			assert.Equal(t, tt.remain, c.Remaining)
		})
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "ok", LevelOK.String())
	assert.Equal(t, "low", LevelLow.String())
	assert.Equal(t, "unknown", LevelUnknown.String())
}

// Package state persists the monitor's bookkeeping between cycles and
// between process restarts: which sessions have already been rolled over,
// restart attempt accounting, and the quota alarm latch.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/openclaw/warden/pkg/logger"
)

// State is the persisted monitor document. Timestamps are Unix millis;
// zero means "never".
type State struct {
	ProcessedSessions []string `json:"processed_sessions"`
	CheckCount        int      `json:"check_count"`
	RestartAttempts   int      `json:"restart_attempts"`
	LastRestartAt     int64    `json:"last_restart_at"`
	DowntimeStart     int64    `json:"downtime_start"`
	DingtalkDownStart int64    `json:"dingtalk_down_start"`
	QuotaAlarmed      bool     `json:"quota_alarmed"`
	Escalated         bool     `json:"escalated"`
	LastMaintenanceAt int64    `json:"last_maintenance_at"`
	UpdatedAt         int64    `json:"updated_at"`
}

func (s *State) HasProcessed(key string) bool {
	for _, k := range s.ProcessedSessions {
		if k == key {
			return true
		}
	}
	return false
}

func (s *State) MarkProcessed(key string) {
	if s.HasProcessed(key) {
		return
	}
	s.ProcessedSessions = append(s.ProcessedSessions, key)
}

// Store is the single gateway to the state file. All mutation goes through
// Load → mutate → Save so concurrent writers never interleave partial
// documents.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the current document. A missing or corrupt file yields a
// fresh state rather than an error: the monitor must keep running even
// if its own bookkeeping was damaged.
func (s *Store) Load() *State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WarnCF("state", "failed to read state file, starting fresh", map[string]interface{}{
				"path":  s.path,
				"error": err.Error(),
			})
		}
		return Fresh()
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		logger.WarnCF("state", "corrupt state file, starting fresh", map[string]interface{}{
			"path":  s.path,
			"error": err.Error(),
		})
		return Fresh()
	}
	if st.ProcessedSessions == nil {
		st.ProcessedSessions = []string{}
	}
	return &st
}

// Save writes the document atomically: write to a temp file in the same
// directory, then rename over the target.
func (s *Store) Save(st *State) error {
	st.UpdatedAt = time.Now().UnixMilli()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".warden_state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

// Update runs fn against a freshly loaded document and saves the result.
func (s *Store) Update(fn func(*State)) error {
	st := s.Load()
	fn(st)
	return s.Save(st)
}

func Fresh() *State {
	return &State{ProcessedSessions: []string{}}
}

package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/warden/pkg/config"
	"github.com/openclaw/warden/pkg/logger"
)

// KeyPoint is one inherited fact carried across a rollover.
type KeyPoint struct {
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updated_at"`
}

// Session is one watchdog-managed rollover session.
type Session struct {
	ID               string              `json:"session_id"`
	CreatedAt        int64               `json:"created_at"`
	Topic            string              `json:"topic"`
	Parent           string              `json:"parent_session,omitempty"`
	InheritedContext map[string]KeyPoint `json:"inherited_context"`
	Status           string              `json:"status"`
	MessageCount     int                 `json:"message_count"`
	KeyPoints        map[string]KeyPoint `json:"key_points"`
}

// Current is the pointer to the active session.
type Current struct {
	SessionID string `json:"session_id"`
	SetAt     int64  `json:"set_at"`
}

// Manager owns the session files and the current-session pointer.
type Manager struct {
	dir         string
	currentFile string
}

func NewManager(cfg *config.Config) *Manager {
	dir := cfg.SessionsDir()
	return &Manager{
		dir:         dir,
		currentFile: filepath.Join(filepath.Dir(dir), ".current_session.json"),
	}
}

// Create makes a new session, inheriting the parent's key points, and
// points the current-session marker at it.
func (m *Manager) Create(topic, parent string) (*Session, error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, err
	}

	inherited := map[string]KeyPoint{}
	if parent != "" {
		if p, err := m.Get(parent); err == nil {
			for k, v := range p.KeyPoints {
				inherited[k] = v
			}
		}
	}

	if topic == "" {
		topic = "default"
	}

	keyPoints := make(map[string]KeyPoint, len(inherited))
	for k, v := range inherited {
		keyPoints[k] = v
	}

	sess := &Session{
		ID:               uuid.NewString()[:8],
		CreatedAt:        time.Now().UnixMilli(),
		Topic:            topic,
		Parent:           parent,
		InheritedContext: inherited,
		Status:           "active",
		KeyPoints:        keyPoints,
	}

	if err := m.save(sess); err != nil {
		return nil, err
	}
	if err := m.SetCurrent(sess.ID); err != nil {
		return nil, err
	}

	logger.InfoCF("sessions", "session created", map[string]interface{}{
		"session":   sess.ID,
		"topic":     topic,
		"inherited": len(inherited),
	})
	return sess, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s not found", id)
		}
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// List returns all sessions, newest first.
func (m *Manager) List() ([]*Session, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []*Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		sessions = append(sessions, &sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt > sessions[j].CreatedAt
	})
	return sessions, nil
}

// Switch points the current-session marker at an existing session.
func (m *Manager) Switch(id string) (*Session, error) {
	sess, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if err := m.SetCurrent(id); err != nil {
		return nil, err
	}
	logger.InfoCF("sessions", "switched session", map[string]interface{}{"session": id})
	return sess, nil
}

func (m *Manager) SetCurrent(id string) error {
	if err := os.MkdirAll(filepath.Dir(m.currentFile), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(Current{SessionID: id, SetAt: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	return os.WriteFile(m.currentFile, data, 0600)
}

func (m *Manager) GetCurrent() (*Current, error) {
	data, err := os.ReadFile(m.currentFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cur Current
	if err := json.Unmarshal(data, &cur); err != nil {
		return nil, err
	}
	return &cur, nil
}

// UpdateKeyPoint records or replaces one key point on a session.
func (m *Manager) UpdateKeyPoint(id, key, value string) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	if sess.KeyPoints == nil {
		sess.KeyPoints = map[string]KeyPoint{}
	}
	sess.KeyPoints[key] = KeyPoint{Value: value, UpdatedAt: time.Now().UnixMilli()}
	return m.save(sess)
}

func (m *Manager) save(sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.dir, sess.ID+".json"), data, 0600)
}

// PruneIndex drops entries older than the retention window from the
// gateway records index. Unknown fields on surviving entries are kept
// verbatim; entries without an updatedAt stamp are kept. The rewrite is
// atomic.
func PruneIndex(path string, retentionDays int) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("parse records index: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	removed := 0
	for key, raw := range entries {
		var stamp struct {
			UpdatedAt int64 `json:"updatedAt"`
		}
		if err := json.Unmarshal(raw, &stamp); err != nil {
			continue
		}
		if stamp.UpdatedAt != 0 && stamp.UpdatedAt < cutoff {
			delete(entries, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return removed, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sessions-*.tmp")
	if err != nil {
		return removed, err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return removed, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return removed, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return removed, err
	}

	logger.InfoCF("sessions", "pruned stale index entries", map[string]interface{}{
		"removed":        removed,
		"retention_days": retentionDays,
	})
	return removed, nil
}

// CleanupRecords deletes gateway transcript files (*.jsonl) older than
// the retention window. The records index itself is left alone.
func CleanupRecords(dir string, retentionDays int) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(path, ".jsonl") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return removed, err
	}

	if removed > 0 {
		logger.InfoCF("sessions", "cleaned old transcripts", map[string]interface{}{
			"removed":        removed,
			"retention_days": retentionDays,
		})
	}
	return removed, nil
}

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openclaw/warden/pkg/config"
	"github.com/openclaw/warden/pkg/logger"
)

// SessionMemory is the key-point snapshot saved for one session at
// rollover time.
type SessionMemory struct {
	SessionID string    `json:"session_id"`
	KeyPoints KeyPoints `json:"key_points"`
	SavedAt   int64     `json:"saved_at"`
}

// ConsolidateResult reports one consolidation pass over the notes dir.
type ConsolidateResult struct {
	FilesScanned  int
	MemoriesSaved int
}

// Manager ties key-point extraction, per-session snapshots and the
// long-term store together.
type Manager struct {
	store         *SQLiteStore
	sessionMemDir string
	notesDir      string
}

func NewManager(cfg *config.Config) (*Manager, error) {
	store, err := NewSQLiteStore(cfg.MemoryDBPath())
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:         store,
		sessionMemDir: cfg.SessionMemoryDir(),
		notesDir:      cfg.MemoryNotesDir(),
	}, nil
}

func (m *Manager) Close() error {
	return m.store.Close()
}

func (m *Manager) Store() *SQLiteStore {
	return m.store
}

// SaveSessionMemory snapshots a session's key points to its own file.
func (m *Manager) SaveSessionMemory(sessionID string, kp KeyPoints) (string, error) {
	if err := os.MkdirAll(m.sessionMemDir, 0755); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(SessionMemory{
		SessionID: sessionID,
		KeyPoints: kp,
		SavedAt:   time.Now().UnixMilli(),
	}, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(m.sessionMemDir, sessionID+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}
	return path, nil
}

// LoadSessionMemory returns a session's snapshot, or nil if none exists.
func (m *Manager) LoadSessionMemory(sessionID string) (*SessionMemory, error) {
	data, err := os.ReadFile(filepath.Join(m.sessionMemDir, sessionID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var sm SessionMemory
	if err := json.Unmarshal(data, &sm); err != nil {
		return nil, err
	}
	return &sm, nil
}

// ExtractSession reads a session transcript file, extracts key points,
// snapshots them and folds them into the long-term store.
func (m *Manager) ExtractSession(ctx context.Context, sessionID, transcriptPath string) (KeyPoints, error) {
	data, err := os.ReadFile(transcriptPath)
	if err != nil {
		return KeyPoints{}, fmt.Errorf("read transcript: %w", err)
	}

	kp := ExtractKeyPoints(string(data))
	if _, err := m.SaveSessionMemory(sessionID, kp); err != nil {
		return kp, err
	}
	if err := m.saveKeyPoints(ctx, sessionID, kp); err != nil {
		return kp, err
	}
	return kp, nil
}

// Consolidate scans the notes directory, extracts key points from every
// markdown file and folds them into the long-term store.
func (m *Manager) Consolidate(ctx context.Context) (ConsolidateResult, error) {
	var result ConsolidateResult

	entries, err := os.ReadDir(m.notesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.notesDir, entry.Name()))
		if err != nil {
			logger.WarnCF("memory", "skipping unreadable note", map[string]interface{}{
				"file":  entry.Name(),
				"error": err.Error(),
			})
			continue
		}
		result.FilesScanned++

		kp := ExtractKeyPoints(string(data))
		saved, err := m.countingSave(ctx, "", kp)
		if err != nil {
			return result, err
		}
		result.MemoriesSaved += saved
	}

	logger.InfoCF("memory", "consolidation complete", map[string]interface{}{
		"files":    result.FilesScanned,
		"memories": result.MemoriesSaved,
	})
	return result, nil
}

func (m *Manager) saveKeyPoints(ctx context.Context, sessionKey string, kp KeyPoints) error {
	_, err := m.countingSave(ctx, sessionKey, kp)
	return err
}

func (m *Manager) countingSave(ctx context.Context, sessionKey string, kp KeyPoints) (int, error) {
	saved := 0
	kinds := []struct {
		kind  string
		items []string
	}{
		{"topic", kp.Topics},
		{"decision", kp.Decisions},
		{"task", kp.Tasks},
		{"preference", kp.Preferences},
	}
	for _, group := range kinds {
		for _, content := range group.items {
			if _, err := m.store.Save(ctx, group.kind, content, sessionKey, nil); err != nil {
				return saved, err
			}
			saved++
		}
	}
	return saved, nil
}

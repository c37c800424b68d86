package monitor

import (
	"context"
	"os"
	"path/filepath"

	"github.com/openclaw/warden/pkg/config"
	"github.com/openclaw/warden/pkg/gateway"
	"github.com/openclaw/warden/pkg/logger"
	"github.com/openclaw/warden/pkg/memory"
	"github.com/openclaw/warden/pkg/sessions"
)

// MemorySummarizer snapshots a session's key points from its transcript
// before the session is replaced.
type MemorySummarizer struct {
	mem        *memory.Manager
	recordsDir string
}

func NewMemorySummarizer(cfg *config.Config, mem *memory.Manager) *MemorySummarizer {
	return &MemorySummarizer{
		mem:        mem,
		recordsDir: filepath.Dir(cfg.RecordsPath()),
	}
}

func (s *MemorySummarizer) Summarize(ctx context.Context, rec sessions.Record) error {
	transcript := filepath.Join(s.recordsDir, rec.SessionID+".jsonl")
	if _, err := os.Stat(transcript); err != nil {
		// No transcript on disk. Snapshot an empty key-point set so the
		// rollover still records that this session was summarized.
		logger.WarnCF("monitor", "transcript missing, saving empty snapshot", map[string]interface{}{
			"session": rec.SessionID,
		})
		_, err := s.mem.SaveSessionMemory(rec.SessionID, memory.KeyPoints{})
		return err
	}

	kp, err := s.mem.ExtractSession(ctx, rec.SessionID, transcript)
	if err != nil {
		return err
	}
	logger.InfoCF("monitor", "session summarized", map[string]interface{}{
		"session":   rec.SessionID,
		"decisions": len(kp.Decisions),
		"tasks":     len(kp.Tasks),
	})
	return nil
}

// ManagedRollover creates the replacement session through the session
// manager, which also switches the current-session pointer.
type ManagedRollover struct {
	mgr *sessions.Manager
}

func NewManagedRollover(mgr *sessions.Manager) *ManagedRollover {
	return &ManagedRollover{mgr: mgr}
}

func (r *ManagedRollover) Rollover(ctx context.Context, rec sessions.Record) (string, error) {
	sess, err := r.mgr.Create(rec.TopicID, rec.SessionID)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// StandardMaintainer consolidates memory first, then prunes old session
// transcripts, so nothing is deleted before its takeaways are stored.
type StandardMaintainer struct {
	mem           *memory.Manager
	gw            *gateway.Client
	recordsPath   string
	recordsDir    string
	retentionDays int
}

func NewStandardMaintainer(cfg *config.Config, mem *memory.Manager, gw *gateway.Client) *StandardMaintainer {
	return &StandardMaintainer{
		mem:           mem,
		gw:            gw,
		recordsPath:   cfg.RecordsPath(),
		recordsDir:    filepath.Dir(cfg.RecordsPath()),
		retentionDays: cfg.Monitor.RetentionDays,
	}
}

func (s *StandardMaintainer) Maintain(ctx context.Context) error {
	logger.InfoC("monitor", "maintenance pass starting")

	if _, err := s.mem.Consolidate(ctx); err != nil {
		return err
	}

	if s.gw != nil {
		if err := s.gw.MemoryIndex(ctx); err != nil {
			// Index rebuild failing is not fatal to the pass.
			logger.WarnCF("monitor", "memory index rebuild failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if _, err := sessions.CleanupRecords(s.recordsDir, s.retentionDays); err != nil {
		return err
	}
	if _, err := sessions.PruneIndex(s.recordsPath, s.retentionDays); err != nil {
		return err
	}
	return nil
}

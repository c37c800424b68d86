// Package sessions reads the gateway's session records for context
// accounting and manages the watchdog's own rollover session files.
package sessions

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/openclaw/warden/pkg/config"
	"github.com/openclaw/warden/pkg/logger"
)

// Record is one agent session from the gateway records file, annotated
// with its context usage.
type Record struct {
	Key           string  `json:"session_key"`
	SessionID     string  `json:"session_id"`
	TotalTokens   int     `json:"total_tokens"`
	ContextLimit  int     `json:"context_limit"`
	UsagePercent  float64 `json:"usage_percent"`
	TopicID       string  `json:"topic_id"`
	OverThreshold bool    `json:"over_threshold"`
}

// Report summarizes one sampling pass over the records file.
type Report struct {
	Sessions      []Record `json:"sessions"`
	Highest       *Record  `json:"highest"`
	OverallUsage  float64  `json:"overall_usage"`
	NeedsRollover bool     `json:"needs_rollover"`
}

// recordEntry is the on-disk shape of one session in sessions.json.
// ContextTokens is a pointer so an explicit 0 (no budget) stays
// distinct from an absent field (default budget).
type recordEntry struct {
	SessionID     string `json:"sessionId"`
	TotalTokens   int    `json:"totalTokens"`
	ContextTokens *int   `json:"contextTokens"`
}

// Sampler computes per-session context usage from the gateway records.
type Sampler struct {
	path         string
	keyFilter    string
	allowlist    map[string]bool
	defaultLimit int
	threshold    float64
}

func NewSampler(cfg *config.Config) *Sampler {
	allow := make(map[string]bool, len(cfg.Sessions.TopicAllowlist))
	for _, t := range cfg.Sessions.TopicAllowlist {
		allow[t] = true
	}
	return &Sampler{
		path:         cfg.RecordsPath(),
		keyFilter:    cfg.Sessions.KeyFilter,
		allowlist:    allow,
		defaultLimit: cfg.Sessions.DefaultContextLimit,
		threshold:    cfg.Monitor.ContextThreshold,
	}
}

// Sample reads the records file and computes usage for every session
// matching the key filter. The highest-usage session wins only with a
// strictly greater percentage, so the first candidate holds on ties.
func (s *Sampler) Sample() (*Report, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session records not found: %s", s.path)
		}
		return nil, err
	}

	var entries map[string]recordEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse session records: %w", err)
	}

	report := &Report{Sessions: []Record{}}

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		entry := entries[key]
		if s.keyFilter != "" && !strings.Contains(key, s.keyFilter) {
			continue
		}

		topicID := topicFromKey(key)
		if topicID != "" && len(s.allowlist) > 0 && !s.allowlist[topicID] {
			logger.WarnCF("sessions", "topic not allowlisted, skipping", map[string]interface{}{
				"topic":   topicID,
				"session": key,
			})
			continue
		}

		limit := s.defaultLimit
		if entry.ContextTokens != nil {
			limit = *entry.ContextTokens
		}

		var usage float64
		if limit > 0 {
			usage = float64(entry.TotalTokens) / float64(limit) * 100
		}
		usage = math.Round(usage*100) / 100

		sessionID := entry.SessionID
		if sessionID == "" {
			sessionID = key
		}

		report.Sessions = append(report.Sessions, Record{
			Key:           key,
			SessionID:     sessionID,
			TotalTokens:   entry.TotalTokens,
			ContextLimit:  limit,
			UsagePercent:  usage,
			TopicID:       topicID,
			OverThreshold: usage >= s.threshold,
		})

		if usage > report.OverallUsage {
			report.OverallUsage = usage
			report.Highest = &report.Sessions[len(report.Sessions)-1]
		}
	}

	// Re-point Highest after all appends may have reallocated the slice.
	if report.Highest != nil {
		for i := range report.Sessions {
			if report.Sessions[i].Key == report.Highest.Key {
				report.Highest = &report.Sessions[i]
				break
			}
		}
	}

	report.NeedsRollover = report.OverallUsage >= s.threshold
	return report, nil
}

func topicFromKey(key string) string {
	if !strings.Contains(key, "topic:") {
		return ""
	}
	parts := strings.Split(key, "topic:")
	return parts[len(parts)-1]
}

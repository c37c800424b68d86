// Package memory extracts key points from conversation text, persists
// long-term memories in SQLite, and consolidates note files into the store.
package memory

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	maxTopics      = 10
	maxDecisions   = 20
	maxTasks       = 10
	maxPreferences = 10
)

// KeyPoints is the distilled takeaway of one session's conversation.
type KeyPoints struct {
	Topics       []string `json:"topics"`
	Decisions    []string `json:"decisions"`
	Tasks        []string `json:"tasks"`
	Preferences  []string `json:"preferences"`
	MessageCount int      `json:"message_count"`
	LastActivity int64    `json:"last_activity"`
}

func (kp KeyPoints) Empty() bool {
	return len(kp.Topics) == 0 && len(kp.Decisions) == 0 &&
		len(kp.Tasks) == 0 && len(kp.Preferences) == 0
}

var (
	topicPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^#+\s+(.+)$`),
		regexp.MustCompile(`(?i)(?:project|skill):\s*(.+)`),
		regexp.MustCompile(`(?i)(?:about|regarding|discussing)\s+([^.\n,]+)`),
	}
	decisionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:decided to|decision:|confirmed that|agreed to|chose|we will use)\s*([^.\n]+)`),
	}
	taskPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:need to|needs to|task:|todo:|must)\s*([^.\n]+)`),
		regexp.MustCompile(`(?m)^\s*[-*]\s*\[ \]\s*(.+)$`),
	}
	preferencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:prefers?|preference:|likes?|dislikes?)\s+([^.\n]+)`),
	}
)

// ExtractKeyPoints scans conversation or note text for topics, decisions,
// tasks and preferences.
func ExtractKeyPoints(text string) KeyPoints {
	return KeyPoints{
		Topics:       matchAll(topicPatterns, text, maxTopics),
		Decisions:    matchAll(decisionPatterns, text, maxDecisions),
		Tasks:        matchAll(taskPatterns, text, maxTasks),
		Preferences:  matchAll(preferencePatterns, text, maxPreferences),
		MessageCount: len(strings.Split(text, "\n")),
		LastActivity: time.Now().UnixMilli(),
	}
}

func matchAll(patterns []*regexp.Regexp, text string, limit int) []string {
	seen := map[string]bool{}
	for _, pattern := range patterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			val := strings.TrimSpace(m[1])
			if val == "" || len(val) > 200 {
				continue
			}
			seen[val] = true
		}
	}

	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

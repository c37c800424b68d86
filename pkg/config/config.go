package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so topic allowlists can contain both "464" and 464.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Monitor  MonitorConfig  `json:"monitor"`
	Gateway  GatewayConfig  `json:"gateway"`
	Sessions SessionsConfig `json:"sessions"`
	Quota    QuotaConfig    `json:"quota"`
	Memory   MemoryConfig   `json:"memory"`
	Notify   NotifyConfig   `json:"notify"`
	StateDir string         `json:"state_dir" env:"WARDEN_STATE_DIR"`
	mu       sync.RWMutex
}

type MonitorConfig struct {
	ContextThreshold   float64 `json:"context_threshold" env:"WARDEN_MONITOR_CONTEXT_THRESHOLD"` // percent
	Interval           int     `json:"interval" env:"WARDEN_MONITOR_INTERVAL"`                   // seconds between cycles
	GatewayTimeout     int     `json:"gateway_timeout" env:"WARDEN_MONITOR_GATEWAY_TIMEOUT"`     // seconds of downtime before restart
	DingtalkTimeout    int     `json:"dingtalk_timeout" env:"WARDEN_MONITOR_DINGTALK_TIMEOUT"`
	RestartMaxAttempts int     `json:"restart_max_attempts" env:"WARDEN_MONITOR_RESTART_MAX_ATTEMPTS"`
	RestartCooldown    int     `json:"restart_cooldown" env:"WARDEN_MONITOR_RESTART_COOLDOWN"` // seconds
	MaintenanceEvery   int     `json:"maintenance_every" env:"WARDEN_MONITOR_MAINTENANCE_EVERY"`
	MaintenanceCron    string  `json:"maintenance_cron" env:"WARDEN_MONITOR_MAINTENANCE_CRON"`
	RetentionDays      int     `json:"retention_days" env:"WARDEN_MONITOR_RETENTION_DAYS"`
}

type GatewayConfig struct {
	Bin            string `json:"bin" env:"WARDEN_GATEWAY_BIN"`
	Home           string `json:"home" env:"WARDEN_GATEWAY_HOME"`
	Host           string `json:"host" env:"WARDEN_GATEWAY_HOST"`
	Port           int    `json:"port" env:"WARDEN_GATEWAY_PORT"`
	ProcessName    string `json:"process_name" env:"WARDEN_GATEWAY_PROCESS_NAME"`
	CommandTimeout int    `json:"command_timeout" env:"WARDEN_GATEWAY_COMMAND_TIMEOUT"` // seconds per CLI call
	FixCommand     string `json:"fix_command" env:"WARDEN_GATEWAY_FIX_COMMAND"`         // optional auto-fix agent invoked after escalation
}

type SessionsConfig struct {
	RecordsPath         string              `json:"records_path" env:"WARDEN_SESSIONS_RECORDS_PATH"`
	Dir                 string              `json:"dir" env:"WARDEN_SESSIONS_DIR"`
	KeyFilter           string              `json:"key_filter" env:"WARDEN_SESSIONS_KEY_FILTER"`
	TopicAllowlist      FlexibleStringSlice `json:"topic_allowlist" env:"WARDEN_SESSIONS_TOPIC_ALLOWLIST"`
	DefaultContextLimit int                 `json:"default_context_limit" env:"WARDEN_SESSIONS_DEFAULT_CONTEXT_LIMIT"`
}

type QuotaConfig struct {
	Threshold       int `json:"threshold" env:"WARDEN_QUOTA_THRESHOLD"`
	UnitsPerSession int `json:"units_per_session" env:"WARDEN_QUOTA_UNITS_PER_SESSION"`
}

type MemoryConfig struct {
	DBPath           string `json:"db_path" env:"WARDEN_MEMORY_DB_PATH"`
	NotesDir         string `json:"notes_dir" env:"WARDEN_MEMORY_NOTES_DIR"`
	SessionMemoryDir string `json:"session_memory_dir" env:"WARDEN_MEMORY_SESSION_MEMORY_DIR"`
}

type NotifyConfig struct {
	Channel   string        `json:"channel" env:"WARDEN_NOTIFY_CHANNEL"`
	Target    string        `json:"target" env:"WARDEN_NOTIFY_TARGET"`
	FeedTopic int           `json:"feed_topic" env:"WARDEN_NOTIFY_FEED_TOPIC"`
	Discord   DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token     string `json:"token" env:"WARDEN_NOTIFY_DISCORD_TOKEN"`
	ChannelID string `json:"channel_id" env:"WARDEN_NOTIFY_DISCORD_CHANNEL_ID"`
}

func DefaultConfig() *Config {
	return &Config{
		Monitor: MonitorConfig{
			ContextThreshold:   80,
			Interval:           180,
			GatewayTimeout:     180,
			DingtalkTimeout:    120,
			RestartMaxAttempts: 3,
			RestartCooldown:    120,
			MaintenanceEvery:   20,
			MaintenanceCron:    "",
			RetentionDays:      3,
		},
		Gateway: GatewayConfig{
			Bin:            "openclaw",
			Home:           "~/.openclaw",
			Host:           "127.0.0.1",
			Port:           18789,
			ProcessName:    "openclaw-gateway",
			CommandTimeout: 30,
		},
		Sessions: SessionsConfig{
			KeyFilter:           "agent:main",
			TopicAllowlist:      FlexibleStringSlice{"464", "465", "1186", "1816"},
			DefaultContextLimit: 200000,
		},
		Quota: QuotaConfig{
			Threshold:       100,
			UnitsPerSession: 5,
		},
		Notify: NotifyConfig{
			Channel:   "telegram",
			Target:    "",
			FeedTopic: 1816,
		},
		StateDir: "~/.warden",
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if envErr := env.Parse(cfg); envErr != nil {
				return nil, envErr
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// StatePath returns the persisted monitor state document location.
func (c *Config) StatePath() string {
	return filepath.Join(c.StateDirPath(), ".warden_state.json")
}

func (c *Config) StateDirPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.StateDir)
}

func (c *Config) GatewayHome() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Gateway.Home)
}

// RecordsPath resolves the gateway session records file, defaulting to the
// canonical location under the gateway home.
func (c *Config) RecordsPath() string {
	c.mu.RLock()
	explicit := c.Sessions.RecordsPath
	c.mu.RUnlock()
	if explicit != "" {
		return expandHome(explicit)
	}
	return filepath.Join(c.GatewayHome(), "agents", "main", "sessions", "sessions.json")
}

func (c *Config) SessionsDir() string {
	c.mu.RLock()
	explicit := c.Sessions.Dir
	c.mu.RUnlock()
	if explicit != "" {
		return expandHome(explicit)
	}
	return filepath.Join(c.StateDirPath(), "sessions")
}

func (c *Config) MemoryDBPath() string {
	c.mu.RLock()
	explicit := c.Memory.DBPath
	c.mu.RUnlock()
	if explicit != "" {
		return expandHome(explicit)
	}
	return filepath.Join(c.StateDirPath(), "memory.db")
}

func (c *Config) MemoryNotesDir() string {
	c.mu.RLock()
	explicit := c.Memory.NotesDir
	c.mu.RUnlock()
	if explicit != "" {
		return expandHome(explicit)
	}
	return filepath.Join(c.StateDirPath(), "memory")
}

func (c *Config) SessionMemoryDir() string {
	c.mu.RLock()
	explicit := c.Memory.SessionMemoryDir
	c.mu.RUnlock()
	if explicit != "" {
		return expandHome(explicit)
	}
	return filepath.Join(c.StateDirPath(), "session_memory")
}

func (c *Config) LogsDir() string {
	return filepath.Join(c.StateDirPath(), "logs")
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}

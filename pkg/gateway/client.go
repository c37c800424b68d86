// Package gateway wraps the gateway CLI: health probing, channel status,
// restart, and message delivery all go through the one binary.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/warden/pkg/config"
	"github.com/openclaw/warden/pkg/logger"
	"github.com/openclaw/warden/pkg/runner"
)

// Status classifies one gateway probe.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnreachable
	StatusTimeout
	StatusNotFound
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnreachable:
		return "unreachable"
	case StatusTimeout:
		return "timeout"
	case StatusNotFound:
		return "not_found"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Health is the outcome of one `status` probe.
type Health struct {
	Status       Status
	ResponseTime time.Duration
	Message      string
}

// ChannelStatus classifies one channel line in the status output.
type ChannelStatus int

const (
	ChannelUnknown ChannelStatus = iota
	ChannelHealthy
	ChannelWarning
	ChannelNotConfigured
)

func (s ChannelStatus) String() string {
	switch s {
	case ChannelHealthy:
		return "healthy"
	case ChannelWarning:
		return "warning"
	case ChannelNotConfigured:
		return "not_configured"
	default:
		return "unknown"
	}
}

// ChannelHealth is the outcome of one channel probe.
type ChannelHealth struct {
	Status  ChannelStatus
	Message string
}

type Client struct {
	bin     string
	timeout time.Duration
	cfg     *config.Config
	runner  runner.CommandRunner
}

func NewClient(cfg *config.Config, r runner.CommandRunner) *Client {
	return &Client{
		bin:     cfg.Gateway.Bin,
		timeout: time.Duration(cfg.Gateway.CommandTimeout) * time.Second,
		cfg:     cfg,
		runner:  r,
	}
}

// Health runs the gateway status command and classifies its output.
// The status line looks like:
//
//	Gateway │ local · ws://127.0.0.1:18789 (local loopback) · reachable 13ms
func (c *Client) Health(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res := c.runner.Run(ctx, c.bin, "status")

	if res.TimedOut {
		return Health{Status: StatusTimeout, ResponseTime: -1, Message: "status check timed out"}
	}
	if res.Err != nil {
		if strings.Contains(res.Err.Error(), "executable file not found") {
			return Health{Status: StatusNotFound, ResponseTime: -1, Message: fmt.Sprintf("%s not found", c.bin)}
		}
		return Health{Status: StatusError, ResponseTime: -1, Message: res.Err.Error()}
	}

	output := strings.ToLower(res.Combined())

	switch {
	case strings.Contains(output, "unreachable") || strings.Contains(output, "timeout"):
		return Health{Status: StatusUnreachable, ResponseTime: res.Duration, Message: "gateway unreachable"}
	case strings.Contains(output, "reachable"):
		return Health{Status: StatusHealthy, ResponseTime: res.Duration, Message: "gateway ok"}
	default:
		return Health{Status: StatusUnknown, ResponseTime: res.Duration, Message: truncate(res.Combined(), 200)}
	}
}

// Channel probes a named channel (e.g. "dingtalk") from the status output.
// A channel that never appears in the output is not configured.
func (c *Client) Channel(ctx context.Context, name string) ChannelHealth {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res := c.runner.Run(ctx, c.bin, "status")
	if res.TimedOut || res.Err != nil {
		return ChannelHealth{Status: ChannelUnknown, Message: "status check failed"}
	}

	needle := strings.ToLower(name)
	output := strings.ToLower(res.Combined())

	if !strings.Contains(output, needle) {
		return ChannelHealth{Status: ChannelNotConfigured, Message: name + " not configured"}
	}

	var channelLines []string
	for _, line := range strings.Split(res.Combined(), "\n") {
		if strings.Contains(strings.ToLower(line), needle) {
			channelLines = append(channelLines, strings.TrimSpace(line))
		}
	}

	if strings.Contains(output, needle) && strings.Contains(output, "ok") {
		return ChannelHealth{Status: ChannelHealthy, Message: name + " ok"}
	}
	if len(channelLines) > 0 {
		return ChannelHealth{Status: ChannelWarning, Message: truncate(channelLines[0], 100)}
	}
	return ChannelHealth{Status: ChannelUnknown, Message: name + " status unknown"}
}

// Restart asks the gateway to restart itself.
func (c *Client) Restart(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logger.WarnC("gateway", "restarting gateway")
	res := c.runner.Run(ctx, c.bin, "gateway", "restart")
	if !res.OK() {
		return fmt.Errorf("gateway restart failed: exit=%d %s", res.ExitCode, truncate(res.Combined(), 200))
	}
	return nil
}

// Notify relays a message through the gateway's configured channel,
// threaded onto the feed topic.
func (c *Client) Notify(ctx context.Context, message string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{
		"message", "send",
		"--channel", c.cfg.Notify.Channel,
		"--target", c.cfg.Notify.Target,
		"--thread-id", fmt.Sprintf("%d", c.cfg.Notify.FeedTopic),
		"--message", "[warden] " + message,
	}

	res := c.runner.Run(ctx, c.bin, args...)
	if !res.OK() {
		return fmt.Errorf("notify failed: exit=%d %s", res.ExitCode, truncate(res.Stderr, 200))
	}
	logger.InfoCF("gateway", "notification sent", map[string]interface{}{"message": message})
	return nil
}

// MemoryIndex forces a rebuild of the gateway's memory index.
func (c *Client) MemoryIndex(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	res := c.runner.Run(ctx, c.bin, "memory", "index", "--force")
	if !res.OK() {
		return fmt.Errorf("memory index failed: exit=%d %s", res.ExitCode, truncate(res.Combined(), 200))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

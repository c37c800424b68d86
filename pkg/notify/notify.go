// Package notify delivers watchdog alerts. The primary path relays
// through the gateway's configured channel; Discord is the out-of-band
// fallback for when the gateway itself is the thing that is down.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/openclaw/warden/pkg/config"
	"github.com/openclaw/warden/pkg/logger"
)

const sendTimeout = 15 * time.Second

// Notifier delivers one alert message.
type Notifier interface {
	Notify(ctx context.Context, message string) error
	Name() string
}

// GatewaySender is the slice of the gateway client the relay needs.
type GatewaySender interface {
	Notify(ctx context.Context, message string) error
}

// GatewayNotifier relays alerts through the gateway CLI.
type GatewayNotifier struct {
	sender GatewaySender
}

func NewGatewayNotifier(sender GatewaySender) *GatewayNotifier {
	return &GatewayNotifier{sender: sender}
}

func (n *GatewayNotifier) Name() string { return "gateway" }

func (n *GatewayNotifier) Notify(ctx context.Context, message string) error {
	return n.sender.Notify(ctx, message)
}

// DiscordNotifier sends alerts directly over Discord, bypassing the
// gateway entirely.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
}

func NewDiscordNotifier(cfg config.DiscordConfig) (*DiscordNotifier, error) {
	if cfg.Token == "" || cfg.ChannelID == "" {
		return nil, errors.New("discord notifier requires token and channel id")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return &DiscordNotifier{session: session, channelID: cfg.ChannelID}, nil
}

func (n *DiscordNotifier) Name() string { return "discord" }

func (n *DiscordNotifier) Notify(ctx context.Context, message string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := n.session.ChannelMessageSend(n.channelID, " "+message)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}

// Chain tries each notifier in order and stops at the first success.
type Chain struct {
	notifiers []Notifier
}

func NewChain(notifiers ...Notifier) *Chain {
	return &Chain{notifiers: notifiers}
}

func (c *Chain) Name() string { return "chain" }

// Notify returns nil if any notifier delivered the message.
func (c *Chain) Notify(ctx context.Context, message string) error {
	if len(c.notifiers) == 0 {
		return errors.New("no notifiers configured")
	}

	var lastErr error
	for _, n := range c.notifiers {
		if err := n.Notify(ctx, message); err != nil {
			logger.WarnCF("notify", "notifier failed, trying next", map[string]interface{}{
				"notifier": n.Name(),
				"error":    err.Error(),
			})
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("all notifiers failed: %w", lastErr)
}

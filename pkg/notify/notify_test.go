package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/warden/pkg/config"
)

type stubNotifier struct {
	name  string
	err   error
	calls int
}

func (s *stubNotifier) Name() string { return s.name }
func (s *stubNotifier) Notify(ctx context.Context, message string) error {
	s.calls++
	return s.err
}

func TestChainFirstSuccessStops(t *testing.T) {
	a := &stubNotifier{name: "a"}
	b := &stubNotifier{name: "b"}
	chain := NewChain(a, b)

	require.NoError(t, chain.Notify(context.Background(), "hi"))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 0, b.calls)
}

func TestChainFallsBack(t *testing.T) {
	a := &stubNotifier{name: "a", err: errors.New("down")}
	b := &stubNotifier{name: "b"}
	chain := NewChain(a, b)

	require.NoError(t, chain.Notify(context.Background(), "hi"))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestChainAllFail(t *testing.T) {
	a := &stubNotifier{name: "a", err: errors.New("down")}
	b := &stubNotifier{name: "b", err: errors.New("also down")}
	chain := NewChain(a, b)

	err := chain.Notify(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all notifiers failed")
}

func TestChainEmpty(t *testing.T) {
	assert.Error(t, NewChain().Notify(context.Background(), "hi"))
}

type gatewaySenderFunc func(ctx context.Context, message string) error

func (f gatewaySenderFunc) Notify(ctx context.Context, message string) error {
	return f(ctx, message)
}

func TestGatewayNotifierDelegates(t *testing.T) {
	var got string
	n := NewGatewayNotifier(gatewaySenderFunc(func(ctx context.Context, m string) error {
		got = m
		return nil
	}))

	require.NoError(t, n.Notify(context.Background(), "alert"))
	assert.Equal(t, "alert", got)
}

func TestDiscordNotifierRequiresConfig(t *testing.T) {
	_, err := NewDiscordNotifier(config.DiscordConfig{})
	assert.Error(t, err)

	_, err = NewDiscordNotifier(config.DiscordConfig{Token: "t"})
	assert.Error(t, err)
}

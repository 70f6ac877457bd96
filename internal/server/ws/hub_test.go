package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

type fakeBus struct {
	chans map[string]chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{chans: map[string]chan []byte{
		domain.ChannelTrade:  make(chan []byte, 8),
		domain.ChannelMarket: make(chan []byte, 8),
	}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.chans[channel] <- payload
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.chans[channel], nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestFrameFor(t *testing.T) {
	frame, err := frameFor(domain.ChannelTrade, []byte(`{"kind":"trade"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"trade","channel":"telemetry:trade","payload":{"kind":"trade"}}`, string(frame))

	frame, err = frameFor(domain.ChannelMarket, []byte("not json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"market","channel":"telemetry:market","payload":"not json"}`, string(frame))
}

func TestIsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{"telemetry:*": true}}
	assert.True(t, c.isSubscribed(domain.ChannelMarket))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"telemetry:*"}})
	assert.False(t, c.isSubscribed(domain.ChannelMarket))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{domain.ChannelTrade}})
	assert.True(t, c.isSubscribed(domain.ChannelTrade))
	assert.False(t, c.isSubscribed(domain.ChannelMarket))
}

func TestHubRelaysTelemetry(t *testing.T) {
	bus := newFakeBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "server"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "status", env.Type)

	require.NoError(t, bus.Publish(ctx, domain.ChannelTrade, []byte(`{"kind":"trade","trade":{"sig":"EL"}}`)))
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "trade", env.Type)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "trade", payload["kind"])
}

func TestHubDisconnectsOnShutdown(t *testing.T) {
	hub := NewHub(newFakeBus(), slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	var status map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &status))
	assert.Equal(t, "unknown", status["mode"])

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

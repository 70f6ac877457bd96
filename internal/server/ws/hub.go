// Package ws pushes live telemetry from the signal bus to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

// relayChannels are the bus channels forwarded to clients.
var relayChannels = []string{domain.ChannelTrade, domain.ChannelMarket}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Envelope is one frame on the wire. Payload is the record JSON exactly as
// published on the bus.
type Envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Config is echoed to each client in its first frame.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub fans bus messages out to connected clients.
type Hub struct {
	bus    domain.SignalBus
	logger *slog.Logger
	cfg    Config

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		bus:     bus,
		logger:  logger.With(slog.String("component", "ws_hub")),
		cfg:     cfg,
		clients: make(map[*client]struct{}),
	}
}

// Run relays every channel in relayChannels until ctx ends, then disconnects
// all clients. It always returns ctx.Err().
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range relayChannels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.relay(ctx, ch)
		}()
	}
	<-ctx.Done()
	wg.Wait()

	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	return ctx.Err()
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("client connected", slog.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info("client disconnected", slog.Int("clients", len(h.clients)))
}

// fanout enqueues frame for every subscriber of channel. Clients whose
// buffer is full miss the frame.
func (h *Hub) fanout(channel string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(channel) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("slow client, frame dropped", slog.String("channel", channel))
		}
	}
}

func (h *Hub) relay(ctx context.Context, channel string) {
	log := h.logger.With(slog.String("channel", channel))
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		log.Error("bus subscribe failed", slog.String("error", err.Error()))
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				log.Warn("bus subscription ended")
				return
			}
			frame, err := frameFor(channel, data)
			if err != nil {
				log.Warn("bad bus message", slog.String("error", err.Error()))
				continue
			}
			h.fanout(channel, frame)
		}
	}
}

// frameFor wraps a bus payload in an Envelope typed by its channel. Payloads
// that are not JSON travel as a JSON string.
func frameFor(channel string, payload []byte) ([]byte, error) {
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(payload))
	}
	return json.Marshal(Envelope{
		Type:    strings.TrimPrefix(channel, "telemetry:"),
		Channel: channel,
		Payload: payload,
	})
}

func (h *Hub) statusFrame() []byte {
	payload, _ := json.Marshal(struct {
		Mode     string   `json:"mode"`
		Channels []string `json:"channels"`
		Uptime   int64    `json:"uptime_seconds"`
	}{h.cfg.Mode, relayChannels, max(int64(time.Since(h.cfg.StartedAt).Seconds()), 0)})
	frame, _ := json.Marshal(Envelope{Type: "status", Payload: payload})
	return frame
}

// HandleWS upgrades the connection. New clients start subscribed to every
// relay channel and receive a status frame first.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn)
	c.send <- h.statusFrame()
	if !h.add(c) {
		conn.Close()
		return
	}
	go c.writeLoop()
	go c.readLoop()
}

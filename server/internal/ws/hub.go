package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/reachability/server/internal/alerts"
	"github.com/obsidianstack/reachability/server/internal/api"
	"github.com/obsidianstack/reachability/server/internal/results"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before the connection is
	// treated as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16

	// buildTimeout bounds one snapshot read from the results store.
	buildTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string               `json:"event"`
	Data  api.SnapshotResponse `json:"data"`
}

// Hub manages WebSocket clients and broadcasts the availability snapshot
// to all of them every interval.
type Hub struct {
	results  results.Store
	alerts   *alerts.Engine
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client. A non-empty devices
// list narrows every snapshot it receives to those device IDs.
type client struct {
	conn    *websocket.Conn
	send    chan []byte
	devices []string
}

// filterKey identifies clients that receive identical payloads.
func (c *client) filterKey() string { return strings.Join(c.devices, ",") }

// New creates a Hub that reads from res and eng (which may be nil) and
// broadcasts every interval.
func New(res results.Store, eng *alerts.Engine, interval time.Duration) *Hub {
	return &Hub{
		results:  res,
		alerts:   eng,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run broadcasts the current snapshot every interval until ctx is
// cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			h.broadcast(ctx)
		}
	}
}

// ServeHTTP upgrades the connection, sends the current snapshot and then
// streams broadcasts until the client goes away. The optional query
// parameter device=a,b subscribes to a subset of devices.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	devices := parseDevices(r.URL.Query().Get("device"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, sendBufSize),
		devices: devices,
	}
	if snap, err := h.snapshot(r.Context()); err == nil {
		if data, err := encode(snap, devices); err == nil {
			c.send <- data
		}
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcast queues the snapshot for every client, encoding it once per
// distinct device filter. Sends happen under the read lock so that no
// channel is closed mid-send; clients whose buffer is full are dropped
// afterwards.
func (h *Hub) broadcast(ctx context.Context) {
	snap, err := h.snapshot(ctx)
	if err != nil {
		slog.Warn("ws: build snapshot failed", "err", err)
		return
	}

	payloads := make(map[string][]byte)
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		key := c.filterKey()
		data, ok := payloads[key]
		if !ok {
			if data, err = encode(snap, c.devices); err != nil {
				slog.Warn("ws: encode snapshot failed", "err", err)
				continue
			}
			payloads[key] = data
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Debug("ws: dropping slow client", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
}

func (h *Hub) snapshot(ctx context.Context) (api.SnapshotResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, buildTimeout)
	defer cancel()
	return api.BuildSnapshot(ctx, h.results, h.alerts, time.Now())
}

// encode marshals snap, keeping only the listed devices and their alerts
// when devices is non-empty.
func encode(snap api.SnapshotResponse, devices []string) ([]byte, error) {
	if len(devices) > 0 {
		filtered := api.SnapshotResponse{
			Devices:     []api.DeviceResponse{},
			Alerts:      []*alerts.Alert{},
			GeneratedAt: snap.GeneratedAt,
		}
		for _, d := range snap.Devices {
			if slices.Contains(devices, d.DeviceID) {
				filtered.Devices = append(filtered.Devices, d)
			}
		}
		for _, a := range snap.Alerts {
			if slices.Contains(devices, a.DeviceID) {
				filtered.Alerts = append(filtered.Alerts, a)
			}
		}
		snap = filtered
	}
	return json.Marshal(Message{Event: "snapshot", Data: snap})
}

// parseDevices splits a comma-separated device list, dropping blanks and
// sorting so equal filters share a payload.
func parseDevices(raw string) []string {
	var out []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump forwards queued messages to the connection and sends periodic
// pings. One goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames and detects disconnects. Blocks until the
// connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

package api

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/open-teleop/dronesim/domain/scene"
	customlog "github.com/open-teleop/dronesim/pkg/log"
)

const (
	writeTimeout = 2 * time.Second
	// sendBuffer is how many frames a slow client may fall behind before
	// frames addressed to it are dropped.
	sendBuffer = 8
)

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	dropped atomic.Uint64
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue never blocks; it reports false when the frame was dropped.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Hub fans scene status out to connected websocket clients and feeds
// their control messages back into the scene. Each client has its own
// writer goroutine, so a stalled client never holds up the caller.
type Hub struct {
	ctrl   Controller
	logger customlog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

var _ scene.Panel = (*Hub)(nil)

// NewHub creates a hub bound to ctrl.
func NewHub(ctrl Controller, logger customlog.Logger) *Hub {
	return &Hub{ctrl: ctrl, logger: logger, clients: make(map[*client]struct{})}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ShowStatus queues st for every client and returns without waiting for
// the network. Clients whose buffer is full miss this frame.
func (h *Hub) ShowStatus(st scene.Status) error {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return nil
	}

	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	for _, c := range targets {
		if !c.enqueue(data) {
			h.logger.Debugf("Status frame dropped for a slow client (%d so far)", c.dropped.Load())
		}
	}
	return nil
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// writeLoop owns all writes to c.conn. A failed write closes the
// connection, which ends the read loop in Serve.
func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warnf("Dropping websocket client %s: %v", c.conn.RemoteAddr(), err)
				_ = c.conn.Close()
				return
			}
		}
	}
}

// Serve runs the read loop for one connection until it closes.
func (h *Hub) Serve(conn *websocket.Conn) {
	h.logger.Infof("Telemetry WebSocket connected: %s", conn.RemoteAddr())
	c := newClient(conn)
	h.add(c)

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		h.writeLoop(c)
	}()
	defer func() {
		h.remove(c)
		close(c.done)
		// The connection is released when Serve returns.
		writer.Wait()
		h.logger.Infof("Telemetry WebSocket disconnected: %s", conn.RemoteAddr())
	}()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			switch {
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
				h.logger.Errorf("Telemetry WS read error: %v", err)
			case errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNRESET):
				h.logger.Infof("Telemetry WS connection reset")
			default:
				h.logger.Debugf("Telemetry WS connection closed: %v", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			h.logger.Infof("Ignoring non-text WS message type: %d", mt)
			continue
		}
		h.handle(c, msg)
	}
}

func (h *Hub) handle(c *client, msg []byte) {
	var cm ControlMessage
	if err := json.Unmarshal(msg, &cm); err != nil {
		h.logger.Warnf("Failed to unmarshal control message: %v. Message: %s", err, string(msg))
		h.reply(c, fiber.Map{"error": "invalid JSON"})
		return
	}
	ev, err := cm.Event()
	if err != nil {
		h.reply(c, fiber.Map{"error": err.Error()})
		return
	}
	if cm.Type == "target" && !h.ctrl.CanAddTargets() {
		h.reply(c, fiber.Map{"error": "targets are closed for this session"})
		return
	}
	if err := h.ctrl.Dispatch(ev); err != nil {
		h.reply(c, fiber.Map{"error": err.Error()})
		return
	}
	h.reply(c, fiber.Map{"message": "accepted", "event": ev.Name()})
}

func (h *Hub) reply(c *client, body fiber.Map) {
	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	if !c.enqueue(data) {
		h.logger.Debugf("Reply dropped for a slow client")
	}
}

// RegisterWebSocketRoutes mounts the hub at /ws/telemetry.
func RegisterWebSocketRoutes(app *fiber.App, hub *Hub) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/telemetry", websocket.New(hub.Serve))
	hub.logger.Infof("Registered WebSocket endpoint /ws/telemetry")
}

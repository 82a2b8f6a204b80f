package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumenchat/chatcore/internal/events"
	"github.com/lumenchat/chatcore/internal/logger"
)

const writeTimeout = 10 * time.Second

// Conn wraps one upgraded WebSocket connection and implements events.Sink
// by serializing each event to JSON and delivering it through a buffered
// send channel drained by its own writer goroutine, so a slow reader never
// blocks the pipeline goroutine producing events.
type Conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	send   chan wireEvent
	log    *logger.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(id, userID string, ws *websocket.Conn, log *logger.Logger) *Conn {
	return &Conn{
		id:     id,
		userID: userID,
		ws:     ws,
		send:   make(chan wireEvent, 64),
		log:    log.WithComponent("server").WithFields(map[string]interface{}{"connId": id}),
		closed: make(chan struct{}),
	}
}

// RateLimitInfo implements events.Sink.
func (c *Conn) RateLimitInfo(e events.RateLimitInfo) { c.enqueue(rateLimitInfoEvent(e)) }

// Typing implements events.Sink.
func (c *Conn) Typing(e events.Typing) { c.enqueue(typingEvent(e)) }

// MessageResponse implements events.Sink.
func (c *Conn) MessageResponse(e events.MessageResponse) { c.enqueue(messageResponseEvent(e)) }

func (c *Conn) enqueue(e wireEvent) {
	select {
	case c.send <- e:
	case <-c.closed:
	default:
		c.log.Warn("dropping event, send buffer full", "type", e.Type)
	}
}

// writePump drains the send channel to the socket until the connection is
// closed. It must run in its own goroutine for the lifetime of the
// connection.
func (c *Conn) writePump() {
	for {
		select {
		case e, ok := <-c.send:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(e); err != nil {
				c.log.Warn("write failed, closing connection", "error", err)
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// Close disconnects the underlying socket exactly once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

// Hub tracks live connections and implements shutdown.ConnectionLayer.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*Conn
	log   *logger.Logger
}

func newHub(log *logger.Logger) *Hub {
	return &Hub{conns: make(map[string]*Conn), log: log.WithComponent("server")}
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	go c.writePump()
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	c.Close()
}

// DisconnectAll implements shutdown.ConnectionLayer: it closes every live
// connection, returning ctx's error if the closes have not finished before
// ctx is done. Events still queued on a connection are not flushed first.
func (h *Hub) DisconnectAll(ctx context.Context) error {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, c := range conns {
			c.Close()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// count reports the number of live connections, used only by tests.
func (h *Hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

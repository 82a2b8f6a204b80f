// Package shutdown implements ShutdownController (C8): a one-shot, ordered
// quiesce of the HTTP listener, the connection/event layer, the rate
// limiter, and backing stores, built on signal.Notify and
// http.Server.Shutdown(ctx) and generalized to a named sequence of
// sub-deadlined steps.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lumenchat/chatcore/internal/logger"
)

const (
	forceExitDeadline    = 5 * time.Second
	connectionSubDeadline = 2 * time.Second
	storeSubDeadline      = 1 * time.Second
)

// Listener is the HTTP/WS listener the controller stops first.
type Listener interface {
	Shutdown(ctx context.Context) error
}

// ConnectionLayer enumerates and disconnects live connections, then closes.
type ConnectionLayer interface {
	DisconnectAll(ctx context.Context) error
}

// RateLimiter is destroyed (its GC timer stopped) once no new work can
// arrive.
type RateLimiter interface {
	Destroy()
}

// Store is one backing store closed with its own sub-deadline. Name is used
// only for logging.
type Store struct {
	Name  string
	Close func(ctx context.Context) error
}

// Controller orchestrates the ordered shutdown sequence exactly once.
type Controller struct {
	listener    Listener
	connections ConnectionLayer
	limiter     RateLimiter
	stores      []Store
	log         *logger.Logger

	forceExit time.Duration // global deadline; defaults to forceExitDeadline

	once sync.Once
}

// New constructs a Controller. stores are closed in the order given.
func New(listener Listener, connections ConnectionLayer, limiter RateLimiter, stores []Store, log *logger.Logger) *Controller {
	return &Controller{
		listener:    listener,
		connections: connections,
		limiter:     limiter,
		stores:      stores,
		log:         log.WithComponent("shutdown"),
		forceExit:   forceExitDeadline,
	}
}

// WaitForSignal blocks until SIGINT or SIGTERM, then runs Run. Subsequent
// signals received during shutdown are logged and ignored (os/signal only
// delivers one at a time to this channel's buffer of 1, so a flood during
// drain is simply coalesced).
func (c *Controller) WaitForSignal(ctx context.Context) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	c.log.Info("shutdown signal received")
	go func() {
		for range sigCh {
			c.log.Info("additional shutdown signal ignored, shutdown already in progress")
		}
	}()
	return c.Run(ctx)
}

// Run executes the ordered quiesce exactly once, even if called from
// multiple goroutines. Returns 0 on a clean shutdown within the global
// deadline, 1 if the deadline fired first. A call after the first returns 1
// without running the sequence again.
func (c *Controller) Run(ctx context.Context) int {
	code := 1
	c.once.Do(func() {
		code = c.run(ctx)
	})
	return code
}

func (c *Controller) run(ctx context.Context) int {
	deadlineCtx, cancel := context.WithTimeout(ctx, c.forceExit)
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.sequence(deadlineCtx)
		close(done)
	}()

	select {
	case <-done:
		c.log.Info("shutdown completed cleanly")
		return 0
	case <-deadlineCtx.Done():
		c.log.Error("shutdown deadline exceeded, forcing exit")
		return 1
	}
}

func (c *Controller) sequence(ctx context.Context) {
	if c.listener != nil {
		if err := c.listener.Shutdown(ctx); err != nil {
			c.log.Error("listener shutdown failed", "error", err)
		}
	}

	if c.connections != nil {
		connCtx, cancel := context.WithTimeout(ctx, connectionSubDeadline)
		if err := c.connections.DisconnectAll(connCtx); err != nil {
			c.log.Warn("connection layer quiesce timed out, forcing close", "error", err)
		}
		cancel()
	}

	if c.limiter != nil {
		c.limiter.Destroy()
	}

	for _, store := range c.stores {
		storeCtx, cancel := context.WithTimeout(ctx, storeSubDeadline)
		if err := store.Close(storeCtx); err != nil {
			c.log.Warn("backing store close timed out or failed, skipping", "store", store.Name, "error", err)
		}
		cancel()
	}
}

package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"ferry/internal/logging"
)

// DefaultSignals are the termination signals Watch registers when none are given.
var DefaultSignals = []os.Signal{unix.SIGINT, unix.SIGTERM}

// Controller is the cancellation controller behind the shared running flag.
type Controller struct {
	logger  *slog.Logger
	running atomic.Bool
	once    sync.Once
	done    chan struct{}

	mu       sync.Mutex
	reason   string
	signaled os.Signal
}

// NewController returns a controller in the running state.
func NewController(logger *slog.Logger) *Controller {
	c := &Controller{
		logger: logging.NewComponentLogger(logger, "lifecycle"),
		done:   make(chan struct{}),
	}
	c.running.Store(true)
	return c
}

// Running reports whether no stop has been requested yet.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// Done is closed once the controller stops.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Stop clears the running flag. Only the first call has any effect.
func (c *Controller) Stop(reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		c.running.Store(false)
		close(c.done)
		c.logger.Info("shutdown requested",
			logging.String(logging.FieldEventType, "shutdown_requested"),
			logging.String("reason", reason),
		)
	})
}

// Reason returns the reason passed to the first Stop call.
func (c *Controller) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Signal returns the termination signal that stopped the controller, if any.
func (c *Controller) Signal() os.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signaled
}

// Watch registers handlers for the given signals (DefaultSignals when empty)
// and stops the controller on the first one received. Repeated signals are
// logged and otherwise ignored. The returned function unregisters the handlers;
// it is also called when ctx ends.
func (c *Controller) Watch(ctx context.Context, signals ...os.Signal) func() {
	if len(signals) == 0 {
		signals = DefaultSignals
	}
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, signals...)

	quit := make(chan struct{})
	var stopOnce sync.Once
	release := func() {
		stopOnce.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}

	go func() {
		for {
			select {
			case sig := <-ch:
				if !c.Running() {
					c.logger.Info("signal received while already stopping", logging.String("signal", sig.String()))
					continue
				}
				c.mu.Lock()
				c.signaled = sig
				c.mu.Unlock()
				c.Stop("signal " + sig.String())
			case <-ctx.Done():
				release()
				return
			case <-quit:
				return
			}
		}
	}()
	return release
}

// Context derives a context that is cancelled when the controller stops or
// parent ends.
func (c *Controller) Context(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

// Interrupted reports whether the controller was stopped by SIGINT.
func (c *Controller) Interrupted() bool {
	return c.Signal() == unix.SIGINT
}

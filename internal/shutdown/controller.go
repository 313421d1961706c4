// Package shutdown turns operator stop requests into context cancellation.
package shutdown

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DefaultStopToken is the stdin line that requests a graceful stop.
const DefaultStopToken = "o"

// Controller owns the run context. The first trigger cancels it; later
// triggers are ignored.
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu     sync.Mutex
	source string

	logger *zap.Logger
}

// New derives a cancellable run context from parent.
func New(parent context.Context, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Controller{ctx: ctx, cancel: cancel, logger: logger}
}

// Context returns the run context that jobs observe at their checkpoints.
func (c *Controller) Context() context.Context {
	return c.ctx
}

// Trigger requests shutdown and reports whether this call was the first.
func (c *Controller) Trigger(source string) bool {
	fired := false
	c.once.Do(func() {
		c.mu.Lock()
		c.source = source
		c.mu.Unlock()
		fired = true
		c.logger.Info("shutdown requested; finishing in-flight jobs", zap.String("source", source))
		c.cancel()
	})
	return fired
}

// Requested reports whether shutdown has been triggered, by us or by the parent context.
func (c *Controller) Requested() bool {
	return c.ctx.Err() != nil
}

// Source returns the first trigger's source, or "" if none fired.
func (c *Controller) Source() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// Stop releases the context without recording a trigger.
func (c *Controller) Stop() {
	c.cancel()
}

// WatchInput triggers shutdown when r yields a line equal to token, ignoring
// case and surrounding whitespace. It returns when r is exhausted, the token
// is seen, or the run context ends.
func (c *Controller) WatchInput(r io.Reader, token string) {
	if token = strings.TrimSpace(token); token == "" {
		token = DefaultStopToken
	}
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-c.ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-c.ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if strings.EqualFold(strings.TrimSpace(line), token) {
				c.Trigger("input")
				return
			}
		}
	}
}

// WatchSignals triggers shutdown on the first of sigs. It returns when a
// signal arrives or the run context ends.
func (c *Controller) WatchSignals(sigs ...os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)
	select {
	case sig := <-ch:
		c.Trigger("signal:" + sig.String())
	case <-c.ctx.Done():
	}
}

// Package inflight counts work that shutdown should wait for.
package inflight

import (
	"context"
	"sync"
)

// Counter tracks in-flight work. The zero value is ready to use.
type Counter struct {
	mu   sync.Mutex
	n    int64
	idle chan struct{}
}

// Begin records one unit of work and returns the func that ends it. The
// returned func may be called more than once.
func (c *Counter) Begin() (end func()) {
	c.mu.Lock()
	if c.n == 0 {
		c.idle = make(chan struct{})
	}
	c.n++
	c.mu.Unlock()

	var once sync.Once
	return func() { once.Do(c.end) }
}

func (c *Counter) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == 0 {
		return
	}
	c.n--
	if c.n == 0 && c.idle != nil {
		close(c.idle)
		c.idle = nil
	}
}

// Load returns the current count.
func (c *Counter) Load() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Wait blocks until the count reaches zero or ctx is done, and reports
// whether it reached zero.
func (c *Counter) Wait(ctx context.Context) bool {
	c.mu.Lock()
	ch := c.idle
	c.mu.Unlock()
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

package driver

import (
	"sync"

	"github.com/krisarmstrong/omxconf/pkg/logging"
)

// Cleanup collects teardown steps. Steps run in reverse registration order,
// every step runs even after a failure, and the first error (including the
// scenario's own) is the one reported.
type Cleanup struct {
	mu    sync.Mutex
	steps []cleanupStep
	first error
}

type cleanupStep struct {
	name string
	fn   func() error
}

// Defer registers a teardown step.
func (c *Cleanup) Defer(name string, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, cleanupStep{name: name, fn: fn})
}

// Record keeps err if it is the first failure and returns it unchanged.
func (c *Cleanup) Record(err error) error {
	if err == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.first == nil {
		c.first = err
	}
	return err
}

// Err returns the first recorded error.
func (c *Cleanup) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.first
}

// Finish records err, runs every step and returns the first error.
// Typical use:
//
//	var cl driver.Cleanup
//	defer func() { err = cl.Finish(err) }()
func (c *Cleanup) Finish(err error) error {
	c.Record(err)

	c.mu.Lock()
	steps := c.steps
	c.steps = nil
	c.mu.Unlock()

	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if serr := s.fn(); serr != nil {
			logging.LogWarn(logging.ComponentDriver, "cleanup step failed", "step", s.name, "err", serr)
			c.Record(serr)
		}
	}
	return c.Err()
}

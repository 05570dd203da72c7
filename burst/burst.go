// Package burst implements the reusable low-overhead session callers thread
// through repeated executions of the same compiled unit. A Session caches
// one controller per device, so per-call transport setup is paid once.
package burst

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/execplan/backends"
)

// Session is created once per compiled unit and passed to BurstCompute. Safe
// for concurrent use.
type Session struct {
	mu          sync.Mutex
	controllers map[backends.Device]*Controller
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{controllers: make(map[backends.Device]*Controller)}
}

// ControllerFor returns the session's controller for the device, creating it
// on first use.
func (s *Session) ControllerFor(d backends.Device) backends.Burst {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.controllers[d]
	if !ok {
		c = &Controller{device: d}
		s.controllers[d] = c
	}
	c.uses.Add(1)
	return c
}

// Controller is the per-device burst handle. Devices that support burst
// executions type-assert the backends.Burst they receive to *Controller (or
// their own richer type); the software device ignores it.
type Controller struct {
	device backends.Device
	uses   atomic.Int64
}

var _ backends.Burst = (*Controller)(nil)

// Device implements backends.Burst.
func (c *Controller) Device() backends.Device { return c.device }

// Uses returns how many step dispatches received this controller.
func (c *Controller) Uses() int64 { return c.uses.Load() }

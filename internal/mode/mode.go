// Package mode implements the Mode Controller: the single piece of
// runtime state deciding whether accepted offers execute immediately or
// wait for operator approval.
package mode

import (
	"sync"

	"github.com/inviti8/hvym-pinner/internal/types"
	"go.uber.org/zap"
)

// Controller holds the current runtime mode. Persistence of a mode change
// is the caller's responsibility; the controller only tracks and logs the
// in-memory value.
type Controller struct {
	mu      sync.RWMutex
	current types.RuntimeMode
	logger  *zap.Logger
}

// New constructs a Controller in the given starting mode.
func New(initial types.RuntimeMode, logger *zap.Logger) *Controller {
	return &Controller{current: initial, logger: logger}
}

// Get returns the current mode.
func (c *Controller) Get() types.RuntimeMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Set updates the mode, logging exactly once if it actually changed.
func (c *Controller) Set(mode types.RuntimeMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == mode {
		return
	}
	prev := c.current
	c.current = mode
	c.logger.Info("mode changed", zap.String("from", string(prev)), zap.String("to", string(mode)))
}

// Package lifecycle gates whole-system start, stop, pause and resume behind
// a single state machine. Every transition passes through its transient
// state while holding one process-wide lock, so transitions never race.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/poolforge/stresslab/internal/engine"
	"github.com/poolforge/stresslab/internal/observability"
)

// State is the process-wide service state.
type State string

const (
	// StateStopped is the initial and terminal state.
	StateStopped State = "stopped"
	// StateStarting guards Start against concurrent re-entry.
	StateStarting State = "starting"
	// StateStarted means the engine is running.
	StateStarted State = "started"
	// StatePausing guards Pause against concurrent re-entry.
	StatePausing State = "pausing"
	// StatePaused means all workers are halted but resources stay allocated.
	StatePaused State = "paused"
	// StateResuming guards Resume against concurrent re-entry.
	StateResuming State = "resuming"
	// StateStopping guards Stop against concurrent re-entry.
	StateStopping State = "stopping"
	// StateError means the last Start failed; only Stop leaves it.
	StateError State = "error"
)

// Factory builds a fresh engine for each Start.
type Factory func() (*engine.Engine, error)

// Health is the controller's non-blocking status snapshot.
type Health struct {
	State     State         `json:"state"`
	IsHealthy bool          `json:"isHealthy"`
	Engine    engine.Health `json:"engine"`
}

// Controller owns creation and destruction of the engine as an atomic unit.
type Controller struct {
	mu      sync.Mutex
	state   State
	factory Factory
	engine  *engine.Engine
}

// NewController builds a stopped controller.
func NewController(factory Factory) *Controller {
	return &Controller{state: StateStopped, factory: factory}
}

// State returns the current service state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Engine returns the active engine, nil unless started or paused.
func (c *Controller) Engine() *engine.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

// Start constructs and starts a fresh engine. Calling Start while already
// started is a no-op; any failure leaves the controller in the error state
// with the partial engine disposed, and a Stop is required before the next
// Start.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateStarted:
		return nil
	case StateStopped:
	default:
		return fmt.Errorf("start not valid from state %s", c.state)
	}

	c.state = StateStarting
	observability.Log().Info("service starting")

	eng, err := c.factory()
	if err != nil {
		c.state = StateError
		return fmt.Errorf("build engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		eng.Stop(ctx)
		c.state = StateError
		return fmt.Errorf("start engine: %w", err)
	}

	c.engine = eng
	c.state = StateStarted
	observability.Log().Info("service started")
	return nil
}

// Stop tears the engine down. Idempotent: stopping a stopped controller is a
// no-op. Workers are force-stopped before the engine itself shuts down.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateStopped {
		return nil
	}
	c.state = StateStopping
	observability.Log().Info("service stopping")

	if c.engine != nil {
		c.engine.Workers().ForceStopAll(ctx)
		c.engine.Stop(ctx)
		c.engine = nil
	}

	c.state = StateStopped
	observability.Log().Info("service stopped")
	return nil
}

// Pause halts all running workers while keeping the engine allocated.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateStarted {
		return fmt.Errorf("pause not valid from state %s", c.state)
	}
	c.state = StatePausing
	c.engine.Workers().PauseAll(ctx)
	c.state = StatePaused
	observability.Log().Info("service paused")
	return nil
}

// Resume restarts the workers halted by Pause.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePaused {
		return fmt.Errorf("resume not valid from state %s", c.state)
	}
	c.state = StateResuming
	if err := c.engine.Workers().ResumePaused(ctx); err != nil {
		// Partially resumed: report started anyway, the failed workers stay
		// paused and can be started individually.
		c.state = StateStarted
		return err
	}
	c.state = StateStarted
	observability.Log().Info("service resumed")
	return nil
}

// GetHealth reports the service state and the engine's aggregate health.
// Healthy requires a started, non-paused state and a healthy engine.
func (c *Controller) GetHealth(ctx context.Context) Health {
	c.mu.Lock()
	state := c.state
	eng := c.engine
	c.mu.Unlock()

	health := Health{State: state}
	if eng != nil {
		health.Engine = eng.Health(ctx)
	}
	health.IsHealthy = state == StateStarted && eng != nil && health.Engine.Healthy()
	return health
}

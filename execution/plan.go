package execution

import "github.com/gomlx/execplan/backends"

// Controller is the per-invocation iteration state of a Plan. It is opaque
// to this package: created by Plan.MakeController, threaded back into Next
// and Fallback. Concurrent executions of the same plan each get their own
// controller, so the shared plan is only ever read.
type Controller any

// Plan is the compiled, possibly multi-step description of how to run a
// model, produced by a partitioner. This package consumes it as a cursor:
// Next yields step executors until done.
//
// A Plan must support concurrent read-only iteration; all mutable stepping
// state lives in the Controller.
type Plan interface {
	// MakeController creates the per-invocation cursor. session is nil
	// outside burst computes.
	MakeController(e *Execution, session BurstSession) (Controller, error)

	// Next advances the cursor. A nil StepExecutor with a nil error means
	// the plan is complete. The returned burst handle, when non-nil, is
	// threaded into the step's execution.
	Next(c Controller) (*StepExecutor, backends.Burst, error)

	// Fallback produces a StepExecutor for the step Next most recently
	// returned, to be re-targeted at the software device. It does not
	// advance the cursor.
	Fallback(c Controller) (*StepExecutor, error)

	// IsSimple reports whether the plan is a single step covering the
	// whole model.
	IsSimple() bool

	// IsSimpleSoftware reports whether the plan is a single step already
	// on the software device, which disables fallback entirely.
	IsSimpleSoftware() bool
}

// BurstSession hands out per-device burst handles for repeated executions of
// one compiled unit. Implemented by the burst package; accepted here as an
// interface so plans and executions stay decoupled from its caching policy.
type BurstSession interface {
	// ControllerFor returns the session's handle for the device, creating
	// it on first use.
	ControllerFor(d backends.Device) backends.Burst
}

// Package plan provides the execution-plan iterators the execution package
// drives: Simple (the whole model as one step on one device) and Compound
// (pre-partitioned steps across devices, with scratch-backed temporaries
// flowing between them).
//
// Partitioning itself happens upstream; a Compound plan consumes the
// partitioner's step descriptors, it does not decide them.
package plan

import (
	"github.com/pkg/errors"

	"github.com/gomlx/execplan/backends"
	"github.com/gomlx/execplan/execution"
	"github.com/gomlx/execplan/graph"
)

// Simple is a plan with a single step: the entire model on one device.
type Simple struct {
	model    *graph.Model
	device   backends.Device
	prepared backends.PreparedModel
}

var _ execution.Plan = (*Simple)(nil)

// NewSimple compiles the model for the device and wraps it as a plan.
func NewSimple(model *graph.Model, device backends.Device) (*Simple, error) {
	prepared, err := device.PrepareModel(model, backends.PreferFastSingleAnswer)
	if err != nil {
		return nil, errors.WithMessagef(err, "preparing model on device %q", device.Name())
	}
	return &Simple{model: model, device: device, prepared: prepared}, nil
}

type simpleController struct {
	e       *execution.Execution
	session execution.BurstSession
	done    bool
}

// MakeController implements execution.Plan.
func (p *Simple) MakeController(e *execution.Execution, session execution.BurstSession) (execution.Controller, error) {
	return &simpleController{e: e, session: session}, nil
}

func (p *Simple) newStepExecutor(e *execution.Execution) *execution.StepExecutor {
	executor := execution.NewStepExecutor(e, p.model, p.device, p.prepared)
	executor.MapInputsAndOutputsTrivially()
	return executor
}

// Next implements execution.Plan.
func (p *Simple) Next(c execution.Controller) (*execution.StepExecutor, backends.Burst, error) {
	ctrl := c.(*simpleController)
	if ctrl.done {
		return nil, nil, nil
	}
	ctrl.done = true
	var burst backends.Burst
	if ctrl.session != nil {
		burst = ctrl.session.ControllerFor(p.device)
	}
	return p.newStepExecutor(ctrl.e), burst, nil
}

// Fallback implements execution.Plan.
func (p *Simple) Fallback(c execution.Controller) (*execution.StepExecutor, error) {
	ctrl := c.(*simpleController)
	if !ctrl.done {
		return nil, errors.New("fallback requested before any step was dispatched")
	}
	return p.newStepExecutor(ctrl.e), nil
}

// IsSimple implements execution.Plan.
func (p *Simple) IsSimple() bool { return true }

// IsSimpleSoftware implements execution.Plan.
func (p *Simple) IsSimpleSoftware() bool { return p.device.IsSoftware() }

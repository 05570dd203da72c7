// Package execution implements the invocation lifecycle for compiled
// models: binding caller arguments to a plan's slots, driving the plan's
// steps to completion, reconciling output shapes across step boundaries,
// falling back to the software device when an accelerator step fails, and
// exposing synchronous, event-based, and burst completion to callers.
package execution

import (
	"os"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/gomlx/execplan/backends"
	"github.com/gomlx/execplan/graph"
	"github.com/gomlx/execplan/memory"
	"github.com/gomlx/execplan/status"
)

// EnvForceSync, when set to a non-empty value, forces asynchronous computes
// to run inline on the calling goroutine. Debug aid.
const EnvForceSync = "EXECPLAN_SYNC"

// Options configure one Execution at construction. The zero value is not
// usable: Software is required.
type Options struct {
	// Software is the universally-available software device used for
	// fallback (and for whole-model retries). Required.
	Software backends.Device

	// AllowFallback permits retrying failed work on the software device.
	// It reflects the partitioning policy of the compiled unit; it is
	// additionally disabled at run time for plans already entirely on the
	// software device.
	AllowFallback bool

	// ExplicitDeviceList and NumDevices describe how the compiled unit
	// selected its devices. Timing measurement requires an explicit list
	// of exactly one device.
	ExplicitDeviceList bool
	NumDevices         int

	// NonThreadedAsync makes StartCompute run the dispatch loop inline
	// instead of on a background goroutine. The returned Event is then
	// already complete.
	NonThreadedAsync bool
}

// Execution is one invocation of a compiled model: bind arguments, compute
// once, then query shapes and timing. Not safe for concurrent use by
// multiple goroutines, except that the Event returned by StartCompute may be
// waited on from anywhere.
type Execution struct {
	id    uuid.UUID
	model *graph.Model
	plan  Plan
	opts  Options

	inputs   []ArgumentInfo
	outputs  []ArgumentInfo
	memories memory.Registry

	// Lifecycle: unstarted -> started -> finished, one-directional.
	// Binding is legal only before started; queries only after finished.
	started  atomic.Bool
	finished atomic.Bool

	measure bool
	timing  backends.Timing
}

// New creates an execution for one compiled unit: the model it computes, the
// plan describing how, and the options carrying the compilation-level
// policy. Misuse (nil collaborators) panics.
func New(model *graph.Model, plan Plan, opts Options) *Execution {
	if model == nil || plan == nil {
		exceptions.Panicf("execution.New: model and plan are required")
	}
	if opts.Software == nil || !opts.Software.IsSoftware() {
		exceptions.Panicf("execution.New: Options.Software must be the software device")
	}
	if os.Getenv(EnvForceSync) != "" {
		opts.NonThreadedAsync = true
	}
	e := &Execution{
		id:      uuid.New(),
		model:   model,
		plan:    plan,
		opts:    opts,
		inputs:  make([]ArgumentInfo, model.InputCount()),
		outputs: make([]ArgumentInfo, model.OutputCount()),
		timing:  backends.NoTiming,
	}
	klog.V(2).Infof("execution %s: created (%d inputs, %d outputs)",
		e.id, len(e.inputs), len(e.outputs))
	return e
}

// SetInput binds input index to a caller-owned buffer, optionally overriding
// the operand's dimensions. A nil buffer explicitly binds "no value". The
// buffer must stay valid until the execution completes.
func (e *Execution) SetInput(index int, override *graph.Operand, buffer []byte) error {
	if e.started.Load() {
		return status.Errorf(status.BadState, "SetInput called after the execution has started")
	}
	if index < 0 || index >= len(e.inputs) {
		return status.Errorf(status.BadData, "SetInput bad index %d, model has %d inputs",
			index, len(e.inputs))
	}
	operand := e.model.InputOperand(index)
	if err := checkDimensions(operand, override, "SetInput", buffer == nil); err != nil {
		return err
	}
	if len(buffer) > maxArgumentLength {
		return status.Errorf(status.BadData, "SetInput buffer exceeds max length: %d", len(buffer))
	}
	if buffer != nil {
		if err := checkInputSize(index, operand, override, len(buffer)); err != nil {
			return err
		}
	}
	e.inputs[index].setFromPointer(operand, override, buffer)
	return nil
}

// SetInputFromMemory binds input index to (offset, length) within pool,
// registering the pool if this invocation has not seen it before.
func (e *Execution) SetInputFromMemory(index int, override *graph.Operand, pool memory.Pool, offset, length int) error {
	if e.started.Load() {
		return status.Errorf(status.BadState, "SetInputFromMemory called after the execution has started")
	}
	if index < 0 || index >= len(e.inputs) {
		return status.Errorf(status.BadData, "SetInputFromMemory bad index %d, model has %d inputs",
			index, len(e.inputs))
	}
	operand := e.model.InputOperand(index)
	if err := checkDimensions(operand, override, "SetInputFromMemory", false); err != nil {
		return err
	}
	if err := memory.ValidateRange(pool, offset, length); err != nil {
		return status.Wrap(status.BadData, err, "SetInputFromMemory")
	}
	if length > 0 {
		if err := checkInputSize(index, operand, override, length); err != nil {
			return err
		}
	}
	poolIndex := e.memories.Add(pool)
	e.inputs[index].setFromMemory(operand, override, poolIndex, offset, length)
	return nil
}

// checkInputSize rejects input buffers smaller than a fully-specified
// operand requires, before the slot is committed. Outputs are deliberately
// not checked here: undersized output buffers surface as
// OutputInsufficientSize at compute time.
func checkInputSize(index int, operand graph.Operand, override *graph.Operand, got int) error {
	effective := operand.WithDimensions(effectiveDimensions(operand, override))
	required, ok := effective.ByteSize()
	if !ok || got >= required {
		return nil
	}
	return status.Errorf(status.BadData,
		"input %d needs %d bytes for %s, bound buffer has %d", index, required, effective, got)
}

// SetOutput binds output index to a caller-owned buffer, optionally
// overriding dimensions. Output dimensions may stay (partially) unspecified:
// they are discovered at compute time.
func (e *Execution) SetOutput(index int, override *graph.Operand, buffer []byte) error {
	if e.started.Load() {
		return status.Errorf(status.BadState, "SetOutput called after the execution has started")
	}
	if index < 0 || index >= len(e.outputs) {
		return status.Errorf(status.BadData, "SetOutput bad index %d, model has %d outputs",
			index, len(e.outputs))
	}
	operand := e.model.OutputOperand(index)
	if err := checkDimensions(operand, override, "SetOutput", true); err != nil {
		return err
	}
	if len(buffer) > maxArgumentLength {
		return status.Errorf(status.BadData, "SetOutput buffer exceeds max length: %d", len(buffer))
	}
	e.outputs[index].setFromPointer(operand, override, buffer)
	return nil
}

// SetOutputFromMemory binds output index to (offset, length) within pool.
func (e *Execution) SetOutputFromMemory(index int, override *graph.Operand, pool memory.Pool, offset, length int) error {
	if e.started.Load() {
		return status.Errorf(status.BadState, "SetOutputFromMemory called after the execution has started")
	}
	if index < 0 || index >= len(e.outputs) {
		return status.Errorf(status.BadData, "SetOutputFromMemory bad index %d, model has %d outputs",
			index, len(e.outputs))
	}
	operand := e.model.OutputOperand(index)
	if err := checkDimensions(operand, override, "SetOutputFromMemory", true); err != nil {
		return err
	}
	if err := memory.ValidateRange(pool, offset, length); err != nil {
		return status.Wrap(status.BadData, err, "SetOutputFromMemory")
	}
	poolIndex := e.memories.Add(pool)
	e.outputs[index].setFromMemory(operand, override, poolIndex, offset, length)
	return nil
}

// SetMeasureTiming enables device/driver timing collection. Only executions
// compiled for an explicit list of exactly one device may measure, and only
// before compute starts.
func (e *Execution) SetMeasureTiming(measure bool) error {
	if !e.opts.ExplicitDeviceList || e.opts.NumDevices != 1 {
		return status.Errorf(status.BadData,
			"SetMeasureTiming requires a compilation with an explicit list of exactly 1 device")
	}
	if e.started.Load() {
		return status.Errorf(status.BadState, "SetMeasureTiming called after the execution has started")
	}
	e.measure = measure
	return nil
}

// MeasureTiming reports whether timing collection is enabled.
func (e *Execution) MeasureTiming() bool { return e.measure }

// Duration returns a measured duration in nanoseconds. It fails with
// BadState before the execution finishes, and with BadState (reporting the
// unknown sentinel) when timing was never enabled. Unmeasured kinds report
// the sentinel with no error.
func (e *Execution) Duration(kind backends.DurationKind) (uint64, error) {
	if !e.finished.Load() {
		return backends.UnknownDurationNanos,
			status.Errorf(status.BadState, "Duration called before the execution has finished")
	}
	if !e.measure {
		return backends.UnknownDurationNanos,
			status.Errorf(status.BadState, "Duration called but timing measurement was not enabled")
	}
	var d = backends.DurationUnknown
	switch kind {
	case backends.DurationOnHardware:
		d = e.timing.OnDevice
	case backends.DurationInDriver:
		d = e.timing.InDriver
	default:
		exceptions.Panicf("Duration: unexpected kind %d", kind)
	}
	if d == backends.DurationUnknown {
		return backends.UnknownDurationNanos, nil
	}
	return uint64(d.Nanoseconds()), nil
}

// OutputOperandDimensions returns output index's dimensions as computed.
// Fails with BadState before the execution finished, BadData for a scalar
// output (no dimensions to report), and returns the dimensions together with
// OutputInsufficientSize when the bound buffer was too small to hold them.
func (e *Execution) OutputOperandDimensions(index int) ([]uint32, error) {
	if !e.finished.Load() {
		return nil, status.Errorf(status.BadState,
			"OutputOperandDimensions called before the execution has finished")
	}
	if index < 0 || index >= len(e.outputs) {
		return nil, status.Errorf(status.BadData,
			"OutputOperandDimensions bad index %d, model has %d outputs", index, len(e.outputs))
	}
	out := &e.outputs[index]
	if len(out.dimensions) == 0 {
		return nil, status.Errorf(status.BadData,
			"OutputOperandDimensions cannot query dimensions of a scalar")
	}
	dims := append([]uint32(nil), out.dimensions...)
	if !out.sufficient {
		return dims, status.Errorf(status.OutputInsufficientSize,
			"output %d buffer was too small for %v", index, dims)
	}
	return dims, nil
}

// OutputOperandRank returns output index's rank, with the same lifecycle and
// sufficiency rules as OutputOperandDimensions.
func (e *Execution) OutputOperandRank(index int) (int, error) {
	if !e.finished.Load() {
		return 0, status.Errorf(status.BadState,
			"OutputOperandRank called before the execution has finished")
	}
	if index < 0 || index >= len(e.outputs) {
		return 0, status.Errorf(status.BadData,
			"OutputOperandRank bad index %d, model has %d outputs", index, len(e.outputs))
	}
	out := &e.outputs[index]
	rank := len(out.dimensions)
	if !out.sufficient {
		return rank, status.Errorf(status.OutputInsufficientSize,
			"output %d buffer was too small", index)
	}
	return rank, nil
}

// Compute runs the execution synchronously on the calling goroutine and
// returns its terminal status.
func (e *Execution) Compute() error {
	if err := e.prepareToStart("Compute"); err != nil {
		return err
	}
	klog.V(2).Infof("execution %s: compute (synchronous)", e.id)
	completion := newEvent(e.finish)
	e.runPlan(nil, completion)
	return completion.Wait()
}

// StartCompute launches the execution and returns a completion Event the
// caller can wait on, poll, or select over. Unless the execution was
// configured non-threaded, the dispatch loop runs on a dedicated background
// goroutine.
func (e *Execution) StartCompute() (*Event, error) {
	if err := e.prepareToStart("StartCompute"); err != nil {
		return nil, err
	}
	completion := newEvent(e.finish)
	if e.opts.NonThreadedAsync {
		klog.V(2).Infof("execution %s: compute (asynchronous, non-threaded)", e.id)
		e.runPlan(nil, completion)
	} else {
		klog.V(2).Infof("execution %s: compute (asynchronous)", e.id)
		go e.runPlan(nil, completion)
	}
	return completion, nil
}

// BurstCompute runs the execution synchronously, threading the caller's
// burst session through to each step so repeated invocations of the same
// compiled unit amortize per-call transport setup.
func (e *Execution) BurstCompute(session BurstSession) error {
	if err := e.prepareToStart("BurstCompute"); err != nil {
		return err
	}
	klog.V(2).Infof("execution %s: compute (burst)", e.id)
	completion := newEvent(e.finish)
	e.runPlan(session, completion)
	return completion.Wait()
}

// prepareToStart performs the UNSTARTED -> STARTED transition: the execution
// must not already be started and every argument slot must be bound.
func (e *Execution) prepareToStart(apiName string) error {
	if e.started.Load() {
		return status.Errorf(status.BadState,
			"%s called on an execution that has already started", apiName)
	}
	for i := range e.inputs {
		if e.inputs[i].state == argUnspecified {
			return status.Errorf(status.BadData, "%s: input %d was never set", apiName, i)
		}
	}
	for i := range e.outputs {
		if e.outputs[i].state == argUnspecified {
			return status.Errorf(status.BadData, "%s: output %d was never set", apiName, i)
		}
	}
	e.started.Store(true)
	return nil
}

// initialOutputShapes seeds the invocation-global shape report from the
// currently-bound output slots, all presumed sufficient until a step says
// otherwise.
func (e *Execution) initialOutputShapes() []backends.OutputShape {
	shapes := make([]backends.OutputShape, len(e.outputs))
	for i := range e.outputs {
		shapes[i] = backends.OutputShape{
			Dimensions: append([]uint32(nil), e.outputs[i].dimensions...),
			Sufficient: true,
		}
	}
	return shapes
}

// isUpdatable reports whether dimensions "to" may be refined to "from":
// only absent or zero (unspecified) entries of "to" may change.
func isUpdatable(to, from []uint32) bool {
	if len(to) == 0 {
		return true
	}
	if len(to) != len(from) {
		return false
	}
	for i := range to {
		if to[i] != from[i] && to[i] != 0 {
			return false
		}
	}
	return true
}

// updateOutputShapes merges a final shape report into the output slots,
// enforcing monotonic refinement.
func (e *Execution) updateOutputShapes(shapes []backends.OutputShape) error {
	if len(shapes) == 0 {
		return nil
	}
	if len(shapes) != len(e.outputs) {
		return status.Errorf(status.GeneralFailure,
			"shape report has %d entries, execution has %d outputs", len(shapes), len(e.outputs))
	}
	for i := range shapes {
		if !isUpdatable(e.outputs[i].dimensions, shapes[i].Dimensions) {
			return status.Errorf(status.GeneralFailure,
				"output %d dimensions %v cannot be overwritten with %v",
				i, e.outputs[i].dimensions, shapes[i].Dimensions)
		}
	}
	for i := range shapes {
		e.outputs[i].dimensions = shapes[i].Dimensions
		e.outputs[i].sufficient = shapes[i].Sufficient
	}
	return nil
}

// finish performs the STARTED -> FINISHED transition. It runs exactly once,
// as the completion event's onFinish hook; a second call is a programming
// error.
func (e *Execution) finish(res computeResult) error {
	if e.finished.Swap(true) {
		exceptions.Panicf("execution %s: finish called twice", e.id)
	}
	if e.measure {
		e.timing = res.timing
	}
	klog.V(2).Infof("execution %s: finished (status=%s)", e.id, status.CodeOf(res.err))
	if err := e.updateOutputShapes(res.shapes); err != nil {
		return err
	}
	return nil
}

// Model returns the compiled model this execution runs.
func (e *Execution) Model() *graph.Model { return e.model }

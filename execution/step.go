package execution

import (
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/execplan/backends"
	"github.com/gomlx/execplan/graph"
	"github.com/gomlx/execplan/memory"
	"github.com/gomlx/execplan/status"
)

// StepExecutor runs exactly one step of a plan against one device and
// translates the step's results back into the invocation's indexing. Plans
// construct one per step per iteration; a StepExecutor is used for a single
// launch (plus at most one software-fallback relaunch).
type StepExecutor struct {
	execution *Execution
	model     *graph.Model
	device    backends.Device
	prepared  backends.PreparedModel

	inputs   []ArgumentInfo
	outputs  []ArgumentInfo
	memories memory.Registry

	// outputIndexMapping translates step-local output order to
	// invocation-global output indices for multi-step plans; nil means the
	// step covers the whole model and shapes map elementwise.
	outputIndexMapping []int

	retargeted bool
}

// NewStepExecutor creates the executor for one step: the (sub)model it runs,
// the device it targets, and that device's prepared form of the model.
// prepared may be nil only when the executor will be launched through
// StartComputeOnSoftwareFallback, which re-prepares.
func NewStepExecutor(e *Execution, model *graph.Model, device backends.Device, prepared backends.PreparedModel) *StepExecutor {
	if e == nil || model == nil || device == nil {
		exceptions.Panicf("NewStepExecutor: execution, model and device are required")
	}
	return &StepExecutor{
		execution: e,
		model:     model,
		device:    device,
		prepared:  prepared,
		inputs:    make([]ArgumentInfo, model.InputCount()),
		outputs:   make([]ArgumentInfo, model.OutputCount()),
	}
}

// IsSoftware reports whether this step targets the software device.
func (s *StepExecutor) IsSoftware() bool { return s.device.IsSoftware() }

// SetOutputIndexMapping records, for multi-step plans, the invocation-global
// output index behind each step-local output, in step-local order. Step
// outputs feeding temporaries are not part of the mapping and must be
// ordered after the mapped ones.
func (s *StepExecutor) SetOutputIndexMapping(mapping []int) {
	s.outputIndexMapping = make([]int, len(mapping))
	copy(s.outputIndexMapping, mapping)
}

// MapInputsAndOutputsTrivially adopts the invocation's argument slots and
// pool registry verbatim. Used when the step covers the whole model: no
// index translation is needed.
func (s *StepExecutor) MapInputsAndOutputsTrivially() {
	e := s.execution
	s.inputs = append([]ArgumentInfo(nil), e.inputs...)
	s.outputs = append([]ArgumentInfo(nil), e.outputs...)
	s.memories = *e.memories.Clone()
}

// mapArgument copies an invocation-level slot into a step-local one. MEMORY
// slots have their pool re-registered in the step's own registry so the
// step's pool indices stay independent of the invocation's layout.
func (s *StepExecutor) mapArgument(from *ArgumentInfo, to *ArgumentInfo) {
	*to = *from
	switch from.state {
	case argHasNoValue, argPointer, argUnspecified:
		// Copied verbatim.
	case argMemory:
		pool := s.execution.memories.Get(from.location.PoolIndex)
		to.location.PoolIndex = s.memories.Add(pool)
	default:
		exceptions.Panicf("mapArgument: unexpected argument state %s", from.state)
	}
}

// MapInput binds step-local input stepIndex to the invocation's input
// globalIndex.
func (s *StepExecutor) MapInput(stepIndex, globalIndex int) {
	s.mapArgument(&s.execution.inputs[globalIndex], &s.inputs[stepIndex])
}

// MapOutput binds step-local output stepIndex to the invocation's output
// globalIndex.
func (s *StepExecutor) MapOutput(stepIndex, globalIndex int) {
	s.mapArgument(&s.execution.outputs[globalIndex], &s.outputs[stepIndex])
}

// BindInputFromScratch binds step-local input stepIndex to operand-sized
// scratch memory at offset, used for temporaries flowing between steps.
func (s *StepExecutor) BindInputFromScratch(stepIndex int, operand graph.Operand, pool memory.Pool, offset int) error {
	poolIndex := s.memories.Add(pool)
	return s.inputs[stepIndex].setFromScratch(operand, poolIndex, offset)
}

// BindOutputFromScratch is BindInputFromScratch for step outputs.
func (s *StepExecutor) BindOutputFromScratch(stepIndex int, operand graph.Operand, pool memory.Pool, offset int) error {
	poolIndex := s.memories.Add(pool)
	return s.outputs[stepIndex].setFromScratch(operand, poolIndex, offset)
}

func logArguments(kind string, args []ArgumentInfo) {
	for i := range args {
		arg := &args[i]
		switch arg.state {
		case argMemory:
			klog.V(2).Infof("  %s[%d] = MEMORY(%s)", kind, i, arg.location)
		default:
			klog.V(2).Infof("  %s[%d] = %s", kind, i, arg.state)
		}
	}
}

// StartCompute launches the step on its device, threading through the burst
// handle when present, and returns an Event carrying the step's result.
//
// A non-nil error means the launch itself failed (a runtime fault on the
// device, a dead executor, an unbound slot) and no Event exists; the caller
// decides whether to fall back. Output-buffer insufficiency is not a launch
// failure: it is delivered through the Event together with the shape report
// callers need for resizing.
func (s *StepExecutor) StartCompute(burst backends.Burst) (*Event, error) {
	if s.prepared == nil {
		exceptions.Panicf("StepExecutor.StartCompute: no prepared model")
	}
	if klog.V(2).Enabled() {
		klog.V(2).Infof("execution %s: step launch on device %q", s.execution.id, s.device.Name())
		logArguments("input", s.inputs)
		logArguments("output", s.outputs)
	}

	inputs, err := toRequestArguments(s.inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := toRequestArguments(s.outputs)
	if err != nil {
		return nil, err
	}
	req := &backends.Request{Inputs: inputs, Outputs: outputs, Pools: s.memories.Pools()}

	shapes, timing, execErr := s.prepared.Execute(req, burst, s.execution.measure)
	if execErr != nil && status.CodeOf(execErr) != status.OutputInsufficientSize {
		return nil, execErr
	}

	event := newEvent(nil)
	event.notify(computeResult{err: execErr, shapes: shapes, timing: timing})
	return event, nil
}

// StartComputeOnSoftwareFallback re-targets this step at the software
// device: the (sub)model is re-prepared with the default execution
// preference, the prior accelerator binding is discarded, and the step is
// launched. At most one relaunch per StepExecutor; a second call is a
// programming error.
func (s *StepExecutor) StartComputeOnSoftwareFallback() (*Event, error) {
	if s.retargeted {
		exceptions.Panicf("StartComputeOnSoftwareFallback called twice on the same step")
	}
	s.retargeted = true
	klog.V(2).Infof("execution %s: re-preparing step on the software device", s.execution.id)
	s.device = s.execution.opts.Software
	s.prepared = nil
	prepared, err := s.device.PrepareModel(s.model, backends.PreferFastSingleAnswer)
	if err != nil {
		return nil, err
	}
	s.prepared = prepared
	return s.StartCompute(nil)
}

// updateOutputShapes merges the step's shape report (step-local output
// order) into the invocation-global report, translating indices through the
// recorded mapping for multi-step plans and elementwise otherwise. Only
// unspecified dimensions may be refined; a contradiction fails with
// GeneralFailure.
func (s *StepExecutor) updateOutputShapes(from []backends.OutputShape, to *[]backends.OutputShape) error {
	if len(from) == 0 {
		return nil
	}
	if s.outputIndexMapping != nil {
		if len(s.outputIndexMapping) > len(from) {
			return status.Errorf(status.GeneralFailure,
				"step reported %d output shapes, mapping needs %d",
				len(from), len(s.outputIndexMapping))
		}
		for i, toIndex := range s.outputIndexMapping {
			if toIndex >= len(*to) {
				return status.Errorf(status.GeneralFailure,
					"step output mapping index %d out of range (%d global outputs)",
					toIndex, len(*to))
			}
			if !isUpdatable((*to)[toIndex].Dimensions, from[i].Dimensions) {
				return status.Errorf(status.GeneralFailure,
					"step output %d dimensions %v contradict global output %d dimensions %v",
					i, from[i].Dimensions, toIndex, (*to)[toIndex].Dimensions)
			}
			(*to)[toIndex] = from[i]
		}
		return nil
	}
	if len(from) != len(*to) {
		return status.Errorf(status.GeneralFailure,
			"step reported %d output shapes, execution has %d outputs", len(from), len(*to))
	}
	for i := range from {
		if !isUpdatable((*to)[i].Dimensions, from[i].Dimensions) {
			return status.Errorf(status.GeneralFailure,
				"output %d dimensions %v contradict reported %v",
				i, (*to)[i].Dimensions, from[i].Dimensions)
		}
		(*to)[i] = from[i]
	}
	return nil
}

package plan

import (
	"github.com/pkg/errors"

	"github.com/gomlx/execplan/backends"
	"github.com/gomlx/execplan/execution"
	"github.com/gomlx/execplan/graph"
	"github.com/gomlx/execplan/memory"
)

// BindingKind says where a step-local input or output connects.
type BindingKind int

const (
	// BindGlobal connects to an invocation-global input or output index.
	BindGlobal BindingKind = iota

	// BindTemp connects to an inter-step temporary, identified by an
	// arbitrary id chosen by the partitioner.
	BindTemp
)

// Binding connects one step-local argument to the invocation boundary or to
// a temporary.
type Binding struct {
	Kind  BindingKind
	Index int
}

// Global binds to invocation input/output i.
func Global(i int) Binding { return Binding{Kind: BindGlobal, Index: i} }

// Temp binds to temporary id.
func Temp(id int) Binding { return Binding{Kind: BindTemp, Index: id} }

// StepSpec is one pre-partitioned step: a sub-model, the device it was
// assigned to, and how its boundary connects. Inputs and Outputs are in
// step-local order; outputs bound to the invocation boundary must come
// before outputs feeding temporaries.
type StepSpec struct {
	Model   *graph.Model
	Device  backends.Device
	Inputs  []Binding
	Outputs []Binding
}

// scratchAlign keeps temporaries on cache-line boundaries within the
// controller's scratch pool.
const scratchAlign = 64

type tempSlot struct {
	operand graph.Operand
	offset  int
}

type compiledStep struct {
	spec          StepSpec
	prepared      backends.PreparedModel
	globalOutputs []int // invocation-global index per mapped step output
}

// Compound is a multi-step plan. Each invocation gets its own controller
// holding the cursor and a scratch pool for temporaries, so concurrent
// executions never share mutable state.
type Compound struct {
	steps       []compiledStep
	temps       map[int]tempSlot
	scratchSize int
}

var _ execution.Plan = (*Compound)(nil)

// NewCompound compiles each step on its device, lays out the scratch pool
// for temporaries, and validates the step wiring: binding lists must match
// the sub-model arity, global outputs must precede temp outputs, and every
// consumed temporary must have a producer in an earlier step.
func NewCompound(steps []StepSpec) (*Compound, error) {
	if len(steps) < 2 {
		return nil, errors.Errorf("compound plan needs at least 2 steps, got %d", len(steps))
	}
	p := &Compound{temps: make(map[int]tempSlot)}
	for stepIdx, spec := range steps {
		if len(spec.Inputs) != spec.Model.InputCount() || len(spec.Outputs) != spec.Model.OutputCount() {
			return nil, errors.Errorf(
				"step #%d bindings (%d in, %d out) do not match its model (%d in, %d out)",
				stepIdx, len(spec.Inputs), len(spec.Outputs),
				spec.Model.InputCount(), spec.Model.OutputCount())
		}
		for _, b := range spec.Inputs {
			if b.Kind != BindTemp {
				continue
			}
			if _, ok := p.temps[b.Index]; !ok {
				return nil, errors.Errorf(
					"step #%d consumes temporary %d before any step produces it", stepIdx, b.Index)
			}
		}
		var globalOutputs []int
		seenTemp := false
		for localIdx, b := range spec.Outputs {
			switch b.Kind {
			case BindGlobal:
				if seenTemp {
					return nil, errors.Errorf(
						"step #%d: global output after a temp output", stepIdx)
				}
				globalOutputs = append(globalOutputs, b.Index)
			case BindTemp:
				seenTemp = true
				operand := spec.Model.OutputOperand(localIdx)
				size, ok := operand.ByteSize()
				if !ok {
					return nil, errors.Errorf(
						"step #%d: temporary %d operand %s has unspecified dimensions",
						stepIdx, b.Index, operand)
				}
				p.temps[b.Index] = tempSlot{operand: operand, offset: p.scratchSize}
				p.scratchSize += (size + scratchAlign - 1) / scratchAlign * scratchAlign
			}
		}
		prepared, err := spec.Device.PrepareModel(spec.Model, backends.PreferFastSingleAnswer)
		if err != nil {
			return nil, errors.WithMessagef(err, "preparing step #%d on device %q",
				stepIdx, spec.Device.Name())
		}
		p.steps = append(p.steps, compiledStep{
			spec:          spec,
			prepared:      prepared,
			globalOutputs: globalOutputs,
		})
	}
	return p, nil
}

type compoundController struct {
	e       *execution.Execution
	session execution.BurstSession
	next    int
	scratch *memory.RAM
}

// MakeController implements execution.Plan.
func (p *Compound) MakeController(e *execution.Execution, session execution.BurstSession) (execution.Controller, error) {
	return &compoundController{
		e:       e,
		session: session,
		scratch: memory.NewRAM(p.scratchSize),
	}, nil
}

func (p *Compound) buildStepExecutor(ctrl *compoundController, stepIdx int) (*execution.StepExecutor, error) {
	st := &p.steps[stepIdx]
	executor := execution.NewStepExecutor(ctrl.e, st.spec.Model, st.spec.Device, st.prepared)
	executor.SetOutputIndexMapping(st.globalOutputs)
	for localIdx, b := range st.spec.Inputs {
		switch b.Kind {
		case BindGlobal:
			executor.MapInput(localIdx, b.Index)
		case BindTemp:
			slot := p.temps[b.Index]
			if err := executor.BindInputFromScratch(localIdx, slot.operand, ctrl.scratch, slot.offset); err != nil {
				return nil, err
			}
		}
	}
	for localIdx, b := range st.spec.Outputs {
		switch b.Kind {
		case BindGlobal:
			executor.MapOutput(localIdx, b.Index)
		case BindTemp:
			slot := p.temps[b.Index]
			if err := executor.BindOutputFromScratch(localIdx, slot.operand, ctrl.scratch, slot.offset); err != nil {
				return nil, err
			}
		}
	}
	return executor, nil
}

// Next implements execution.Plan.
func (p *Compound) Next(c execution.Controller) (*execution.StepExecutor, backends.Burst, error) {
	ctrl := c.(*compoundController)
	if ctrl.next == len(p.steps) {
		return nil, nil, nil
	}
	executor, err := p.buildStepExecutor(ctrl, ctrl.next)
	if err != nil {
		return nil, nil, err
	}
	var burst backends.Burst
	if ctrl.session != nil {
		burst = ctrl.session.ControllerFor(p.steps[ctrl.next].spec.Device)
	}
	ctrl.next++
	return executor, burst, nil
}

// Fallback implements execution.Plan. It reproduces the step Next most
// recently returned, without advancing the cursor.
func (p *Compound) Fallback(c execution.Controller) (*execution.StepExecutor, error) {
	ctrl := c.(*compoundController)
	if ctrl.next == 0 {
		return nil, errors.New("fallback requested before any step was dispatched")
	}
	return p.buildStepExecutor(ctrl, ctrl.next-1)
}

// IsSimple implements execution.Plan.
func (p *Compound) IsSimple() bool { return false }

// IsSimpleSoftware implements execution.Plan.
func (p *Compound) IsSimpleSoftware() bool { return false }

// Package software implements the universally-available software device: a
// pure-Go interpreter for compiled models. It is the fallback target the
// dispatch loop re-runs failed work on, and a fully functional device in its
// own right for small models.
package software

import (
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/execplan/backends"
	"github.com/gomlx/execplan/graph"
	"github.com/gomlx/execplan/status"
)

// Device is the software executor. The zero value is not usable; create one
// with New.
type Device struct{}

var _ backends.Device = (*Device)(nil)

// New returns the software device.
func New() *Device { return &Device{} }

// Name implements backends.Device.
func (d *Device) Name() string { return "software" }

// IsSoftware implements backends.Device.
func (d *Device) IsSoftware() bool { return true }

// PrepareModel implements backends.Device. The preference is accepted but
// has no effect: the interpreter has a single execution strategy.
func (d *Device) PrepareModel(model *graph.Model, preference backends.ExecutionPreference) (backends.PreparedModel, error) {
	for opIdx, op := range model.Operations() {
		if err := checkOperation(model, op); err != nil {
			return nil, status.Wrap(status.BadData, err,
				errors.Errorf("operation #%d unsupported by software device", opIdx).Error())
		}
	}
	klog.V(2).Infof("software device: prepared model with %d operations (preference=%d)",
		len(model.Operations()), preference)
	return &preparedModel{model: model}, nil
}

func checkOperation(model *graph.Model, op graph.Operation) error {
	wantInputs := 2
	if op.Type == graph.OpRelu {
		wantInputs = 1
	}
	switch op.Type {
	case graph.OpAdd, graph.OpMul, graph.OpRelu:
	default:
		return errors.Errorf("operation type %s not implemented", op.Type)
	}
	if len(op.Inputs) != wantInputs || len(op.Outputs) != 1 {
		return errors.Errorf("%s takes %d inputs and 1 output, got %d/%d",
			op.Type, wantInputs, len(op.Inputs), len(op.Outputs))
	}
	dtype := model.Operand(op.Inputs[0]).DType
	if !kernelSupports(dtype) {
		return errors.Errorf("dtype %s not supported by software kernels", dtype)
	}
	return nil
}

type preparedModel struct {
	model *graph.Model
}

var _ backends.PreparedModel = (*preparedModel)(nil)

// Execute implements backends.PreparedModel. Burst handles are accepted and
// ignored: an in-process interpreter has no per-call transport to amortize.
func (p *preparedModel) Execute(req *backends.Request, burst backends.Burst, measure bool) ([]backends.OutputShape, backends.Timing, error) {
	_ = burst
	m := p.model
	if len(req.Inputs) != m.InputCount() || len(req.Outputs) != m.OutputCount() {
		return nil, backends.NoTiming, status.Errorf(status.BadData,
			"request has %d inputs and %d outputs, model wants %d and %d",
			len(req.Inputs), len(req.Outputs), m.InputCount(), m.OutputCount())
	}

	var start time.Time
	if measure {
		start = time.Now()
	}

	run := newRun(m, req)
	if err := run.bindInputs(); err != nil {
		return nil, backends.NoTiming, err
	}
	run.seedOutputDims()
	if err := run.inferShapes(); err != nil {
		return nil, backends.NoTiming, err
	}
	shapes, insufficient, err := run.bindOutputs()
	if err != nil {
		return nil, backends.NoTiming, err
	}
	if err := run.compute(); err != nil {
		return nil, backends.NoTiming, err
	}

	timing := backends.NoTiming
	if measure {
		elapsed := time.Since(start)
		if elapsed <= 0 {
			elapsed = time.Nanosecond
		}
		timing = backends.Timing{OnDevice: elapsed, InDriver: elapsed}
	}
	if insufficient {
		return shapes, backends.NoTiming, status.Errorf(status.OutputInsufficientSize,
			"one or more output buffers too small for computed shapes")
	}
	return shapes, timing, nil
}

// run holds the per-execution interpreter state: a value and resolved
// dimensions per model operand.
type run struct {
	model  *graph.Model
	req    *backends.Request
	values [][]byte   // per operand index
	dims   [][]uint32 // resolved dimensions per operand index
}

func newRun(m *graph.Model, req *backends.Request) *run {
	r := &run{
		model:  m,
		req:    req,
		values: make([][]byte, m.NumOperands()),
		dims:   make([][]uint32, m.NumOperands()),
	}
	for i := range r.dims {
		r.dims[i] = m.Operand(i).Dimensions
	}
	return r
}

// resolve returns the bytes behind a request argument, nil for no-value.
func (r *run) resolve(arg backends.Argument) ([]byte, error) {
	switch arg.Kind {
	case backends.ArgumentNoValue:
		return nil, nil
	case backends.ArgumentBuffer:
		return arg.Buffer, nil
	case backends.ArgumentPool:
		pool := r.req.Pools[arg.Location.PoolIndex]
		data, err := pool.Data()
		if err != nil {
			return nil, status.Wrap(status.BadData, err, "mapping pool")
		}
		if pool.WholeOnly() {
			return data, nil
		}
		return data[arg.Location.Offset : arg.Location.Offset+arg.Location.Length], nil
	}
	return nil, status.Errorf(status.BadData, "unknown argument kind %d", arg.Kind)
}

func (r *run) bindInputs() error {
	for i := 0; i < r.model.InputCount(); i++ {
		arg := r.req.Inputs[i]
		operandIdx := r.model.InputIndex(i)
		data, err := r.resolve(arg)
		if err != nil {
			return err
		}
		r.values[operandIdx] = data
		if len(arg.Dimensions) > 0 {
			r.dims[operandIdx] = arg.Dimensions
		}
	}
	return nil
}

// seedOutputDims folds the request's output dimensions (the caller's
// declarations) into the resolved dims before inference. A declaration that
// contradicts inference surfaces later, when the inferred shape fails to
// merge.
func (r *run) seedOutputDims() {
	for i := 0; i < r.model.OutputCount(); i++ {
		arg := r.req.Outputs[i]
		if len(arg.Dimensions) == 0 {
			continue
		}
		operandIdx := r.model.OutputIndex(i)
		if merged, ok := mergeDims(r.dims[operandIdx], arg.Dimensions); ok {
			r.dims[operandIdx] = merged
		}
	}
}

// inferShapes resolves every operand dimension reachable from the inputs:
// elementwise outputs take the shape of their first input.
func (r *run) inferShapes() error {
	for opIdx, op := range r.model.Operations() {
		inDims := r.dims[op.Inputs[0]]
		if hasUnspecified(inDims) {
			return status.Errorf(status.BadData,
				"operation #%d input shape not fully specified", opIdx)
		}
		out := op.Outputs[0]
		merged, ok := mergeDims(r.dims[out], inDims)
		if !ok {
			return status.Errorf(status.GeneralFailure,
				"operation #%d output shape %v contradicts inferred %v",
				opIdx, r.dims[out], inDims)
		}
		r.dims[out] = merged
	}
	return nil
}

// bindOutputs resolves output buffers and reports the computed shape and
// sufficiency of each. Insufficient outputs are computed into scratch so the
// rest of the model still runs and every shape gets reported.
func (r *run) bindOutputs() (shapes []backends.OutputShape, insufficient bool, err error) {
	m := r.model
	shapes = make([]backends.OutputShape, m.OutputCount())
	for i := 0; i < m.OutputCount(); i++ {
		operandIdx := m.OutputIndex(i)
		operand := m.Operand(operandIdx).WithDimensions(r.dims[operandIdx])
		required, ok := operand.ByteSize()
		if !ok {
			return nil, false, status.Errorf(status.GeneralFailure,
				"output #%d shape still unspecified after inference", i)
		}
		data, rErr := r.resolve(r.req.Outputs[i])
		if rErr != nil {
			return nil, false, rErr
		}
		shapes[i] = backends.OutputShape{
			Dimensions: append([]uint32(nil), r.dims[operandIdx]...),
			Sufficient: true,
		}
		if len(data) < required {
			shapes[i].Sufficient = false
			insufficient = true
			data = make([]byte, required) // scratch, discarded
		} else {
			data = data[:required]
		}
		r.values[operandIdx] = data
	}
	return shapes, insufficient, nil
}

func (r *run) compute() error {
	for opIdx, op := range r.model.Operations() {
		out := op.Outputs[0]
		if r.values[out] == nil {
			// Intermediate operand: allocate now that its shape is known.
			operand := r.model.Operand(out).WithDimensions(r.dims[out])
			size, ok := operand.ByteSize()
			if !ok {
				return status.Errorf(status.GeneralFailure,
					"operation #%d output shape unresolved", opIdx)
			}
			r.values[out] = make([]byte, size)
		}
		if err := applyKernel(r.model, op, r.values); err != nil {
			return err
		}
	}
	return nil
}

func hasUnspecified(dims []uint32) bool {
	for _, d := range dims {
		if d == 0 {
			return true
		}
	}
	return false
}

// mergeDims refines "to" with "from": zero or absent entries in "to" adopt
// the value from "from"; conflicting fully-specified entries fail.
func mergeDims(to, from []uint32) ([]uint32, bool) {
	if len(to) == 0 {
		return from, true
	}
	if len(to) != len(from) {
		return nil, false
	}
	merged := make([]uint32, len(to))
	for i := range to {
		switch {
		case to[i] == 0 || to[i] == from[i]:
			merged[i] = from[i]
		case from[i] == 0:
			merged[i] = to[i]
		default:
			return nil, false
		}
	}
	return merged, true
}

package plan_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/execplan/backends/software"
	"github.com/gomlx/execplan/execution"
	"github.com/gomlx/execplan/graph"
	"github.com/gomlx/execplan/plan"
)

func f32Bytes(values ...float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.NativeEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func f32Values(buf []byte) []float32 {
	values := make([]float32, len(buf)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.NativeEndian.Uint32(buf[i*4:]))
	}
	return values
}

func f32Operand(dims ...uint32) graph.Operand {
	return graph.Operand{DType: dtypes.Float32, Dimensions: dims}
}

// twoStepPipeline splits relu(a+b) -> global 0, (a+b)*(a+b) -> via temp:
// step 1 computes s = a+b, emitting relu(s) globally and s as a temporary;
// step 2 squares the temporary.
func twoStepPipeline(sw *software.Device) ([]plan.StepSpec, *graph.Model) {
	step1 := graph.NewModel(
		[]graph.Operand{f32Operand(4), f32Operand(4), f32Operand(4), f32Operand(0)},
		[]int{0, 1}, []int{3, 2},
		[]graph.Operation{
			{Type: graph.OpAdd, Inputs: []int{0, 1}, Outputs: []int{2}},
			{Type: graph.OpRelu, Inputs: []int{2}, Outputs: []int{3}},
		},
	)
	step2 := graph.NewModel(
		[]graph.Operand{f32Operand(4), f32Operand(0)},
		[]int{0}, []int{1},
		[]graph.Operation{{Type: graph.OpMul, Inputs: []int{0, 0}, Outputs: []int{1}}},
	)
	steps := []plan.StepSpec{
		{
			Model: step1, Device: sw,
			Inputs:  []plan.Binding{plan.Global(0), plan.Global(1)},
			Outputs: []plan.Binding{plan.Global(0), plan.Temp(42)},
		},
		{
			Model: step2, Device: sw,
			Inputs:  []plan.Binding{plan.Temp(42)},
			Outputs: []plan.Binding{plan.Global(1)},
		},
	}
	whole := graph.NewModel(
		[]graph.Operand{f32Operand(4), f32Operand(4), f32Operand(4), f32Operand(0), f32Operand(0)},
		[]int{0, 1}, []int{3, 4},
		[]graph.Operation{
			{Type: graph.OpAdd, Inputs: []int{0, 1}, Outputs: []int{2}},
			{Type: graph.OpRelu, Inputs: []int{2}, Outputs: []int{3}},
			{Type: graph.OpMul, Inputs: []int{2, 2}, Outputs: []int{4}},
		},
	)
	return steps, whole
}

func TestCompoundTempPropagation(t *testing.T) {
	sw := software.New()
	steps, whole := twoStepPipeline(sw)
	p, err := plan.NewCompound(steps)
	require.NoError(t, err)
	assert.False(t, p.IsSimple())
	assert.False(t, p.IsSimpleSoftware())

	e := execution.New(whole, p, execution.Options{Software: sw})
	rectified := make([]byte, 16)
	squared := make([]byte, 16)
	require.NoError(t, e.SetInput(0, nil, f32Bytes(1, -3, 2, -5)))
	require.NoError(t, e.SetInput(1, nil, f32Bytes(1, 1, 1, 1)))
	require.NoError(t, e.SetOutput(0, nil, rectified))
	require.NoError(t, e.SetOutput(1, nil, squared))
	require.NoError(t, e.Compute())

	// s = {2, -2, 3, -4}
	assert.Equal(t, []float32{2, 0, 3, 0}, f32Values(rectified))
	assert.Equal(t, []float32{4, 4, 9, 16}, f32Values(squared))
}

func TestNewCompoundValidation(t *testing.T) {
	sw := software.New()
	steps, _ := twoStepPipeline(sw)

	_, err := plan.NewCompound(steps[:1])
	assert.ErrorContains(t, err, "at least 2 steps")

	bad := make([]plan.StepSpec, len(steps))
	copy(bad, steps)
	bad[0].Inputs = []plan.Binding{plan.Global(0)}
	_, err = plan.NewCompound(bad)
	assert.ErrorContains(t, err, "do not match its model")

	copy(bad, steps)
	bad[1].Inputs = []plan.Binding{plan.Temp(99)}
	_, err = plan.NewCompound(bad)
	assert.ErrorContains(t, err, "before any step produces it")

	// Same step 1, with the temp (fully specified) ordered before the global.
	swapped := graph.NewModel(
		[]graph.Operand{f32Operand(4), f32Operand(4), f32Operand(4), f32Operand(0)},
		[]int{0, 1}, []int{2, 3},
		[]graph.Operation{
			{Type: graph.OpAdd, Inputs: []int{0, 1}, Outputs: []int{2}},
			{Type: graph.OpRelu, Inputs: []int{2}, Outputs: []int{3}},
		},
	)
	copy(bad, steps)
	bad[0].Model = swapped
	bad[0].Outputs = []plan.Binding{plan.Temp(42), plan.Global(0)}
	_, err = plan.NewCompound(bad)
	assert.ErrorContains(t, err, "global output after a temp output")

	// A temporary with unspecified dimensions cannot be laid out in scratch.
	loose := graph.NewModel(
		[]graph.Operand{f32Operand(4), f32Operand(0)},
		[]int{0}, []int{1},
		[]graph.Operation{{Type: graph.OpRelu, Inputs: []int{0}, Outputs: []int{1}}},
	)
	bad2 := []plan.StepSpec{
		{Model: loose, Device: sw,
			Inputs:  []plan.Binding{plan.Global(0)},
			Outputs: []plan.Binding{plan.Temp(1)}},
		{Model: steps[1].Model, Device: sw,
			Inputs:  []plan.Binding{plan.Temp(1)},
			Outputs: []plan.Binding{plan.Global(0)}},
	}
	_, err = plan.NewCompound(bad2)
	assert.ErrorContains(t, err, "unspecified dimensions")
}

func TestNewCompoundPrepareFailure(t *testing.T) {
	sw := software.New()
	unsupported := graph.NewModel(
		[]graph.Operand{
			{DType: dtypes.Bool, Dimensions: []uint32{4}},
			{DType: dtypes.Bool, Dimensions: []uint32{4}},
			{DType: dtypes.Bool, Dimensions: []uint32{4}},
		},
		[]int{0, 1}, []int{2},
		[]graph.Operation{{Type: graph.OpAdd, Inputs: []int{0, 1}, Outputs: []int{2}}},
	)
	steps, _ := twoStepPipeline(sw)
	steps[0] = plan.StepSpec{
		Model: unsupported, Device: sw,
		Inputs:  []plan.Binding{plan.Global(0), plan.Global(1)},
		Outputs: []plan.Binding{plan.Global(0)},
	}
	_, err := plan.NewCompound(steps)
	assert.ErrorContains(t, err, "preparing step #0")
}

func TestFallbackBeforeDispatch(t *testing.T) {
	sw := software.New()
	steps, whole := twoStepPipeline(sw)

	simple, err := plan.NewSimple(whole, sw)
	require.NoError(t, err)
	assert.True(t, simple.IsSimple())
	assert.True(t, simple.IsSimpleSoftware())
	e := execution.New(whole, simple, execution.Options{Software: sw})
	ctrl, err := simple.MakeController(e, nil)
	require.NoError(t, err)
	_, err = simple.Fallback(ctrl)
	assert.ErrorContains(t, err, "before any step was dispatched")

	compound, err := plan.NewCompound(steps)
	require.NoError(t, err)
	e2 := execution.New(whole, compound, execution.Options{Software: sw})
	ctrl, err = compound.MakeController(e2, nil)
	require.NoError(t, err)
	_, err = compound.Fallback(ctrl)
	assert.ErrorContains(t, err, "before any step was dispatched")
}

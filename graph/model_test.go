package graph

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperandByteSize(t *testing.T) {
	op := Operand{DType: dtypes.Float32, Dimensions: []uint32{1, 2, 2, 1}}
	size, ok := op.ByteSize()
	require.True(t, ok)
	assert.Equal(t, 16, size)

	scalar := Operand{DType: dtypes.Int64}
	size, ok = scalar.ByteSize()
	require.True(t, ok)
	assert.Equal(t, 8, size)

	unspecified := Operand{DType: dtypes.Float32, Dimensions: []uint32{1, 0, 3}}
	_, ok = unspecified.ByteSize()
	assert.False(t, ok)
	assert.True(t, unspecified.HasUnspecifiedDimensions())
}

func TestOperandString(t *testing.T) {
	assert.Equal(t, "Float32[1 ? 3]",
		Operand{DType: dtypes.Float32, Dimensions: []uint32{1, 0, 3}}.String())
	assert.Equal(t, "Int32", Operand{DType: dtypes.Int32}.String())
}

func TestNewModelValidatesIndices(t *testing.T) {
	tensor := Operand{DType: dtypes.Float32, Dimensions: []uint32{4}}
	require.NotPanics(t, func() {
		NewModel([]Operand{tensor, tensor, tensor}, []int{0, 1}, []int{2},
			[]Operation{{Type: OpAdd, Inputs: []int{0, 1}, Outputs: []int{2}}})
	})
	assert.Panics(t, func() {
		NewModel([]Operand{tensor}, []int{0}, []int{3}, nil)
	})
	assert.Panics(t, func() {
		NewModel([]Operand{tensor, tensor}, []int{0}, []int{1},
			[]Operation{{Type: OpRelu, Inputs: []int{5}, Outputs: []int{1}}})
	})
}

func TestModelAccessors(t *testing.T) {
	a := Operand{DType: dtypes.Float32, Dimensions: []uint32{2}}
	b := Operand{DType: dtypes.Float32, Dimensions: []uint32{0}}
	m := NewModel([]Operand{a, a, b}, []int{0, 1}, []int{2},
		[]Operation{{Type: OpMul, Inputs: []int{0, 1}, Outputs: []int{2}}})

	assert.Equal(t, 2, m.InputCount())
	assert.Equal(t, 1, m.OutputCount())
	assert.Equal(t, 2, m.OutputIndex(0))
	assert.Equal(t, a, m.InputOperand(1))
	assert.True(t, m.OutputOperand(0).HasUnspecifiedDimensions())
	require.Len(t, m.Operations(), 1)
}

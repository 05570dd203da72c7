package execution

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/execplan/backends"
	"github.com/gomlx/execplan/graph"
	"github.com/gomlx/execplan/status"
)

func tensorOperand(dims ...uint32) graph.Operand {
	return graph.Operand{DType: dtypes.Float32, Dimensions: dims}
}

func TestCheckDimensions_NoOverride(t *testing.T) {
	specified := tensorOperand(1, 2, 2, 1)
	unspecified := tensorOperand(1, 0)

	require.NoError(t, checkDimensions(specified, nil, "test", false))
	require.NoError(t, checkDimensions(unspecified, nil, "test", true))
	err := checkDimensions(unspecified, nil, "test", false)
	require.Error(t, err)
	assert.Equal(t, status.BadData, status.CodeOf(err))
}

func TestCheckDimensions_Override(t *testing.T) {
	operand := tensorOperand(1, 0, 3)

	// Zero entries inherit, non-zero entries must match specified dims.
	good := tensorOperand(0, 5, 3)
	require.NoError(t, checkDimensions(operand, &good, "test", false))

	rankMismatch := tensorOperand(1, 5)
	assert.Equal(t, status.BadData, status.CodeOf(checkDimensions(operand, &rankMismatch, "test", false)))

	conflict := tensorOperand(2, 5, 3)
	assert.Equal(t, status.BadData, status.CodeOf(checkDimensions(operand, &conflict, "test", false)))

	wrongDType := graph.Operand{DType: dtypes.Int32, Dimensions: []uint32{1, 5, 3}}
	assert.Equal(t, status.BadData, status.CodeOf(checkDimensions(operand, &wrongDType, "test", false)))

	// Override that leaves a dimension unspecified needs explicit allowance.
	stillUnspecified := tensorOperand(1, 0, 3)
	assert.Error(t, checkDimensions(operand, &stillUnspecified, "test", false))
	assert.NoError(t, checkDimensions(operand, &stillUnspecified, "test", true))
}

func TestEffectiveDimensions(t *testing.T) {
	operand := tensorOperand(1, 0, 3)
	override := tensorOperand(0, 5, 3)
	assert.Equal(t, []uint32{1, 5, 3}, effectiveDimensions(operand, &override))
	assert.Equal(t, []uint32{1, 0, 3}, effectiveDimensions(operand, nil))
}

func TestIsUpdatable(t *testing.T) {
	assert.True(t, isUpdatable(nil, []uint32{2, 3}))
	assert.True(t, isUpdatable([]uint32{2, 0}, []uint32{2, 3}))
	assert.True(t, isUpdatable([]uint32{2, 3}, []uint32{2, 3}))
	assert.False(t, isUpdatable([]uint32{2, 4}, []uint32{2, 3}))
	assert.False(t, isUpdatable([]uint32{2}, []uint32{2, 3}))
}

func TestArgumentToRequest(t *testing.T) {
	var arg ArgumentInfo
	_, err := arg.toRequestArgument()
	require.Error(t, err, "unspecified slots cannot reach a device")
	assert.Equal(t, status.BadData, status.CodeOf(err))

	arg.setFromPointer(tensorOperand(2), nil, make([]byte, 8))
	req, err := arg.toRequestArgument()
	require.NoError(t, err)
	assert.Equal(t, backends.ArgumentBuffer, req.Kind)
	assert.Len(t, req.Buffer, 8)

	arg.setFromPointer(tensorOperand(2), nil, nil)
	req, err = arg.toRequestArgument()
	require.NoError(t, err)
	assert.Equal(t, backends.ArgumentNoValue, req.Kind)

	arg.setFromMemory(tensorOperand(2), nil, 3, 16, 8)
	req, err = arg.toRequestArgument()
	require.NoError(t, err)
	assert.Equal(t, backends.ArgumentPool, req.Kind)
	assert.Equal(t, backends.Location{PoolIndex: 3, Offset: 16, Length: 8}, req.Location)
}

package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDeduplicates(t *testing.T) {
	var reg Registry
	a := NewRAM(64)
	b := NewRAM(64)

	idxA := reg.Add(a)
	idxB := reg.Add(b)
	assert.NotEqual(t, idxA, idxB)

	// Re-adding yields the index assigned the first time.
	assert.Equal(t, idxA, reg.Add(a))
	assert.Equal(t, idxB, reg.Add(b))
	assert.Equal(t, 2, reg.Len())
	assert.Same(t, a, reg.Get(idxA).(*RAM))
}

func TestRegistryClone(t *testing.T) {
	var reg Registry
	a := NewRAM(8)
	idx := reg.Add(a)

	clone := reg.Clone()
	require.Equal(t, 1, clone.Len())
	assert.Equal(t, idx, clone.Add(a))

	// Growing the clone leaves the original untouched.
	clone.Add(NewRAM(8))
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 2, clone.Len())
}

func TestValidateRange(t *testing.T) {
	ram := NewRAM(100)
	require.NoError(t, ValidateRange(ram, 0, 100))
	require.NoError(t, ValidateRange(ram, 10, 90))
	assert.Error(t, ValidateRange(ram, 10, 91))
	assert.Error(t, ValidateRange(ram, -1, 10))
	assert.Error(t, ValidateRange(ram, 0, 0))
}

func TestValidateRangeWholeOnly(t *testing.T) {
	nonBlob := NewDeviceBuffer(256, false, nil)
	require.True(t, nonBlob.WholeOnly())
	require.NoError(t, ValidateRange(nonBlob, 0, 0))
	assert.Error(t, ValidateRange(nonBlob, 0, 256))
	assert.Error(t, ValidateRange(nonBlob, 8, 0))

	blob := NewDeviceBuffer(256, true, make([]byte, 256))
	require.False(t, blob.WholeOnly())
	require.NoError(t, ValidateRange(blob, 8, 16))
}

func TestDeviceBufferData(t *testing.T) {
	unmapped := NewDeviceBuffer(16, false, nil)
	_, err := unmapped.Data()
	assert.Error(t, err)

	backing := make([]byte, 16)
	mapped := NewDeviceBuffer(16, true, backing)
	data, err := mapped.Data()
	require.NoError(t, err)
	assert.Len(t, data, 16)
}

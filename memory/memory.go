// Package memory models the caller-supplied memory regions an execution can
// bind arguments into, and the per-invocation registry that deduplicates
// them behind stable pool indices.
package memory

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Pool is one opaque caller-owned memory region. Implementations must be
// pointer types: the Registry deduplicates by interface identity.
type Pool interface {
	// Size returns the pool length in bytes.
	Size() int

	// Data maps the whole pool for direct access. Device-resident pools
	// that cannot be mapped return an error.
	Data() ([]byte, error)

	// WholeOnly reports whether the pool must be referenced with zero
	// offset and zero length (non-blob device buffers have opaque layout,
	// so sub-ranges are meaningless).
	WholeOnly() bool
}

// ValidateRange checks that (offset, length) addresses a valid range of the
// pool, applying the whole-pool rule for WholeOnly pools.
func ValidateRange(p Pool, offset, length int) error {
	if p.WholeOnly() {
		if offset != 0 || length != 0 {
			return errors.Errorf(
				"pool must be referenced whole: got offset=%d length=%d", offset, length)
		}
		return nil
	}
	if offset < 0 || length <= 0 || offset+length > p.Size() {
		return errors.Errorf("range [%d, %d) outside pool of %s",
			offset, offset+length, humanize.Bytes(uint64(p.Size())))
	}
	return nil
}

// RAM is a plain host-memory pool backed by a byte slice.
type RAM struct {
	data []byte
}

// NewRAM allocates a zeroed host pool of the given size.
func NewRAM(size int) *RAM {
	return &RAM{data: make([]byte, size)}
}

// RAMFromBytes wraps an existing buffer as a pool. The caller keeps
// ownership; the pool aliases the slice.
func RAMFromBytes(data []byte) *RAM {
	return &RAM{data: data}
}

// Size implements Pool.
func (r *RAM) Size() int { return len(r.data) }

// Data implements Pool.
func (r *RAM) Data() ([]byte, error) { return r.data, nil }

// WholeOnly implements Pool.
func (r *RAM) WholeOnly() bool { return false }

// DeviceBuffer is a device-resident pool. Blob-format buffers have a linear
// layout and may be mapped and sub-ranged; non-blob buffers are opaque and
// must be referenced whole.
type DeviceBuffer struct {
	size int
	blob bool
	data []byte // mapping for blob buffers; nil when unmappable
}

// NewDeviceBuffer wraps a device buffer handle. For blob buffers, data holds
// the host mapping (may be nil if the device does not expose one).
func NewDeviceBuffer(size int, blob bool, data []byte) *DeviceBuffer {
	return &DeviceBuffer{size: size, blob: blob, data: data}
}

// Size implements Pool.
func (b *DeviceBuffer) Size() int { return b.size }

// Data implements Pool.
func (b *DeviceBuffer) Data() ([]byte, error) {
	if b.data == nil {
		return nil, errors.Errorf("device buffer of %s has no host mapping",
			humanize.Bytes(uint64(b.size)))
	}
	return b.data, nil
}

// WholeOnly implements Pool.
func (b *DeviceBuffer) WholeOnly() bool { return !b.blob }

// Registry is an ordered, deduplicating list of pools. Adding the same pool
// twice returns the index assigned the first time, so argument slots across
// one invocation (or one step) share pool indices.
//
// A Registry belongs to exactly one invocation or step and is never mutated
// concurrently.
type Registry struct {
	pools []Pool
}

// Add registers the pool and returns its stable index.
func (r *Registry) Add(p Pool) int {
	for i, existing := range r.pools {
		if existing == p {
			return i
		}
	}
	r.pools = append(r.pools, p)
	return len(r.pools) - 1
}

// Get returns the pool at index i.
func (r *Registry) Get(i int) Pool { return r.pools[i] }

// Len returns the number of registered pools.
func (r *Registry) Len() int { return len(r.pools) }

// Pools returns the backing slice, in registration order. Callers must not
// mutate it.
func (r *Registry) Pools() []Pool { return r.pools }

// Clone returns a copy sharing the same pool handles. Used by trivial
// whole-model mapping, where a step reuses the invocation's pools verbatim.
func (r *Registry) Clone() *Registry {
	return &Registry{pools: append([]Pool(nil), r.pools...)}
}

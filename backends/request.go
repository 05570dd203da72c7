package backends

import (
	"fmt"

	"github.com/gomlx/execplan/memory"
)

// ArgumentKind says how a request argument supplies its data.
type ArgumentKind int

const (
	// ArgumentNoValue marks an optional operand explicitly left unbound.
	ArgumentNoValue ArgumentKind = iota

	// ArgumentBuffer supplies data through a caller-owned byte slice.
	ArgumentBuffer

	// ArgumentPool supplies data through a range of one of the request's
	// memory pools.
	ArgumentPool
)

// Location addresses a byte range within a request pool.
type Location struct {
	PoolIndex int
	Offset    int
	Length    int
}

// String implements fmt.Stringer.
func (l Location) String() string {
	return fmt.Sprintf("pool=%d off=%d len=%d", l.PoolIndex, l.Offset, l.Length)
}

// Argument is one input or output of a Request.
type Argument struct {
	Kind ArgumentKind

	// Buffer aliases the caller's memory for ArgumentBuffer arguments.
	Buffer []byte

	// Location is set for ArgumentPool arguments.
	Location Location

	// Dimensions are the operand dimensions as known at request time;
	// zero entries are unspecified and resolved by the device.
	Dimensions []uint32
}

// Request is the device-facing form of one execution: arguments in the
// model's input/output order, plus the pools the ArgumentPool entries index
// into.
type Request struct {
	Inputs  []Argument
	Outputs []Argument
	Pools   []memory.Pool
}

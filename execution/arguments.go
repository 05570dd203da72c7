package execution

import (
	"math"

	"github.com/gomlx/execplan/backends"
	"github.com/gomlx/execplan/graph"
	"github.com/gomlx/execplan/status"
)

// argumentState tracks how one input or output slot is supplied.
type argumentState int

const (
	// argUnspecified means the caller has not bound the slot yet. Illegal
	// at compute time.
	argUnspecified argumentState = iota

	// argHasNoValue means the caller explicitly bound "no value", legal
	// for optional operands.
	argHasNoValue

	// argPointer means the slot is bound to a caller-owned byte slice.
	argPointer

	// argMemory means the slot is bound to a range of a registered pool.
	argMemory
)

// String implements fmt.Stringer.
func (s argumentState) String() string {
	switch s {
	case argUnspecified:
		return "UNSPECIFIED"
	case argHasNoValue:
		return "HAS_NO_VALUE"
	case argPointer:
		return "POINTER"
	case argMemory:
		return "MEMORY"
	}
	return "state(?)"
}

// ArgumentInfo is one slot of the invocation's argument binding table: how
// the operand's data is supplied, the dimensions in effect, and whether the
// bound buffer turned out large enough for the computed result.
type ArgumentInfo struct {
	state      argumentState
	buffer     []byte
	location   backends.Location
	dimensions []uint32
	sufficient bool
}

// Dimensions returns the slot's dimensions as currently known.
func (a *ArgumentInfo) Dimensions() []uint32 { return a.dimensions }

// IsSufficient reports whether the bound buffer held the computed result.
// Meaningful only after the execution finished.
func (a *ArgumentInfo) IsSufficient() bool { return a.sufficient }

// maxArgumentLength bounds bindable buffer lengths, matching the 32-bit
// addressing limit of accelerator transport layers.
const maxArgumentLength = math.MaxUint32

// checkDimensions validates a type override against the operand declaration,
// per the binding rules: rank must match, a fully-specified dimension can
// only be overridden by the same value or by zero (inherit), and without an
// override the operand must be fully specified unless allowUnspecified.
func checkDimensions(operand graph.Operand, override *graph.Operand, tag string, allowUnspecified bool) error {
	if override == nil {
		if !allowUnspecified && !operand.IsScalar() && operand.HasUnspecifiedDimensions() {
			return status.Errorf(status.BadData,
				"%s: operand %s has unspecified dimensions and no type override given", tag, operand)
		}
		return nil
	}
	if override.DType != operand.DType {
		return status.Errorf(status.BadData,
			"%s: override dtype %s does not match operand %s", tag, override.DType, operand)
	}
	if operand.IsScalar() {
		if !override.IsScalar() {
			return status.Errorf(status.BadData,
				"%s: override gives dimensions to scalar operand %s", tag, operand)
		}
		return nil
	}
	if len(override.Dimensions) != len(operand.Dimensions) {
		return status.Errorf(status.BadData,
			"%s: override rank %d incompatible with operand %s",
			tag, len(override.Dimensions), operand)
	}
	for i, d := range operand.Dimensions {
		o := override.Dimensions[i]
		if d != 0 && o != 0 && o != d {
			return status.Errorf(status.BadData,
				"%s: overriding fully specified dimension %d of %s with %d is disallowed",
				tag, i, operand, o)
		}
	}
	if !allowUnspecified {
		for i, d := range operand.Dimensions {
			if d == 0 && override.Dimensions[i] == 0 {
				return status.Errorf(status.BadData,
					"%s: dimension %d of %s left unspecified by override", tag, i, operand)
			}
		}
	}
	return nil
}

// effectiveDimensions merges a (pre-validated) override onto the operand's
// declared dimensions: non-zero override entries win, zero entries inherit.
func effectiveDimensions(operand graph.Operand, override *graph.Operand) []uint32 {
	if override == nil {
		return append([]uint32(nil), operand.Dimensions...)
	}
	dims := append([]uint32(nil), override.Dimensions...)
	for i := range dims {
		if dims[i] == 0 && i < len(operand.Dimensions) {
			dims[i] = operand.Dimensions[i]
		}
	}
	return dims
}

// setFromPointer binds the slot to a caller buffer; a nil buffer means the
// operand explicitly has no value.
func (a *ArgumentInfo) setFromPointer(operand graph.Operand, override *graph.Operand, buffer []byte) {
	a.dimensions = effectiveDimensions(operand, override)
	a.sufficient = true
	if buffer == nil {
		a.state = argHasNoValue
		a.buffer = nil
		return
	}
	a.state = argPointer
	a.buffer = buffer
}

// setFromMemory binds the slot to a range of the registered pool poolIndex.
func (a *ArgumentInfo) setFromMemory(operand graph.Operand, override *graph.Operand, poolIndex, offset, length int) {
	a.dimensions = effectiveDimensions(operand, override)
	a.sufficient = true
	a.state = argMemory
	a.buffer = nil
	a.location = backends.Location{PoolIndex: poolIndex, Offset: offset, Length: length}
}

// setFromScratch binds the slot to operand-sized scratch memory, used for
// step temporaries. The operand must be fully specified.
func (a *ArgumentInfo) setFromScratch(operand graph.Operand, poolIndex, offset int) error {
	size, ok := operand.ByteSize()
	if !ok {
		return status.Errorf(status.GeneralFailure,
			"temporary operand %s has unspecified dimensions", operand)
	}
	a.dimensions = append([]uint32(nil), operand.Dimensions...)
	a.sufficient = true
	a.state = argMemory
	a.location = backends.Location{PoolIndex: poolIndex, Offset: offset, Length: size}
	return nil
}

// toRequestArgument converts the slot to the device-facing form.
func (a *ArgumentInfo) toRequestArgument() (backends.Argument, error) {
	arg := backends.Argument{Dimensions: a.dimensions}
	switch a.state {
	case argHasNoValue:
		arg.Kind = backends.ArgumentNoValue
	case argPointer:
		arg.Kind = backends.ArgumentBuffer
		arg.Buffer = a.buffer
	case argMemory:
		arg.Kind = backends.ArgumentPool
		arg.Location = a.location
	default:
		return arg, status.Errorf(status.BadData, "argument slot is %s", a.state)
	}
	return arg, nil
}

func toRequestArguments(infos []ArgumentInfo) ([]backends.Argument, error) {
	args := make([]backends.Argument, len(infos))
	for i := range infos {
		arg, err := infos[i].toRequestArgument()
		if err != nil {
			return nil, err
		}
		args[i] = arg
	}
	return args, nil
}

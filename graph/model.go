// Package graph holds the minimal compiled-model representation the
// execution layer works against: typed operands with possibly-unspecified
// dimensions, and a flat list of operations over them.
//
// Building and validating models is a collaborator concern (a frontend or a
// partitioner); this package only gives the runtime enough structure to bind
// arguments, size buffers, and let the software device interpret a model.
package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Operand describes one value in a model: an input, an output, or an
// intermediate flowing between operations.
//
// Dimensions follow the runtime convention: nil means scalar, and a zero
// entry means that axis is unspecified until execution time. Outputs may
// stay partially unspecified until computed.
type Operand struct {
	DType      dtypes.DType
	Dimensions []uint32

	// Optional marks operands that may legally be bound with no value.
	Optional bool
}

// IsScalar reports whether the operand has no axes.
func (o Operand) IsScalar() bool { return len(o.Dimensions) == 0 }

// HasUnspecifiedDimensions reports whether any axis is still unknown.
func (o Operand) HasUnspecifiedDimensions() bool {
	for _, d := range o.Dimensions {
		if d == 0 {
			return true
		}
	}
	return false
}

// ByteSize returns the operand's required buffer size in bytes. ok is false
// while any dimension is unspecified.
func (o Operand) ByteSize() (size int, ok bool) {
	size = int(o.DType.Memory())
	for _, d := range o.Dimensions {
		if d == 0 {
			return 0, false
		}
		size *= int(d)
	}
	return size, true
}

// WithDimensions returns a copy of the operand with the given dimensions.
func (o Operand) WithDimensions(dims []uint32) Operand {
	o.Dimensions = append([]uint32(nil), dims...)
	return o
}

// String implements fmt.Stringer, e.g. "Float32[1 2 2 1]" or "Int32[1 ? 3]".
func (o Operand) String() string {
	if o.IsScalar() {
		return o.DType.String()
	}
	parts := make([]string, len(o.Dimensions))
	for i, d := range o.Dimensions {
		if d == 0 {
			parts[i] = "?"
		} else {
			parts[i] = fmt.Sprintf("%d", d)
		}
	}
	return fmt.Sprintf("%s[%s]", o.DType, strings.Join(parts, " "))
}

// OpType enumerates the operations the software device can interpret.
// Hardware devices are free to support anything; the runtime never looks at
// operation types itself.
type OpType int

const (
	OpAdd OpType = iota
	OpMul
	OpRelu
)

// String implements fmt.Stringer.
func (t OpType) String() string {
	switch t {
	case OpAdd:
		return "ADD"
	case OpMul:
		return "MUL"
	case OpRelu:
		return "RELU"
	}
	return fmt.Sprintf("OpType(%d)", int(t))
}

// Operation applies one op to operand indices within a Model.
type Operation struct {
	Type    OpType
	Inputs  []int
	Outputs []int
}

// Model is one compiled (sub)graph: the unit a device prepares and executes.
// It is immutable after construction and safely shared across concurrent
// executions.
type Model struct {
	operands   []Operand
	inputs     []int
	outputs    []int
	operations []Operation
}

// NewModel assembles a model from its parts. Operand indices out of range
// are programming errors and panic.
func NewModel(operands []Operand, inputs, outputs []int, operations []Operation) *Model {
	m := &Model{
		operands:   append([]Operand(nil), operands...),
		inputs:     append([]int(nil), inputs...),
		outputs:    append([]int(nil), outputs...),
		operations: append([]Operation(nil), operations...),
	}
	check := func(idx int, what string) {
		if idx < 0 || idx >= len(m.operands) {
			exceptions.Panicf("graph.NewModel: %s refers to operand %d, model has %d operands",
				what, idx, len(m.operands))
		}
	}
	for _, idx := range m.inputs {
		check(idx, "input")
	}
	for _, idx := range m.outputs {
		check(idx, "output")
	}
	for opIdx, op := range m.operations {
		for _, idx := range op.Inputs {
			check(idx, fmt.Sprintf("operation #%d input", opIdx))
		}
		for _, idx := range op.Outputs {
			check(idx, fmt.Sprintf("operation #%d output", opIdx))
		}
	}
	return m
}

// NumOperands returns the total operand count.
func (m *Model) NumOperands() int { return len(m.operands) }

// Operand returns operand idx.
func (m *Model) Operand(idx int) Operand { return m.operands[idx] }

// InputCount returns the number of model inputs.
func (m *Model) InputCount() int { return len(m.inputs) }

// OutputCount returns the number of model outputs.
func (m *Model) OutputCount() int { return len(m.outputs) }

// InputOperand returns the operand behind input i.
func (m *Model) InputOperand(i int) Operand { return m.operands[m.inputs[i]] }

// OutputOperand returns the operand behind output i.
func (m *Model) OutputOperand(i int) Operand { return m.operands[m.outputs[i]] }

// InputIndex returns the operand index of input i.
func (m *Model) InputIndex(i int) int { return m.inputs[i] }

// OutputIndex returns the operand index of output i.
func (m *Model) OutputIndex(i int) int { return m.outputs[i] }

// Operations returns the model's flat operation list.
func (m *Model) Operations() []Operation { return m.operations }

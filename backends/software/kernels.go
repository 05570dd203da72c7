package software

import (
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"

	"github.com/gomlx/execplan/graph"
	"github.com/gomlx/execplan/status"
)

// kernelSupports reports whether the software kernels handle the dtype.
func kernelSupports(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Float32, dtypes.Float64, dtypes.Float16,
		dtypes.Int8, dtypes.Int32, dtypes.Int64, dtypes.Uint8, dtypes.Uint32:
		return true
	}
	return false
}

// applyKernel runs one operation over the resolved operand byte buffers.
func applyKernel(model *graph.Model, op graph.Operation, values [][]byte) error {
	dtype := model.Operand(op.Inputs[0]).DType
	out := values[op.Outputs[0]]
	a := values[op.Inputs[0]]
	var b []byte
	if len(op.Inputs) > 1 {
		b = values[op.Inputs[1]]
	}
	if a == nil || (len(op.Inputs) > 1 && b == nil) {
		return status.Errorf(status.BadData, "%s executed with a missing input value", op.Type)
	}

	switch dtype {
	case dtypes.Float32:
		return elementwise[float32](op.Type, out, a, b)
	case dtypes.Float64:
		return elementwise[float64](op.Type, out, a, b)
	case dtypes.Int8:
		return elementwise[int8](op.Type, out, a, b)
	case dtypes.Int32:
		return elementwise[int32](op.Type, out, a, b)
	case dtypes.Int64:
		return elementwise[int64](op.Type, out, a, b)
	case dtypes.Uint8:
		return elementwise[uint8](op.Type, out, a, b)
	case dtypes.Uint32:
		return elementwise[uint32](op.Type, out, a, b)
	case dtypes.Float16:
		return elementwiseFloat16(op.Type, out, a, b)
	}
	return status.Errorf(status.BadData, "dtype %s not supported by software kernels", dtype)
}

// bytesAs reinterprets a byte buffer as a typed slice, as the buffers are
// only ever produced with the operand's dtype layout.
func bytesAs[T any](data []byte) []T {
	if len(data) == 0 {
		return nil
	}
	var t T
	n := len(data) / int(unsafe.Sizeof(t))
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), n)
}

// Number covers the dtypes the generic kernels operate on.
type Number interface {
	constraints.Integer | constraints.Float
}

func elementwise[T Number](opType graph.OpType, out, a, b []byte) error {
	outT, aT := bytesAs[T](out), bytesAs[T](a)
	switch opType {
	case graph.OpAdd:
		bT := bytesAs[T](b)
		for i := range outT {
			outT[i] = aT[i] + bT[i]
		}
	case graph.OpMul:
		bT := bytesAs[T](b)
		for i := range outT {
			outT[i] = aT[i] * bT[i]
		}
	case graph.OpRelu:
		var zero T
		for i := range outT {
			if aT[i] > zero {
				outT[i] = aT[i]
			} else {
				outT[i] = zero
			}
		}
	default:
		return status.Errorf(status.BadData, "operation type %s not implemented", opType)
	}
	return nil
}

// elementwiseFloat16 computes in float32 and converts back, the usual
// strategy for CPUs without native fp16 arithmetic.
func elementwiseFloat16(opType graph.OpType, out, a, b []byte) error {
	outT, aT := bytesAs[float16.Float16](out), bytesAs[float16.Float16](a)
	switch opType {
	case graph.OpAdd:
		bT := bytesAs[float16.Float16](b)
		for i := range outT {
			outT[i] = float16.Fromfloat32(aT[i].Float32() + bT[i].Float32())
		}
	case graph.OpMul:
		bT := bytesAs[float16.Float16](b)
		for i := range outT {
			outT[i] = float16.Fromfloat32(aT[i].Float32() * bT[i].Float32())
		}
	case graph.OpRelu:
		for i := range outT {
			if aT[i].Float32() > 0 {
				outT[i] = aT[i]
			} else {
				outT[i] = float16.Fromfloat32(0)
			}
		}
	default:
		return status.Errorf(status.BadData, "operation type %s not implemented", opType)
	}
	return nil
}

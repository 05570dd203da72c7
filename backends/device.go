// Package backends defines the contract between the execution orchestration
// layer and the devices that run compiled models: a Device prepares a model,
// a PreparedModel executes requests, and a Burst is an opaque low-overhead
// session handle threaded through repeated executions.
//
// Hardware-backed devices live outside this module; the one implementation
// shipped here is the universal software device in backends/software, which
// doubles as the fallback target for failed steps.
package backends

import (
	"math"
	"time"

	"github.com/gomlx/execplan/graph"
)

// ExecutionPreference hints how a device should compile a model.
type ExecutionPreference int

const (
	// PreferFastSingleAnswer optimizes one-shot latency. It is the
	// default, and the preference used when re-preparing for fallback.
	PreferFastSingleAnswer ExecutionPreference = iota

	// PreferLowPower optimizes battery.
	PreferLowPower

	// PreferSustainedSpeed optimizes steady-state throughput.
	PreferSustainedSpeed
)

// Device is one executor target.
type Device interface {
	// Name identifies the device in logs.
	Name() string

	// IsSoftware reports whether this is the universally-available
	// software executor. The dispatch loop uses this single capability
	// query to decide fallback eligibility; it never inspects concrete
	// device types.
	IsSoftware() bool

	// PrepareModel compiles the model for this device.
	PrepareModel(model *graph.Model, preference ExecutionPreference) (PreparedModel, error)
}

// PreparedModel is a model compiled for one device, ready to execute. It is
// immutable and safe for concurrent Execute calls.
type PreparedModel interface {
	// Execute runs the model against the request, blocking until done.
	// There is no cancellation at this layer: a request runs to
	// completion or failure.
	//
	// On success err is nil and outputShapes carries one entry per model
	// output. If an output buffer was too small, err carries
	// status.OutputInsufficientSize and outputShapes still reports the
	// true required dimensions with Sufficient=false, so the caller can
	// resize and retry. Any other error means the shapes are meaningless.
	//
	// timing is only measured when measure is true; otherwise (and on
	// failure) it is NoTiming.
	Execute(req *Request, burst Burst, measure bool) (outputShapes []OutputShape, timing Timing, err error)
}

// Burst is an opaque low-overhead session handle. Devices that support burst
// executions type-assert it to their own controller type; everyone else
// ignores it. A nil Burst means a regular execution.
type Burst interface {
	// Device returns the device this burst handle was created for.
	Device() Device
}

// OutputShape is one model output's computed dimensions plus whether the
// bound buffer was large enough to hold it.
type OutputShape struct {
	Dimensions []uint32
	Sufficient bool
}

// DurationUnknown is the sentinel for unmeasured or unavailable timing.
const DurationUnknown = time.Duration(math.MaxInt64)

// Timing reports how long an execution spent on the device and in the
// driver, DurationUnknown when not measured.
type Timing struct {
	OnDevice time.Duration
	InDriver time.Duration
}

// NoTiming is the Timing for executions that measured nothing.
var NoTiming = Timing{OnDevice: DurationUnknown, InDriver: DurationUnknown}

// DurationKind selects which measured duration to query.
type DurationKind int

const (
	// DurationOnHardware is time spent executing on the device.
	DurationOnHardware DurationKind = iota

	// DurationInDriver is time spent in the driver, inclusive of device
	// time.
	DurationInDriver
)

// String implements fmt.Stringer.
func (k DurationKind) String() string {
	switch k {
	case DurationOnHardware:
		return "OnHardware"
	case DurationInDriver:
		return "InDriver"
	}
	return "DurationKind(?)"
}

// UnknownDurationNanos is what duration queries report when timing was not
// measured, mirroring the max-uint64 sentinel convention of accelerator
// HALs.
const UnknownDurationNanos = uint64(math.MaxUint64)

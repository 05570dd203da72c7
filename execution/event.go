package execution

import (
	"github.com/gomlx/execplan/backends"
	"github.com/gomlx/execplan/types/xsync"
)

// computeResult is the terminal outcome of one dispatch loop (or of one
// step, internally): status, the output shapes to report, and timing.
type computeResult struct {
	err    error
	shapes []backends.OutputShape
	timing backends.Timing
}

// Event is the completion handle returned by StartCompute. It fires exactly
// once, after all steps (including any fallback retries) have terminated.
type Event struct {
	latch *xsync.LatchWithValue[computeResult]

	// onFinish runs once, when the result is delivered and before waiters
	// wake. A non-nil return overrides the result's error.
	onFinish func(computeResult) error
}

func newEvent(onFinish func(computeResult) error) *Event {
	return &Event{
		latch:    xsync.NewLatchWithValue[computeResult](),
		onFinish: onFinish,
	}
}

// notify delivers the terminal result. Exactly one call per event reaches
// the latch; the dispatch loop guarantees a single terminal notification and
// the latch discards any extra.
func (e *Event) notify(res computeResult) {
	if e.onFinish != nil {
		if err := e.onFinish(res); err != nil {
			res.err = err
		}
	}
	e.latch.Trigger(res)
}

// wait blocks for the full internal result.
func (e *Event) wait() computeResult {
	return e.latch.Wait()
}

// Wait blocks until the execution completes and returns its terminal status:
// nil on success, otherwise an error whose status.CodeOf gives the failure
// kind.
func (e *Event) Wait() error {
	return e.latch.Wait().err
}

// Done reports whether the execution has completed, without blocking.
func (e *Event) Done() bool {
	return e.latch.Test()
}

// WaitChan returns a channel closed on completion, for select-based polling.
func (e *Event) WaitChan() <-chan struct{} {
	return e.latch.WaitChan()
}

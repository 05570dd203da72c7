package execution

import (
	"k8s.io/klog/v2"

	"github.com/gomlx/execplan/backends"
	"github.com/gomlx/execplan/status"
)

// runPlan is the dispatch loop: it walks the plan's steps, merges each
// step's output shapes into the invocation-global report, applies the
// fallback policy on failures, and delivers exactly one terminal
// notification through completion.
//
// Shape-report asymmetry, kept deliberately: failures to obtain or launch a
// step (iterator errors, launch errors) report empty shapes, while runtime
// failures of a launched step report the shapes accumulated so far.
func (e *Execution) runPlan(session BurstSession, completion *Event) {
	shapes := e.initialOutputShapes()
	timing := backends.NoTiming

	// Nothing to fall back to when the plan is already entirely on the
	// software device.
	allowFallback := e.opts.AllowFallback && !e.plan.IsSimpleSoftware()

	controller, err := e.plan.MakeController(e, session)
	if err != nil {
		klog.V(2).Infof("execution %s: plan controller unavailable: %v", e.id, err)
		if allowFallback {
			e.softwareFallbackFull(completion)
		} else {
			completion.notify(computeResult{err: err, timing: backends.NoTiming})
		}
		return
	}

	for {
		klog.V(2).Infof("execution %s: looking for the next step", e.id)
		executor, burst, err := e.plan.Next(controller)
		if err != nil {
			if allowFallback {
				e.softwareFallbackFull(completion)
			} else {
				completion.notify(computeResult{err: err, timing: backends.NoTiming})
			}
			return
		}
		if executor == nil {
			// Plan complete. Timing is only meaningful for
			// single-step invocations, so the last step's timing is
			// the invocation's.
			completion.notify(computeResult{shapes: shapes, timing: timing})
			return
		}

		stepEvent, err := executor.StartCompute(burst)
		if err != nil {
			klog.V(2).Infof("execution %s: step launch failed: %v", e.id, err)
			if allowFallback {
				if e.softwareFallbackPartial(controller, completion, &shapes) {
					continue
				}
				return
			}
			completion.notify(computeResult{err: err, timing: backends.NoTiming})
			return
		}

		res := stepEvent.wait()
		stepErr := res.err
		if mergeErr := executor.updateOutputShapes(res.shapes, &shapes); mergeErr != nil {
			stepErr = mergeErr
		}
		if stepErr == nil {
			timing = res.timing
			continue
		}

		if status.CodeOf(stepErr) == status.OutputInsufficientSize {
			// Caller-fixable buffer sizing problem: retrying on other
			// hardware cannot change the required size. Report the
			// shapes so the caller can resize.
			completion.notify(computeResult{err: stepErr, shapes: shapes, timing: backends.NoTiming})
			return
		}
		if allowFallback {
			if e.softwareFallbackPartial(controller, completion, &shapes) {
				continue
			}
			return
		}
		completion.notify(computeResult{err: stepErr, shapes: shapes, timing: backends.NoTiming})
		return
	}
}

// softwareFallbackFull re-runs the entire original model on the software
// device and finishes the invocation with that result, whatever it is: a
// failed whole-invocation fallback is terminal, never retried.
func (e *Execution) softwareFallbackFull(completion *Event) {
	klog.V(2).Infof("execution %s: whole-invocation software fallback", e.id)
	executor := NewStepExecutor(e, e.model, e.opts.Software, nil)
	executor.MapInputsAndOutputsTrivially()
	event, err := executor.StartComputeOnSoftwareFallback()
	if err != nil {
		completion.notify(computeResult{err: err, timing: backends.NoTiming})
		return
	}
	completion.notify(event.wait())
}

// softwareFallbackPartial retries just the current failed step on the
// software device. It returns true if the step succeeded and the dispatch
// loop should continue with the next step. On any other outcome it has
// already delivered the terminal notification (directly, or by escalating
// to a whole-invocation fallback) and returns false.
func (e *Execution) softwareFallbackPartial(controller Controller, completion *Event, shapes *[]backends.OutputShape) bool {
	klog.V(2).Infof("execution %s: step software fallback", e.id)
	executor, err := e.plan.Fallback(controller)
	if err != nil || executor.IsSoftware() {
		// The failed step was already on software (or cannot be
		// reproduced): only the whole invocation is left to try.
		e.softwareFallbackFull(completion)
		return false
	}
	event, err := executor.StartComputeOnSoftwareFallback()
	if err != nil {
		e.softwareFallbackFull(completion)
		return false
	}
	res := event.wait()
	stepErr := res.err
	if mergeErr := executor.updateOutputShapes(res.shapes, shapes); mergeErr != nil {
		stepErr = mergeErr
	}
	if stepErr == nil {
		return true
	}
	// A simple plan has nothing smaller to retry, and insufficiency is
	// never recovered by fallback.
	if e.plan.IsSimple() || status.CodeOf(stepErr) == status.OutputInsufficientSize {
		completion.notify(computeResult{err: stepErr, shapes: *shapes, timing: backends.NoTiming})
	} else {
		e.softwareFallbackFull(completion)
	}
	return false
}

// Package aggregator decides overall task success or failure from a
// finished flow's per-step results, with a distinct policy per flow
// kind rather than one size-fits-all "all steps must succeed" rule.
package aggregator

import (
	"fmt"

	"github.com/dastron/mediaworker/internal/flow"
	"github.com/dastron/mediaworker/internal/scheduler"
	"github.com/dastron/mediaworker/internal/task"
)

// Outcome is the Aggregator's verdict on one finished flow attempt:
// the terminal status, a human-readable summary, and on success the
// result payload the controller persists onto the task.
type Outcome struct {
	Status  task.Status
	Summary string
	Result  map[string]any
}

// Aggregate dispatches to the policy matching kind.
func Aggregate(kind task.Kind, results map[flow.StepKind]scheduler.StepResult) (Outcome, error) {
	switch kind {
	case task.KindTranscode:
		return aggregateTranscode(results), nil
	case task.KindDetectLabels:
		return aggregateDetectLabels(results), nil
	default:
		return Outcome{}, fmt.Errorf("aggregator: unknown flow kind %q", kind)
	}
}

// aggregateTranscode: success iff every step completed; otherwise
// failed. The summary names the first non-completed step met while
// ranging over the map; when several steps did not complete, which one
// is named is not defined.
func aggregateTranscode(results map[flow.StepKind]scheduler.StepResult) Outcome {
	for kind, r := range results {
		if r.Status != scheduler.StatusCompleted {
			return Outcome{
				Status:  task.StatusFailed,
				Summary: fmt.Sprintf("step %s did not complete (status=%s): %s", kind, r.Status, r.Error),
			}
		}
	}
	// The finalize step's output is the flow's result payload: mediaId
	// plus the derived file ids and probe.
	return Outcome{
		Status:  task.StatusSucceeded,
		Summary: "all transcode steps completed",
		Result:  results[flow.StepFinalize].Output,
	}
}

// aggregateDetectLabels: success iff at least one analysis child
// completed AND the finalization node completed; otherwise failed.
func aggregateDetectLabels(results map[flow.StepKind]scheduler.StepResult) Outcome {
	var completed, failed []flow.StepKind
	for _, kind := range flow.AnalysisSteps {
		r, ok := results[kind]
		if !ok {
			continue // not enabled for this task
		}
		if r.Status == scheduler.StatusCompleted {
			completed = append(completed, kind)
		} else {
			failed = append(failed, kind)
		}
	}

	finalize, finalizeRan := results[flow.StepFinalizeDetectLabels]
	finalizeOK := finalizeRan && finalize.Status == scheduler.StatusCompleted

	if len(completed) == 0 {
		return Outcome{
			Status:  task.StatusFailed,
			Summary: fmt.Sprintf("all enabled processors failed: %v", failed),
		}
	}
	if !finalizeOK {
		return Outcome{
			Status:  task.StatusFailed,
			Summary: "finalization did not complete",
		}
	}

	// The terminal status is "succeeded" whenever the policy's
	// condition holds, even with some analysis children failed —
	// partial success is recorded in the result's successful/failed
	// lists, not as a distinct Task.Status.
	result := make(map[string]any, len(finalize.Output)+2)
	for k, v := range finalize.Output {
		result[k] = v
	}
	result["successful"] = kindNames(completed)
	result["failed"] = kindNames(failed)

	return Outcome{
		Status:  task.StatusSucceeded,
		Summary: fmt.Sprintf("completed=%v failed=%v", completed, failed),
		Result:  result,
	}
}

func kindNames(kinds []flow.StepKind) []string {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	return names
}

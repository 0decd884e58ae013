package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dastron/mediaworker/internal/config"
	"github.com/dastron/mediaworker/internal/errs"
	"github.com/dastron/mediaworker/internal/flow"
	"github.com/dastron/mediaworker/internal/stepexec"
	"github.com/dastron/mediaworker/internal/store/boltstore"
)

type fakeExecutor struct {
	calls int
	fn    func(calls int) (map[string]any, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, in stepexec.Input) (map[string]any, error) {
	f.calls++
	return f.fn(f.calls)
}

func okExecutor(out map[string]any) *fakeExecutor {
	return &fakeExecutor{fn: func(int) (map[string]any, error) { return out, nil }}
}

func linearGraph(retry config.RetryConfig) flow.Graph {
	return flow.Graph{
		TaskKind: "transcode",
		Steps: []flow.StepJob{
			{Kind: "probe", Retry: retry},
			{Kind: "thumbnail", DependsOn: []flow.StepKind{"probe"}, Retry: retry},
			{Kind: "finalize", DependsOn: []flow.StepKind{"thumbnail"}, Retry: retry},
		},
	}
}

func TestSchedulerRunsLinearChainInOrder(t *testing.T) {
	retry := config.RetryConfig{MaxAttempts: 3}
	graph := linearGraph(retry)

	reg := stepexec.NewRegistry()
	var order []string
	reg.Register("probe", &fakeExecutor{fn: func(int) (map[string]any, error) {
		order = append(order, "probe")
		return map[string]any{"x": 1}, nil
	}})
	reg.Register("thumbnail", &fakeExecutor{fn: func(int) (map[string]any, error) {
		order = append(order, "thumbnail")
		return map[string]any{}, nil
	}})
	reg.Register("finalize", &fakeExecutor{fn: func(int) (map[string]any, error) {
		order = append(order, "finalize")
		return map[string]any{}, nil
	}})

	s := New(reg, 2)
	job := &FlowJob{Graph: graph}
	results, err := s.Run(context.Background(), "t1", "m1", job, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, kind := range []flow.StepKind{"probe", "thumbnail", "finalize"} {
		if results[kind].Status != StatusCompleted {
			t.Fatalf("expected %s completed, got %s", kind, results[kind].Status)
		}
	}
	if len(order) != 3 || order[0] != "probe" || order[2] != "finalize" {
		t.Fatalf("expected strict order probe,thumbnail,finalize, got %v", order)
	}
}

func TestSchedulerResumeSkipsCompletedSteps(t *testing.T) {
	retry := config.RetryConfig{MaxAttempts: 3}
	graph := linearGraph(retry)

	reg := stepexec.NewRegistry()
	probeExec := okExecutor(map[string]any{})
	thumbExec := okExecutor(map[string]any{})
	finalizeExec := okExecutor(map[string]any{})
	reg.Register("probe", probeExec)
	reg.Register("thumbnail", thumbExec)
	reg.Register("finalize", finalizeExec)

	job := &FlowJob{
		Graph: graph,
		Results: map[flow.StepKind]StepResult{
			"probe":     {Status: StatusCompleted, Output: map[string]any{}},
			"thumbnail": {Status: StatusCompleted, Output: map[string]any{}},
		},
	}

	s := New(reg, 2)
	results, err := s.Run(context.Background(), "t1", "m1", job, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if probeExec.calls != 0 || thumbExec.calls != 0 {
		t.Fatalf("expected resumed steps never re-invoked, probe=%d thumbnail=%d", probeExec.calls, thumbExec.calls)
	}
	if finalizeExec.calls != 1 {
		t.Fatalf("expected finalize to run once, got %d", finalizeExec.calls)
	}
	if results["finalize"].Status != StatusCompleted {
		t.Fatalf("expected finalize completed, got %s", results["finalize"].Status)
	}
}

func TestSchedulerDetectLabelsPartialFailureReachesFinalize(t *testing.T) {
	retry := config.RetryConfig{MaxAttempts: 1}
	graph := flow.Graph{
		TaskKind: "detect-labels",
		Steps: []flow.StepJob{
			{Kind: "upload-to-object-store", Retry: retry},
			{Kind: "label-detection", DependsOn: []flow.StepKind{"upload-to-object-store"}, AllowPartialFailure: true, Retry: retry},
			{Kind: "object-tracking", DependsOn: []flow.StepKind{"upload-to-object-store"}, AllowPartialFailure: true, Retry: retry},
			{Kind: "finalize-detect-labels", DependsOn: []flow.StepKind{"label-detection", "object-tracking"}, Retry: retry},
		},
	}

	reg := stepexec.NewRegistry()
	reg.Register("upload-to-object-store", okExecutor(map[string]any{"objectUri": "gs://x"}))
	reg.Register("label-detection", okExecutor(map[string]any{"counts": 3}))
	reg.Register("object-tracking", &fakeExecutor{fn: func(int) (map[string]any, error) {
		return nil, errs.Terminal("provider rejected", errors.New("bad request"))
	}})
	reg.Register("finalize-detect-labels", okExecutor(map[string]any{"ok": true}))

	s := New(reg, 4)
	job := &FlowJob{Graph: graph}
	results, err := s.Run(context.Background(), "t1", "m1", job, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results["object-tracking"].Status != StatusFailedTerminal {
		t.Fatalf("expected object-tracking failed-terminal, got %s", results["object-tracking"].Status)
	}
	if results["label-detection"].Status != StatusCompleted {
		t.Fatalf("expected label-detection completed, got %s", results["label-detection"].Status)
	}
	if results["finalize-detect-labels"].Status != StatusCompleted {
		t.Fatalf("expected finalize to run despite one failed analysis child, got %s", results["finalize-detect-labels"].Status)
	}
}

func TestSchedulerAbortsWholeRunOnNonPartialTerminalFailure(t *testing.T) {
	retry := config.RetryConfig{MaxAttempts: 1}
	graph := linearGraph(retry)

	reg := stepexec.NewRegistry()
	reg.Register("probe", &fakeExecutor{fn: func(int) (map[string]any, error) {
		return nil, errs.Terminal("input invalid", nil)
	}})
	reg.Register("thumbnail", okExecutor(map[string]any{}))
	reg.Register("finalize", okExecutor(map[string]any{}))

	s := New(reg, 2)
	job := &FlowJob{Graph: graph}
	_, err := s.Run(context.Background(), "t1", "m1", job, nil)
	if err == nil {
		t.Fatalf("expected the run to fail when a strict-chain step fails terminally")
	}
}

func TestSchedulerRetriesRetryableFailureUpToMaxAttempts(t *testing.T) {
	retry := config.RetryConfig{MaxAttempts: 3, BaseDelay: 0, MaxDelay: 0, JitterFactor: 0}
	graph := flow.Graph{
		TaskKind: "transcode",
		Steps:    []flow.StepJob{{Kind: "probe", Retry: retry}},
	}

	reg := stepexec.NewRegistry()
	exec := &fakeExecutor{fn: func(calls int) (map[string]any, error) {
		if calls < 3 {
			return nil, errs.Retryable("transient", errors.New("timeout"))
		}
		return map[string]any{"ok": true}, nil
	}}
	reg.Register("probe", exec)

	s := New(reg, 1)
	job := &FlowJob{Graph: graph}
	results, err := s.Run(context.Background(), "t1", "m1", job, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results["probe"].Status != StatusCompleted {
		t.Fatalf("expected eventual success, got %s", results["probe"].Status)
	}
	if exec.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", exec.calls)
	}
}

func TestSchedulerResumedFailureIsReExecuted(t *testing.T) {
	retry := config.RetryConfig{MaxAttempts: 3}
	graph := flow.Graph{
		TaskKind: "transcode",
		Steps:    []flow.StepJob{{Kind: "probe", Retry: retry}},
	}

	reg := stepexec.NewRegistry()
	exec := okExecutor(map[string]any{"ok": true})
	reg.Register("probe", exec)

	// A prior attempt's terminal failure must not be treated as
	// authoritative: only completed entries survive resume.
	job := &FlowJob{
		Graph: graph,
		Results: map[flow.StepKind]StepResult{
			"probe": {Status: StatusFailedTerminal, Error: "old failure", Attempts: 3},
		},
	}

	s := New(reg, 1)
	results, err := s.Run(context.Background(), "t1", "m1", job, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.calls != 1 {
		t.Fatalf("expected the previously failed step to re-run, got %d calls", exec.calls)
	}
	if results["probe"].Status != StatusCompleted {
		t.Fatalf("expected probe completed after re-run, got %s", results["probe"].Status)
	}
}

func TestSchedulerStepTimeoutConsumesAttempts(t *testing.T) {
	retry := config.RetryConfig{MaxAttempts: 2}
	graph := flow.Graph{
		TaskKind: "transcode",
		Steps:    []flow.StepJob{{Kind: "probe", Retry: retry, Timeout: 10 * time.Millisecond}},
	}

	reg := stepexec.NewRegistry()
	var calls int
	reg.Register("probe", &blockingExecutor{calls: &calls})

	s := New(reg, 1)
	job := &FlowJob{Graph: graph}
	_, err := s.Run(context.Background(), "t1", "m1", job, nil)
	if err == nil {
		t.Fatalf("expected the run to fail once the step exhausted its timeout-consumed attempts")
	}
	if job.Results["probe"].Attempts != 2 {
		t.Fatalf("expected each timeout to consume one attempt up to max, got %d", job.Results["probe"].Attempts)
	}
}

// blockingExecutor waits for cancellation and reports the context error,
// the shape a step's external call takes when its timeout fires.
type blockingExecutor struct {
	calls *int
}

func (b *blockingExecutor) Execute(ctx context.Context, _ stepexec.Input) (map[string]any, error) {
	*b.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFlowStateStoreRoundTripKeepsOnlyCompleted(t *testing.T) {
	boltStore, err := boltstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open boltstore: %v", err)
	}
	defer boltStore.Close()

	fs := NewFlowStateStore(boltStore)
	err = fs.Save("t1", map[flow.StepKind]StepResult{
		"probe":     {Status: StatusCompleted, Output: map[string]any{"mediaId": "m1"}, Attempts: 1},
		"thumbnail": {Status: StatusFailedTerminal, Error: "boom", Attempts: 3},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := fs.Load("t1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected only the completed entry to persist, got %d entries", len(loaded))
	}
	if loaded["probe"].Output["mediaId"] != "m1" {
		t.Fatalf("expected probe output to round-trip, got %+v", loaded["probe"])
	}

	if err := fs.Delete("t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	loaded, err = fs.Load("t1")
	if err != nil {
		t.Fatalf("load after delete: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected no entries after delete, got %d", len(loaded))
	}
}

func TestSchedulerProgressForwarding(t *testing.T) {
	retry := config.RetryConfig{MaxAttempts: 1}
	graph := flow.Graph{
		TaskKind: "transcode",
		Steps:    []flow.StepJob{{Kind: "probe", Retry: retry}},
	}

	reg := stepexec.NewRegistry()
	reg.Register("probe", progressExecutor{})

	var seen []ProgressState
	s := New(reg, 1)
	job := &FlowJob{Graph: graph}
	_, err := s.Run(context.Background(), "t1", "m1", job, func(p ProgressState) {
		seen = append(seen, p)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 forwarded progress updates, got %+v", seen)
	}
	for i, want := range []int{50, 100} {
		if seen[i].CurrentStep != "probe" || seen[i].CurrentStepProgress != want {
			t.Fatalf("expected update %d to be probe at %d, got %+v", i, want, seen[i])
		}
	}
}

// progressExecutor reports 50% then 100% through its Input's Progress.
type progressExecutor struct{}

func (progressExecutor) Execute(_ context.Context, in stepexec.Input) (map[string]any, error) {
	in.Progress(50)
	in.Progress(100)
	return map[string]any{}, nil
}

// Package scheduler runs a StepJob DAG with bounded worker-pool
// concurrency, per-step retry, resume-from-persisted-result, progress
// forwarding, and cooperative cancellation: a buffered ready channel
// workers drain, and a single coordinator goroutine that is the sole
// writer of the result map. A parent marked allow-partial-failure
// gates child readiness as well as whether the whole run aborts.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dastron/mediaworker/internal/flow"
	"github.com/dastron/mediaworker/internal/retrypolicy"
	"github.com/dastron/mediaworker/internal/stepexec"
)

// StepStatus is a StepJob's execution state:
// pending -> ready -> running -> (completed | failed-retryable
// -> ready | failed-terminal).
type StepStatus string

const (
	StatusPending         StepStatus = "pending"
	StatusReady           StepStatus = "ready"
	StatusRunning         StepStatus = "running"
	StatusCompleted       StepStatus = "completed"
	StatusFailedRetryable StepStatus = "failed-retryable"
	StatusFailedTerminal  StepStatus = "failed-terminal"
)

func (s StepStatus) terminal() bool {
	return s == StatusCompleted || s == StatusFailedTerminal
}

// StepResult is one step's persisted outcome in the FlowJob result map.
type StepResult struct {
	Status   StepStatus     `json:"status"`
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Attempts int            `json:"attempts"`
}

// FlowJob is the scheduler's resumable unit of work: the graph plus a
// result map a subsequent attempt can resume from.
type FlowJob struct {
	Graph    flow.Graph
	Results  map[flow.StepKind]StepResult
	Progress ProgressState
}

// ProgressState is what the scheduler forwards to the controller: the
// step currently executing and that step's own 0..100 progress.
type ProgressState struct {
	CurrentStep         flow.StepKind
	CurrentStepProgress int
}

// ProgressFunc receives ProgressState updates as the flow runs.
type ProgressFunc func(ProgressState)

// Scheduler runs FlowJobs against a stepexec.Registry.
type Scheduler struct {
	registry   *stepexec.Registry
	maxWorkers int
}

// New constructs a Scheduler bounded to maxWorkers concurrent steps.
func New(registry *stepexec.Registry, maxWorkers int) *Scheduler {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Scheduler{registry: registry, maxWorkers: maxWorkers}
}

type node struct {
	kind     flow.StepKind
	job      flow.StepJob
	parents  []flow.StepKind
	children []flow.StepKind
}

type execResult struct {
	kind   flow.StepKind
	status StepStatus
	output map[string]any
	err    error
}

// Run executes job's graph to completion (every step reaches a
// terminal status, or the context is cancelled) and returns the final
// result map.
func (s *Scheduler) Run(ctx context.Context, taskID, mediaID string, job *FlowJob, onProgress ProgressFunc) (map[flow.StepKind]StepResult, error) {
	nodes := buildNodes(job.Graph)

	if job.Results == nil {
		job.Results = make(map[flow.StepKind]StepResult)
	}
	// Only a completed entry is authoritative across attempts; a prior
	// attempt's failures are re-executed.
	for kind, rs := range job.Results {
		if rs.Status != StatusCompleted {
			delete(job.Results, kind)
		}
	}

	var mu sync.Mutex // guards job.Results and scheduled; scheduler is the sole writer
	scheduled := make(map[flow.StepKind]bool, len(nodes))

	// Seed every step that is already runnable: no unfinished parents,
	// counting resumed completions as satisfied. Steps completed in a
	// prior attempt are not re-scheduled.
	ready := make(chan flow.StepKind, len(nodes)*2)
	resumedCount := 0
	for kind := range nodes {
		if job.Results[kind].Status == StatusCompleted {
			resumedCount++
			continue
		}
		if parentsSatisfied(nodes, job.Results, kind) {
			ready <- kind
			scheduled[kind] = true
		}
	}

	results := make(chan execResult, len(nodes))
	var wg sync.WaitGroup
	for i := 0; i < s.maxWorkers; i++ {
		wg.Add(1)
		go s.worker(ctx, taskID, mediaID, job, &mu, ready, results, onProgress, &wg)
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)

		terminalCount := resumedCount
		total := len(nodes)

		for terminalCount < total {
			select {
			case <-ctx.Done():
				done <- ctx.Err()
				return
			case res := <-results:
				mu.Lock()
				n := nodes[res.kind]

				switch res.status {
				case StatusCompleted:
					job.Results[res.kind] = StepResult{Status: StatusCompleted, Output: res.output, Attempts: job.Results[res.kind].Attempts + 1}
					terminalCount++
				case StatusFailedRetryable:
					// Re-enqueue: the previous failed result is not
					// persisted as final until attempts are exhausted.
					attempts := job.Results[res.kind].Attempts + 1
					job.Results[res.kind] = StepResult{Status: StatusFailedRetryable, Attempts: attempts, Error: errString(res.err)}
					mu.Unlock()
					select {
					case ready <- res.kind:
					case <-ctx.Done():
					}
					continue
				case StatusFailedTerminal:
					job.Results[res.kind] = StepResult{Status: StatusFailedTerminal, Error: errString(res.err), Attempts: job.Results[res.kind].Attempts + 1}
					terminalCount++
				}

				// Fail the whole run if a non-partial-failure-tolerant
				// step terminally failed; %w keeps the step error's
				// class visible to the Controller's retry decision.
				if res.status == StatusFailedTerminal && !n.job.AllowPartialFailure {
					mu.Unlock()
					done <- fmt.Errorf("step %s failed terminally: %w", res.kind, res.err)
					return
				}

				// Release children whose parents have all terminated,
				// subject to the allow-partial-failure readiness rule.
				for _, childKind := range n.children {
					if scheduled[childKind] || !parentsSatisfied(nodes, job.Results, childKind) {
						continue
					}
					scheduled[childKind] = true
					ready <- childKind
				}
				mu.Unlock()
			}
		}

		done <- nil
	}()

	err := <-done
	close(ready)
	wg.Wait()
	close(results)

	return job.Results, err
}

func (s *Scheduler) worker(
	ctx context.Context,
	taskID, mediaID string,
	job *FlowJob,
	mu *sync.Mutex,
	ready <-chan flow.StepKind,
	results chan<- execResult,
	onProgress ProgressFunc,
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case kind, ok := <-ready:
			if !ok {
				return
			}
			s.runStep(ctx, taskID, mediaID, job, mu, kind, results, onProgress)
		}
	}
}

func (s *Scheduler) runStep(
	ctx context.Context,
	taskID, mediaID string,
	job *FlowJob,
	mu *sync.Mutex,
	kind flow.StepKind,
	results chan<- execResult,
	onProgress ProgressFunc,
) {
	stepJob := job.Graph.ByKind()[kind]

	executor, err := s.registry.Get(kind)
	if err != nil {
		results <- execResult{kind: kind, status: StatusFailedTerminal, err: err}
		return
	}

	depOut := make(map[flow.StepKind]map[string]any)
	mu.Lock()
	for _, parent := range stepJob.DependsOn {
		if pr, ok := job.Results[parent]; ok {
			depOut[parent] = pr.Output
		}
	}
	attemptsSoFar := job.Results[kind].Attempts
	mu.Unlock()

	progress := func(pct int) {
		if onProgress != nil {
			onProgress(ProgressState{CurrentStep: kind, CurrentStepProgress: pct})
		}
	}

	// Exceeding the per-step timeout surfaces as a retryable context
	// error and consumes one attempt.
	stepCtx := ctx
	if stepJob.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, stepJob.Timeout)
		defer cancel()
	}

	output, execErr := executor.Execute(stepCtx, stepexec.Input{
		TaskID:   taskID,
		MediaID:  mediaID,
		Payload:  stepJob.Input,
		DepOut:   depOut,
		Progress: progress,
	})

	if execErr == nil {
		results <- execResult{kind: kind, status: StatusCompleted, output: output}
		return
	}

	decision := retrypolicy.Compute(execErr, attemptsSoFar+1, stepJob.Retry)
	if decision.Retry {
		time.Sleep(time.Duration(decision.DelayMs) * time.Millisecond)
		results <- execResult{kind: kind, status: StatusFailedRetryable, err: execErr}
		return
	}

	results <- execResult{kind: kind, status: StatusFailedTerminal, err: execErr}
}

// parentsSatisfied reports whether every parent of kind has terminated,
// honoring the allow-partial-failure readiness rule: a failed parent
// only blocks its children when it does not allow partial failure;
// other parents must have completed successfully.
func parentsSatisfied(nodes map[flow.StepKind]*node, results map[flow.StepKind]StepResult, kind flow.StepKind) bool {
	for _, parentKind := range nodes[kind].parents {
		pr, ok := results[parentKind]
		if !ok || !pr.Status.terminal() {
			return false
		}
		if pr.Status == StatusFailedTerminal && !nodes[parentKind].job.AllowPartialFailure {
			return false
		}
	}
	return true
}

func buildNodes(g flow.Graph) map[flow.StepKind]*node {
	nodes := make(map[flow.StepKind]*node, len(g.Steps))
	for _, step := range g.Steps {
		nodes[step.Kind] = &node{kind: step.Kind, job: step, parents: step.DependsOn}
	}
	for _, n := range nodes {
		for _, parent := range n.parents {
			if p, ok := nodes[parent]; ok {
				p.children = append(p.children, n.kind)
			}
		}
	}
	return nodes
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

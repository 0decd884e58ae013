// Package controller is the outermost loop of the worker: it drains
// queued tasks, builds and runs each one's flow, applies the
// partial-success aggregator, and persists the terminal result,
// applying task-level retry on a flow failure. robfig/cron ticks the
// poll interval, with the inbound queue nudging the loop awake between
// ticks.
package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dastron/mediaworker/internal/aggregator"
	"github.com/dastron/mediaworker/internal/config"
	"github.com/dastron/mediaworker/internal/flow"
	"github.com/dastron/mediaworker/internal/queue"
	"github.com/dastron/mediaworker/internal/retrypolicy"
	"github.com/dastron/mediaworker/internal/scheduler"
	"github.com/dastron/mediaworker/internal/stepexec"
	"github.com/dastron/mediaworker/internal/task"
)

// Controller is the only writer of Task.status and Task.attempts.
type Controller struct {
	cfg       config.Config
	tasks     *task.Store
	scheduler *scheduler.Scheduler
	flowState *scheduler.FlowStateStore
	consumer  queue.Consumer

	cron *cron.Cron

	tracer        trace.Tracer
	taskDuration  metric.Float64Histogram
	taskFailures  metric.Int64Counter
	taskSuccesses metric.Int64Counter
	batchSize     metric.Int64Histogram
}

// New wires a Controller from its dependencies: a Task Store, a Flow
// Scheduler bound to a populated stepexec.Registry, an (optional)
// FlowStateStore carrying completed-step results across task attempts,
// and an (optional) inbound queue.Consumer used to wake the poll loop
// between ticks.
func New(cfg config.Config, tasks *task.Store, sched *scheduler.Scheduler, flowState *scheduler.FlowStateStore, consumer queue.Consumer) *Controller {
	meter := otel.GetMeterProvider().Meter("mediaworker-controller")
	taskDuration, _ := meter.Float64Histogram("task_controller_duration_ms")
	taskFailures, _ := meter.Int64Counter("task_controller_failures_total")
	taskSuccesses, _ := meter.Int64Counter("task_controller_successes_total")
	batchSize, _ := meter.Int64Histogram("task_controller_batch_size")

	return &Controller{
		cfg:           cfg,
		tasks:         tasks,
		scheduler:     sched,
		flowState:     flowState,
		consumer:      consumer,
		cron:          cron.New(cron.WithSeconds()),
		tracer:        otel.Tracer("mediaworker-controller"),
		taskDuration:  taskDuration,
		taskFailures:  taskFailures,
		taskSuccesses: taskSuccesses,
		batchSize:     batchSize,
	}
}

// cronSpec converts the configured poll interval into a robfig/cron
// "@every" expression.
func (c *Controller) cronSpec() string {
	d := c.cfg.PollInterval
	if d <= 0 {
		d = 5 * time.Second
	}
	return "@every " + d.String()
}

// Run drives the controller loop until ctx is cancelled: a cron-ticked
// poll plus an immediate wake whenever the inbound queue delivers a new
// task envelope. The loop never exits on a per-tick error; it logs and
// continues.
func (c *Controller) Run(ctx context.Context) error {
	wake := make(chan struct{}, 1)
	nudge := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	if c.consumer != nil {
		sub, err := c.consumer.Subscribe(func(_ context.Context, _ queue.TaskEnvelope) {
			nudge()
		})
		if err != nil {
			slog.Warn("controller: queue subscribe failed, falling back to poll-only", "error", err)
		} else {
			defer sub.Unsubscribe()
		}
	}

	if _, err := c.cron.AddFunc(c.cronSpec(), nudge); err != nil {
		return err
	}
	c.cron.Start()
	defer c.cron.Stop()

	nudge() // drain once immediately on startup
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
			n, err := c.pollOnce(ctx)
			if err != nil {
				slog.Error("controller: poll iteration failed", "error", err)
			}
			if n == 0 {
				continue // empty batch: wait for the next cron tick
			}
		}
	}
}

// pollOnce drains up to MaxTaskBatch queued tasks and runs each to
// completion, returning how many were processed.
func (c *Controller) pollOnce(ctx context.Context) (int, error) {
	tasks, err := c.tasks.ListQueued(ctx, c.cfg.MaxTaskBatch)
	if err != nil {
		return 0, err
	}
	c.batchSize.Record(ctx, int64(len(tasks)))

	for _, t := range tasks {
		c.runTask(ctx, t)
	}
	return len(tasks), nil
}

// runTask takes one task from queued to a terminal status.
func (c *Controller) runTask(ctx context.Context, t *task.Task) {
	ctx, span := c.tracer.Start(ctx, "controller.run_task", trace.WithAttributes(
		attribute.String("task_id", t.ID),
		attribute.String("task_kind", string(t.Kind)),
	))
	defer span.End()

	start := time.Now()

	if err := t.Start(); err != nil {
		span.RecordError(err)
		slog.Error("controller: cannot start task", "task_id", t.ID, "error", err)
		return
	}
	if err := c.tasks.Save(ctx, t); err != nil {
		// A failed status update never fails the task itself.
		slog.Error("controller: persist running status failed", "task_id", t.ID, "error", err)
	}

	graph, err := flow.Build(t, c.cfg)
	if err != nil {
		c.finish(ctx, t, task.StatusFailed, err.Error(), start)
		return
	}

	job := &scheduler.FlowJob{Graph: graph}
	if c.flowState != nil {
		saved, err := c.flowState.Load(t.ID)
		if err != nil {
			slog.Warn("controller: load persisted flow results failed, running from scratch", "task_id", t.ID, "error", err)
		} else {
			job.Results = saved
		}
	}

	// The parent's reported progress reflects the current executing step
	// only: monotonicity holds within one step attempt; a step change
	// legitimately resets it.
	var progressMu sync.Mutex
	var currentStep flow.StepKind
	results, runErr := c.scheduler.Run(ctx, t.ID, t.MediaID, job, func(p scheduler.ProgressState) {
		progressMu.Lock()
		defer progressMu.Unlock()
		if p.CurrentStep != currentStep {
			currentStep = p.CurrentStep
			t.Progress = 0
		}
		_ = t.SetProgress(p.CurrentStepProgress)
	})

	if runErr != nil {
		c.persistFlowState(t.ID, results)
		c.handleFlowFailure(ctx, t, runErr, start)
		return
	}

	outcome, aggErr := aggregator.Aggregate(t.Kind, results)
	if aggErr != nil {
		c.persistFlowState(t.ID, results)
		c.finish(ctx, t, task.StatusFailed, aggErr.Error(), start)
		return
	}
	if outcome.Status != task.StatusSucceeded {
		c.persistFlowState(t.ID, results)
		c.handleFlowFailure(ctx, t, errSummary(outcome.Summary), start)
		return
	}

	// The result payload must land on the task before the flow state is
	// cleared: once the saved result map is gone, the finalize output it
	// was derived from is no longer recoverable.
	t.Result = outcome.Result
	c.clearFlowState(t.ID)
	c.finish(ctx, t, task.StatusSucceeded, "", start)
}

// persistFlowState saves the completed-step results so a retry attempt
// resumes instead of re-executing. Persistence failure never fails the
// task; the retry just re-runs more steps.
func (c *Controller) persistFlowState(taskID string, results map[flow.StepKind]scheduler.StepResult) {
	if c.flowState == nil || len(results) == 0 {
		return
	}
	if err := c.flowState.Save(taskID, results); err != nil {
		slog.Warn("controller: persist flow results failed", "task_id", taskID, "error", err)
	}
}

func (c *Controller) clearFlowState(taskID string) {
	if c.flowState == nil {
		return
	}
	if err := c.flowState.Delete(taskID); err != nil {
		slog.Warn("controller: clear flow results failed", "task_id", taskID, "error", err)
	}
}

// handleFlowFailure applies task-level retry: if the retry policy says
// to retry, sleep the computed delay and reset the task to queued with
// its attempt counter already incremented by Start(); otherwise mark
// the task failed.
func (c *Controller) handleFlowFailure(ctx context.Context, t *task.Task, flowErr error, start time.Time) {
	decision := retrypolicy.Compute(flowErr, t.Attempts, c.cfg.TaskRetry)
	if !decision.Retry {
		c.finish(ctx, t, task.StatusFailed, flowErr.Error(), start)
		return
	}

	t.LastError = flowErr.Error()
	time.Sleep(time.Duration(decision.DelayMs) * time.Millisecond)
	if err := t.Finish(task.StatusFailed, flowErr.Error()); err != nil {
		slog.Error("controller: cannot mark task failed before retry reset", "task_id", t.ID, "error", err)
		return
	}
	if err := t.ResetForRetry(); err != nil {
		slog.Error("controller: cannot reset task for retry", "task_id", t.ID, "error", err)
		return
	}
	if err := c.tasks.Save(ctx, t); err != nil {
		slog.Error("controller: persist retry reset failed", "task_id", t.ID, "error", err)
	}
	c.taskFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task_kind", string(t.Kind)),
		attribute.Bool("will_retry", true),
	))
}

func (c *Controller) finish(ctx context.Context, t *task.Task, status task.Status, lastError string, start time.Time) {
	if err := t.Finish(status, lastError); err != nil {
		slog.Error("controller: cannot finish task", "task_id", t.ID, "error", err)
		return
	}
	if err := c.tasks.Save(ctx, t); err != nil {
		slog.Error("controller: persist terminal status failed", "task_id", t.ID, "error", err)
	}

	c.taskDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
		attribute.String("task_kind", string(t.Kind)),
		attribute.String("status", string(status)),
	))
	if status == task.StatusSucceeded {
		c.taskSuccesses.Add(ctx, 1, metric.WithAttributes(attribute.String("task_kind", string(t.Kind))))
	} else {
		c.taskFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("task_kind", string(t.Kind)),
			attribute.Bool("will_retry", false),
		))
	}
	slog.Info("controller: task finished", "task_id", t.ID, "status", status, "attempts", t.Attempts)
}

type flowError string

func (e flowError) Error() string { return string(e) }

func errSummary(s string) error { return flowError(s) }

// RegisterExecutors registers every executor in set on reg under its
// step kind. cmd/mediaworker builds its registry with reg.Register
// directly and does not call it.
func RegisterExecutors(reg *stepexec.Registry, set map[flow.StepKind]stepexec.Executor) {
	for kind, ex := range set {
		reg.Register(kind, ex)
	}
}

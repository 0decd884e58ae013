// Package stepexec implements the step executors: one executor per
// step kind, each validating input, consulting the artifact cache,
// calling an external boundary on a miss, normalizing the response,
// and persisting through the idempotent-upsert path.
package stepexec

import (
	"context"
	"fmt"

	"github.com/dastron/mediaworker/internal/flow"
)

// ProgressFunc receives a step's 0..100 progress updates.
type ProgressFunc func(pct int)

// Input is the common shape every executor receives: the step's own
// declared input, plus the outputs of its already-completed
// dependencies so data can flow along DAG edges.
type Input struct {
	TaskID   string
	MediaID  string
	Payload  map[string]any
	DepOut   map[flow.StepKind]map[string]any
	Progress ProgressFunc
}

// Dep fetches a named field from a dependency's committed output.
func (in Input) Dep(kind flow.StepKind, field string) (any, bool) {
	out, ok := in.DepOut[kind]
	if !ok {
		return nil, false
	}
	v, ok := out[field]
	return v, ok
}

// Executor is the shared per-step-kind contract. Errors returned must
// already be classified via internal/errs (terminal vs retryable) so
// the scheduler can apply the Retry Policy without re-inspecting the
// error's origin.
type Executor interface {
	Execute(ctx context.Context, in Input) (map[string]any, error)
}

// Registry dispatches a flow.StepKind to its Executor.
type Registry struct {
	executors map[flow.StepKind]Executor
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[flow.StepKind]Executor)}
}

// Register binds kind to executor, overwriting any prior binding.
func (r *Registry) Register(kind flow.StepKind, executor Executor) {
	r.executors[kind] = executor
}

// Get looks up the executor for kind.
func (r *Registry) Get(kind flow.StepKind) (Executor, error) {
	e, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("stepexec: no executor registered for step kind %q", kind)
	}
	return e, nil
}

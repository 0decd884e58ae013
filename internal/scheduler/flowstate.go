package scheduler

import (
	"github.com/dastron/mediaworker/internal/flow"
	"github.com/dastron/mediaworker/internal/store/boltstore"
)

// FlowStateStore persists a FlowJob's completed-step result map across
// task attempts: a subsequent attempt of the same task loads the map
// and skips every step already completed. Backed by the same bbolt
// store the artifact cache uses.
type FlowStateStore struct {
	store *boltstore.Store
}

// NewFlowStateStore wraps a boltstore.Store as flow-result persistence.
func NewFlowStateStore(store *boltstore.Store) *FlowStateStore {
	return &FlowStateStore{store: store}
}

// Load returns the result map saved for taskID, or an empty map when
// no prior attempt persisted one.
func (s *FlowStateStore) Load(taskID string) (map[flow.StepKind]StepResult, error) {
	results := make(map[flow.StepKind]StepResult)
	_, err := s.store.Get(boltstore.FlowResultsBucket(), taskID, &results)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Save persists the completed entries of results under taskID. Only
// completed step results are authoritative across attempts, so
// failures are not written back.
func (s *FlowStateStore) Save(taskID string, results map[flow.StepKind]StepResult) error {
	completed := make(map[flow.StepKind]StepResult, len(results))
	for kind, rs := range results {
		if rs.Status == StatusCompleted {
			completed[kind] = rs
		}
	}
	return s.store.Put(boltstore.FlowResultsBucket(), taskID, completed)
}

// Delete drops taskID's saved result map. The controller calls it once
// the task succeeds; a failed task's map is left in place.
func (s *FlowStateStore) Delete(taskID string) error {
	return s.store.Delete(boltstore.FlowResultsBucket(), taskID)
}

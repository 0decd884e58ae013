package stepexec

import (
	"context"

	"github.com/dastron/mediaworker/internal/errs"
	"github.com/dastron/mediaworker/internal/external"
	"github.com/dastron/mediaworker/internal/flow"
)

// FinalizeDetectLabelsExecutor is the finalization node of the
// detect-labels flow: it waits on all analysis children and rolls
// their per-provider counts into a single per-media summary record,
// regardless of how many children partial-failed.
type FinalizeDetectLabelsExecutor struct {
	Store external.MetadataStore
}

func (e *FinalizeDetectLabelsExecutor) Execute(ctx context.Context, in Input) (map[string]any, error) {
	mediaID, _ := in.Payload["mediaId"].(string)
	if mediaID == "" {
		return nil, errs.Terminal("invalid finalize-detect-labels input: mediaId is required", nil)
	}

	summary := map[string]any{}
	completed := 0
	for _, kind := range flow.AnalysisSteps {
		counts, ok := in.Dep(kind, "counts")
		if !ok {
			continue
		}
		completed++
		summary[string(kind)] = counts
	}

	if _, err := upsertMediaSummary(ctx, e.Store, mediaID, summary); err != nil {
		return nil, errs.Retryable("persist media summary", err)
	}

	if in.Progress != nil {
		in.Progress(100)
	}

	return map[string]any{
		"mediaId":           mediaID,
		"analysisSummary":   summary,
		"completedChildren": completed,
	}, nil
}

func upsertMediaSummary(ctx context.Context, store external.MetadataStore, mediaID string, summary map[string]any) (string, error) {
	_, err := store.Update(ctx, "media", mediaID, map[string]any{"analysisSummary": summary})
	if err == nil {
		return mediaID, nil
	}
	if err == external.ErrNotFound {
		rec, cerr := store.Create(ctx, "media", map[string]any{"uploadRef": mediaID, "analysisSummary": summary})
		if cerr != nil {
			return "", cerr
		}
		return rec.ID, nil
	}
	return "", err
}

package stepexec

import (
	"context"
	"encoding/json"

	"github.com/dastron/mediaworker/internal/cache"
	"github.com/dastron/mediaworker/internal/errs"
	"github.com/dastron/mediaworker/internal/external"
)

// NormalizeExecutor is the legacy detect-labels sub-path: it re-reads
// the cached label-detection and object-tracking responses and
// produces one unified labelClips set, instead of each analysis step
// persisting its own records directly. Kept reachable behind a config
// flag rather than retired outright, since some deployments of this
// flow still expect the single combined-clip-set shape.
type NormalizeExecutor struct {
	Cache *cache.Cache
}

func (e *NormalizeExecutor) Execute(ctx context.Context, in Input) (map[string]any, error) {
	mediaID, _ := in.Payload["mediaId"].(string)
	version, _ := intField(in.Payload, "version", 1)
	if mediaID == "" {
		return nil, errs.Terminal("invalid normalize input: mediaId is required", nil)
	}

	labelEntry, labelOK, err := e.Cache.Get(mediaID, version, "label-detection")
	if err != nil {
		return nil, errs.Retryable("read label-detection cache", err)
	}
	trackEntry, trackOK, err := e.Cache.Get(mediaID, version, "object-tracking")
	if err != nil {
		return nil, errs.Retryable("read object-tracking cache", err)
	}

	if !labelOK && !trackOK {
		return map[string]any{
			"labelClips": []map[string]any{},
			"summary": map[string]any{
				"shotCount": 0, "objectCount": 0, "personCount": 0, "speechCount": 0,
			},
		}, nil
	}

	var clips []map[string]any
	shotCount, objectCount := 0, 0

	if labelOK && cache.Valid(labelEntry, processorVersion) {
		var resp external.AnalysisResponse
		if err := json.Unmarshal(labelEntry.Response, &resp); err == nil {
			for _, ent := range resp.Entries {
				if !validRange(ent.Start, ent.End) || ent.End-ent.Start < 5 || ent.Confidence < 0.7 {
					continue
				}
				clips = append(clips, map[string]any{"label": ent.Label, "start": ent.Start, "end": ent.End, "confidence": ent.Confidence})
				shotCount++
			}
		}
	}
	if trackOK && cache.Valid(trackEntry, processorVersion) {
		var resp external.AnalysisResponse
		if err := json.Unmarshal(trackEntry.Response, &resp); err == nil {
			for _, ent := range resp.Entries {
				if !validRange(ent.Start, ent.End) || ent.End-ent.Start < 0.5 || ent.Confidence < 0.5 {
					continue
				}
				clips = append(clips, map[string]any{"label": ent.Label, "start": ent.Start, "end": ent.End, "confidence": ent.Confidence, "trackId": ent.TrackID})
				objectCount++
			}
		}
	}

	return map[string]any{
		"labelClips": clips,
		"summary": map[string]any{
			"shotCount":   shotCount,
			"objectCount": objectCount,
			"personCount": 0,
			"speechCount": 0,
		},
	}, nil
}

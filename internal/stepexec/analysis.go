package stepexec

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/dastron/mediaworker/internal/cache"
	"github.com/dastron/mediaworker/internal/errs"
	"github.com/dastron/mediaworker/internal/external"
	"github.com/dastron/mediaworker/internal/hashing"
	"github.com/dastron/mediaworker/internal/upsert"
)

// AnalysisExecutor is the shared shape of the five analysis step
// kinds: cache, provider call, normalize, upsert. One instance is
// configured per provider/feature combination rather than branching on
// step kind internally.
type AnalysisExecutor struct {
	ProviderName string   // cache-key discriminator, e.g. "label-detection"
	Features     []string // passed to AnalyzeVideo; empty + Speech=true means TranscribeAudio
	Speech       bool
	IsTracking   bool // spatial-tracking steps also produce Track records

	Provider external.AnalysisProvider
	Cache    *cache.Cache
	Store    external.MetadataStore
}

func (e *AnalysisExecutor) Execute(ctx context.Context, in Input) (map[string]any, error) {
	mediaID, _ := in.Payload["mediaId"].(string)
	workspace, _ := in.Payload["workspaceRef"].(string)
	version, _ := intField(in.Payload, "version", 1)
	if mediaID == "" {
		return nil, errs.Terminal("invalid analysis input: mediaId is required", nil)
	}

	objectURIAny, ok := in.Dep(flowUpload, "objectUri")
	if !ok {
		return nil, errs.Terminal("analysis: missing objectUri from upload-to-object-store", nil)
	}
	objectURI, ok := objectURIAny.(string)
	if !ok || objectURI == "" {
		return nil, errs.Terminal("analysis: objectUri is not a string", nil)
	}

	start := time.Now()

	entry, found, err := e.Cache.Get(mediaID, version, e.ProviderName)
	if err != nil {
		return nil, errs.Retryable("cache read failed", err)
	}

	var resp external.AnalysisResponse
	cacheHit := found && cache.Valid(entry, processorVersion)

	if cacheHit {
		if err := json.Unmarshal(entry.Response, &resp); err != nil {
			return nil, errs.Terminal("corrupt cache entry", err)
		}
	} else {
		if e.Speech {
			languageCode, _ := in.Payload["languageCode"].(string)
			resp, err = e.Provider.TranscribeAudio(ctx, objectURI, languageCode)
		} else {
			resp, err = e.Provider.AnalyzeVideo(ctx, objectURI, e.Features)
		}
		if err != nil {
			return nil, errs.Retryable("analysis provider call failed", err)
		}

		raw, merr := json.Marshal(resp)
		if merr != nil {
			return nil, errs.Retryable("marshal analysis response", merr)
		}
		if err := e.Cache.Put(mediaID, version, e.ProviderName, processorVersion, e.Features, raw); err != nil {
			return nil, errs.Retryable("cache write failed", err)
		}
	}

	if in.Progress != nil {
		in.Progress(40)
	}

	entities, tracks, clips := normalizeEntries(workspace, mediaID, e.ProviderName, version, resp.Entries, e.IsTracking, e.Speech)

	entityIDs, err := upsertEntities(ctx, e.Store, entities)
	if err != nil {
		return nil, errs.Retryable("upsert entities", err)
	}

	var trackIDs map[string]string
	if e.IsTracking {
		trackIDs, err = upsertTracks(ctx, e.Store, mediaID, version, tracks)
		if err != nil {
			return nil, errs.Retryable("upsert tracks", err)
		}
	}

	clipCount, err := upsertClips(ctx, e.Store, mediaID, version, clips, entityIDs, trackIDs)
	if err != nil {
		return nil, errs.Retryable("upsert clips", err)
	}

	if in.Progress != nil {
		in.Progress(100)
	}

	return map[string]any{
		"success":          true,
		"cacheHit":         cacheHit,
		"processorVersion": processorVersion,
		"processingTimeMs": time.Since(start).Milliseconds(),
		"counts": map[string]any{
			"entities": len(entityIDs),
			"tracks":   len(trackIDs),
			"clips":    clipCount,
		},
	}, nil
}

// flowUpload names the root step every analysis child depends on. It
// holds the same string as flow.StepUploadToObjectStore, declared here
// next to the code that uses it.
const flowUpload = "upload-to-object-store"

type normalizedEntity struct {
	hash string
	name string
}

type normalizedTrack struct {
	hash    string
	trackID string
}

type normalizedClip struct {
	hash       string
	entityHash string
	trackHash  string
	labelType  string
	start, end float64
	confidence float64
	segment    bool // true for segment-label clips (label-only: neither tracking nor speech)
}

// normalizeEntries applies the quality filters and produces the
// entity/track/clip record sets. Segment-label clips carry stricter
// thresholds (5s, 0.7 confidence) than tracking-derived ones (0.5s,
// 0.5).
func normalizeEntries(workspace, mediaID, labelType string, version int, entries []external.AnalysisEntry, tracking, speech bool) ([]normalizedEntity, []normalizedTrack, []normalizedClip) {
	seenEntities := map[string]normalizedEntity{}
	seenTracks := map[string]normalizedTrack{}
	var clips []normalizedClip

	for _, ent := range entries {
		if !validRange(ent.Start, ent.End) {
			continue
		}
		if ent.Confidence < 0 || ent.Confidence > 1 {
			continue
		}

		segment := !tracking && !speech
		minDuration := 0.5
		minConfidence := 0.5
		if segment {
			minDuration = 5.0
			minConfidence = 0.7
		}

		duration := ent.End - ent.Start
		if duration <= 0 || duration < minDuration {
			continue
		}
		if ent.Confidence < minConfidence {
			continue
		}

		label := ent.Label
		if speech {
			label = ent.Text
		}

		eHash := hashing.EntityHash(workspace, labelType, label, labelType)
		if _, ok := seenEntities[eHash]; !ok {
			seenEntities[eHash] = normalizedEntity{hash: eHash, name: label}
		}

		var tHash string
		if tracking && ent.TrackID != "" {
			tHash = hashing.TrackHash(mediaID, ent.TrackID, version, labelType)
			if _, ok := seenTracks[tHash]; !ok {
				seenTracks[tHash] = normalizedTrack{hash: tHash, trackID: ent.TrackID}
			}
		}

		clipHash := hashing.ClipHash(mediaID, labelType, label, ent.Start, ent.End, version)
		clips = append(clips, normalizedClip{
			hash:       clipHash,
			entityHash: eHash,
			trackHash:  tHash,
			labelType:  labelType,
			start:      ent.Start,
			end:        ent.End,
			confidence: ent.Confidence,
			segment:    segment,
		})
	}

	entities := make([]normalizedEntity, 0, len(seenEntities))
	for _, e := range seenEntities {
		entities = append(entities, e)
	}
	tracks := make([]normalizedTrack, 0, len(seenTracks))
	for _, tr := range seenTracks {
		tracks = append(tracks, tr)
	}
	return entities, tracks, clips
}

func validRange(start, end float64) bool {
	if math.IsNaN(start) || math.IsNaN(end) || math.IsInf(start, 0) || math.IsInf(end, 0) {
		return false
	}
	if start < 0 || end < 0 {
		return false
	}
	return start < end
}

func upsertEntities(ctx context.Context, store external.MetadataStore, entities []normalizedEntity) (map[string]string, error) {
	ids := make(map[string]string, len(entities))
	for _, ent := range entities {
		res, err := upsert.Upsert(ctx, store, "entities", "hash", ent.hash, ent, entityCmp{})
		if err != nil {
			return nil, err
		}
		ids[ent.hash] = res.ID
	}
	return ids, nil
}

type entityCmp struct{}

func (entityCmp) Equal(existing external.Record, payload normalizedEntity) bool {
	return existing.Fields["name"] == payload.name
}

func (entityCmp) Fields(payload normalizedEntity) map[string]any {
	return map[string]any{"hash": payload.hash, "name": payload.name}
}

func upsertTracks(ctx context.Context, store external.MetadataStore, mediaID string, version int, tracks []normalizedTrack) (map[string]string, error) {
	ids := make(map[string]string, len(tracks))
	for _, tr := range tracks {
		res, err := upsert.Upsert(ctx, store, "tracks", "hash", tr.hash, tr, trackCmp{})
		if err != nil {
			return nil, err
		}
		ids[tr.hash] = res.ID
	}
	return ids, nil
}

type trackCmp struct{}

func (trackCmp) Equal(existing external.Record, payload normalizedTrack) bool {
	return existing.Fields["trackId"] == payload.trackID
}

func (trackCmp) Fields(payload normalizedTrack) map[string]any {
	return map[string]any{"hash": payload.hash, "trackId": payload.trackID}
}

// upsertClips persists the clip set through the batch upsert path:
// individual hard failures are counted in the batch summary rather
// than aborting the remaining clips, per the batching contract.
func upsertClips(ctx context.Context, store external.MetadataStore, mediaID string, version int, clips []normalizedClip, entityIDs, trackIDs map[string]string) (int, error) {
	items := make([]upsert.Item[normalizedClip], 0, len(clips))
	for _, c := range clips {
		fields := map[string]any{
			"hash":       c.hash,
			"entityId":   entityIDs[c.entityHash],
			"labelType":  c.labelType,
			"start":      c.start,
			"end":        c.end,
			"confidence": c.confidence,
		}
		if c.trackHash != "" {
			fields["trackId"] = trackIDs[c.trackHash]
		}
		items = append(items, upsert.Item[normalizedClip]{
			DedupField: "hash",
			DedupValue: c.hash,
			Payload:    c,
			Comparator: clipCmp{fields: fields},
		})
	}

	results, summary := upsert.UpsertBatch(ctx, store, "clips", items, upsert.DefaultBatchSize)
	if summary.HardErrors > 0 && len(results) == 0 {
		return 0, summary.Errors[0]
	}
	return len(results), nil
}

type clipCmp struct {
	fields map[string]any
}

func (c clipCmp) Equal(existing external.Record, _ normalizedClip) bool {
	return existing.Fields["confidence"] == c.fields["confidence"]
}

func (c clipCmp) Fields(_ normalizedClip) map[string]any {
	return c.fields
}

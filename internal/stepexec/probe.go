package stepexec

import (
	"context"

	"github.com/dastron/mediaworker/internal/errs"
	"github.com/dastron/mediaworker/internal/external"
	"github.com/dastron/mediaworker/internal/upsert"
)

// ProbeExecutor inspects the input file, creating a version-1 Media
// record if absent.
type ProbeExecutor struct {
	Media external.MediaTool
	Store external.MetadataStore
}

func (e *ProbeExecutor) Execute(ctx context.Context, in Input) (map[string]any, error) {
	filePath, _ := in.Payload["filePath"].(string)
	uploadID, _ := in.Payload["uploadId"].(string)
	if filePath == "" || uploadID == "" {
		return nil, errs.Terminal("invalid probe input: filePath and uploadId are required", nil)
	}

	probe, err := e.Media.Probe(ctx, filePath)
	if err != nil {
		return nil, errs.Retryable("probe tool failure", err)
	}
	if probe.Width == 0 || probe.Height == 0 {
		return nil, errs.Terminal("probe found no video stream", nil)
	}

	if in.Progress != nil {
		in.Progress(50)
	}

	mediaID, err := upsertMediaV1(ctx, e.Store, uploadID, probe)
	if err != nil {
		return nil, errs.Retryable("register media record", err)
	}

	if in.Progress != nil {
		in.Progress(100)
	}

	return map[string]any{
		"probe":   probeToMap(probe),
		"mediaId": mediaID,
	}, nil
}

// upsertMediaV1 creates the Media record with version=1 if absent,
// keyed by its upload reference, using the same idempotent-upsert
// discipline the rest of the engine uses for every collection.
func upsertMediaV1(ctx context.Context, store external.MetadataStore, uploadID string, probe external.Probe) (string, error) {
	res, err := upsert.Upsert(ctx, store, "media", "uploadRef", uploadID, mediaPayload{
		UploadRef: uploadID,
		Version:   1,
		Duration:  probe.Duration,
		Width:     probe.Width,
		Height:    probe.Height,
		Codec:     probe.Codec,
	}, mediaComparator{})
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

type mediaPayload struct {
	UploadRef string
	Version   int
	Duration  float64
	Width     int
	Height    int
	Codec     string
}

type mediaComparator struct{}

func (mediaComparator) Equal(existing external.Record, payload mediaPayload) bool {
	return existing.Fields["uploadRef"] == payload.UploadRef
}

func (mediaComparator) Fields(payload mediaPayload) map[string]any {
	return map[string]any{
		"uploadRef": payload.UploadRef,
		"version":   payload.Version,
		"duration":  payload.Duration,
		"width":     payload.Width,
		"height":    payload.Height,
		"codec":     payload.Codec,
	}
}

func probeToMap(p external.Probe) map[string]any {
	return map[string]any{
		"duration": p.Duration,
		"width":    p.Width,
		"height":   p.Height,
		"codec":    p.Codec,
		"fps":      p.FPS,
		"bitrate":  p.Bitrate,
		"format":   p.Format,
		"size":     p.Size,
		"audio":    p.Audio,
	}
}

// probeFromMap tolerates both in-memory outputs (ints stay ints) and
// outputs resumed through a JSON round-trip (numbers become float64).
func probeFromMap(m map[string]any) external.Probe {
	p := external.Probe{}
	if v, ok := m["duration"].(float64); ok {
		p.Duration = v
	}
	p.Width, _ = intField(m, "width", 0)
	p.Height, _ = intField(m, "height", 0)
	if v, ok := m["codec"].(string); ok {
		p.Codec = v
	}
	if v, ok := m["fps"].(float64); ok {
		p.FPS = v
	}
	return p
}

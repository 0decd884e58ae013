package stepexec

import (
	"context"
	"fmt"

	"github.com/dastron/mediaworker/internal/errs"
	"github.com/dastron/mediaworker/internal/external"
	"github.com/dastron/mediaworker/internal/hashing"
)

// ThumbnailExecutor extracts a single frame at the configured (or
// midpoint) timestamp, named deterministically by its config hash.
type ThumbnailExecutor struct {
	Media external.MediaTool
	Blob  external.BlobStore
}

func (e *ThumbnailExecutor) Execute(ctx context.Context, in Input) (map[string]any, error) {
	filePath, _ := in.Payload["filePath"].(string)
	uploadID, _ := in.Payload["uploadId"].(string)
	if filePath == "" || uploadID == "" {
		return nil, errs.Terminal("invalid thumbnail input: filePath and uploadId are required", nil)
	}

	probeOut, ok := in.Dep("probe", "probe")
	if !ok {
		return nil, errs.Terminal("thumbnail: missing probe output", nil)
	}
	probeMap, ok := probeOut.(map[string]any)
	if !ok {
		return nil, errs.Terminal("thumbnail: malformed probe output", nil)
	}
	probe := probeFromMap(probeMap)

	cfg, _ := in.Payload["thumbnail"].(map[string]any)
	width, _ := intField(cfg, "width", 320)
	height, _ := intField(cfg, "height", 180)

	t := probe.Duration / 2
	if ts, ok := cfg["timestamp"]; ok {
		if f, ok := ts.(float64); ok {
			t = f
		}
	}
	pick := pickTime(t, probe.Duration)

	key := hashing.ConfigHash(fmt.Sprintf("%.3f", pick), fmt.Sprintf("%d", width), fmt.Sprintf("%d", height))
	name := fmt.Sprintf("thumbnail_%s_%s.jpg", uploadID, key)

	data, err := e.Media.Thumbnail(ctx, filePath, pick, width, height)
	if err != nil {
		return nil, errs.Retryable("thumbnail generation failed", err)
	}

	path := "media/" + uploadID + "/" + name
	if err := e.Blob.Put(ctx, path, data); err != nil {
		return nil, errs.Retryable("thumbnail blob write failed", err)
	}

	if in.Progress != nil {
		in.Progress(100)
	}

	return map[string]any{"thumbnailPath": path}, nil
}

// pickTime clamps the requested frame time: min(max(t,0), duration-1).
func pickTime(t, duration float64) float64 {
	if t < 0 {
		t = 0
	}
	max := duration - 1
	if max < 0 {
		max = 0
	}
	if t > max {
		t = max
	}
	return t
}

func intField(m map[string]any, key string, def int) (int, bool) {
	if m == nil {
		return def, false
	}
	switch v := m[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return def, false
	}
}

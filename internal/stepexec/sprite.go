package stepexec

import (
	"context"
	"fmt"

	"github.com/dastron/mediaworker/internal/errs"
	"github.com/dastron/mediaworker/internal/external"
	"github.com/dastron/mediaworker/internal/hashing"
)

// SpriteExecutor renders a tiled preview sheet, named
// deterministically by its config hash.
type SpriteExecutor struct {
	Media external.MediaTool
	Blob  external.BlobStore
}

func (e *SpriteExecutor) Execute(ctx context.Context, in Input) (map[string]any, error) {
	filePath, _ := in.Payload["filePath"].(string)
	uploadID, _ := in.Payload["uploadId"].(string)
	if filePath == "" || uploadID == "" {
		return nil, errs.Terminal("invalid sprite input: filePath and uploadId are required", nil)
	}

	cfg, _ := in.Payload["sprite"].(map[string]any)
	fps := floatField(cfg, "fps", 1)
	cols, _ := intField(cfg, "cols", 10)
	rows, _ := intField(cfg, "rows", 10)
	tileW, _ := intField(cfg, "tileWidth", 160)
	tileH, _ := intField(cfg, "tileHeight", 90)

	key := hashing.ConfigHash(
		fmt.Sprintf("%.3f", fps),
		fmt.Sprintf("%d", cols), fmt.Sprintf("%d", rows),
		fmt.Sprintf("%d", tileW), fmt.Sprintf("%d", tileH),
	)
	name := fmt.Sprintf("sprite_%s_%s.jpg", uploadID, key)

	data, err := e.Media.Sprite(ctx, filePath, fps, cols, rows, tileW, tileH)
	if err != nil {
		return nil, errs.Retryable("sprite generation failed", err)
	}

	path := "media/" + uploadID + "/" + name
	if err := e.Blob.Put(ctx, path, data); err != nil {
		return nil, errs.Retryable("sprite blob write failed", err)
	}

	if in.Progress != nil {
		in.Progress(100)
	}

	return map[string]any{"spritePath": path}, nil
}

func floatField(m map[string]any, key string, def float64) float64 {
	if m == nil {
		return def
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

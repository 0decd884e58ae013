package stepexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/dastron/mediaworker/internal/errs"
	"github.com/dastron/mediaworker/internal/external"
	"github.com/dastron/mediaworker/internal/resilience"
)

// TranscodeExecutor renders the proxy rendition, skipping entirely
// when the task disables transcoding.
type TranscodeExecutor struct {
	Media external.MediaTool
	Blob  external.BlobStore
}

func (e *TranscodeExecutor) Execute(ctx context.Context, in Input) (map[string]any, error) {
	enabled, _ := in.Payload["transcode"].(map[string]any)
	if on, ok := enabled["enabled"].(bool); ok && !on {
		return map[string]any{}, nil
	}

	filePath, _ := in.Payload["filePath"].(string)
	uploadID, _ := in.Payload["uploadId"].(string)
	if filePath == "" || uploadID == "" {
		return nil, errs.Terminal("invalid transcode input: filePath and uploadId are required", nil)
	}

	probeOut, ok := in.Dep("probe", "probe")
	if !ok {
		return nil, errs.Terminal("transcode: missing probe output", nil)
	}
	probeMap, ok := probeOut.(map[string]any)
	if !ok {
		return nil, errs.Terminal("transcode: malformed probe output", nil)
	}
	probe := probeFromMap(probeMap)

	codec, _ := enabled["codec"].(string)
	resolution, _ := enabled["resolution"].(string)
	bitrate, _ := intField(enabled, "bitrate", 0)

	if _, _, err := resolveDimensions(resolution, probe); err != nil {
		return nil, errs.Terminal(err.Error(), nil)
	}

	data, err := e.Media.Transcode(ctx, filePath, external.TranscodeConfig{
		Codec:      codec,
		Resolution: resolution,
		Bitrate:    bitrate,
	}, external.ProgressFunc(in.Progress))
	if err != nil {
		var breakerOpen *resilience.ErrOpen
		var rateLimited *resilience.ErrRateLimited
		if errors.As(err, &breakerOpen) || errors.As(err, &rateLimited) {
			return nil, errs.Retryable("transcode backend unavailable", err)
		}
		// A transcode-tool rejection here is a codec-configuration
		// problem, not a transient fault.
		return nil, errs.Terminal("unknown codec", err)
	}

	path := "media/" + uploadID + "/proxy_" + resolution + ".mp4"
	if err := e.Blob.Put(ctx, path, data); err != nil {
		return nil, errs.Retryable("transcode blob write failed", err)
	}

	return map[string]any{"proxyPath": path}, nil
}

// resolveDimensions maps a resolution name to pixel dimensions.
func resolveDimensions(resolution string, probe external.Probe) (width, height int, err error) {
	switch resolution {
	case "720p":
		return 1280, 720, nil
	case "1080p":
		return 1920, 1080, nil
	case "original":
		return probe.Width, probe.Height, nil
	default:
		return 0, 0, fmt.Errorf("unknown resolution %q", resolution)
	}
}

package external

import (
	"context"
	"fmt"
)

// Probe is the output of inspecting a media file.
type Probe struct {
	Duration float64
	Width    int
	Height   int
	Codec    string
	FPS      float64
	Bitrate  int
	Format   string
	Size     int64
	Audio    string
}

// TranscodeConfig is the tuning input for the Transcode step.
type TranscodeConfig struct {
	Codec      string
	Resolution string // "720p" | "1080p" | "original"
	Bitrate    int
}

// ProgressFunc receives monotonically increasing 0..100 progress
// updates from a long-running external operation.
type ProgressFunc func(pct int)

// MediaTool is the boundary interface onto the external media
// processing backend: probe, thumbnail, sprite, transcode.
type MediaTool interface {
	Probe(ctx context.Context, filePath string) (Probe, error)
	Thumbnail(ctx context.Context, filePath string, at float64, width, height int) ([]byte, error)
	Sprite(ctx context.Context, filePath string, fps float64, cols, rows, tileW, tileH int) ([]byte, error)
	Transcode(ctx context.Context, filePath string, cfg TranscodeConfig, progress ProgressFunc) ([]byte, error)
}

// FakeMediaTool returns deterministic synthetic media characteristics
// keyed by file path, so tests can assert exact probe/output shapes
// without a real media-processing backend.
type FakeMediaTool struct {
	Probes map[string]Probe
}

// NewFakeMediaTool seeds the fake with one probe result per file path.
func NewFakeMediaTool(probes map[string]Probe) *FakeMediaTool {
	return &FakeMediaTool{Probes: probes}
}

func (f *FakeMediaTool) Probe(_ context.Context, filePath string) (Probe, error) {
	p, ok := f.Probes[filePath]
	if !ok {
		return Probe{}, fmt.Errorf("fake media tool: no probe fixture for %s", filePath)
	}
	return p, nil
}

func (f *FakeMediaTool) Thumbnail(_ context.Context, filePath string, at float64, width, height int) ([]byte, error) {
	return []byte(fmt.Sprintf("thumbnail:%s:%.3f:%dx%d", filePath, at, width, height)), nil
}

func (f *FakeMediaTool) Sprite(_ context.Context, filePath string, fps float64, cols, rows, tileW, tileH int) ([]byte, error) {
	return []byte(fmt.Sprintf("sprite:%s:%.2f:%dx%d:%dx%d", filePath, fps, cols, rows, tileW, tileH)), nil
}

func (f *FakeMediaTool) Transcode(_ context.Context, filePath string, cfg TranscodeConfig, progress ProgressFunc) ([]byte, error) {
	if cfg.Codec == "" || cfg.Codec == "unknown" {
		return nil, fmt.Errorf("transcode: unsupported codec %q", cfg.Codec)
	}
	if progress != nil {
		progress(50)
		progress(100)
	}
	return []byte(fmt.Sprintf("proxy:%s:%s:%s", filePath, cfg.Codec, cfg.Resolution)), nil
}

package external

import (
	"context"

	"github.com/dastron/mediaworker/internal/resilience"
)

// GuardedMediaTool wraps a MediaTool behind a circuit breaker and rate
// limiter, so a struggling media-processing backend doesn't get
// hammered by every concurrently-running flow's retries.
type GuardedMediaTool struct {
	Inner   MediaTool
	Breaker *resilience.CircuitBreaker
	Limiter *resilience.RateLimiter
}

func (g *GuardedMediaTool) guard(ctx context.Context, call func() error) error {
	if g.Limiter != nil && !g.Limiter.Allow() {
		return &resilience.ErrRateLimited{Name: "media-tool"}
	}
	if g.Breaker == nil {
		return call()
	}
	return g.Breaker.Call(ctx, call)
}

func (g *GuardedMediaTool) Probe(ctx context.Context, filePath string) (Probe, error) {
	var out Probe
	err := g.guard(ctx, func() error {
		var callErr error
		out, callErr = g.Inner.Probe(ctx, filePath)
		return callErr
	})
	return out, err
}

func (g *GuardedMediaTool) Thumbnail(ctx context.Context, filePath string, at float64, width, height int) ([]byte, error) {
	var out []byte
	err := g.guard(ctx, func() error {
		var callErr error
		out, callErr = g.Inner.Thumbnail(ctx, filePath, at, width, height)
		return callErr
	})
	return out, err
}

func (g *GuardedMediaTool) Sprite(ctx context.Context, filePath string, fps float64, cols, rows, tileW, tileH int) ([]byte, error) {
	var out []byte
	err := g.guard(ctx, func() error {
		var callErr error
		out, callErr = g.Inner.Sprite(ctx, filePath, fps, cols, rows, tileW, tileH)
		return callErr
	})
	return out, err
}

func (g *GuardedMediaTool) Transcode(ctx context.Context, filePath string, cfg TranscodeConfig, progress ProgressFunc) ([]byte, error) {
	var out []byte
	err := g.guard(ctx, func() error {
		var callErr error
		out, callErr = g.Inner.Transcode(ctx, filePath, cfg, progress)
		return callErr
	})
	return out, err
}

// GuardedAnalysisProvider applies the same breaker+limiter discipline
// to the analysis/speech boundary, which is the one most likely to carry
// a real per-minute cloud-API quota.
type GuardedAnalysisProvider struct {
	Inner   AnalysisProvider
	Breaker *resilience.CircuitBreaker
	Limiter *resilience.RateLimiter
}

func (g *GuardedAnalysisProvider) guard(ctx context.Context, call func() error) error {
	if g.Limiter != nil && !g.Limiter.Allow() {
		return &resilience.ErrRateLimited{Name: "analysis-provider"}
	}
	if g.Breaker == nil {
		return call()
	}
	return g.Breaker.Call(ctx, call)
}

func (g *GuardedAnalysisProvider) AnalyzeVideo(ctx context.Context, uri string, features []string) (AnalysisResponse, error) {
	var out AnalysisResponse
	err := g.guard(ctx, func() error {
		var callErr error
		out, callErr = g.Inner.AnalyzeVideo(ctx, uri, features)
		return callErr
	})
	return out, err
}

func (g *GuardedAnalysisProvider) TranscribeAudio(ctx context.Context, uri string, languageCode string) (AnalysisResponse, error) {
	var out AnalysisResponse
	err := g.guard(ctx, func() error {
		var callErr error
		out, callErr = g.Inner.TranscribeAudio(ctx, uri, languageCode)
		return callErr
	})
	return out, err
}

// Command mediaworker is the media task orchestration worker's process
// entrypoint: it wires the task controller, flow scheduler, step
// executor registry, artifact cache, and the logging/tracing stack
// into a running service.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dastron/mediaworker/internal/cache"
	"github.com/dastron/mediaworker/internal/config"
	"github.com/dastron/mediaworker/internal/controller"
	"github.com/dastron/mediaworker/internal/external"
	"github.com/dastron/mediaworker/internal/flow"
	"github.com/dastron/mediaworker/internal/logging"
	"github.com/dastron/mediaworker/internal/otelinit"
	"github.com/dastron/mediaworker/internal/queue"
	"github.com/dastron/mediaworker/internal/resilience"
	"github.com/dastron/mediaworker/internal/scheduler"
	"github.com/dastron/mediaworker/internal/stepexec"
	"github.com/dastron/mediaworker/internal/store/boltstore"
	"github.com/dastron/mediaworker/internal/task"
)

const serviceName = "media-worker"

func main() {
	logging.Init(serviceName)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()

	shutdownTrace := otelinit.InitTracer(ctx, serviceName)
	shutdownMetrics, _ := otelinit.InitMetrics(ctx, serviceName)

	boltStore, err := boltstore.Open(cfg.BoltDBPath)
	if err != nil {
		slog.Error("open boltdb store", "error", err)
		return
	}
	defer boltStore.Close()

	artifactCache := cache.New(boltStore)

	metadataStore := external.NewMemoryMetadataStore(map[string][]string{
		"entities": {"hash"},
		"tracks":   {"hash"},
		"clips":    {"hash"},
		"media":    {"uploadRef"},
	})
	blobStore, err := external.NewLocalBlobStore(cfg.BlobBucket)
	if err != nil {
		slog.Error("init blob store", "error", err)
		return
	}
	var mediaTool external.MediaTool = external.NewFakeMediaTool(nil)
	var analysisProvider external.AnalysisProvider = external.NewFakeAnalysisProvider()
	mediaTool, analysisProvider = guardBoundaries(cfg.Resilience, mediaTool, analysisProvider)

	registry := buildRegistry(metadataStore, blobStore, mediaTool, analysisProvider, artifactCache)
	sched := scheduler.New(registry, cfg.MaxWorkers)
	flowState := scheduler.NewFlowStateStore(boltStore)

	taskStore := task.NewStore(metadataStore)

	taskQueue, err := connectQueue(cfg)
	if err != nil {
		slog.Warn("connect task queue failed, falling back to poll-only mode", "error", err)
		taskQueue = nil
	}
	if taskQueue != nil {
		defer closeQueue(taskQueue)
	}

	ctrl := controller.New(cfg, taskStore, sched, flowState, taskQueue)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server error", "error", err)
		}
	}()

	slog.Info("media worker started",
		"poll_interval", cfg.PollInterval,
		"max_workers", cfg.MaxWorkers,
		"max_task_batch", cfg.MaxTaskBatch,
	)

	if err := ctrl.Run(ctx); err != nil {
		slog.Error("controller run loop exited with error", "error", err)
	}

	slog.Info("shutdown initiated")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)
	slog.Info("shutdown complete")
}

// guardBoundaries wraps the MediaTool/AnalysisProvider boundaries with
// a circuit breaker and rate limiter before they reach the registry.
func guardBoundaries(cfg config.ResilienceConfig, media external.MediaTool, analysis external.AnalysisProvider) (external.MediaTool, external.AnalysisProvider) {
	mediaBreaker := resilience.NewCircuitBreaker("media-tool", cfg.BreakerMinSamples, cfg.BreakerFailureRateOpen, cfg.BreakerHalfOpenAfter, cfg.BreakerMaxHalfOpenProbes)
	mediaLimiter := resilience.NewRateLimiter("media-tool", cfg.MediaToolRateLimit, cfg.MediaToolRateFillRate)
	analysisBreaker := resilience.NewCircuitBreaker("analysis-provider", cfg.BreakerMinSamples, cfg.BreakerFailureRateOpen, cfg.BreakerHalfOpenAfter, cfg.BreakerMaxHalfOpenProbes)
	analysisLimiter := resilience.NewRateLimiter("analysis-provider", cfg.AnalysisRateLimit, cfg.AnalysisRateFillRate)

	return &external.GuardedMediaTool{
			Inner:   media,
			Breaker: mediaBreaker,
			Limiter: mediaLimiter,
		}, &external.GuardedAnalysisProvider{
			Inner:   analysis,
			Breaker: analysisBreaker,
			Limiter: analysisLimiter,
		}
}

// buildRegistry binds every step kind to its executor.
func buildRegistry(
	store external.MetadataStore,
	blob external.BlobStore,
	media external.MediaTool,
	analysis external.AnalysisProvider,
	artifactCache *cache.Cache,
) *stepexec.Registry {
	reg := stepexec.NewRegistry()

	reg.Register(flow.StepProbe, &stepexec.ProbeExecutor{Media: media, Store: store})
	reg.Register(flow.StepThumbnail, &stepexec.ThumbnailExecutor{Media: media, Blob: blob})
	reg.Register(flow.StepSprite, &stepexec.SpriteExecutor{Media: media, Blob: blob})
	reg.Register(flow.StepTranscode, &stepexec.TranscodeExecutor{Media: media, Blob: blob})
	reg.Register(flow.StepFinalize, &stepexec.FinalizeExecutor{Store: store})

	reg.Register(flow.StepUploadToObjectStore, &stepexec.UploadToObjectStoreExecutor{Blob: blob})

	reg.Register(flow.StepLabelDetection, &stepexec.AnalysisExecutor{
		ProviderName: "label-detection",
		Features:     []string{"LABEL_DETECTION"},
		Provider:     analysis,
		Cache:        artifactCache,
		Store:        store,
	})
	reg.Register(flow.StepObjectTracking, &stepexec.AnalysisExecutor{
		ProviderName: "object-tracking",
		Features:     []string{"OBJECT_TRACKING"},
		IsTracking:   true,
		Provider:     analysis,
		Cache:        artifactCache,
		Store:        store,
	})
	reg.Register(flow.StepFaceDetection, &stepexec.AnalysisExecutor{
		ProviderName: "face-detection",
		Features:     []string{"FACE_DETECTION"},
		IsTracking:   true,
		Provider:     analysis,
		Cache:        artifactCache,
		Store:        store,
	})
	reg.Register(flow.StepPersonDetection, &stepexec.AnalysisExecutor{
		ProviderName: "person-detection",
		Features:     []string{"PERSON_DETECTION"},
		IsTracking:   true,
		Provider:     analysis,
		Cache:        artifactCache,
		Store:        store,
	})
	reg.Register(flow.StepSpeechTranscription, &stepexec.AnalysisExecutor{
		ProviderName: "speech-transcription",
		Speech:       true,
		Provider:     analysis,
		Cache:        artifactCache,
		Store:        store,
	})

	reg.Register(flow.StepFinalizeDetectLabels, &stepexec.FinalizeDetectLabelsExecutor{Store: store})
	reg.Register(flow.StepNormalizeLegacy, &stepexec.NormalizeExecutor{Cache: artifactCache})

	return reg
}

// queueHandle lets main close either a real NATS connection or leave a
// nil no-op when no broker is configured/reachable.
type queueHandle interface {
	queue.Consumer
	Close()
}

func connectQueue(cfg config.Config) (queueHandle, error) {
	q, err := queue.NewNATSQueue(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func closeQueue(q queueHandle) {
	q.Close()
}

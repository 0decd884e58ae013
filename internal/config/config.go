// Package config reads the worker's environment-derived configuration
// into a typed struct once at startup.
package config

import (
	"os"
	"strconv"
	"time"
)

// RetryConfig tunes one retry loop: attempt ceiling, exponential
// delay curve, and jitter.
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	BaseDelay    time.Duration `json:"base_delay_ms"`
	MaxDelay     time.Duration `json:"max_delay_ms"`
	JitterFactor float64       `json:"jitter_factor"`
}

// ProviderFlags enables/disables individual analysis providers for the
// detect-labels flow.
type ProviderFlags struct {
	LabelDetection      bool
	ObjectTracking      bool
	FaceDetection       bool
	PersonDetection     bool
	SpeechTranscription bool

	// LegacyNormalize gates the legacy normalize+store sub-path, kept
	// reachable alongside per-analysis persistence rather than retired.
	LegacyNormalize bool
}

// ResilienceConfig tunes the circuit breaker and rate limiter guarding
// the MediaTool/AnalysisProvider boundaries.
type ResilienceConfig struct {
	BreakerMinSamples        int
	BreakerFailureRateOpen   float64
	BreakerHalfOpenAfter     time.Duration
	BreakerMaxHalfOpenProbes int

	MediaToolRateLimit     int
	MediaToolRateFillRate  float64
	AnalysisRateLimit      int
	AnalysisRateFillRate   float64
}

// Config is the full environment-derived configuration surface.
type Config struct {
	PollInterval  time.Duration
	MaxTaskBatch  int
	MaxWorkers    int
	TaskRetry     RetryConfig
	StepRetry     RetryConfig
	StepTimeout   time.Duration // 0 disables the per-step timeout
	Providers     ProviderFlags
	Resilience    ResilienceConfig
	BlobBucket    string
	MediaPathTmpl string

	BoltDBPath  string
	NATSURL     string
	NATSSubject string
}

// Load reads Config from the environment, applying defaults for
// anything unset.
func Load() Config {
	return Config{
		PollInterval: durationMsEnv("MEDIAWORKER_POLL_INTERVAL_MS", 5000*time.Millisecond),
		MaxTaskBatch: intEnv("MEDIAWORKER_MAX_TASK_BATCH", 10),
		MaxWorkers:   intEnv("MEDIAWORKER_MAX_WORKERS", 4),
		TaskRetry: RetryConfig{
			MaxAttempts:  intEnv("MEDIAWORKER_TASK_RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:    durationMsEnv("MEDIAWORKER_TASK_RETRY_BASE_DELAY_MS", 5000*time.Millisecond),
			MaxDelay:     durationMsEnv("MEDIAWORKER_TASK_RETRY_MAX_DELAY_MS", 300000*time.Millisecond),
			JitterFactor: floatEnv("MEDIAWORKER_TASK_RETRY_JITTER", 0.1),
		},
		StepRetry: RetryConfig{
			MaxAttempts:  intEnv("MEDIAWORKER_STEP_RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:    durationMsEnv("MEDIAWORKER_STEP_RETRY_BASE_DELAY_MS", 1000*time.Millisecond),
			MaxDelay:     durationMsEnv("MEDIAWORKER_STEP_RETRY_MAX_DELAY_MS", 60000*time.Millisecond),
			JitterFactor: floatEnv("MEDIAWORKER_STEP_RETRY_JITTER", 0.1),
		},
		StepTimeout: durationMsEnv("MEDIAWORKER_STEP_TIMEOUT_MS", 0),
		Providers: ProviderFlags{
			LabelDetection:      boolEnv("MEDIAWORKER_PROVIDER_LABEL_DETECTION", true),
			ObjectTracking:      boolEnv("MEDIAWORKER_PROVIDER_OBJECT_TRACKING", true),
			FaceDetection:       boolEnv("MEDIAWORKER_PROVIDER_FACE_DETECTION", false),
			PersonDetection:     boolEnv("MEDIAWORKER_PROVIDER_PERSON_DETECTION", false),
			SpeechTranscription: boolEnv("MEDIAWORKER_PROVIDER_SPEECH_TRANSCRIPTION", true),
			LegacyNormalize:     boolEnv("MEDIAWORKER_LEGACY_NORMALIZE", false),
		},
		Resilience: ResilienceConfig{
			BreakerMinSamples:        intEnv("MEDIAWORKER_BREAKER_MIN_SAMPLES", 10),
			BreakerFailureRateOpen:   floatEnv("MEDIAWORKER_BREAKER_FAILURE_RATE_OPEN", 0.5),
			BreakerHalfOpenAfter:     durationMsEnv("MEDIAWORKER_BREAKER_HALF_OPEN_AFTER_MS", 30000*time.Millisecond),
			BreakerMaxHalfOpenProbes: intEnv("MEDIAWORKER_BREAKER_MAX_HALF_OPEN_PROBES", 1),
			MediaToolRateLimit:       intEnv("MEDIAWORKER_MEDIA_TOOL_RATE_LIMIT", 20),
			MediaToolRateFillRate:    floatEnv("MEDIAWORKER_MEDIA_TOOL_RATE_FILL_RATE", 5.0),
			AnalysisRateLimit:        intEnv("MEDIAWORKER_ANALYSIS_RATE_LIMIT", 10),
			AnalysisRateFillRate:     floatEnv("MEDIAWORKER_ANALYSIS_RATE_FILL_RATE", 2.0),
		},
		BlobBucket:    stringEnv("MEDIAWORKER_BLOB_BUCKET", "media-artifacts"),
		MediaPathTmpl: stringEnv("MEDIAWORKER_MEDIA_PATH_TEMPLATE", "media/{mediaId}/{name}"),
		BoltDBPath:    stringEnv("MEDIAWORKER_BOLT_DB_PATH", "./data"),
		NATSURL:       stringEnv("NATS_URL", "nats://localhost:4222"),
		NATSSubject:   stringEnv("MEDIAWORKER_TASK_SUBJECT", "mediaworker.tasks"),
	}
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func durationMsEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}

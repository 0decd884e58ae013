// Package flow builds the step graph for a task: given a Task, it
// produces the DAG of StepJobs the scheduler runs — a list of steps,
// an edge set, per-step allow-partial-failure flags, and per-step
// retry configuration.
package flow

import (
	"time"

	"github.com/dastron/mediaworker/internal/config"
	"github.com/dastron/mediaworker/internal/task"
)

// StepKind names one of the specified step executors.
type StepKind string

const (
	StepProbe                StepKind = "probe"
	StepThumbnail            StepKind = "thumbnail"
	StepSprite               StepKind = "sprite"
	StepTranscode            StepKind = "transcode"
	StepFinalize             StepKind = "finalize"
	StepUploadToObjectStore  StepKind = "upload-to-object-store"
	StepLabelDetection       StepKind = "label-detection"
	StepObjectTracking       StepKind = "object-tracking"
	StepFaceDetection        StepKind = "face-detection"
	StepPersonDetection      StepKind = "person-detection"
	StepSpeechTranscription  StepKind = "speech-transcription"
	StepFinalizeDetectLabels StepKind = "finalize-detect-labels"
	StepNormalizeLegacy      StepKind = "normalize-legacy"
)

// AnalysisSteps lists the detect-labels flow's parallel analysis
// children.
var AnalysisSteps = []StepKind{
	StepLabelDetection,
	StepObjectTracking,
	StepFaceDetection,
	StepPersonDetection,
	StepSpeechTranscription,
}

// StepJob is one node in the flow graph.
type StepJob struct {
	Kind                StepKind
	DependsOn           []StepKind
	AllowPartialFailure bool
	Retry               config.RetryConfig
	Timeout             time.Duration // 0 means no per-step timeout
	Input               map[string]any
}

// Graph is the Flow Builder's output: steps plus their edges, ready
// for the Flow Scheduler.
type Graph struct {
	TaskKind task.Kind
	Steps    []StepJob
}

// ByKind indexes Steps for scheduler lookups.
func (g Graph) ByKind() map[StepKind]StepJob {
	out := make(map[StepKind]StepJob, len(g.Steps))
	for _, s := range g.Steps {
		out[s.Kind] = s
	}
	return out
}

// Build dispatches to the flow shape matching t.Kind.
func Build(t *task.Task, cfg config.Config) (Graph, error) {
	switch t.Kind {
	case task.KindTranscode:
		return BuildTranscodeFlow(t, cfg), nil
	case task.KindDetectLabels:
		return BuildDetectLabelsFlow(t, cfg), nil
	default:
		return Graph{}, errUnknownKind(t.Kind)
	}
}

type errUnknownKind task.Kind

func (e errUnknownKind) Error() string {
	return "flow: unknown task kind " + string(e)
}

// BuildTranscodeFlow builds the transcode shape: a strict linear
// chain, probe, thumbnail, sprite, transcode, finalize, where no step
// may partial-fail.
func BuildTranscodeFlow(t *task.Task, cfg config.Config) Graph {
	step := func(kind StepKind, dependsOn ...StepKind) StepJob {
		return StepJob{
			Kind:                kind,
			DependsOn:           dependsOn,
			AllowPartialFailure: false,
			Retry:               cfg.StepRetry,
			Timeout:             cfg.StepTimeout,
			Input:               t.Payload,
		}
	}

	// Dependency edges carry data, not just ordering: a step that reads
	// an earlier step's output (stepexec.Input.Dep) must list it
	// directly, since the scheduler only forwards DIRECT parent output
	// into a step's DepOut. thumbnail and transcode both read probe's
	// output; finalize reads all four of its predecessors'. Each step
	// still runs strictly after the one before it, since every added
	// edge is to an already-earlier step.
	return Graph{
		TaskKind: task.KindTranscode,
		Steps: []StepJob{
			step(StepProbe),
			step(StepThumbnail, StepProbe),
			step(StepSprite, StepThumbnail),
			step(StepTranscode, StepProbe, StepSprite),
			step(StepFinalize, StepProbe, StepThumbnail, StepSprite, StepTranscode),
		},
	}
}

// BuildDetectLabelsFlow builds the detect-labels shape:
// upload-to-object-store as root, each enabled analysis provider as a
// parallel, allow-partial-failure child, and a finalize node that
// waits on all of them and may not itself partial-fail.
func BuildDetectLabelsFlow(t *task.Task, cfg config.Config) Graph {
	root := StepJob{
		Kind:                StepUploadToObjectStore,
		AllowPartialFailure: false,
		Retry:               cfg.StepRetry,
		Timeout:             cfg.StepTimeout,
		Input:               t.Payload,
	}

	steps := []StepJob{root}
	var children []StepKind

	enabled := map[StepKind]bool{
		StepLabelDetection:      cfg.Providers.LabelDetection,
		StepObjectTracking:      cfg.Providers.ObjectTracking,
		StepFaceDetection:       cfg.Providers.FaceDetection,
		StepPersonDetection:     cfg.Providers.PersonDetection,
		StepSpeechTranscription: cfg.Providers.SpeechTranscription,
	}

	for _, kind := range AnalysisSteps {
		if !enabled[kind] {
			continue
		}
		steps = append(steps, StepJob{
			Kind:                kind,
			DependsOn:           []StepKind{StepUploadToObjectStore},
			AllowPartialFailure: true,
			Retry:               cfg.StepRetry,
			Timeout:             cfg.StepTimeout,
			Input:               t.Payload,
		})
		children = append(children, kind)
	}

	steps = append(steps, StepJob{
		Kind:                StepFinalizeDetectLabels,
		DependsOn:           children,
		AllowPartialFailure: false,
		Retry:               cfg.StepRetry,
		Timeout:             cfg.StepTimeout,
		Input:               t.Payload,
	})

	// Legacy normalize+store sub-path, coexisting with per-analysis
	// persistence for deployments that still expect the combined clip
	// set. It reads whichever of label-detection/object-tracking ran
	// and never blocks the flow's outcome, so it is itself
	// allow-partial-failure and outside finalize's dependency set.
	if cfg.Providers.LegacyNormalize {
		var legacyDeps []StepKind
		if enabled[StepLabelDetection] {
			legacyDeps = append(legacyDeps, StepLabelDetection)
		}
		if enabled[StepObjectTracking] {
			legacyDeps = append(legacyDeps, StepObjectTracking)
		}
		if len(legacyDeps) == 0 {
			legacyDeps = []StepKind{StepUploadToObjectStore}
		}
		steps = append(steps, StepJob{
			Kind:                StepNormalizeLegacy,
			DependsOn:           legacyDeps,
			AllowPartialFailure: true,
			Retry:               cfg.StepRetry,
			Timeout:             cfg.StepTimeout,
			Input:               t.Payload,
		})
	}

	return Graph{TaskKind: task.KindDetectLabels, Steps: steps}
}

package flow

import (
	"testing"

	"github.com/dastron/mediaworker/internal/config"
	"github.com/dastron/mediaworker/internal/task"
)

func TestBuildTranscodeFlowIsStrictLinearChain(t *testing.T) {
	tk := task.New(task.KindTranscode, "m1", nil, 0)
	g := BuildTranscodeFlow(tk, config.Load())

	if len(g.Steps) != 5 {
		t.Fatalf("expected 5 steps, got %d", len(g.Steps))
	}
	for _, s := range g.Steps {
		if s.AllowPartialFailure {
			t.Fatalf("expected no transcode step to allow partial failure, got %s", s.Kind)
		}
	}

	byKind := g.ByKind()
	if len(byKind[StepThumbnail].DependsOn) != 1 || byKind[StepThumbnail].DependsOn[0] != StepProbe {
		t.Fatalf("expected thumbnail to depend on probe, got %+v", byKind[StepThumbnail].DependsOn)
	}
	if len(byKind[StepFinalize].DependsOn) != 4 {
		t.Fatalf("expected finalize to depend on probe, thumbnail, sprite and transcode, got %+v", byKind[StepFinalize].DependsOn)
	}
	if len(byKind[StepTranscode].DependsOn) != 2 {
		t.Fatalf("expected transcode to depend on probe and sprite, got %+v", byKind[StepTranscode].DependsOn)
	}
}

func TestBuildDetectLabelsFlowOnlyEnabledProviders(t *testing.T) {
	tk := task.New(task.KindDetectLabels, "m1", nil, 0)
	cfg := config.Load()
	cfg.Providers = config.ProviderFlags{
		LabelDetection:      true,
		ObjectTracking:      true,
		FaceDetection:       false,
		PersonDetection:     false,
		SpeechTranscription: true,
	}
	g := BuildDetectLabelsFlow(tk, cfg)
	byKind := g.ByKind()

	if _, ok := byKind[StepFaceDetection]; ok {
		t.Fatalf("expected face-detection to be excluded when disabled")
	}
	if _, ok := byKind[StepLabelDetection]; !ok {
		t.Fatalf("expected label-detection to be included when enabled")
	}

	finalize := byKind[StepFinalizeDetectLabels]
	if len(finalize.DependsOn) != 3 {
		t.Fatalf("expected finalize to depend on exactly the 3 enabled analysis steps, got %d", len(finalize.DependsOn))
	}
	if finalize.AllowPartialFailure {
		t.Fatalf("expected finalize to never allow partial failure")
	}

	for _, kind := range []StepKind{StepLabelDetection, StepObjectTracking, StepSpeechTranscription} {
		if !byKind[kind].AllowPartialFailure {
			t.Fatalf("expected analysis child %s to allow partial failure", kind)
		}
		if len(byKind[kind].DependsOn) != 1 || byKind[kind].DependsOn[0] != StepUploadToObjectStore {
			t.Fatalf("expected %s to depend only on upload-to-object-store", kind)
		}
	}
}

func TestBuildDetectLabelsFlowLegacyNormalizeOptIn(t *testing.T) {
	tk := task.New(task.KindDetectLabels, "m1", nil, 0)
	cfg := config.Load()
	cfg.Providers = config.ProviderFlags{LabelDetection: true, ObjectTracking: true, LegacyNormalize: true}
	g := BuildDetectLabelsFlow(tk, cfg)
	byKind := g.ByKind()

	legacy, ok := byKind[StepNormalizeLegacy]
	if !ok {
		t.Fatalf("expected normalize-legacy step when LegacyNormalize is enabled")
	}
	if !legacy.AllowPartialFailure {
		t.Fatalf("expected normalize-legacy to allow partial failure since it never blocks the flow outcome")
	}
	if _, ok := byKind[StepFinalizeDetectLabels]; !ok || len(byKind[StepFinalizeDetectLabels].DependsOn) != 2 {
		t.Fatalf("expected finalize's dependency set to stay on the real analysis children, unaffected by the legacy path")
	}
}

func TestBuildDetectLabelsFlowLegacyNormalizeOffByDefault(t *testing.T) {
	tk := task.New(task.KindDetectLabels, "m1", nil, 0)
	cfg := config.Load()
	g := BuildDetectLabelsFlow(tk, cfg)
	if _, ok := g.ByKind()[StepNormalizeLegacy]; ok {
		t.Fatalf("expected normalize-legacy to be absent unless explicitly enabled")
	}
}

func TestBuildDispatchesByTaskKind(t *testing.T) {
	cfg := config.Load()

	tk := task.New(task.KindTranscode, "m1", nil, 0)
	g, err := Build(tk, cfg)
	if err != nil || g.TaskKind != task.KindTranscode {
		t.Fatalf("expected transcode graph, got %+v err=%v", g, err)
	}

	tk2 := task.New(task.KindDetectLabels, "m1", nil, 0)
	g2, err := Build(tk2, cfg)
	if err != nil || g2.TaskKind != task.KindDetectLabels {
		t.Fatalf("expected detect-labels graph, got %+v err=%v", g2, err)
	}
}

package task

import "testing"

func TestNewTaskIsQueued(t *testing.T) {
	tk := New(KindTranscode, "media-1", nil, 5)
	if tk.Status != StatusQueued {
		t.Fatalf("expected queued, got %s", tk.Status)
	}
	if tk.ID == "" {
		t.Fatalf("expected a generated ID")
	}
}

func TestStartBumpsAttempts(t *testing.T) {
	tk := New(KindDetectLabels, "media-1", nil, 0)
	if err := tk.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tk.Attempts != 1 || tk.Status != StatusRunning {
		t.Fatalf("expected attempts=1 running, got attempts=%d status=%s", tk.Attempts, tk.Status)
	}
}

func TestFinishIsOneWay(t *testing.T) {
	tk := New(KindTranscode, "media-1", nil, 0)
	_ = tk.Start()
	if err := tk.Finish(StatusSucceeded, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tk.Finish(StatusFailed, "boom"); err == nil {
		t.Fatalf("expected second Finish to be rejected")
	}
}

func TestCannotRestartSucceededTask(t *testing.T) {
	tk := New(KindTranscode, "media-1", nil, 0)
	_ = tk.Start()
	_ = tk.Finish(StatusSucceeded, "")
	if err := tk.Start(); err == nil {
		t.Fatalf("expected restart of a succeeded task to be rejected")
	}
}

func TestProgressCannotMoveBackward(t *testing.T) {
	tk := New(KindTranscode, "media-1", nil, 0)
	if err := tk.SetProgress(50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tk.SetProgress(20); err == nil {
		t.Fatalf("expected regression to be rejected")
	}
	if err := tk.SetProgress(80); err != nil {
		t.Fatalf("unexpected error advancing progress: %v", err)
	}
}

func TestResetForRetryOnlyFromFailed(t *testing.T) {
	tk := New(KindTranscode, "media-1", nil, 0)
	_ = tk.Start()
	if err := tk.ResetForRetry(); err == nil {
		t.Fatalf("expected reset of a running task to be rejected")
	}
	_ = tk.Finish(StatusFailed, "boom")
	if err := tk.ResetForRetry(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tk.Status != StatusQueued {
		t.Fatalf("expected queued after reset, got %s", tk.Status)
	}
}

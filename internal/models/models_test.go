package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestJSONBMarshal(t *testing.T) {
	j := JSONB{
		"aspect_ratio": "9:16",
		"style":        "cinematic",
	}

	data, err := j.Value()
	if err != nil {
		t.Fatalf("failed to marshal JSONB: %v", err)
	}

	if data == nil {
		t.Fatal("expected non-nil data")
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data.([]byte), &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["style"] != "cinematic" {
		t.Errorf("expected style=cinematic, got %v", result["style"])
	}
}

func TestJSONBScan(t *testing.T) {
	jsonData := []byte(`{"prompt": "harbor at dawn", "duration": 5}`)

	var j JSONB
	if err := j.Scan(jsonData); err != nil {
		t.Fatalf("failed to scan: %v", err)
	}

	if j["prompt"] != "harbor at dawn" {
		t.Errorf("expected prompt, got %v", j["prompt"])
	}

	if j["duration"].(float64) != 5 {
		t.Errorf("expected duration=5, got %v", j["duration"])
	}
}

func TestTaskHappyPath(t *testing.T) {
	task := NewGenerationTask("s1", nil)
	for _, next := range []TaskStatus{TaskDispatched, TaskPolling, TaskCompleted} {
		if err := task.Advance(next); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
	}
	if !task.Status.IsTerminal() {
		t.Fatalf("expected terminal status, got %s", task.Status)
	}
}

func TestTaskRetryThenExhausted(t *testing.T) {
	task := NewGenerationTask("s1", nil)
	steps := []TaskStatus{
		TaskDispatched, TaskPolling, TaskFailedTransient,
		TaskDispatched, TaskFailedPermanent,
		TaskExhausted,
	}
	for _, next := range steps {
		if err := task.Advance(next); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
	}
}

func TestTerminalTaskNeverMoves(t *testing.T) {
	for _, terminal := range []TaskStatus{TaskCompleted, TaskExhausted, TaskCancelled} {
		task := &GenerationTask{SceneID: "s1", Status: terminal}
		for _, next := range []TaskStatus{TaskPending, TaskDispatched, TaskPolling, TaskCompleted, TaskExhausted, TaskCancelled} {
			if err := task.Advance(next); err == nil {
				t.Errorf("%s -> %s should be rejected", terminal, next)
			}
			if task.Status != terminal {
				t.Fatalf("status changed from %s to %s", terminal, task.Status)
			}
		}
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	task := NewGenerationTask("s1", nil)
	if err := task.Advance(TaskCompleted); err == nil {
		t.Fatal("pending -> completed should be rejected")
	}
	if task.Status != TaskPending {
		t.Errorf("expected pending, got %s", task.Status)
	}
}

func TestVolumeAt(t *testing.T) {
	env := AudioEnvelope{
		TrackID: "music",
		Keyframes: []VolumeKeyframe{
			{Frame: 10, Volume: 0.2},
			{Frame: 20, Volume: 0.1},
			{Frame: 20, Volume: 0.1},
			{Frame: 30, Volume: 0.1},
			{Frame: 40, Volume: 0.3},
		},
	}

	tests := []struct {
		frame int
		want  float64
	}{
		{0, 0.2},
		{10, 0.2},
		{15, 0.15},
		{25, 0.1},
		{35, 0.2},
		{40, 0.3},
		{100, 0.3},
	}
	for _, tt := range tests {
		got := env.VolumeAt(tt.frame)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("VolumeAt(%d) = %v, want %v", tt.frame, got, tt.want)
		}
	}
}

func TestErrorTaxonomy(t *testing.T) {
	rl := &RateLimitError{Provider: "xai", RetryAfter: 3 * time.Second}
	if !errors.Is(rl, ErrRateLimited) || !errors.Is(rl, ErrTransientProvider) {
		t.Errorf("rate limit error should match both rate-limit and transient sentinels")
	}
	if errors.Is(rl, ErrPermanentProvider) {
		t.Errorf("rate limit error should not be permanent")
	}

	cause := errors.New("boom")
	perm := Permanent("veo", cause)
	if !errors.Is(perm, ErrPermanentProvider) || !errors.Is(perm, cause) {
		t.Errorf("permanent error should match sentinel and cause: %v", perm)
	}

	cfg := ConfigError("fps must be positive, got %d", 0)
	if !errors.Is(cfg, ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", cfg)
	}
}

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/montage/internal/models"
)

type fakeUploader struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeUploader) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return "https://cdn.example.com/" + path, nil
}

func TestXAISubmitAndPoll(t *testing.T) {
	var polls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		switch {
		case r.Method == "POST" && r.URL.Path == "/videos/generations":
			var body xaiGenerationRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if body.Duration != 5 || body.Image == nil {
				t.Errorf("unexpected request body: %+v", body)
			}
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"request_id":"req-1"}`))
		case r.Method == "GET" && r.URL.Path == "/videos/req-1":
			polls++
			if polls == 1 {
				w.WriteHeader(http.StatusAccepted)
				w.Write([]byte(`{"status":"pending"}`))
				return
			}
			w.Write([]byte(`{"video":{"url":"https://vidgen.x.ai/out.mp4","duration":5},"model":"grok-imagine-video"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	x := NewXAI(XAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	ctx := context.Background()

	h, err := x.Submit(ctx, Request{SceneID: "s1", Prompt: "harbor", ImageURL: "https://img/1.png", DurationSec: 4.2})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if h.ID != "req-1" || h.SceneID != "s1" || h.Provider != "xai" {
		t.Fatalf("unexpected handle %+v", h)
	}

	res, err := x.Poll(ctx, h)
	if err != nil || res.Done {
		t.Fatalf("first poll = %+v, %v; want pending", res, err)
	}

	res, err = x.Poll(ctx, h)
	if err != nil {
		t.Fatalf("second poll error = %v", err)
	}
	if !res.Done || res.Media.URI != "https://vidgen.x.ai/out.mp4" {
		t.Fatalf("second poll = %+v", res)
	}
}

func TestXAIErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		header  map[string]string
		body    string
		want    error
		retryIn time.Duration
	}{
		{"rate limit", http.StatusTooManyRequests, map[string]string{"Retry-After": "7"}, `{"error":"slow down"}`, models.ErrRateLimited, 7 * time.Second},
		{"server error", http.StatusBadGateway, nil, `bad gateway`, models.ErrTransientProvider, 0},
		{"bad request", http.StatusBadRequest, nil, `{"error":"prompt rejected"}`, models.ErrPermanentProvider, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			x := NewXAI(XAIConfig{APIKey: "k", BaseURL: srv.URL})
			_, err := x.Submit(context.Background(), Request{SceneID: "s1", Prompt: "p", DurationSec: 3})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Submit() error = %v, want %v", err, tt.want)
			}
			var rl *models.RateLimitError
			if errors.As(err, &rl) && rl.RetryAfter != tt.retryIn {
				t.Errorf("RetryAfter = %v, want %v", rl.RetryAfter, tt.retryIn)
			}
		})
	}
}

func TestXAIFailedGenerationIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"failed","error":"moderation"}`))
	}))
	defer srv.Close()

	x := NewXAI(XAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := x.Poll(context.Background(), Handle{Provider: "xai", SceneID: "s1", ID: "req-9"})
	if !errors.Is(err, models.ErrPermanentProvider) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if !strings.Contains(err.Error(), "moderation") {
		t.Errorf("error should carry provider message: %v", err)
	}
}

func TestXAIRejectsOverlongDuration(t *testing.T) {
	x := NewXAI(XAIConfig{APIKey: "k", BaseURL: "http://127.0.0.1:0"})
	_, err := x.Submit(context.Background(), Request{SceneID: "s1", DurationSec: 20})
	if !errors.Is(err, models.ErrPermanentProvider) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestXAIRehostsFinishedVideo(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/videos/req-2":
			w.Write([]byte(`{"video":{"url":"` + srvURL + `/files/out.mp4"}}`))
		case "/files/out.mp4":
			w.Header().Set("Content-Type", "video/mp4")
			w.Write([]byte("mp4-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	up := &fakeUploader{}
	x := NewXAI(XAIConfig{APIKey: "k", BaseURL: srv.URL, Uploader: up})
	res, err := x.Poll(context.Background(), Handle{Provider: "xai", SceneID: "s2", ID: "req-2"})
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(up.paths) != 1 || up.paths[0] != "generated/xai/s2/req-2.mp4" {
		t.Fatalf("unexpected uploads: %v", up.paths)
	}
	if res.Media.URI != "https://cdn.example.com/generated/xai/s2/req-2.mp4" {
		t.Errorf("media URI = %s", res.Media.URI)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"12", 12 * time.Second},
		{"-3", 0},
		{"soon", 0},
		{now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		if got := ParseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

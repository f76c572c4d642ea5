package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/montage/internal/models"
	"github.com/google/uuid"
)

type fakeRuns struct {
	mu         sync.Mutex
	runs       map[uuid.UUID]*models.Run
	startErr   error
	regenErr   error
	eventsErr  error
	regenerate chan string
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{runs: map[uuid.UUID]*models.Run{}, regenerate: make(chan string, 1)}
}

func (f *fakeRuns) add(status models.RunStatus, p *models.RenderPlan) *models.Run {
	run := &models.Run{
		ID:         uuid.New(),
		Status:     status,
		Plan:       p,
		Production: models.Production{Scenes: []models.Scene{{ID: "a", DurationSec: 5}}},
	}
	f.mu.Lock()
	f.runs[run.ID] = run
	f.mu.Unlock()
	return run
}

func (f *fakeRuns) Start(ctx context.Context, prod models.Production) (*models.Run, error) {
	f.mu.Lock()
	err := f.startErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.add(models.RunGenerating, nil), nil
}

func (f *fakeRuns) Get(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, models.ErrRunNotFound
	}
	snapshot := *run
	return &snapshot, nil
}

func (f *fakeRuns) Events(ctx context.Context, id uuid.UUID) ([]models.TaskEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return []models.TaskEvent{{RunID: id, SceneID: "a", Status: models.TaskPending}}, nil
}

func (f *fakeRuns) StartRegenerate(ctx context.Context, id uuid.UUID, sceneID string) error {
	f.mu.Lock()
	err := f.regenErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.regenerate <- sceneID
	return nil
}

type fakeQueue struct {
	mu              sync.Mutex
	sceneID, reason string
}

func (q *fakeQueue) EnqueueRegenerate(ctx context.Context, runID uuid.UUID, sceneID, reason string) (uuid.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sceneID, q.reason = sceneID, reason
	return uuid.New(), nil
}

func newServer(runs Runs, q RegenerateQueue, apiKey string) *httptest.Server {
	h := NewHandler(context.Background(), runs, q)
	return httptest.NewServer(NewRouter(h, RouterConfig{BackendAPIKey: apiKey}))
}

func do(t *testing.T, method, url, body string, headers ...string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthIsPublic(t *testing.T) {
	srv := newServer(newFakeRuns(), nil, "secret")
	defer srv.Close()

	resp, body := do(t, http.MethodGet, srv.URL+"/health", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newServer(newFakeRuns(), nil, "secret")
	defer srv.Close()
	url := srv.URL + "/v1/runs/" + uuid.New().String()

	tests := []struct {
		name    string
		headers []string
		want    int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", []string{"X-API-Key", "nope"}, http.StatusForbidden},
		{"header", []string{"X-API-Key", "secret"}, http.StatusNotFound},
		{"bearer", []string{"Authorization", "Bearer secret"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, http.MethodGet, url, "", tt.headers...)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestCreateRun(t *testing.T) {
	runs := newFakeRuns()
	srv := newServer(runs, nil, "")
	defer srv.Close()

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/runs", `{"scenes":[{"id":"a","duration_sec":5}]}`)
	if resp.StatusCode != http.StatusAccepted || body["status"] != string(models.RunGenerating) {
		t.Fatalf("create = %d %v", resp.StatusCode, body)
	}
	if _, err := uuid.Parse(fmt.Sprint(body["run_id"])); err != nil {
		t.Errorf("run_id = %v", body["run_id"])
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/runs", `{"scenes":[]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty production status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/runs", `{`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad json status = %d", resp.StatusCode)
	}

	runs.mu.Lock()
	runs.startErr = models.ConfigError("scene a: duration 0.000s is 0 frames at 30 fps")
	runs.mu.Unlock()
	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/runs", `{"scenes":[{"id":"a"}]}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("config error status = %d", resp.StatusCode)
	}
}

func TestGetPlan(t *testing.T) {
	runs := newFakeRuns()
	srv := newServer(runs, nil, "")
	defer srv.Close()

	done := runs.add(models.RunCompleted, &models.RenderPlan{Metadata: models.PlanMetadata{FPS: 30, TotalFrames: 420}})
	pending := runs.add(models.RunGenerating, nil)

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/runs/"+done.ID.String()+"/plan", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	md := body["metadata"].(map[string]interface{})
	if md["total_frames"].(float64) != 420 {
		t.Errorf("metadata = %v", md)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/runs/"+pending.ID.String()+"/plan", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("pending plan status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/runs/not-a-uuid/plan", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d", resp.StatusCode)
	}
}

func TestGetEvents(t *testing.T) {
	runs := newFakeRuns()
	srv := newServer(runs, nil, "")
	defer srv.Close()
	run := runs.add(models.RunCompleted, &models.RenderPlan{})

	resp, err := http.Get(srv.URL + "/v1/runs/" + run.ID.String() + "/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var events []models.TaskEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].SceneID != "a" {
		t.Errorf("events = %+v", events)
	}
}

func TestRegenerateEnqueues(t *testing.T) {
	runs := newFakeRuns()
	q := &fakeQueue{}
	srv := newServer(runs, q, "")
	defer srv.Close()
	run := runs.add(models.RunCompleted, &models.RenderPlan{})

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/runs/"+run.ID.String()+"/scenes/a/regenerate", `{"reason":"blurry"}`)
	if resp.StatusCode != http.StatusAccepted || body["status"] != "queued" || body["job_id"] == nil {
		t.Fatalf("regenerate = %d %v", resp.StatusCode, body)
	}
	q.mu.Lock()
	if q.sceneID != "a" || q.reason != "blurry" {
		t.Errorf("queued %q %q", q.sceneID, q.reason)
	}
	q.mu.Unlock()

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/runs/"+run.ID.String()+"/scenes/zzz/regenerate", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown scene status = %d", resp.StatusCode)
	}

	busy := runs.add(models.RunGenerating, nil)
	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/runs/"+busy.ID.String()+"/scenes/a/regenerate", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("busy run status = %d", resp.StatusCode)
	}
}

func TestRegenerateInProcess(t *testing.T) {
	runs := newFakeRuns()
	srv := newServer(runs, nil, "")
	defer srv.Close()
	run := runs.add(models.RunCompleted, &models.RenderPlan{})

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/runs/"+run.ID.String()+"/scenes/a/regenerate", "")
	if resp.StatusCode != http.StatusAccepted || body["status"] != "regenerating" {
		t.Fatalf("regenerate = %d %v", resp.StatusCode, body)
	}
	select {
	case scene := <-runs.regenerate:
		if scene != "a" {
			t.Errorf("regenerated %q", scene)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("regenerate was not called")
	}
}

func TestRegenerateInProcessRejected(t *testing.T) {
	runs := newFakeRuns()
	srv := newServer(runs, nil, "")
	defer srv.Close()
	run := runs.add(models.RunCompleted, &models.RenderPlan{})

	// Claimed by a concurrent regenerate between the status check and the start
	runs.mu.Lock()
	runs.regenErr = fmt.Errorf("regenerate a in run %s: %w", run.ID, models.ErrRunBusy)
	runs.mu.Unlock()
	resp, _ := do(t, http.MethodPost, srv.URL+"/v1/runs/"+run.ID.String()+"/scenes/a/regenerate", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("busy status = %d", resp.StatusCode)
	}
}

func TestGetEventsError(t *testing.T) {
	runs := newFakeRuns()
	runs.eventsErr = fmt.Errorf("redis: connection refused")
	srv := newServer(runs, nil, "")
	defer srv.Close()
	run := runs.add(models.RunCompleted, &models.RenderPlan{})

	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/runs/"+run.ID.String()+"/events", "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

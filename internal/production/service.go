// Package production runs productions end to end: generation through the
// orchestrator, then plan assembly. It owns the run records that the API and
// the feedback channel work against.
package production

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/montage/internal/models"
	"github.com/bobarin/montage/internal/plan"
)

// Resolver is the part of the orchestrator a run needs.
type Resolver interface {
	Run(ctx context.Context, runID uuid.UUID, scenes []models.Scene) []models.SceneResolution
	Resolve(ctx context.Context, runID uuid.UUID, scene models.Scene) models.SceneResolution
}

// RunStore archives runs. LoadRun returns models.ErrRunNotFound for unknown ids.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.Run) error
	LoadRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
}

// ArtifactStore publishes the plan JSON and returns where it lives.
type ArtifactStore interface {
	UploadPlan(ctx context.Context, runID uuid.UUID, data []byte) (string, error)
}

// EventLog serves the recorded status stream of a run.
type EventLog interface {
	Events(ctx context.Context, runID uuid.UUID) ([]models.TaskEvent, error)
}

type Service struct {
	resolver  Resolver
	settings  plan.Settings
	store     RunStore
	artifacts ArtifactStore
	events    []EventLog

	mu   sync.RWMutex
	runs map[uuid.UUID]*models.Run
	busy map[uuid.UUID]bool

	wg sync.WaitGroup
}

type Option func(*Service)

func WithStore(s RunStore) Option {
	return func(svc *Service) { svc.store = s }
}

func WithArtifacts(a ArtifactStore) Option {
	return func(svc *Service) { svc.artifacts = a }
}

// WithEventLog adds a source for Events. Sources are asked in the order
// they were added.
func WithEventLog(l EventLog) Option {
	return func(svc *Service) { svc.events = append(svc.events, l) }
}

func NewService(resolver Resolver, settings plan.Settings, opts ...Option) *Service {
	s := &Service{
		resolver: resolver,
		settings: settings,
		runs:     make(map[uuid.UUID]*models.Run),
		busy:     make(map[uuid.UUID]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run generates and assembles a production synchronously. Only configuration
// errors fail the call; failed scenes come back as placeholders in the plan.
func (s *Service) Run(ctx context.Context, prod models.Production) (*models.Run, error) {
	run, err := s.create(prod)
	if err != nil {
		return nil, err
	}
	s.execute(ctx, run.ID)
	return s.Get(ctx, run.ID)
}

// Start validates the production, records the run and generates it in the
// background. The returned snapshot is in the generating state.
func (s *Service) Start(ctx context.Context, prod models.Production) (*models.Run, error) {
	run, err := s.create(prod)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, run.ID)
	}()
	return run, nil
}

// Wait blocks until every background run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) create(prod models.Production) (*models.Run, error) {
	if err := plan.Preflight(prod.Scenes, s.settings); err != nil {
		return nil, err
	}

	now := time.Now()
	run := &models.Run{
		ID:         uuid.New(),
		Status:     models.RunGenerating,
		Production: prod,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	s.runs[run.ID] = run
	s.busy[run.ID] = true
	s.mu.Unlock()

	log.Printf("[Production] Run %s created: %q, %d scenes", run.ID, prod.Title, len(prod.Scenes))
	snapshot := *run
	return &snapshot, nil
}

func (s *Service) execute(ctx context.Context, id uuid.UUID) {
	s.mu.RLock()
	prod := s.runs[id].Production
	s.mu.RUnlock()

	resolutions := s.resolver.Run(ctx, id, prod.Scenes)

	s.update(id, func(r *models.Run) {
		r.Status = models.RunAssembling
		r.Resolutions = resolutions
	})

	p, err := plan.Assemble(plan.Input{Scenes: prod.Scenes, Resolutions: resolutions, Music: prod.Music}, s.settings)
	if err != nil {
		log.Printf("[Production] Run %s failed to assemble: %v", id, err)
		s.finish(ctx, id, func(r *models.Run) {
			r.Status = models.RunFailed
			r.Error = err.Error()
		})
		return
	}

	planURL := s.publish(ctx, id, p)
	s.finish(ctx, id, func(r *models.Run) {
		r.Status = models.RunCompleted
		r.Plan = p
		if planURL != "" {
			r.PlanURL = planURL
		}
	})
	log.Printf("[Production] Run %s completed: %d frames, %d scene errors", id, p.Metadata.TotalFrames, len(p.SceneErrors))
}

// Regenerate re-dispatches a single scene of a finished run and re-assembles
// the plan. Every entry that does not belong to the scene is unchanged. A
// regenerate cut short by ctx leaves the run as it was and returns ctx's error.
func (s *Service) Regenerate(ctx context.Context, id uuid.UUID, sceneID string) (*models.Run, error) {
	job, err := s.claim(ctx, id, sceneID)
	if err != nil {
		return nil, err
	}
	if err := s.regenerate(ctx, job); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// StartRegenerate claims the run and regenerates the scene in the background.
// Busy runs and unknown scenes are rejected before anything starts.
func (s *Service) StartRegenerate(ctx context.Context, id uuid.UUID, sceneID string) error {
	job, err := s.claim(ctx, id, sceneID)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.regenerate(ctx, job); err != nil {
			log.Printf("[Production] Run %s: regenerate of scene %s failed: %v", id, sceneID, err)
		}
	}()
	return nil
}

// regenJob is a claimed regenerate: the run is marked busy until finish.
type regenJob struct {
	id       uuid.UUID
	prod     models.Production
	previous []models.SceneResolution
	scene    models.Scene
}

func (s *Service) claim(ctx context.Context, id uuid.UUID, sceneID string) (regenJob, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return regenJob{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[id]
	if s.busy[id] {
		return regenJob{}, fmt.Errorf("regenerate %s in run %s: %w", sceneID, id, models.ErrRunBusy)
	}
	for _, sc := range run.Production.Scenes {
		if sc.ID == sceneID {
			s.busy[id] = true
			return regenJob{id: id, prod: run.Production, previous: run.Resolutions, scene: sc}, nil
		}
	}
	return regenJob{}, fmt.Errorf("regenerate %s in run %s: %w", sceneID, id, models.ErrSceneNotFound)
}

func (s *Service) regenerate(ctx context.Context, job regenJob) error {
	id, sceneID := job.id, job.scene.ID
	log.Printf("[Production] Run %s: regenerating scene %s", id, sceneID)

	// A pre-resolved scene is regenerated through the providers like any other
	target := job.scene
	target.Media = nil
	res := s.resolver.Resolve(ctx, id, target)

	if res.Task.Status == models.TaskCancelled || ctx.Err() != nil {
		s.finish(ctx, id, nil)
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		log.Printf("[Production] Run %s: regenerate of scene %s cancelled, keeping previous result", id, sceneID)
		return fmt.Errorf("regenerate %s in run %s: %w", sceneID, id, err)
	}

	resolutions := make([]models.SceneResolution, len(job.previous))
	copy(resolutions, job.previous)
	replaced := false
	for i := range resolutions {
		if resolutions[i].SceneID == sceneID {
			resolutions[i] = res
			replaced = true
		}
	}
	if !replaced {
		resolutions = append(resolutions, res)
	}

	p, err := plan.Assemble(plan.Input{Scenes: job.prod.Scenes, Resolutions: resolutions, Music: job.prod.Music}, s.settings)
	if err != nil {
		s.finish(ctx, id, nil)
		return err
	}

	planURL := s.publish(ctx, id, p)
	s.finish(ctx, id, func(r *models.Run) {
		r.Resolutions = resolutions
		r.Plan = p
		if planURL != "" {
			r.PlanURL = planURL
		}
	})
	log.Printf("[Production] Run %s: scene %s regenerated (%s)", id, sceneID, res.Outcome)
	return nil
}

// Get returns a snapshot of the run, falling back to the archive for runs
// this process has not seen.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	s.mu.RLock()
	run, ok := s.runs[id]
	if ok {
		snapshot := *run
		s.mu.RUnlock()
		return &snapshot, nil
	}
	s.mu.RUnlock()

	if s.store == nil {
		return nil, models.ErrRunNotFound
	}
	loaded, err := s.store.LoadRun(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.runs[id]; ok {
		loaded = existing
	} else {
		s.runs[id] = loaded
	}
	snapshot := *loaded
	s.mu.Unlock()
	return &snapshot, nil
}

// Events returns the recorded status stream of a run from the first event
// log that has it. An error is returned only when no log could answer.
func (s *Service) Events(ctx context.Context, id uuid.UUID) ([]models.TaskEvent, error) {
	var lastErr error
	answered := false
	for _, l := range s.events {
		events, err := l.Events(ctx, id)
		if err != nil {
			log.Printf("[Production] Failed to read events of run %s: %v", id, err)
			lastErr = err
			continue
		}
		answered = true
		if len(events) > 0 {
			return events, nil
		}
	}
	if !answered && lastErr != nil {
		return nil, fmt.Errorf("events of run %s: %w", id, lastErr)
	}
	return nil, nil
}

func (s *Service) update(id uuid.UUID, fn func(r *models.Run)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[id]
	fn(run)
	run.UpdatedAt = time.Now()
}

// finish applies the final change, clears the busy mark and archives the run.
func (s *Service) finish(ctx context.Context, id uuid.UUID, fn func(r *models.Run)) {
	s.mu.Lock()
	run := s.runs[id]
	if fn != nil {
		fn(run)
		run.UpdatedAt = time.Now()
	}
	delete(s.busy, id)
	snapshot := *run
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.SaveRun(saveCtx, &snapshot); err != nil {
		log.Printf("[Production] Failed to archive run %s: %v", id, err)
	}
}

// publish uploads the plan artifact. Failures are logged; the plan itself is
// still served from memory.
func (s *Service) publish(ctx context.Context, id uuid.UUID, p *models.RenderPlan) string {
	if s.artifacts == nil {
		return ""
	}
	data, err := json.Marshal(p)
	if err != nil {
		log.Printf("[Production] Failed to marshal plan for run %s: %v", id, err)
		return ""
	}
	uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	url, err := s.artifacts.UploadPlan(uploadCtx, id, data)
	if err != nil {
		log.Printf("[Production] Failed to upload plan for run %s: %v", id, err)
		return ""
	}
	return url
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/bobarin/montage/internal/config"
	"github.com/bobarin/montage/internal/models"
	"github.com/bobarin/montage/internal/providers"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// PlaceholderURI marks a scene whose generation never produced media.
const PlaceholderURI = "placeholder://scene"

// cancelTimeout bounds the best-effort provider cancel issued after the run
// context is already done.
const cancelTimeout = 10 * time.Second

type Config struct {
	Workers         int // 0 = two per registered provider
	MaxRetries      int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	PollInterval    time.Duration
	PollMaxInterval time.Duration
	PollFactor      float64
	PollDeadline    time.Duration
}

func ConfigFrom(c config.OrchestratorConfig) Config {
	return Config{
		Workers:         c.Workers,
		MaxRetries:      c.MaxRetries,
		BackoffBase:     c.BackoffBase,
		BackoffMax:      c.BackoffMax,
		PollInterval:    c.PollInterval,
		PollMaxInterval: c.PollMaxInterval,
		PollFactor:      c.PollFactor,
		PollDeadline:    c.PollDeadline,
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type Orchestrator struct {
	registry *providers.Registry
	cfg      Config
	sink     EventSink
	sleep    Sleeper
	now      func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand
}

type Option func(*Orchestrator)

func WithSink(s EventSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// WithRandSource seeds backoff jitter.
func WithRandSource(src rand.Source) Option {
	return func(o *Orchestrator) { o.rand = rand.New(src) }
}

func New(registry *providers.Registry, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		cfg:      cfg,
		sink:     LogSink{},
		sleep:    sleepContext,
		now:      time.Now,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.PollFactor < 1 {
		o.cfg.PollFactor = 1
	}
	return o
}

// Width is the worker pool size used by Run.
func (o *Orchestrator) Width() int {
	if o.cfg.Workers > 0 {
		return o.cfg.Workers
	}
	if n := 2 * o.registry.Len(); n > 0 {
		return n
	}
	return 1
}

// Run resolves every scene and returns one resolution per scene, in input
// order. It returns only after every task has reached a terminal state.
// Scenes that already carry media are passed through without dispatch.
func (o *Orchestrator) Run(ctx context.Context, runID uuid.UUID, scenes []models.Scene) []models.SceneResolution {
	results := make([]models.SceneResolution, len(scenes))

	var g errgroup.Group
	g.SetLimit(o.Width())

	log.Printf("[Orchestrator] Run %s: %d scenes, pool width %d", runID, len(scenes), o.Width())

	for i, scene := range scenes {
		if scene.Media != nil {
			results[i] = preResolved(scene)
			continue
		}
		g.Go(func() error {
			results[i] = o.Resolve(ctx, runID, scene)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func preResolved(scene models.Scene) models.SceneResolution {
	task := models.GenerationTask{
		SceneID:  scene.ID,
		Status:   models.TaskCompleted,
		Provider: scene.Media.Provider,
		Result:   scene.Media,
	}
	return models.SceneResolution{
		SceneID: scene.ID,
		Task:    task,
		Outcome: models.OutcomeResolvedPrimary,
		Media:   *scene.Media,
	}
}

// Resolve drives one scene's task to a terminal state: Completed, Exhausted
// (placeholder) or Cancelled (placeholder).
func (o *Orchestrator) Resolve(ctx context.Context, runID uuid.UUID, scene models.Scene) models.SceneResolution {
	task := models.NewGenerationTask(scene.ID, paramsFor(scene))
	o.emit(runID, task)

	if ctx.Err() != nil {
		return o.cancelled(runID, task)
	}

	candidates, err := o.registry.Select(providers.CriteriaForScene(scene))
	if err != nil {
		task.LastError = err.Error()
		return o.exhausted(runID, task)
	}
	task.Candidates = candidates

	req := requestFor(scene)
	for rank, id := range candidates {
		p, ok := o.registry.Provider(id)
		if !ok {
			log.Printf("[Orchestrator] Scene %s: provider %s has no adapter, skipping", scene.ID, id)
			continue
		}

		media, err := o.attempt(ctx, runID, task, p, req)
		if err == nil {
			outcome := models.OutcomeResolvedPrimary
			if rank > 0 {
				outcome = models.OutcomeResolvedFallback
			}
			task.Result = media
			return models.SceneResolution{SceneID: scene.ID, Task: *task, Outcome: outcome, Media: *media}
		}
		if ctx.Err() != nil {
			return o.cancelled(runID, task)
		}
		if rank < len(candidates)-1 {
			log.Printf("[Orchestrator] Scene %s: falling back from %s after %v", scene.ID, id, err)
		}
	}

	return o.exhausted(runID, task)
}

// attempt runs the retry loop against one provider. A nil error means the
// task is Completed. Otherwise the task is left in a Failed state (or ctx is
// done) and the caller moves on.
func (o *Orchestrator) attempt(ctx context.Context, runID uuid.UUID, task *models.GenerationTask, p providers.Provider, req providers.Request) (*models.MediaRef, error) {
	task.Provider = p.ID()

	for retry := 0; ; retry++ {
		task.Attempts++
		o.advance(runID, task, models.TaskDispatched, nil)

		h, err := p.Submit(ctx, req)
		if err == nil {
			o.advance(runID, task, models.TaskPolling, nil)
			var media *models.MediaRef
			media, err = o.poll(ctx, p, h)
			if err == nil {
				o.registry.RecordSuccess(p.ID())
				o.advance(runID, task, models.TaskCompleted, nil)
				return media, nil
			}
			// The handle is abandoned whatever the reason
			o.cancelHandle(p, h)
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		o.registry.RecordFailure(p.ID())
		task.LastError = err.Error()

		if errors.Is(err, models.ErrPermanentProvider) {
			o.advance(runID, task, models.TaskFailedPermanent, err)
			return nil, err
		}

		o.advance(runID, task, models.TaskFailedTransient, err)
		if retry >= o.cfg.MaxRetries {
			return nil, fmt.Errorf("%s: retries exhausted after %d attempts: %w", p.ID(), retry+1, err)
		}

		delay := o.backoff(retry, err)
		log.Printf("[Orchestrator] Scene %s: retry %d/%d on %s in %v", task.SceneID, retry+1, o.cfg.MaxRetries, p.ID(), delay)
		if err := o.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// poll waits for a submitted generation with a growing interval until it
// finishes or the poll deadline passes. The caller cancels the handle on error. Elapsed time is the sum of waits so
// the deadline holds with any Sleeper.
func (o *Orchestrator) poll(ctx context.Context, p providers.Provider, h providers.Handle) (*models.MediaRef, error) {
	interval := o.cfg.PollInterval
	var waited time.Duration
	polls := 0

	for {
		polls++
		res, err := p.Poll(ctx, h)
		if err != nil {
			return nil, err
		}
		if res.Done {
			if res.Media == nil || res.Media.URI == "" {
				return nil, models.Transient(p.ID(), fmt.Errorf("completed without media (handle=%s)", h.ID))
			}
			return res.Media, nil
		}

		if waited+interval > o.cfg.PollDeadline {
			return nil, models.Transient(p.ID(), fmt.Errorf("timed out after %v (polled %d times, handle=%s)", o.cfg.PollDeadline, polls, h.ID))
		}
		if err := o.sleep(ctx, interval); err != nil {
			return nil, err
		}
		waited += interval

		next := time.Duration(float64(interval) * o.cfg.PollFactor)
		if o.cfg.PollMaxInterval > 0 && next > o.cfg.PollMaxInterval {
			next = o.cfg.PollMaxInterval
		}
		interval = next
	}
}

// backoff is base * 2^retry capped at BackoffMax, plus 0-25% jitter. A
// provider retry hint acts as a floor.
func (o *Orchestrator) backoff(retry int, err error) time.Duration {
	delay := float64(o.cfg.BackoffBase) * math.Pow(2, float64(retry))
	if o.cfg.BackoffMax > 0 && delay > float64(o.cfg.BackoffMax) {
		delay = float64(o.cfg.BackoffMax)
	}
	o.randMu.Lock()
	jitter := delay * 0.25 * o.rand.Float64()
	o.randMu.Unlock()
	d := time.Duration(delay + jitter)

	var rl *models.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > d {
		d = rl.RetryAfter
	}
	return d
}

func (o *Orchestrator) cancelHandle(p providers.Provider, h providers.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := p.Cancel(ctx, h); err != nil {
		log.Printf("[Orchestrator] Cancel of %s/%s failed: %v", p.ID(), h.ID, err)
	}
}

func (o *Orchestrator) exhausted(runID uuid.UUID, task *models.GenerationTask) models.SceneResolution {
	if task.LastError == "" {
		task.LastError = models.ErrAllProvidersExhausted.Error()
	} else {
		task.LastError = fmt.Sprintf("%v: %s", models.ErrAllProvidersExhausted, task.LastError)
	}
	o.advance(runID, task, models.TaskExhausted, nil)
	return placeholder(task)
}

func (o *Orchestrator) cancelled(runID uuid.UUID, task *models.GenerationTask) models.SceneResolution {
	task.LastError = context.Canceled.Error()
	o.advance(runID, task, models.TaskCancelled, nil)
	return placeholder(task)
}

func placeholder(task *models.GenerationTask) models.SceneResolution {
	media := models.MediaRef{URI: PlaceholderURI + "/" + task.SceneID, Placeholder: true}
	return models.SceneResolution{
		SceneID: task.SceneID,
		Task:    *task,
		Outcome: models.OutcomePlaceholderFailed,
		Media:   media,
	}
}

// advance applies a state-machine transition and emits it. An illegal
// transition is a programming error and is logged rather than applied.
func (o *Orchestrator) advance(runID uuid.UUID, task *models.GenerationTask, to models.TaskStatus, cause error) {
	if err := task.Advance(to); err != nil {
		log.Printf("[Orchestrator] %v", err)
		return
	}
	ev := models.TaskEvent{
		RunID:    runID,
		SceneID:  task.SceneID,
		Status:   task.Status,
		Provider: task.Provider,
		Attempt:  task.Attempts,
		At:       o.now(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	} else if to == models.TaskExhausted || to == models.TaskCancelled {
		ev.Error = task.LastError
	}
	o.sink.Emit(ev)
}

func (o *Orchestrator) emit(runID uuid.UUID, task *models.GenerationTask) {
	o.sink.Emit(models.TaskEvent{
		RunID:   runID,
		SceneID: task.SceneID,
		Status:  task.Status,
		At:      o.now(),
	})
}

func requestFor(scene models.Scene) providers.Request {
	req := providers.Request{
		SceneID:     scene.ID,
		ContentType: scene.ContentType,
		Style:       scene.Style,
		Prompt:      scene.Prompt,
		ImageURL:    scene.ImageURL,
		DurationSec: scene.DurationSec,
		AspectRatio: scene.AspectRatio,
	}
	if scene.Narration != nil {
		req.Script = scene.Narration.Script
	}
	return req
}

func paramsFor(scene models.Scene) models.JSONB {
	params := models.JSONB{
		"content_type": string(scene.ContentType),
		"duration_sec": scene.DurationSec,
	}
	if scene.Style != "" {
		params["style"] = scene.Style
	}
	if scene.Prompt != "" {
		params["prompt"] = scene.Prompt
	}
	if scene.ImageURL != "" {
		params["image_url"] = scene.ImageURL
	}
	if len(scene.PreferredProviders) > 0 {
		params["preferred_providers"] = scene.PreferredProviders
	}
	return params
}

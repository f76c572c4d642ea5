// Package feedback consumes quality-review requests to regenerate individual
// scenes of finished runs.
package feedback

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/montage/internal/models"
	"github.com/bobarin/montage/internal/queue"
)

const (
	dequeueTimeout = 5 * time.Second
	errorPause     = time.Second
)

// Source yields regenerate requests. A nil job with a nil error means the
// wait timed out.
type Source interface {
	DequeueRegenerate(ctx context.Context, timeout time.Duration) (*queue.RegenerateJob, error)
}

// Regenerator re-enters generation for one scene of a run.
type Regenerator interface {
	Regenerate(ctx context.Context, runID uuid.UUID, sceneID string) (*models.Run, error)
}

type Consumer struct {
	source Source
	regen  Regenerator
}

func NewConsumer(source Source, regen Regenerator) *Consumer {
	return &Consumer{source: source, regen: regen}
}

// Start runs concurrency loops until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, concurrency int) {
	log.Printf("[Feedback] Consumer started with concurrency: %d", concurrency)

	done := make(chan struct{}, concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			c.loop(ctx)
			done <- struct{}{}
		}()
	}
	for i := 0; i < concurrency; i++ {
		<-done
	}
	log.Println("[Feedback] Consumer shut down")
}

func (c *Consumer) loop(ctx context.Context) {
	for ctx.Err() == nil {
		job, err := c.source.DequeueRegenerate(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Feedback] Error dequeuing: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorPause):
			}
			continue
		}
		if job == nil {
			continue // No request, wait again
		}
		c.Handle(ctx, job)
	}
}

// Handle processes one request. Failures are logged and dropped: a missing
// run or scene will not appear by retrying, and a busy run can be requested
// again once it finishes.
func (c *Consumer) Handle(ctx context.Context, job *queue.RegenerateJob) {
	log.Printf("[Feedback] Regenerating scene %s of run %s (job %s, reason: %q)", job.SceneID, job.RunID, job.ID, job.Reason)

	run, err := c.regen.Regenerate(ctx, job.RunID, job.SceneID)
	switch {
	case errors.Is(err, models.ErrRunNotFound), errors.Is(err, models.ErrSceneNotFound):
		log.Printf("[Feedback] Job %s dropped: %v", job.ID, err)
	case errors.Is(err, models.ErrRunBusy):
		log.Printf("[Feedback] Job %s skipped, run %s is busy", job.ID, job.RunID)
	case err != nil:
		log.Printf("[Feedback] Job %s failed: %v", job.ID, err)
	default:
		log.Printf("[Feedback] Job %s completed, run %s now has %d scene errors", job.ID, run.ID, len(run.Plan.SceneErrors))
	}
}

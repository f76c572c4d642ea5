package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/bobarin/montage/internal/models"
)

const (
	QueueRegenerate = "queue:regenerate_scene"

	// Status stream: PUBLISH channel plus a capped per-run history list
	ChannelEvents   = "events:tasks"
	eventListPrefix = "events:run:"
	eventListMax    = 500
	eventListTTL    = 24 * time.Hour
)

type Queue struct {
	client *redis.Client
}

// RegenerateJob asks for one scene of a finished run to be generated again.
type RegenerateJob struct {
	ID        uuid.UUID `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	SceneID   string    `json:"scene_id"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// EnqueueRegenerate pushes a regenerate request and returns its job id.
func (q *Queue) EnqueueRegenerate(ctx context.Context, runID uuid.UUID, sceneID, reason string) (uuid.UUID, error) {
	job := RegenerateJob{
		ID:        uuid.New(),
		RunID:     runID,
		SceneID:   sceneID,
		Reason:    reason,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueRegenerate, data).Err(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue: %w", err)
	}
	return job.ID, nil
}

// DequeueRegenerate blocks up to timeout for the next request. A nil job with
// a nil error means nothing arrived.
func (q *Queue) DequeueRegenerate(ctx context.Context, timeout time.Duration) (*RegenerateJob, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueRegenerate).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job RegenerateJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// Emit publishes a task event and appends it to the run's history list. It
// satisfies the orchestrator's event sink; failures are logged, never returned.
func (q *Queue) Emit(ev models.TaskEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Queue] Failed to marshal event for scene %s: %v", ev.SceneID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := eventListPrefix + ev.RunID.String()
	pipe := q.client.TxPipeline()
	pipe.Publish(ctx, ChannelEvents, data)
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -eventListMax, -1)
	pipe.Expire(ctx, key, eventListTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[Queue] Failed to publish event for scene %s: %v", ev.SceneID, err)
	}
}

// Events returns the stored history of a run, oldest first.
func (q *Queue) Events(ctx context.Context, runID uuid.UUID) ([]models.TaskEvent, error) {
	raw, err := q.client.LRange(ctx, eventListPrefix+runID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	events := make([]models.TaskEvent, 0, len(raw))
	for _, r := range raw {
		var ev models.TaskEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

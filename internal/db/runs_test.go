package db

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/bobarin/montage/internal/models"
	"github.com/google/uuid"
)

// Needs a disposable Postgres; set TEST_DATABASE_URL to run.
func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	database, err := New(url)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return database
}

func TestSaveAndLoadRun(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	run := &models.Run{
		ID:     uuid.New(),
		Status: models.RunCompleted,
		Production: models.Production{
			Title: "launch",
			Scenes: []models.Scene{
				{ID: "a", DurationSec: 5, ContentType: models.ContentVideo},
				{ID: "b", DurationSec: 5, ContentType: models.ContentVideo},
			},
		},
		Resolutions: []models.SceneResolution{
			{SceneID: "b", Outcome: models.OutcomePlaceholderFailed,
				Task:  models.GenerationTask{SceneID: "b", Status: models.TaskExhausted, Attempts: 3, LastError: "xai: status 500"},
				Media: models.MediaRef{URI: "placeholder://scene/b", Placeholder: true}},
			{SceneID: "a", Outcome: models.OutcomeResolvedPrimary,
				Task:  models.GenerationTask{SceneID: "a", Status: models.TaskCompleted, Provider: "veo", Attempts: 1},
				Media: models.MediaRef{URI: "https://cdn/a.mp4", Provider: "veo"}},
		},
		Plan:      &models.RenderPlan{Metadata: models.PlanMetadata{FPS: 30, TotalFrames: 285}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := database.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	// Second save is an upsert
	run.PlanURL = "https://cdn/plan.json"
	if err := database.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun() upsert error = %v", err)
	}

	got, err := database.LoadRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("LoadRun() error = %v", err)
	}
	if got.Status != models.RunCompleted || got.PlanURL != run.PlanURL || got.Plan.Metadata.TotalFrames != 285 {
		t.Errorf("run = %+v", got)
	}
	if len(got.Resolutions) != 2 || got.Resolutions[0].SceneID != "a" || !got.Resolutions[1].Media.Placeholder {
		t.Errorf("resolutions = %+v", got.Resolutions)
	}
	if got.Resolutions[1].Task.LastError != "xai: status 500" {
		t.Errorf("last error = %q", got.Resolutions[1].Task.LastError)
	}

	if _, err := database.LoadRun(ctx, uuid.New()); !errors.Is(err, models.ErrRunNotFound) {
		t.Errorf("unknown run: err = %v", err)
	}
}

func TestLoadRunKeepsResolutionsAsSaved(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	// Pre-resolved media with no content type must not pick up the scene's
	run := &models.Run{
		ID:     uuid.New(),
		Status: models.RunCompleted,
		Production: models.Production{
			Scenes: []models.Scene{
				{ID: "a", DurationSec: 5, ContentType: models.ContentVideo, Media: &models.MediaRef{URI: "https://x/a.mp4"}},
				{ID: "b", DurationSec: 5, ContentType: models.ContentImage},
			},
		},
		Resolutions: []models.SceneResolution{
			{SceneID: "a", Outcome: models.OutcomeResolvedPrimary,
				Task:  models.GenerationTask{SceneID: "a", Status: models.TaskCompleted, Result: &models.MediaRef{URI: "https://x/a.mp4"}},
				Media: models.MediaRef{URI: "https://x/a.mp4"}},
			{SceneID: "b", Outcome: models.OutcomeResolvedFallback,
				Task:  models.GenerationTask{SceneID: "b", Status: models.TaskCompleted, Provider: "openai", Attempts: 2},
				Media: models.MediaRef{URI: "https://cdn/b.png", Provider: "openai", ContentType: models.ContentImage}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := database.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	got, err := database.LoadRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("LoadRun() error = %v", err)
	}
	if !reflect.DeepEqual(got.Resolutions, run.Resolutions) {
		t.Errorf("resolutions after round trip:\n got %+v\nwant %+v", got.Resolutions, run.Resolutions)
	}
}

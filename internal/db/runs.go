package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bobarin/montage/internal/models"
	"github.com/google/uuid"
)

// SaveRun upserts the run row and its per-scene task outcomes in one
// transaction. Called after every assembly, including regenerations.
func (db *DB) SaveRun(ctx context.Context, run *models.Run) error {
	production, err := json.Marshal(run.Production)
	if err != nil {
		return fmt.Errorf("failed to marshal production: %w", err)
	}
	var plan []byte
	if run.Plan != nil {
		if plan, err = json.Marshal(run.Plan); err != nil {
			return fmt.Errorf("failed to marshal plan: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO runs (
			id, title, status, production, plan, plan_url, error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			plan = EXCLUDED.plan,
			plan_url = EXCLUDED.plan_url,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
	`
	_, err = tx.ExecContext(ctx, query,
		run.ID, run.Production.Title, run.Status, production, nullBytes(plan),
		nullString(run.PlanURL), nullString(run.Error), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	taskQuery := `
		INSERT INTO scene_tasks (
			run_id, scene_id, status, outcome, provider, attempts, media_uri, last_error, resolution, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id, scene_id) DO UPDATE SET
			status = EXCLUDED.status,
			outcome = EXCLUDED.outcome,
			provider = EXCLUDED.provider,
			attempts = EXCLUDED.attempts,
			media_uri = EXCLUDED.media_uri,
			last_error = EXCLUDED.last_error,
			resolution = EXCLUDED.resolution,
			updated_at = EXCLUDED.updated_at
	`
	for _, r := range run.Resolutions {
		resolution, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal resolution for scene %s: %w", r.SceneID, err)
		}
		_, err = tx.ExecContext(ctx, taskQuery,
			run.ID, r.SceneID, r.Task.Status, r.Outcome, nullString(r.Task.Provider),
			r.Task.Attempts, nullString(r.Media.URI), nullString(r.Task.LastError), resolution, run.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save task for scene %s: %w", r.SceneID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// LoadRun reads a run back with its production and plan. Resolutions come
// back exactly as saved, in scene order.
func (db *DB) LoadRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	query := `
		SELECT id, status, production, plan, plan_url, error, created_at, updated_at
		FROM runs
		WHERE id = $1
	`

	run := &models.Run{}
	var production, plan []byte
	var planURL, runErr sql.NullString
	err := db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Status, &production, &plan, &planURL, &runErr,
		&run.CreatedAt, &run.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	run.PlanURL = planURL.String
	run.Error = runErr.String

	if err := json.Unmarshal(production, &run.Production); err != nil {
		return nil, fmt.Errorf("failed to unmarshal production: %w", err)
	}
	if len(plan) > 0 {
		run.Plan = &models.RenderPlan{}
		if err := json.Unmarshal(plan, run.Plan); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
		}
	}

	rows, err := db.QueryContext(ctx, `
		SELECT scene_id, status, outcome, provider, attempts, media_uri, last_error, resolution
		FROM scene_tasks
		WHERE run_id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query scene tasks: %w", err)
	}
	defer rows.Close()

	byScene := make(map[string]models.SceneResolution)
	for rows.Next() {
		var r models.SceneResolution
		var provider, mediaURI, lastErr sql.NullString
		var resolution []byte
		err := rows.Scan(&r.SceneID, &r.Task.Status, &r.Outcome, &provider, &r.Task.Attempts, &mediaURI, &lastErr, &resolution)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scene task: %w", err)
		}
		if len(resolution) > 0 {
			var full models.SceneResolution
			if err := json.Unmarshal(resolution, &full); err != nil {
				return nil, fmt.Errorf("failed to unmarshal resolution for scene %s: %w", r.SceneID, err)
			}
			byScene[r.SceneID] = full
			continue
		}

		// Rows written before the resolution column only carry the summary
		r.Task.SceneID = r.SceneID
		r.Task.Provider = provider.String
		r.Task.LastError = lastErr.String
		r.Media = models.MediaRef{
			URI:         mediaURI.String,
			Provider:    provider.String,
			Placeholder: r.Outcome == models.OutcomePlaceholderFailed,
		}
		byScene[r.SceneID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scene tasks: %w", err)
	}

	for _, sc := range run.Production.Scenes {
		if r, ok := byScene[sc.ID]; ok {
			run.Resolutions = append(run.Resolutions, r)
		}
	}
	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return b
}

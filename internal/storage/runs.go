package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/recast/internal/model"
)

const runColumns = `id, requester_id, format, customization, profile, presenter_name,
	query, chunk_ids, plan, script, status, status_message, retry_count, error_message,
	created_at, updated_at, started_at, completed_at`

func scanRun(row pgx.Row) (model.GenerationRun, error) {
	var (
		r      model.GenerationRun
		script *string
	)
	err := row.Scan(
		&r.ID, &r.RequesterID, &r.Format, &r.Customization, &r.Profile, &r.PresenterName,
		&r.Query, &r.ChunkIDs, &r.Plan, &script, &r.Status, &r.StatusMessage, &r.RetryCount, &r.ErrorMessage,
		&r.CreatedAt, &r.UpdatedAt, &r.StartedAt, &r.CompletedAt,
	)
	if err != nil {
		return model.GenerationRun{}, err
	}
	if script != nil {
		s := model.Script(*script)
		r.Script = &s
	}
	return r, nil
}

// CreateRun validates the request and inserts a queued run.
func (db *DB) CreateRun(ctx context.Context, req model.CreateRunRequest) (model.GenerationRun, error) {
	if strings.TrimSpace(req.RequesterID) == "" {
		return model.GenerationRun{}, fmt.Errorf("storage: create run: requester_id is required")
	}
	if err := req.Customization.Validate(); err != nil {
		return model.GenerationRun{}, fmt.Errorf("storage: create run: %w", err)
	}
	cust := req.Customization
	cust.Language = cust.LanguageOrDefault()

	row := db.pool.QueryRow(ctx,
		`INSERT INTO generation_runs (id, requester_id, format, customization, profile, presenter_name, status, status_message)
		 VALUES ($1, $2, $3, $4, $5, $6, 'queued', 'Queued')
		 RETURNING `+runColumns,
		uuid.New(), req.RequesterID, string(cust.Format), cust, req.Profile, req.PresenterName,
	)
	run, err := scanRun(row)
	if err != nil {
		return model.GenerationRun{}, fmt.Errorf("storage: create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (model.GenerationRun, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM generation_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.GenerationRun{}, fmt.Errorf("storage: run %s: %w", id, ErrNotFound)
		}
		return model.GenerationRun{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// ClaimRun moves a queued run to processing and returns it. Exactly one of
// several concurrent claimers succeeds; the others get ErrInvalidTransition.
func (db *DB) ClaimRun(ctx context.Context, id uuid.UUID, message string) (model.GenerationRun, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`UPDATE generation_runs
		 SET status = 'processing', status_message = $2, error_message = '',
		     started_at = COALESCE(started_at, now()), updated_at = now()
		 WHERE id = $1 AND status = 'queued'
		 RETURNING `+runColumns,
		id, message,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.GenerationRun{}, db.explainMiss(ctx, id, "claim run", model.RunStatusProcessing)
		}
		return model.GenerationRun{}, fmt.Errorf("storage: claim run: %w", err)
	}
	return run, nil
}

// UpdateRun overwrites the fields set in u. A status change only applies if
// the current status may transition to it (and matches u.ExpectStatus when
// set). Field-only updates only apply while the run is processing, so a
// worker that lost its run cannot write into it.
func (db *DB) UpdateRun(ctx context.Context, id uuid.UUID, u model.RunUpdate) error {
	if u.IsEmpty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.Status != nil {
		set("status", string(*u.Status))
	}
	if u.StatusMessage != nil {
		set("status_message", *u.StatusMessage)
	}
	if u.Query != nil {
		set("query", *u.Query)
	}
	if u.ChunkIDs != nil {
		set("chunk_ids", u.ChunkIDs)
	}
	if u.Plan != nil {
		set("plan", *u.Plan)
	}
	if u.Script != nil {
		set("script", string(*u.Script))
	}
	if u.ErrorMessage != nil {
		set("error_message", *u.ErrorMessage)
	}
	if u.CompletedAt != nil {
		set("completed_at", *u.CompletedAt)
	}
	sets = append(sets, "updated_at = now()")

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	guard := u.Guard()
	from := make([]string, 0, len(guard))
	for _, s := range guard {
		from = append(from, string(s))
	}
	args = append(args, from)
	where += fmt.Sprintf(" AND status = ANY($%d)", len(args))

	query := "UPDATE generation_runs SET " + strings.Join(sets, ", ") + " WHERE " + where
	var affected int64
	err := WithRetry(ctx, txRetries, txBaseDelay, func() error {
		tag, err := db.pool.Exec(ctx, query, args...)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: update run: %w", err)
	}
	if affected == 0 {
		to := model.RunStatusProcessing
		if u.Status != nil {
			to = *u.Status
		}
		return db.explainMiss(ctx, id, "update run", to)
	}
	return nil
}

// RequeueForRetry atomically increments retry_count and returns a processing
// run to queued, provided fewer than maxRetries retries have been used. It
// returns the new retry count, or ErrRetryBudgetExhausted.
func (db *DB) RequeueForRetry(ctx context.Context, id uuid.UUID, maxRetries int, message string) (int, error) {
	var count int
	err := WithRetry(ctx, txRetries, txBaseDelay, func() error {
		return db.pool.QueryRow(ctx,
			`UPDATE generation_runs
			 SET retry_count = retry_count + 1, status = 'queued', status_message = $3, updated_at = now()
			 WHERE id = $1 AND status = 'processing' AND retry_count < $2
			 RETURNING retry_count`,
			id, maxRetries, message,
		).Scan(&count)
	})
	if err == nil {
		return count, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("storage: requeue run: %w", err)
	}

	run, getErr := db.GetRun(ctx, id)
	if getErr != nil {
		return 0, getErr
	}
	if run.Status != model.RunStatusProcessing {
		return 0, fmt.Errorf("storage: requeue run %s from %s: %w", id, run.Status, ErrInvalidTransition)
	}
	return run.RetryCount, fmt.Errorf("storage: requeue run %s after %d retries: %w", id, run.RetryCount, ErrRetryBudgetExhausted)
}

// CompleteRendering marks a rendering run completed. A second call for the
// same run returns ErrInvalidTransition.
func (db *DB) CompleteRendering(ctx context.Context, id uuid.UUID) (model.GenerationRun, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`UPDATE generation_runs
		 SET status = 'completed', status_message = 'Completed', completed_at = now(), updated_at = now()
		 WHERE id = $1 AND status = 'rendering'
		 RETURNING `+runColumns,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.GenerationRun{}, db.explainMiss(ctx, id, "complete rendering", model.RunStatusCompleted)
		}
		return model.GenerationRun{}, fmt.Errorf("storage: complete rendering: %w", err)
	}
	return run, nil
}

// FailRendering marks a rendering run failed with the collaborator's message.
func (db *DB) FailRendering(ctx context.Context, id uuid.UUID, message string) (model.GenerationRun, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`UPDATE generation_runs
		 SET status = 'failed', status_message = 'Rendering failed', error_message = $2,
		     completed_at = now(), updated_at = now()
		 WHERE id = $1 AND status = 'rendering'
		 RETURNING `+runColumns,
		id, message,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.GenerationRun{}, db.explainMiss(ctx, id, "fail rendering", model.RunStatusFailed)
		}
		return model.GenerationRun{}, fmt.Errorf("storage: fail rendering: %w", err)
	}
	return run, nil
}

// ListRuns returns runs matching the filter, oldest update first.
func (db *DB) ListRuns(ctx context.Context, f model.RunFilter) ([]model.GenerationRun, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if !f.UpdatedBefore.IsZero() {
		args = append(args, f.UpdatedBefore)
		conds = append(conds, fmt.Sprintf("updated_at < $%d", len(args)))
	}
	if f.MinRetryCount > 0 {
		args = append(args, f.MinRetryCount)
		conds = append(conds, fmt.Sprintf("retry_count >= $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := `SELECT ` + runColumns + ` FROM generation_runs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY updated_at ASC LIMIT $%d", len(args))

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.GenerationRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// explainMiss turns a conditional update that touched no row into
// ErrNotFound or ErrInvalidTransition.
func (db *DB) explainMiss(ctx context.Context, id uuid.UUID, op string, to model.RunStatus) error {
	var current model.RunStatus
	err := db.pool.QueryRow(ctx, `SELECT status FROM generation_runs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("storage: %s %s: %w", op, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("storage: %s: %w", op, err)
	}
	return fmt.Errorf("storage: %s %s: %s -> %s: %w", op, id, current, to, ErrInvalidTransition)
}


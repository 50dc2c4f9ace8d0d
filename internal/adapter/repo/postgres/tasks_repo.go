// Package postgres persists the fetch-task log in PostgreSQL.
//
// One row per accepted intake request. The coordinator inserts, the worker
// moves status forward; terminal rows never change again.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/social-fetcher/internal/domain"
)

// TaskRepo persists and loads fetch tasks using a minimal pgx pool.
type TaskRepo struct{ Pool PgxPool }

// PgxPool is a minimal subset of pgxpool used by the repo for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// NewTaskRepo constructs a TaskRepo with the given pool.
func NewTaskRepo(p PgxPool) *TaskRepo { return &TaskRepo{Pool: p} }

// Create inserts the task row. A duplicate task_id maps to ErrConflict so
// the intake layer can refuse the second submission.
func (r *TaskRepo) Create(ctx domain.Context, t domain.FetchTask) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "fetch_tasks"),
	)
	params, err := json.Marshal(t.Params)
	if err != nil {
		return fmt.Errorf("op=task.create: params: %w", err)
	}
	q := `INSERT INTO fetch_tasks (task_id, platform, action, params, status, error, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err = r.Pool.Exec(ctx, q, t.TaskID, t.Platform, t.Action, params, t.Status, t.Error, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("op=task.create: task_id %s: %w", t.TaskID, domain.ErrConflict)
		}
		return fmt.Errorf("op=task.create: %w", err)
	}
	return nil
}

// UpdateStatus moves a non-terminal task to the given status. Terminal rows
// are left untouched; a redelivered record must not reopen a finished task.
func (r *TaskRepo) UpdateStatus(ctx domain.Context, taskID string, status domain.TaskStatus) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.UpdateStatus")
	defer span.End()
	q := `UPDATE fetch_tasks SET status=$2, updated_at=$3 WHERE task_id=$1 AND status NOT IN ('completed','failed')`
	if _, err := r.Pool.Exec(ctx, q, taskID, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=task.update_status: %w", err)
	}
	return nil
}

// Complete stores the result set and marks the task completed.
func (r *TaskRepo) Complete(ctx domain.Context, taskID string, result []domain.UserRecord) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Complete")
	defer span.End()
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("op=task.complete: result: %w", err)
	}
	q := `UPDATE fetch_tasks SET status='completed', result=$2, error='', updated_at=$3 WHERE task_id=$1 AND status NOT IN ('completed','failed')`
	if _, err := r.Pool.Exec(ctx, q, taskID, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=task.complete: %w", err)
	}
	return nil
}

// Fail records the failure reason and marks the task failed.
func (r *TaskRepo) Fail(ctx domain.Context, taskID string, reason string) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Fail")
	defer span.End()
	q := `UPDATE fetch_tasks SET status='failed', error=$2, updated_at=$3 WHERE task_id=$1 AND status NOT IN ('completed','failed')`
	if _, err := r.Pool.Exec(ctx, q, taskID, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=task.fail: %w", err)
	}
	return nil
}

// Get loads a task by its task_id.
func (r *TaskRepo) Get(ctx domain.Context, taskID string) (domain.FetchTask, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Get")
	defer span.End()
	q := `SELECT task_id, platform, action, params, status, result, COALESCE(error,''), created_at, updated_at FROM fetch_tasks WHERE task_id=$1`
	t, err := scanTask(r.Pool.QueryRow(ctx, q, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FetchTask{}, fmt.Errorf("op=task.get: %w", domain.ErrNotFound)
		}
		return domain.FetchTask{}, fmt.Errorf("op=task.get: %w", err)
	}
	return t, nil
}

// Recent returns the newest tasks first, up to limit.
func (r *TaskRepo) Recent(ctx domain.Context, limit int) ([]domain.FetchTask, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Recent")
	defer span.End()
	q := `SELECT task_id, platform, action, params, status, result, COALESCE(error,''), created_at, updated_at FROM fetch_tasks ORDER BY created_at DESC LIMIT $1`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=task.recent: %w", err)
	}
	defer rows.Close()
	tasks := make([]domain.FetchTask, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("op=task.recent_scan: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=task.recent_rows: %w", err)
	}
	return tasks, nil
}

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface{ Scan(dest ...any) error }

func scanTask(row rowScanner) (domain.FetchTask, error) {
	var (
		t      domain.FetchTask
		params []byte
		result []byte
	)
	if err := row.Scan(&t.TaskID, &t.Platform, &t.Action, &params, &t.Status, &result, &t.Error, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.FetchTask{}, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &t.Params); err != nil {
			return domain.FetchTask{}, fmt.Errorf("params: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &t.Result); err != nil {
			return domain.FetchTask{}, fmt.Errorf("result: %w", err)
		}
	}
	return t, nil
}

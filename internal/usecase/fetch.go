// Package usecase contains the application services: intake of fetch
// requests on the API side and the per-task fetch flows the worker runs.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/social-fetcher/internal/adapter/observability"
	"github.com/fairyhunter13/social-fetcher/internal/domain"
	obsctx "github.com/fairyhunter13/social-fetcher/internal/observability"
)

// FetchService is the task coordinator: it validates intake requests,
// writes the pending task row and publishes the work item. Reads go
// straight to the task log and never wait on a worker.
type FetchService struct {
	Tasks domain.TaskRepository
	Queue domain.Queue

	now func() time.Time
}

// NewFetchService constructs a FetchService with its dependencies.
func NewFetchService(tasks domain.TaskRepository, queue domain.Queue) FetchService {
	return FetchService{Tasks: tasks, Queue: queue, now: time.Now}
}

// Similar accepts an ActionSimilar request and returns the pending task.
func (s FetchService) Similar(ctx domain.Context, platform domain.Platform, p domain.SimilarParams) (domain.FetchTask, error) {
	if err := p.Validate(); err != nil {
		return domain.FetchTask{}, fmt.Errorf("op=usecase.Similar: %w", err)
	}
	t, err := s.accept(ctx, platform, domain.ActionSimilar, p)
	if err != nil {
		return domain.FetchTask{}, fmt.Errorf("op=usecase.Similar: %w", err)
	}
	return t, nil
}

// Search accepts an ActionSearch request and returns the pending task.
func (s FetchService) Search(ctx domain.Context, platform domain.Platform, p domain.SearchParams) (domain.FetchTask, error) {
	if err := p.Validate(); err != nil {
		return domain.FetchTask{}, fmt.Errorf("op=usecase.Search: %w", err)
	}
	t, err := s.accept(ctx, platform, domain.ActionSearch, p)
	if err != nil {
		return domain.FetchTask{}, fmt.Errorf("op=usecase.Search: %w", err)
	}
	return t, nil
}

func (s FetchService) accept(ctx domain.Context, platform domain.Platform, action domain.Action, params any) (domain.FetchTask, error) {
	if !platform.Valid() {
		return domain.FetchTask{}, fmt.Errorf("platform %q: %w", platform, domain.ErrInvalidArgument)
	}
	m, err := domain.ParamsMap(params)
	if err != nil {
		return domain.FetchTask{}, err
	}
	now := s.now().UTC()
	t := domain.FetchTask{
		TaskID:    domain.NewTaskID(now, platform, action),
		Platform:  platform,
		Action:    action,
		Params:    m,
		Status:    domain.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	insert := func() error {
		err := s.Tasks.Create(ctx, t)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrInvalidArgument) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(insert, taskWriteBackoff(ctx)); err != nil {
		return domain.FetchTask{}, fmt.Errorf("create task: %w", err)
	}
	payload := domain.FetchTaskPayload{TaskID: t.TaskID, Platform: platform, Action: action, Params: m}
	if err := s.Queue.Enqueue(ctx, payload); err != nil {
		// The pending row stays behind; there is no sweeper.
		return domain.FetchTask{}, fmt.Errorf("enqueue: %w", err)
	}
	observability.EnqueueTask(string(platform), string(action))
	// The request-scoped logger carries request_id and trace fields.
	obsctx.LoggerFromContext(ctx).Info("fetch task accepted",
		slog.String("task_id", t.TaskID),
		slog.String("platform", string(platform)),
		slog.String("action", string(action)))
	return t, nil
}

// GetTask returns the task row by id.
func (s FetchService) GetTask(ctx domain.Context, taskID string) (domain.FetchTask, error) {
	t, err := s.Tasks.Get(ctx, taskID)
	if err != nil {
		return domain.FetchTask{}, fmt.Errorf("op=usecase.GetTask: %w", err)
	}
	return t, nil
}

// Recent lists the newest tasks for the ops browser. The limit is clamped
// to 1..200 and defaults to 50.
func (s FetchService) Recent(ctx domain.Context, limit int) ([]domain.FetchTask, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	ts, err := s.Tasks.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("op=usecase.Recent: %w", err)
	}
	return ts, nil
}

// taskWriteBackoff bounds task-row writes: up to three retries with
// exponential backoff on transient storage failures.
func taskWriteBackoff(ctx domain.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 200 * time.Millisecond
	expo.MaxElapsedTime = 10 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(expo, 3), ctx)
}

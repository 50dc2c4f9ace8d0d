package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/social-fetcher/internal/adapter/observability"
	"github.com/fairyhunter13/social-fetcher/internal/adapter/platform/wire"
	"github.com/fairyhunter13/social-fetcher/internal/domain"
	"github.com/fairyhunter13/social-fetcher/internal/service/credpool"
)

// releaseTimeout bounds the credential unlock at task end, which must run
// even when the task context is already gone.
const releaseTimeout = 30 * time.Second

// StrategyFactory binds a platform strategy to one task's credential
// claims. *platform.Factory satisfies it.
type StrategyFactory interface {
	Strategy(p domain.Platform, claims wire.Claims) (domain.Strategy, error)
}

// Processor executes queued fetch tasks on the worker: mark the row
// running, build the per-task credential pool and strategy, run the action
// flow, write the terminal state. Credentials are always released in a
// deferred epilogue; terminal writes retry like intake inserts.
type Processor struct {
	Tasks     domain.TaskRepository
	Accounts  domain.AccountService
	Platforms StrategyFactory
	Scorer    Scorer

	FanoutParents      int
	FollowingsPageSize int
	PoolOptions        credpool.Options

	sleep func(ctx context.Context, d time.Duration) error
}

// NewProcessor constructs a Processor with its dependencies.
func NewProcessor(tasks domain.TaskRepository, accounts domain.AccountService, platforms StrategyFactory) *Processor {
	return &Processor{Tasks: tasks, Accounts: accounts, Platforms: platforms}
}

// Handle processes one work item end to end. The terminal state is
// persisted before Handle returns; the returned error only reports the
// outcome to the consumer's log.
func (p *Processor) Handle(ctx domain.Context, payload domain.FetchTaskPayload) error {
	lg := slog.With(
		slog.String("task_id", payload.TaskID),
		slog.String("platform", string(payload.Platform)),
		slog.String("action", string(payload.Action)),
	)
	lg.Info("task started")
	observability.StartProcessingTask(string(payload.Platform), string(payload.Action))

	// Best effort: a failed running mark must not kill the task.
	if err := p.Tasks.UpdateStatus(ctx, payload.TaskID, domain.TaskRunning); err != nil {
		lg.Warn("mark running failed", slog.Any("error", err))
	}

	records, err := p.run(ctx, payload)
	if err != nil {
		lg.Error("task failed", slog.Any("error", err))
		observability.FailTask(string(payload.Platform), string(payload.Action))
		fail := func() error { return p.Tasks.Fail(ctx, payload.TaskID, err.Error()) }
		if werr := backoff.Retry(fail, taskWriteBackoff(ctx)); werr != nil {
			lg.Error("terminal write failed", slog.Any("error", werr))
			return fmt.Errorf("op=usecase.Handle: fail write: %w", werr)
		}
		return fmt.Errorf("op=usecase.Handle: %w", err)
	}

	complete := func() error { return p.Tasks.Complete(ctx, payload.TaskID, records) }
	if werr := backoff.Retry(complete, taskWriteBackoff(ctx)); werr != nil {
		lg.Error("terminal write failed", slog.Any("error", werr))
		observability.FailTask(string(payload.Platform), string(payload.Action))
		return fmt.Errorf("op=usecase.Handle: complete write: %w", werr)
	}
	observability.CompleteTask(string(payload.Platform), string(payload.Action), len(records))
	lg.Info("task completed", slog.Int("candidates", len(records)))
	return nil
}

func (p *Processor) run(ctx domain.Context, payload domain.FetchTaskPayload) (records []domain.UserRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panicked",
				slog.String("task_id", payload.TaskID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			records = nil
			err = fmt.Errorf("op=usecase.run: panic: %v", r)
		}
	}()

	pool := credpool.New(p.Accounts, payload.Platform, p.PoolOptions)
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if rerr := pool.Release(rctx); rerr != nil {
			slog.Warn("credential release failed",
				slog.String("task_id", payload.TaskID),
				slog.Any("error", rerr))
		}
	}()

	strategy, err := p.Platforms.Strategy(payload.Platform, pool)
	if err != nil {
		return nil, fmt.Errorf("op=usecase.run: %w", err)
	}

	switch payload.Action {
	case domain.ActionSimilar:
		var sp domain.SimilarParams
		if err := domain.DecodeParams(payload.Params, &sp); err != nil {
			return nil, fmt.Errorf("op=usecase.run: %w", err)
		}
		if err := sp.Validate(); err != nil {
			return nil, fmt.Errorf("op=usecase.run: %w", err)
		}
		flow := &SimilarFlow{
			Strategy:           strategy,
			Scorer:             p.Scorer,
			FanoutParents:      p.FanoutParents,
			FollowingsPageSize: p.FollowingsPageSize,
			sleep:              p.sleep,
		}
		return flow.Run(ctx, sp)
	case domain.ActionSearch:
		var sp domain.SearchParams
		if err := domain.DecodeParams(payload.Params, &sp); err != nil {
			return nil, fmt.Errorf("op=usecase.run: %w", err)
		}
		if err := sp.Validate(); err != nil {
			return nil, fmt.Errorf("op=usecase.run: %w", err)
		}
		return SearchFlow{Strategy: strategy}.Run(ctx, sp)
	default:
		return nil, fmt.Errorf("op=usecase.run: action %q: %w", payload.Action, domain.ErrSchemaInvalid)
	}
}

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/social-fetcher/internal/adapter/platform/wire"
	"github.com/fairyhunter13/social-fetcher/internal/domain"
	"github.com/fairyhunter13/social-fetcher/internal/usecase"
)

type accountsStub struct {
	unlocks [][]string
}

func (a *accountsStub) Lock(_ domain.Context, _ domain.Platform, _ string, _ int) ([]domain.Credential, error) {
	return nil, nil
}

func (a *accountsStub) Unlock(_ domain.Context, _ domain.Platform, ids []string, _ int) error {
	a.unlocks = append(a.unlocks, ids)
	return nil
}

func (a *accountsStub) UpdateStatus(_ domain.Context, _ domain.Platform, _ string, _ domain.AccountStatus) error {
	return nil
}

type factoryStub struct {
	strategy domain.Strategy
	err      error
}

func (f *factoryStub) Strategy(_ domain.Platform, _ wire.Claims) (domain.Strategy, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.strategy, nil
}

type panickyStrategy struct{ strategyStub }

func (p *panickyStrategy) Profile(context.Context, string) (domain.UserRecord, error) {
	panic("unexpected envelope shape")
}

func newProcessor(repo *taskRepoStub, strategy domain.Strategy) *usecase.Processor {
	p := usecase.NewProcessor(repo, &accountsStub{}, &factoryStub{strategy: strategy})
	usecase.SetProcessorSleep(p, func(context.Context, time.Duration) error { return nil })
	return p
}

func similarPayload(t *testing.T, username string, count int) domain.FetchTaskPayload {
	t.Helper()
	m, err := domain.ParamsMap(domain.SimilarParams{Username: username, Count: count})
	require.NoError(t, err)
	return domain.FetchTaskPayload{
		TaskID:   "task-1",
		Platform: domain.PlatformTwitter,
		Action:   domain.ActionSimilar,
		Params:   m,
	}
}

func searchPayload(t *testing.T, query string, count int) domain.FetchTaskPayload {
	t.Helper()
	m, err := domain.ParamsMap(domain.SearchParams{Query: query, Count: count})
	require.NoError(t, err)
	return domain.FetchTaskPayload{
		TaskID:   "task-2",
		Platform: domain.PlatformTwitter,
		Action:   domain.ActionSearch,
		Params:   m,
	}
}

func TestProcessorCompletesSimilarTask(t *testing.T) {
	t.Parallel()

	repo := &taskRepoStub{}
	s := &strategyStub{
		profiles:         map[string]domain.UserRecord{"jane": user("1", 100)},
		similar:          map[string][]domain.UserRecord{"1": {user("101", 100)}},
		postsUnsupported: true,
	}
	p := newProcessor(repo, s)

	err := p.Handle(context.Background(), similarPayload(t, "jane", 10))
	require.NoError(t, err)

	assert.Equal(t, []domain.TaskStatus{domain.TaskRunning}, repo.updates)
	require.Len(t, repo.completes, 1)
	assert.Equal(t, []string{"101"}, uids(repo.completes[0]))
	assert.Empty(t, repo.fails)
}

func TestProcessorCompletesSearchTask(t *testing.T) {
	t.Parallel()

	repo := &taskRepoStub{}
	s := &strategyStub{
		search: map[string][]domain.UserRecord{
			"vegan chef": {user("301", 100), user("302", 100)},
		},
	}
	p := newProcessor(repo, s)

	err := p.Handle(context.Background(), searchPayload(t, "vegan chef", 10))
	require.NoError(t, err)
	require.Len(t, repo.completes, 1)
	assert.Equal(t, []string{"301", "302"}, uids(repo.completes[0]))
}

func TestProcessorFailureWritesReason(t *testing.T) {
	t.Parallel()

	repo := &taskRepoStub{}
	s := &strategyStub{profileErr: domain.ErrNotFound}
	p := newProcessor(repo, s)

	err := p.Handle(context.Background(), similarPayload(t, "ghost", 10))
	require.Error(t, err)
	require.Len(t, repo.fails, 1)
	assert.Contains(t, repo.fails[0], "seed profile")
	assert.Empty(t, repo.completes)
}

func TestProcessorPanicBecomesFailed(t *testing.T) {
	t.Parallel()

	repo := &taskRepoStub{}
	p := newProcessor(repo, &panickyStrategy{})

	err := p.Handle(context.Background(), similarPayload(t, "jane", 10))
	require.Error(t, err)
	require.Len(t, repo.fails, 1)
	assert.Contains(t, repo.fails[0], "panic")
}

func TestProcessorUnknownActionFails(t *testing.T) {
	t.Parallel()

	repo := &taskRepoStub{}
	p := newProcessor(repo, &strategyStub{})

	err := p.Handle(context.Background(), domain.FetchTaskPayload{
		TaskID:   "task-3",
		Platform: domain.PlatformTwitter,
		Action:   domain.Action("bogus"),
		Params:   map[string]any{},
	})
	require.Error(t, err)
	require.Len(t, repo.fails, 1)
	assert.Contains(t, repo.fails[0], "bogus")
}

func TestProcessorMalformedParamsFail(t *testing.T) {
	t.Parallel()

	repo := &taskRepoStub{}
	p := newProcessor(repo, &strategyStub{})

	err := p.Handle(context.Background(), domain.FetchTaskPayload{
		TaskID:   "task-4",
		Platform: domain.PlatformTwitter,
		Action:   domain.ActionSimilar,
		Params:   map[string]any{"username": "jane", "count": "ten"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSchemaInvalid)
	require.Len(t, repo.fails, 1)
}

func TestProcessorRunningMarkFailureTolerated(t *testing.T) {
	t.Parallel()

	repo := &taskRepoStub{updateErr: errors.New("row locked")}
	s := &strategyStub{
		profiles:         map[string]domain.UserRecord{"jane": user("1", 100)},
		similar:          map[string][]domain.UserRecord{"1": {user("101", 100)}},
		postsUnsupported: true,
	}
	p := newProcessor(repo, s)

	err := p.Handle(context.Background(), similarPayload(t, "jane", 10))
	require.NoError(t, err)
	require.Len(t, repo.completes, 1)
}

func TestProcessorTerminalWriteRetries(t *testing.T) {
	t.Parallel()

	repo := &taskRepoStub{completeErrs: []error{errors.New("conn reset")}}
	s := &strategyStub{
		profiles:         map[string]domain.UserRecord{"jane": user("1", 100)},
		similar:          map[string][]domain.UserRecord{"1": {user("101", 100)}},
		postsUnsupported: true,
	}
	p := newProcessor(repo, s)

	err := p.Handle(context.Background(), similarPayload(t, "jane", 10))
	require.NoError(t, err)
	assert.Equal(t, 2, repo.completeCalls)
	require.Len(t, repo.completes, 1)
}

func TestProcessorStrategyConfigErrorFails(t *testing.T) {
	t.Parallel()

	repo := &taskRepoStub{}
	p := usecase.NewProcessor(repo, &accountsStub{}, &factoryStub{err: domain.ErrConfig})

	err := p.Handle(context.Background(), similarPayload(t, "jane", 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
	require.Len(t, repo.fails, 1)
}

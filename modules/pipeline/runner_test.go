package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"stylist-server/modules/common/model"
	"stylist-server/modules/job"
	"stylist-server/modules/provider"
)

type fakeImages struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req provider.ImageRequest) (*provider.FinalImages, error)
}

func (f *fakeImages) GenerateFinalImages(ctx context.Context, req provider.ImageRequest) (*provider.FinalImages, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return &provider.FinalImages{
		Prompt: "prompt-" + req.Style.Title,
		URLs:   []string{fmt.Sprintf("https://cdn.local/%s/%d.webp", req.JobID, req.Index)},
	}, nil
}

type fakeSuggester struct {
	styles []model.StyleSuggestion
	err    error
}

func (f *fakeSuggester) GenerateStyleSuggestions(context.Context, provider.SuggestionRequest) ([]model.StyleSuggestion, error) {
	return f.styles, f.err
}

func newFixture(t *testing.T, images *fakeImages, suggester *fakeSuggester, timeout time.Duration) (*Runner, *job.Machine) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	machine := job.NewMachine(job.NewStore(rdb, 0))
	if suggester == nil {
		suggester = &fakeSuggester{}
	}
	runner := NewRunner(machine, suggester, images, Options{ProviderTimeout: timeout})
	t.Cleanup(func() { _ = runner.Shutdown(context.Background()) })
	return runner, machine
}

func createTwoSuggestionJob(t *testing.T, machine *job.Machine) *model.Job {
	t.Helper()
	created, err := machine.CreateJob(context.Background(), job.CreateRequest{
		UserID: "user-1",
		Input:  model.JobInput{HumanImage: "https://img.local/h.png"},
		Suggestions: []model.StyleSuggestion{
			{Title: "a", Explanation: "first"},
			{Title: "b", Explanation: "second"},
		},
	})
	require.NoError(t, err)
	return created
}

func TestTwoSuggestionsCompleteIndependently(t *testing.T) {
	images := &fakeImages{}
	runner, machine := newFixture(t, images, nil, time.Second)
	ctx := context.Background()
	created := createTwoSuggestionJob(t, machine)

	_, err := machine.TransitionSuggestion(ctx, created.JobID, 0, model.SuggestionStatusPending, model.SuggestionStatusGeneratingImages)
	require.NoError(t, err)
	runner.Dispatch(created.JobID, 0)

	_, err = machine.StartSuggestion(ctx, created.JobID, 1)
	require.NoError(t, err)
	runner.Dispatch(created.JobID, 1)

	runner.Wait()

	got, err := machine.Get(ctx, created.JobID)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusSucceed, got.Status)
	require.True(t, got.IndexesConsistent())
	for i, s := range got.Suggestions {
		require.Equal(t, model.SuggestionStatusSucceed, s.Status)
		require.Equal(t, []string{fmt.Sprintf("https://cdn.local/%s/%d.webp", created.JobID, i)}, s.FinalImageURLs)
		require.NotEmpty(t, s.FinalPrompt)
	}

	stats := runner.Stats()
	require.EqualValues(t, 2, stats.Dispatched)
	require.EqualValues(t, 2, stats.Succeeded)
	require.Zero(t, stats.InFlight)
}

func TestCancelledJobDiscardsDelayedSuccess(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	images := &fakeImages{fn: func(ctx context.Context, req provider.ImageRequest) (*provider.FinalImages, error) {
		close(started)
		<-release
		return &provider.FinalImages{URLs: []string{"late.webp"}}, nil
	}}
	runner, machine := newFixture(t, images, nil, 5*time.Second)
	ctx := context.Background()
	created := createTwoSuggestionJob(t, machine)

	_, err := machine.StartSuggestion(ctx, created.JobID, 0)
	require.NoError(t, err)
	runner.Dispatch(created.JobID, 0)
	<-started

	_, err = machine.CancelJob(ctx, created.JobID)
	require.NoError(t, err)
	close(release)
	runner.Wait()

	got, err := machine.Get(ctx, created.JobID)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusCancelled, got.Status)
	require.True(t, got.Cancelled)
	require.NotEqual(t, model.SuggestionStatusSucceed, got.Suggestions[0].Status)
	require.Empty(t, got.Suggestions[0].FinalImageURLs)
	require.EqualValues(t, 1, runner.Stats().Discarded)
}

func TestProviderFailureLeavesSiblingsAlone(t *testing.T) {
	images := &fakeImages{fn: func(_ context.Context, req provider.ImageRequest) (*provider.FinalImages, error) {
		return nil, fmt.Errorf("%w: upstream 500", model.ErrProvider)
	}}
	runner, machine := newFixture(t, images, nil, time.Second)
	ctx := context.Background()
	created := createTwoSuggestionJob(t, machine)

	_, err := machine.StartSuggestion(ctx, created.JobID, 0)
	require.NoError(t, err)
	require.NoError(t, runner.RunImageStage(ctx, created.JobID, 0))

	got, err := machine.Get(ctx, created.JobID)
	require.NoError(t, err)
	require.Equal(t, model.SuggestionStatusFailed, got.Suggestions[0].Status)
	require.Contains(t, got.Suggestions[0].Error, "upstream 500")
	require.Equal(t, model.SuggestionStatusPending, got.Suggestions[1].Status)
	require.Equal(t, model.JobStatusGeneratingSuggestions, got.Status)
	require.EqualValues(t, 1, runner.Stats().Failed)
}

func TestProviderTimeoutFailsSuggestion(t *testing.T) {
	images := &fakeImages{fn: func(ctx context.Context, _ provider.ImageRequest) (*provider.FinalImages, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	runner, machine := newFixture(t, images, nil, 20*time.Millisecond)
	ctx := context.Background()
	created := createTwoSuggestionJob(t, machine)

	_, err := machine.StartSuggestion(ctx, created.JobID, 1)
	require.NoError(t, err)
	require.NoError(t, runner.RunImageStage(ctx, created.JobID, 1))

	got, err := machine.Get(ctx, created.JobID)
	require.NoError(t, err)
	require.Equal(t, model.SuggestionStatusFailed, got.Suggestions[1].Status)
	require.Contains(t, got.Suggestions[1].Error, "timed out")
}

func TestImageStageIsNoOpUnlessGenerating(t *testing.T) {
	images := &fakeImages{}
	runner, machine := newFixture(t, images, nil, time.Second)
	ctx := context.Background()
	created := createTwoSuggestionJob(t, machine)

	// pending 상태에서 실행해도 provider 를 부르지 않음
	require.NoError(t, runner.RunImageStage(ctx, created.JobID, 0))
	require.NoError(t, runner.RunImageStage(ctx, created.JobID, 9))
	require.Zero(t, images.calls.Load())

	got, err := machine.Get(ctx, created.JobID)
	require.NoError(t, err)
	require.Equal(t, model.SuggestionStatusPending, got.Suggestions[0].Status)

	err = runner.RunImageStage(ctx, "missing", 0)
	require.True(t, errors.Is(err, model.ErrNotFound))
}

func TestPanicIsRecoveredAsFailure(t *testing.T) {
	images := &fakeImages{fn: func(context.Context, provider.ImageRequest) (*provider.FinalImages, error) {
		panic("nil map")
	}}
	runner, machine := newFixture(t, images, nil, time.Second)
	ctx := context.Background()
	created := createTwoSuggestionJob(t, machine)

	_, err := machine.StartSuggestion(ctx, created.JobID, 0)
	require.NoError(t, err)
	runner.Dispatch(created.JobID, 0)
	runner.Wait()

	got, err := machine.Get(ctx, created.JobID)
	require.NoError(t, err)
	require.Equal(t, model.SuggestionStatusFailed, got.Suggestions[0].Status)
	require.Equal(t, "internal error", got.Suggestions[0].Error)
}

func TestSuggestionStage(t *testing.T) {
	suggester := &fakeSuggester{styles: []model.StyleSuggestion{{Explanation: "x"}, {Explanation: "y"}}}
	runner, machine := newFixture(t, &fakeImages{}, suggester, time.Second)
	ctx := context.Background()

	created, err := machine.CreateJob(ctx, job.CreateRequest{UserID: "u", Input: model.JobInput{HumanImage: "h"}})
	require.NoError(t, err)

	// pending 이면 no-op
	require.NoError(t, runner.RunSuggestionStage(ctx, created.JobID))

	_, err = machine.TransitionJob(ctx, created.JobID, model.JobStatusPending, model.JobStatusGeneratingSuggestions)
	require.NoError(t, err)
	runner.DispatchSuggestions(created.JobID)
	runner.Wait()

	got, err := machine.Get(ctx, created.JobID)
	require.NoError(t, err)
	require.Len(t, got.Suggestions, 2)
	require.True(t, got.IndexesConsistent())
	require.Equal(t, model.JobStatusGeneratingSuggestions, got.Status)
}

func TestSuggestionStageFailureFailsJob(t *testing.T) {
	suggester := &fakeSuggester{err: fmt.Errorf("%w: openai status 500", model.ErrProvider)}
	runner, machine := newFixture(t, &fakeImages{}, suggester, time.Second)
	ctx := context.Background()

	created, err := machine.CreateJob(ctx, job.CreateRequest{UserID: "u", Input: model.JobInput{HumanImage: "h"}})
	require.NoError(t, err)
	_, err = machine.TransitionJob(ctx, created.JobID, model.JobStatusPending, model.JobStatusGeneratingSuggestions)
	require.NoError(t, err)

	require.NoError(t, runner.RunSuggestionStage(ctx, created.JobID))

	got, err := machine.Get(ctx, created.JobID)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusFailed, got.Status)
	require.Contains(t, got.Error, "openai status 500")
}

func TestShutdownRejectsNewDispatches(t *testing.T) {
	images := &fakeImages{}
	runner, machine := newFixture(t, images, nil, time.Second)
	ctx := context.Background()
	created := createTwoSuggestionJob(t, machine)

	require.NoError(t, runner.Shutdown(ctx))

	_, err := machine.StartSuggestion(ctx, created.JobID, 0)
	require.NoError(t, err)
	runner.Dispatch(created.JobID, 0)
	runner.Wait()

	require.Zero(t, images.calls.Load())
	require.Zero(t, runner.Stats().Dispatched)
}

func TestShutdownRacingDispatchLeavesNothingRunning(t *testing.T) {
	images := &fakeImages{fn: func(ctx context.Context, req provider.ImageRequest) (*provider.FinalImages, error) {
		time.Sleep(5 * time.Millisecond)
		return &provider.FinalImages{URLs: []string{"https://cdn.local/x.webp"}}, nil
	}}
	runner, machine := newFixture(t, images, nil, time.Second)
	ctx := context.Background()
	created := createTwoSuggestionJob(t, machine)
	_, err := machine.StartSuggestion(ctx, created.JobID, 0)
	require.NoError(t, err)

	start := make(chan struct{})
	var dispatchers sync.WaitGroup
	for i := 0; i < 20; i++ {
		dispatchers.Add(1)
		go func() {
			defer dispatchers.Done()
			<-start
			for j := 0; j < 10; j++ {
				runner.Dispatch(created.JobID, 0)
			}
		}()
	}

	close(start)
	require.NoError(t, runner.Shutdown(ctx))
	dispatchers.Wait()

	// Shutdown 이 끝난 뒤에는 어떤 단계도 실행 중이면 안 됨
	require.Zero(t, runner.Stats().InFlight)
}

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stylist-server/modules/common/model"
)

func TestReaperSweepFailsStuckSuggestions(t *testing.T) {
	_, machine := newFixture(t, &fakeImages{}, nil, time.Second)
	ctx := context.Background()

	stuck := createTwoSuggestionJob(t, machine)
	fresh := createTwoSuggestionJob(t, machine)
	for _, id := range []string{stuck.JobID, fresh.JobID} {
		_, err := machine.StartSuggestion(ctx, id, 0)
		require.NoError(t, err)
	}

	time.Sleep(30 * time.Millisecond)
	_, err := machine.StartSuggestion(ctx, fresh.JobID, 1)
	require.NoError(t, err)

	reaper := NewReaper(machine, 20*time.Millisecond, time.Hour)
	n, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	// stuck#0, fresh#0 (둘 다 30ms 전 시작)
	require.Equal(t, 2, n)

	got, err := machine.Get(ctx, fresh.JobID)
	require.NoError(t, err)
	require.Equal(t, model.SuggestionStatusFailed, got.Suggestions[0].Status)
	require.Equal(t, model.SuggestionStatusGeneratingImages, got.Suggestions[1].Status)

	n, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestReaperRunStopsWithContext(t *testing.T) {
	_, machine := newFixture(t, &fakeImages{}, nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		NewReaper(machine, time.Minute, 5*time.Millisecond).Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

package cancel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeChecker map[string]bool

func (f fakeChecker) IsJobCancelled(_ context.Context, jobID string) bool {
	return f[jobID]
}

func TestChecks(t *testing.T) {
	ctx := context.Background()
	c := fakeChecker{"gone": true}

	require.True(t, CheckBeforeGeneration(ctx, c, "gone", 0))
	require.True(t, CheckAfterGeneration(ctx, c, "gone", 1))
	require.True(t, CheckBeforeSuggestions(ctx, c, "gone"))

	require.False(t, CheckBeforeGeneration(ctx, c, "live", 0))
	require.False(t, CheckAfterGeneration(ctx, c, "live", 1))
	require.False(t, CheckBeforeSuggestions(ctx, c, "live"))
}

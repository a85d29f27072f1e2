package update

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	all := []Status{
		StatusStarted, StatusDownloading, StatusBackingUp, StatusMigrating,
		StatusDeploying, StatusCompleted, StatusFailed, StatusRolledBack,
	}

	allowed := map[Status][]Status{
		StatusStarted:     {StatusDownloading, StatusFailed},
		StatusDownloading: {StatusBackingUp, StatusFailed},
		StatusBackingUp:   {StatusMigrating, StatusDeploying, StatusFailed},
		StatusMigrating:   {StatusDeploying, StatusFailed},
		StatusDeploying:   {StatusCompleted, StatusFailed},
		StatusCompleted:   {StatusRolledBack},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			require.Equalf(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.True(t, StatusRolledBack.Terminal())
	require.False(t, StatusStarted.Terminal())
	require.False(t, StatusDeploying.Terminal())

	require.Equal(t, 100, StatusCompleted.Progress())
	require.Zero(t, StatusFailed.Progress())
}

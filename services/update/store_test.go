package update

import (
	"context"
	"fmt"
	"testing"
	"time"

	"updater-controlplane/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestLogStore(t *testing.T) *LogStore {
	t.Helper()
	db := testutil.NewTestDB(t, &UpdateLog{})
	return NewLogStore(db)
}

func createLog(t *testing.T, s *LogStore, id string, startedAt time.Time) *UpdateLog {
	t.Helper()
	s.now = func() time.Time { return startedAt }
	log := &UpdateLog{ID: id, FromVersion: "1.0.0", ToVersion: "1.1.0"}
	require.NoError(t, s.Create(context.Background(), log, "started"))
	return log
}

func TestLogStoreCreate(t *testing.T) {
	s := newTestLogStore(t)
	createLog(t, s, "1", time.Now())

	got, err := s.Get(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, StatusStarted, got.Status)
	require.Len(t, got.Details.Data().History, 1)
	require.Nil(t, got.CompletedAt)

	_, err = s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrUpdateNotFound)
}

func TestLogStoreTransition(t *testing.T) {
	ctx := context.Background()
	s := newTestLogStore(t)
	createLog(t, s, "1", time.Now())

	_, err := s.Transition(ctx, "1", StatusCompleted, "skip ahead", nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	got, err := s.Transition(ctx, "1", StatusDownloading, "downloading", nil)
	require.NoError(t, err)
	require.Equal(t, StatusDownloading, got.Status)

	got, err = s.Transition(ctx, "1", StatusFailed, "network down", func(l *UpdateLog) {
		path := "/tmp/backup"
		l.BackupPath = &path
	})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	require.Equal(t, "network down", *got.ErrorMessage)
	require.NotNil(t, got.CompletedAt)

	stored, err := s.Get(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, "/tmp/backup", *stored.BackupPath)
	require.Len(t, stored.Details.Data().History, 3)

	_, err = s.Transition(ctx, "1", StatusRolledBack, "nope", nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.Transition(ctx, "missing", StatusFailed, "x", nil)
	require.ErrorIs(t, err, ErrUpdateNotFound)
}

func TestLogStoreHistoryOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestLogStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		createLog(t, s, fmt.Sprintf("%d", i), base.Add(time.Duration(i)*time.Hour))
	}

	logs, err := s.History(ctx, 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	require.Equal(t, "5", logs[0].ID)
	require.Equal(t, "4", logs[1].ID)
	require.Equal(t, "3", logs[2].ID)

	total, err := s.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 5, total)
}

func TestLogStoreFindActive(t *testing.T) {
	ctx := context.Background()
	s := newTestLogStore(t)

	active, err := s.FindActive(ctx)
	require.NoError(t, err)
	require.Nil(t, active)

	createLog(t, s, "1", time.Now())
	_, err = s.Transition(ctx, "1", StatusFailed, "boom", nil)
	require.NoError(t, err)

	active, err = s.FindActive(ctx)
	require.NoError(t, err)
	require.Nil(t, active)

	createLog(t, s, "2", time.Now())
	active, err = s.FindActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, "2", active.ID)
}

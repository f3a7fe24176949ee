package journal

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "sub", "journal.db"), 0, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first, err := s.Record(ctx, Entry{Listener: "/webhook/a", Method: "POST", Outcome: OutcomeDelivered,
		Elements: 3, TextImages: 1, Destinations: 2, Duration: 1500 * time.Millisecond, CreatedAt: base})
	require.NoError(t, err)
	_, err = uuid.Parse(first.ID)
	assert.NoError(t, err)

	_, err = s.Record(ctx, Entry{Listener: "/webhook/b", Method: "GET", Outcome: OutcomeTemplateError,
		Error: "template: bad", CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)

	all, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "/webhook/b", all[0].Listener)
	assert.Equal(t, OutcomeTemplateError, all[0].Outcome)
	assert.Equal(t, "template: bad", all[0].Error)

	got := all[1]
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, 3, got.Elements)
	assert.Equal(t, 1, got.TextImages)
	assert.Equal(t, 2, got.Destinations)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.True(t, base.Equal(got.CreatedAt))

	onlyA, err := s.Recent(ctx, "/webhook/a", 10)
	require.NoError(t, err)
	assert.Len(t, onlyA, 1)
}

func TestStore_Prune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.Record(ctx, Entry{Listener: "old", Method: "POST", Outcome: OutcomeEmpty, CreatedAt: now.Add(-48 * time.Hour)})
	require.NoError(t, err)
	_, err = s.Record(ctx, Entry{Listener: "new", Method: "POST", Outcome: OutcomeEmpty, CreatedAt: now})
	require.NoError(t, err)

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].Listener)
}

func TestOpen_MigratesIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.db")
	ctx := context.Background()

	s, err := Open(ctx, path, 0, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, time.Hour, testLogger())
	require.NoError(t, err)
	defer s.Close()

	v, err := schemaVersionOf(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)
	assert.NoError(t, s.Ping(ctx))
}

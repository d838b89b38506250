package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudpico-relay/internal/types"
)

type recordingRepo struct {
	mu        sync.Mutex
	accepted  []string
	confirmed []string
	err       error
}

func (r *recordingRepo) RecordAccepted(rec types.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted = append(r.accepted, rec.ID)
	return r.err
}

func (r *recordingRepo) MarkConfirmed(id string, _ int, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed = append(r.confirmed, id)
	return r.err
}

func (r *recordingRepo) Latest(int) ([]types.Reading, error) { return nil, nil }

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJournal_AppliesInOrderAndDrainsOnStop(t *testing.T) {
	repo := &recordingRepo{}
	j := NewJournal(repo, 8, quiet())

	j.Accepted(types.Reading{ID: "a"})
	j.Confirmed("a", 2, time.Now())
	j.Accepted(types.Reading{ID: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.Run(ctx)

	assert.Equal(t, []string{"a", "b"}, repo.accepted)
	assert.Equal(t, []string{"a"}, repo.confirmed)
}

func TestJournal_DropsWhenFull(t *testing.T) {
	j := NewJournal(&recordingRepo{}, 1, quiet())

	j.Accepted(types.Reading{ID: "a"})
	j.Accepted(types.Reading{ID: "b"})

	assert.Equal(t, 1, j.Dropped())
}

func TestJournal_RepositoryErrorsAreNotFatal(t *testing.T) {
	repo := &recordingRepo{err: errors.New("disk full")}
	j := NewJournal(repo, 4, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	j.Accepted(types.Reading{ID: "a"})
	j.Confirmed("a", 1, time.Now())
	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.confirmed) == 1
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestJournal_WithSQLite(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	j := NewJournal(repo, 4, quiet())

	rec := reading(2, time.Now())
	j.Accepted(rec)
	j.Confirmed(rec.ID, 1, rec.AcceptedAt.Add(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.Run(ctx)

	got, err := repo.Latest(5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
	require.NotNil(t, got[0].ConfirmedAt)
	assert.Equal(t, 1, got[0].Attempts)
}

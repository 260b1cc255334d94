package biz

import (
	"context"
	"testing"
	"time"

	"github.com/lk2023060901/resumable-upload/internal/upload/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *uploadSuite) age(t *testing.T, file FileIdentity, by time.Duration) {
	t.Helper()
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	rec, ok := s.ledger.records[file.Identity()]
	require.True(t, ok)
	rec.UpdatedAt = rec.UpdatedAt.Add(-by)
}

func TestReaperSweep(t *testing.T) {
	s := newUploadSuite(t)
	ctx := context.Background()

	stale := FileIdentity{Name: "old.bin", Size: 10, ContentHash: "h1"}
	fresh := FileIdentity{Name: "new.bin", Size: 10, ContentHash: "h2"}
	merged := FileIdentity{Name: "done.bin", Size: 10, ContentHash: "h3"}

	staleRec, err := s.uc.Start(ctx, stale)
	require.NoError(t, err)
	_, err = s.uc.Start(ctx, fresh)
	require.NoError(t, err)

	done := NewUploadRecord(merged.Name, merged.Size, merged.ContentHash, "session-merged", 5)
	done.State = types.StateMerged
	require.NoError(t, s.ledger.Set(ctx, done.Identity, done))

	s.age(t, stale, 2*time.Hour)
	s.age(t, merged, 2*time.Hour)

	r := NewReaper(s.uc, s.ledger, goPool{}, ReaperOptions{TTL: time.Hour}, nil)
	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok := s.ledger.stored(stale.Identity())
	assert.False(t, ok)
	_, ok = s.ledger.stored(merged.Identity())
	assert.False(t, ok)
	_, ok = s.ledger.stored(fresh.Identity())
	assert.True(t, ok)

	// only the unfinished session is aborted
	assert.Equal(t, []string{staleRec.SessionID}, s.backend.aborted)

	n, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReaperDisabled(t *testing.T) {
	s := newUploadSuite(t)
	_, err := s.uc.Start(context.Background(), s.file)
	require.NoError(t, err)
	s.age(t, s.file, 48*time.Hour)

	n, err := NewReaper(s.uc, s.ledger, goPool{}, ReaperOptions{}, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, s.ledger.records, 1)
}

func TestReaperErrors(t *testing.T) {
	s := newUploadSuite(t)
	ctx := context.Background()
	_, err := s.uc.Start(ctx, s.file)
	require.NoError(t, err)
	s.age(t, s.file, 2*time.Hour)

	n, err := NewReaper(s.uc, s.ledger, goPool{closed: true}, ReaperOptions{TTL: time.Hour}, nil).Sweep(ctx)
	assert.Error(t, err)
	assert.Zero(t, n)

	s.ledger.failGet = true
	_, err = NewReaper(s.uc, s.ledger, goPool{}, ReaperOptions{TTL: time.Hour}, nil).Sweep(ctx)
	assert.ErrorIs(t, err, ErrOperationFailed)
}

func TestExpireSkipsTouchedRecord(t *testing.T) {
	s := newUploadSuite(t)
	ctx := context.Background()
	_, err := s.uc.Start(ctx, s.file)
	require.NoError(t, err)

	expired, err := s.uc.Expire(ctx, s.file, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, expired)
	_, ok := s.ledger.stored(s.file.Identity())
	assert.True(t, ok)

	expired, err = s.uc.Expire(ctx, FileIdentity{Name: "gone", Size: 1, ContentHash: "x"}, time.Now())
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestReaperRunStops(t *testing.T) {
	s := newUploadSuite(t)
	r := NewReaper(s.uc, s.ledger, goPool{}, ReaperOptions{TTL: time.Hour, Interval: time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(stopped)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

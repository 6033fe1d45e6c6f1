package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/projectrag/internal/backfill"
	"github.com/dshills/projectrag/internal/indexer"
	"github.com/dshills/projectrag/pkg/types"
)

type fakeSyncer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSyncer) SyncAll(ctx context.Context) (*backfill.SyncRun, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &backfill.SyncRun{}, nil
}

type fakeIndexer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeIndexer) IndexPending(ctx context.Context) (*indexer.Statistics, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &indexer.Statistics{Documents: 1, Indexed: 1}, nil
}

func TestRunOnce(t *testing.T) {
	syncer := &fakeSyncer{}
	idx := &fakeIndexer{}
	s := New(syncer, idx, time.Minute)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, int32(1), syncer.calls.Load())
	assert.Equal(t, int32(1), idx.calls.Load())
}

func TestRunOnce_RetryableErrorsAreQuiet(t *testing.T) {
	tests := []struct {
		name       string
		syncErr    error
		indexErr   error
		wantErr    bool
		wantInText string
	}{
		{"already running", types.ErrAlreadyRunning, nil, false, ""},
		{"provider unavailable", types.ErrProviderUnavailable, types.ErrProviderUnavailable, false, ""},
		{"sync failure", errors.New("disk full"), nil, true, "backfill: disk full"},
		{"index failure", nil, errors.New("locked"), true, "index pending: locked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeSyncer{err: tt.syncErr}, &fakeIndexer{err: tt.indexErr}, time.Minute)
			err := s.RunOnce(context.Background())
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantInText)
		})
	}
}

func TestStart_RunsPeriodically(t *testing.T) {
	syncer := &fakeSyncer{}
	idx := &fakeIndexer{}
	s := New(syncer, idx, 50*time.Millisecond)

	require.NoError(t, s.Start())
	defer s.Stop()
	assert.Equal(t, 1, s.Jobs())

	require.Eventually(t, func() bool {
		return syncer.calls.Load() >= 2 && idx.calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStart_RejectsZeroInterval(t *testing.T) {
	s := New(&fakeSyncer{}, nil, 0)
	assert.ErrorIs(t, s.Start(), types.ErrInvalidInput)
}

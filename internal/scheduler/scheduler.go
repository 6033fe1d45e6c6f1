package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/dshills/projectrag/internal/backfill"
	"github.com/dshills/projectrag/internal/indexer"
	"github.com/dshills/projectrag/internal/logger"
	"github.com/dshills/projectrag/pkg/types"
)

// Job tags
const (
	TagMaintenance = "maintenance"
)

// Syncer runs a backfill pass
type Syncer interface {
	SyncAll(ctx context.Context) (*backfill.SyncRun, error)
}

// PendingIndexer drains documents waiting to be indexed
type PendingIndexer interface {
	IndexPending(ctx context.Context) (*indexer.Statistics, error)
}

// Scheduler runs pending-document indexing and the embedding backfill on a
// fixed interval
type Scheduler struct {
	scheduler *gocron.Scheduler
	syncer    Syncer
	indexer   PendingIndexer
	interval  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. Jobs are registered by Start.
func New(syncer Syncer, idx PendingIndexer, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()

	return &Scheduler{
		scheduler: s,
		syncer:    syncer,
		indexer:   idx,
		interval:  interval,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers the maintenance job and starts the scheduler. The first
// pass runs immediately; a pass still running when the next is due is not
// overlapped.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", types.ErrInvalidInput)
	}
	_, err := s.scheduler.Every(s.interval).Tag(TagMaintenance).SingletonMode().Do(func() {
		if err := s.RunOnce(s.ctx); err != nil {
			logger.Error("maintenance pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}
	s.scheduler.StartAsync()
	logger.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop stops the scheduler and cancels a pass in progress
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
}

// Jobs returns the number of registered jobs
func (s *Scheduler) Jobs() int {
	return len(s.scheduler.Jobs())
}

// RunOnce indexes pending documents, then runs a backfill. A backfill that
// is already running elsewhere or an unavailable provider is not an error:
// the next pass picks the work up.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error

	if s.indexer != nil {
		stats, err := s.indexer.IndexPending(ctx)
		switch {
		case errors.Is(err, types.ErrProviderUnavailable):
			logger.Warn("provider unavailable, pending documents deferred")
		case err != nil:
			errs = append(errs, fmt.Errorf("index pending: %w", err))
		case stats.Documents > 0:
			logger.Info("pending documents indexed",
				"indexed", stats.Indexed, "failed", stats.Failed, "duration", stats.Duration)
		}
	}

	if s.syncer != nil {
		run, err := s.syncer.SyncAll(ctx)
		switch {
		case errors.Is(err, types.ErrAlreadyRunning):
			logger.Debug("backfill already running, pass skipped")
		case errors.Is(err, types.ErrProviderUnavailable):
			logger.Warn("provider unavailable, backfill deferred")
		case err != nil:
			errs = append(errs, fmt.Errorf("backfill: %w", err))
		default:
			logger.Debug("backfill pass done", "run_id", run.ID, "synced", run.Synced(), "failed", run.Failed())
		}
	}

	return errors.Join(errs...)
}

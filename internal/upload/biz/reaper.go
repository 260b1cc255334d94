package biz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lk2023060901/resumable-upload/internal/pkg/logger"
	"go.uber.org/zap"
)

// StaleLister is implemented by ledgers that cannot expire records on their
// own.
type StaleLister interface {
	// ListStale returns at most limit records last updated before cutoff,
	// oldest first.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*UploadRecord, error)
}

// TaskSubmitter runs tasks asynchronously.
type TaskSubmitter interface {
	Submit(task func()) error
}

// ReaperOptions 过期记录清理参数
type ReaperOptions struct {
	TTL       time.Duration
	Interval  time.Duration
	BatchSize int
}

// Reaper 定期清理超过 TTL 未更新的上传：中止存储会话并删除记录
type Reaper struct {
	uc     *UploadUseCase
	lister StaleLister
	pool   TaskSubmitter
	opts   ReaperOptions
	logger *logger.Logger
}

func NewReaper(uc *UploadUseCase, lister StaleLister, pool TaskSubmitter, opts ReaperOptions, log *logger.Logger) *Reaper {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Reaper{uc: uc, lister: lister, pool: pool, opts: opts, logger: log.Named("reaper")}
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.logger.Info("upload reaper started",
		zap.Duration("ttl", r.opts.TTL),
		zap.Duration("interval", r.opts.Interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("upload reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("upload reaper sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep expires one batch of stale records and returns how many were removed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	if r.opts.TTL <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-r.opts.TTL)

	stale, err := r.lister.ListStale(ctx, cutoff, r.opts.BatchSize)
	if err != nil {
		return 0, operationFailed("list stale", err)
	}

	var (
		wg      sync.WaitGroup
		reaped  atomic.Int64
		failMu  sync.Mutex
		lastErr error
	)
	for _, rec := range stale {
		file := FileIdentity{Name: rec.Name, Size: rec.Size, ContentHash: rec.ContentHash}
		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			expired, err := r.uc.Expire(ctx, file, cutoff)
			if err != nil {
				r.logger.WithContext(ctx).Warn("failed to expire upload",
					zap.String("identity", file.Identity()),
					zap.Error(err))
				failMu.Lock()
				lastErr = err
				failMu.Unlock()
				return
			}
			if expired {
				reaped.Add(1)
			}
		})
		if err != nil {
			wg.Done()
			failMu.Lock()
			lastErr = err
			failMu.Unlock()
			break
		}
	}
	wg.Wait()

	n := int(reaped.Load())
	if n > 0 {
		recordsReapedTotal.Add(float64(n))
		r.logger.Info("stale uploads reaped", zap.Int("count", n))
	}
	return n, lastErr
}

// Expire forgets the record of file when it was last updated before cutoff.
// It reports whether the record was removed.
func (uc *UploadUseCase) Expire(ctx context.Context, file FileIdentity, cutoff time.Time) (bool, error) {
	var expired bool
	err := uc.withLock(ctx, file, func() error {
		rec, err := uc.ledger.Get(ctx, file.Identity())
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return operationFailed("ledger get", err)
		}
		// touched since it was listed
		if !rec.UpdatedAt.Before(cutoff) {
			return nil
		}

		if err := uc.discard(ctx, rec); err != nil {
			return err
		}
		expired = true
		uc.logger.WithContext(ctx).Info("stale upload expired",
			zap.String("identity", rec.Identity),
			zap.String("state", rec.State.String()),
			zap.Time("updated_at", rec.UpdatedAt))
		return nil
	})
	return expired, err
}

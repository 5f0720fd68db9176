package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	historyin "sightsync/internal/modules/history/port/in"
	apperrors "sightsync/internal/platform/errors"
)

// Scheduler triggers background syncs on a fixed interval and on explicit requests.
type Scheduler struct {
	usecase historyin.Usecase
	log     hclog.Logger
}

func NewScheduler(usecase historyin.Usecase, log hclog.Logger) *Scheduler {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Scheduler{usecase: usecase, log: log.Named("scheduler")}
}

// Run blocks until ctx is done, then waits for syncs still in flight. A trigger that
// lands while a sync runs is answered by the service with still_syncing.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, requests <-chan struct{}) error {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	trigger := func(reason string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.syncOnce(ctx, reason)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			trigger("interval")
		case _, ok := <-requests:
			if !ok {
				requests = nil
				continue
			}
			trigger("request")
		}
	}
}

func (s *Scheduler) syncOnce(ctx context.Context, reason string) {
	result, err := s.usecase.SyncNow(ctx)
	switch {
	case errors.Is(err, apperrors.ErrSyncInProgress):
		s.log.Info("sync still running", "trigger", reason)
	case errors.Is(err, context.Canceled):
		s.log.Debug("sync cancelled", "trigger", reason)
	case err != nil:
		s.log.Error("scheduled sync failed", "trigger", reason, "error", err)
	default:
		s.log.Debug("scheduled sync done", "trigger", reason, "run_id", result.RunID, "duplicates", result.Duplicates)
	}
}

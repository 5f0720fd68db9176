package service

import (
	"context"
	"fmt"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"sightsync/internal/modules/history/domain"
	historyout "sightsync/internal/modules/history/port/out"
	"sightsync/internal/platform/clock"
	apperrors "sightsync/internal/platform/errors"
)

// Reconciler persists the events of a batch that the store has not seen yet and
// announces each one. Duplicates are identified by (device, kind, sequence).
type Reconciler struct {
	events   historyout.EventStore
	offsets  *OffsetTracker
	notifier historyout.Notifier
	metrics  historyout.Metrics
	clock    clock.Clock
	log      hclog.Logger
}

func NewReconciler(events historyout.EventStore, offsets *OffsetTracker, notifier historyout.Notifier, metrics historyout.Metrics, clk clock.Clock, log hclog.Logger) *Reconciler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Reconciler{events: events, offsets: offsets, notifier: notifier, metrics: metrics, clock: clk, log: log.Named("reconcile")}
}

// Reconcile stops at the first store error. Events persisted before it stay persisted
// and the offset is left untouched so the next run reads them again.
func (r *Reconciler) Reconcile(ctx context.Context, runID, device string, batch *domain.Batch) (domain.ReconcileReport, error) {
	report := domain.ReconcileReport{Persisted: make(map[domain.Kind]int, len(domain.Kinds))}
	for _, group := range batch.ByKind() {
		for _, event := range group {
			kind := event.Kind()
			seq := event.Head().Sequence
			exists, err := r.events.Exists(ctx, device, kind, seq)
			if err != nil {
				return report, fmt.Errorf("%w: check %s seq %d: %w", apperrors.ErrStore, kind, seq, err)
			}
			if exists {
				report.Duplicates++
				r.metrics.DuplicateSkipped(kind)
				continue
			}
			if err := r.events.Insert(ctx, event); err != nil {
				return report, fmt.Errorf("%w: insert %s seq %d: %w", apperrors.ErrStore, kind, seq, err)
			}
			report.Persisted[kind]++
			r.metrics.EventPersisted(kind)
			r.publish(ctx, domain.EventNotification(event, runID, r.clock.Now()))
		}
	}
	if batch.Latest > 0 {
		advanced, err := r.offsets.Advance(ctx, device, domain.CategoryAll, batch.Latest)
		if err != nil {
			return report, err
		}
		report.Advanced = advanced
		report.Offset = batch.Latest
	}
	r.log.Debug("reconciled", "device", device, "persisted", report.Total(), "duplicates", report.Duplicates, "latest", batch.Latest)
	return report, nil
}

func (r *Reconciler) publish(ctx context.Context, n domain.Notification) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Publish(ctx, n); err != nil {
		r.metrics.NotifyFailed()
		r.log.Warn("publish notification failed", "action", n.Action, "sequence", n.Sequence, "error", err)
	}
}

type nopMetrics struct{}

func (nopMetrics) SyncFinished(string, time.Duration) {}
func (nopMetrics) EventPersisted(domain.Kind)         {}
func (nopMetrics) DuplicateSkipped(domain.Kind)       {}
func (nopMetrics) FrameSkipped(string)                {}
func (nopMetrics) NotifyFailed()                      {}

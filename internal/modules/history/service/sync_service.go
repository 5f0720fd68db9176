package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"sightsync/internal/modules/history/domain"
	historyout "sightsync/internal/modules/history/port/out"
	"sightsync/internal/platform/clock"
	apperrors "sightsync/internal/platform/errors"
	"sightsync/internal/platform/id"
)

type SyncOptions struct {
	WakeLockTimeout     time.Duration
	ConnectTimeout      time.Duration
	IsolateDecodeErrors bool
	Location            *time.Location
}

type SyncDeps struct {
	Transport historyout.Transport
	WakeLock  historyout.WakeLock
	Events    historyout.EventStore
	Offsets   historyout.OffsetStore
	Notifier  historyout.Notifier
	Metrics   historyout.Metrics
	Clock     clock.Clock
	IDs       id.Generator
	Log       hclog.Logger
}

// SyncService runs one history read session at a time: connect, identify, read,
// then reconcile. A read either completes or nothing from it is reconciled.
type SyncService struct {
	transport  historyout.Transport
	wake       historyout.WakeLock
	notifier   historyout.Notifier
	metrics    historyout.Metrics
	clock      clock.Clock
	ids        id.Generator
	log        hclog.Logger
	opts       SyncOptions
	offsets    *OffsetTracker
	planner    *Planner
	reconciler *Reconciler

	running atomic.Bool
	mu      sync.Mutex
	state   domain.SyncState
}

func NewSyncService(deps SyncDeps, opts SyncOptions) *SyncService {
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.SystemClock{}
	}
	if deps.IDs == nil {
		deps.IDs = id.UUID{}
	}
	if deps.Log == nil {
		deps.Log = hclog.NewNullLogger()
	}
	if opts.WakeLockTimeout <= 0 {
		opts.WakeLockTimeout = time.Minute
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	offsets := NewOffsetTracker(deps.Offsets)
	return &SyncService{
		transport:  deps.Transport,
		wake:       deps.WakeLock,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		clock:      deps.Clock,
		ids:        deps.IDs,
		log:        deps.Log.Named("sync"),
		opts:       opts,
		offsets:    offsets,
		planner:    NewPlanner(offsets),
		reconciler: NewReconciler(deps.Events, offsets, deps.Notifier, deps.Metrics, deps.Clock, deps.Log),
		state:      domain.StateIdle,
	}
}

func (s *SyncService) State() domain.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Offsets exposes the tracker so read-only callers share the same store view.
func (s *SyncService) Offsets() *OffsetTracker {
	return s.offsets
}

func (s *SyncService) Sync(ctx context.Context) (domain.SyncReport, error) {
	runID := s.ids.New()
	if !s.running.CompareAndSwap(false, true) {
		s.log.Info("sync requested while another is running", "run_id", runID)
		s.publish(ctx, domain.Notification{Action: domain.ActionStillSyncing, RunID: runID, EmittedAt: s.clock.Now()})
		return domain.SyncReport{RunID: runID}, apperrors.ErrSyncInProgress
	}
	defer s.running.Store(false)

	report := domain.SyncReport{RunID: runID, StartedAt: s.clock.Now()}
	s.publish(ctx, domain.Notification{Action: domain.ActionSyncStarted, RunID: runID, EmittedAt: report.StartedAt})

	err := s.run(ctx, &report)
	report.FinishedAt = s.clock.Now()

	outcome := "ok"
	fields := map[string]any{
		"frames":     report.Frames,
		"skipped":    report.Skipped,
		"isolated":   report.Isolated,
		"persisted":  report.Reconcile.Total(),
		"duplicates": report.Reconcile.Duplicates,
	}
	if err != nil {
		outcome = "error"
		fields["error"] = err.Error()
		s.transition(domain.StateFailed)
		s.log.Error("sync failed", "run_id", runID, "device", report.Device.Serial, "error", err)
	} else {
		s.log.Info("sync finished", "run_id", runID, "device", report.Device.Serial,
			"persisted", report.Reconcile.Total(), "duplicates", report.Reconcile.Duplicates, "offset", report.Reconcile.Offset)
	}
	s.transition(domain.StateIdle)
	s.metrics.SyncFinished(outcome, report.Duration())
	s.publish(ctx, domain.Notification{
		Action:    domain.ActionSyncFinished,
		RunID:     runID,
		Device:    report.Device.Serial,
		Fields:    fields,
		EmittedAt: report.FinishedAt,
	})
	return report, err
}

func (s *SyncService) run(ctx context.Context, report *domain.SyncReport) error {
	s.transition(domain.StateConnecting)
	lease, err := s.wake.Acquire(ctx, s.opts.WakeLockTimeout)
	if err != nil {
		return fmt.Errorf("acquire wake lease: %w", err)
	}
	defer func() {
		if !lease.Held() {
			return
		}
		if err := lease.Release(); err != nil {
			s.log.Warn("release wake lease", "error", err)
		}
	}()

	connectCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	conn, err := s.transport.Connect(connectCtx)
	cancel()
	if err != nil {
		return transportError("connect", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.log.Warn("close connection", "error", err)
		}
	}()

	s.transition(domain.StateIdentifying)
	info, err := conn.Identify(ctx)
	if err != nil {
		return transportError("identify", err)
	}
	if err := info.Validate(); err != nil {
		return transportError("identify", err)
	}
	report.Device = info
	limits := s.readLimits(ctx, conn)

	s.transition(domain.StateReading)
	plan, err := s.planner.Plan(ctx, info.Serial, domain.CategoryAll)
	if err != nil {
		return err
	}
	report.Plan = plan
	s.log.Debug("read plan", "device", info.Serial, "offset", plan.Offset, "direction", plan.Direction.String())
	batch, err := s.read(ctx, conn, plan, info.Serial, limits)
	if err != nil {
		return err
	}
	report.Frames = batch.Frames
	report.Skipped = batch.Skipped
	report.Isolated = batch.Isolated

	s.transition(domain.StateReconciling)
	rec, err := s.reconciler.Reconcile(ctx, report.RunID, info.Serial, batch)
	report.Reconcile = rec
	return err
}

// readLimits is best effort; a device without the block syncs without limit checks.
func (s *SyncService) readLimits(ctx context.Context, conn historyout.Connection) domain.DeviceLimits {
	payload, err := conn.ReadConfigBlock(ctx, domain.BlockFactoryMaxBolus)
	if err != nil {
		s.log.Debug("factory max bolus unavailable", "error", err)
		return domain.DeviceLimits{}
	}
	max, err := domain.DecodeFactoryMaxBolus(payload)
	if err != nil {
		s.log.Warn("factory max bolus undecodable", "error", err)
		return domain.DeviceLimits{}
	}
	return domain.DeviceLimits{MaxBolus: max}
}

func (s *SyncService) read(ctx context.Context, conn historyout.Connection, plan domain.ReadPlan, device string, limits domain.DeviceLimits) (*domain.Batch, error) {
	session, err := conn.OpenHistory(ctx, plan)
	if err != nil {
		return nil, transportError("open history", err)
	}
	closed := false
	defer func() {
		if closed {
			return
		}
		if _, err := session.Close(ctx); err != nil {
			s.log.Warn("close history session", "error", err)
		}
	}()

	dispatcher := domain.NewDispatcher(domain.DecodeContext{Location: s.opts.Location})
	batch := &domain.Batch{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, transportError("read history", err)
		}
		frames, more, err := session.Next(ctx)
		if err != nil {
			return nil, transportError("read history", err)
		}
		for _, frame := range frames {
			batch.Frames++
			event, ok, err := dispatcher.Dispatch(frame, device)
			if !ok {
				batch.Skipped++
				s.metrics.FrameSkipped("unknown_tag")
				s.log.Trace("skipping unknown frame", "tag", fmt.Sprintf("0x%04X", frame.Tag))
				continue
			}
			if err != nil {
				if !s.opts.IsolateDecodeErrors {
					return nil, err
				}
				batch.Isolated++
				s.metrics.FrameSkipped("decode_error")
				s.log.Warn("dropping undecodable frame", "tag", fmt.Sprintf("0x%04X", frame.Tag), "error", err)
				continue
			}
			if bolus, isBolus := event.(domain.BolusAmount); isBolus && limits.Exceeds(bolus.Total()) {
				s.log.Warn("bolus above factory maximum", "kind", event.Kind(), "sequence", event.Head().Sequence,
					"total", bolus.Total().StringFixed(2), "max", limits.MaxBolus.StringFixed(2))
			}
			batch.Add(event)
		}
		if !more {
			break
		}
	}
	latest, err := session.Close(ctx)
	closed = true
	if err != nil {
		return nil, transportError("close history", err)
	}
	batch.Latest = latest
	return batch, nil
}

func (s *SyncService) transition(next domain.SyncState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == next {
		return
	}
	if !s.state.CanTransition(next) {
		s.log.Warn("unexpected sync state transition", "from", s.state, "to", next)
	}
	s.log.Debug("sync state", "from", s.state, "to", next)
	s.state = next
}

func (s *SyncService) publish(ctx context.Context, n domain.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, n); err != nil {
		s.metrics.NotifyFailed()
		s.log.Warn("publish notification failed", "action", n.Action, "error", err)
	}
}

func transportError(op string, err error) error {
	if errors.Is(err, apperrors.ErrTransport) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", apperrors.ErrTransport, op, err)
}

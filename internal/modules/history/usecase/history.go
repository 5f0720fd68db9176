package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sightsync/internal/modules/history/domain"
	"sightsync/internal/modules/history/dto"
	historyin "sightsync/internal/modules/history/port/in"
	historyout "sightsync/internal/modules/history/port/out"
	apperrors "sightsync/internal/platform/errors"
)

type syncPort interface {
	Sync(ctx context.Context) (domain.SyncReport, error)
}

type offsetPort interface {
	Get(ctx context.Context, device string, category domain.Category) (uint32, bool, error)
}

type Interactor struct {
	sync          syncPort
	offsets       offsetPort
	events        historyout.EventReader
	notifications historyout.NotificationLog
	dispatcher    *domain.Dispatcher
}

// NewInteractor wires the read side of the store with the sync service. loc is the
// pump's wall-clock zone used when decoding frames offline.
func NewInteractor(sync syncPort, offsets offsetPort, events historyout.EventReader, notifications historyout.NotificationLog, loc *time.Location) historyin.Usecase {
	return &Interactor{
		sync:          sync,
		offsets:       offsets,
		events:        events,
		notifications: notifications,
		dispatcher:    domain.NewDispatcher(domain.DecodeContext{Location: loc}),
	}
}

func (i *Interactor) SyncNow(ctx context.Context) (dto.SyncResult, error) {
	report, err := i.sync.Sync(ctx)
	return mapReport(report), err
}

func (i *Interactor) ListEvents(ctx context.Context, device string, limit int) ([]dto.EventInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	events, err := i.events.List(ctx, strings.TrimSpace(device), limit)
	if err != nil {
		return nil, err
	}
	out := make([]dto.EventInfo, 0, len(events))
	for _, e := range events {
		out = append(out, dto.EventInfo{
			Device:    e.Device,
			Kind:      string(e.Kind),
			Sequence:  e.Sequence,
			EventTime: e.EventTime,
			Fields:    e.Fields,
		})
	}
	return out, nil
}

func (i *Interactor) GetOffset(ctx context.Context, device string) (dto.OffsetInfo, error) {
	device = strings.TrimSpace(device)
	if device == "" {
		return dto.OffsetInfo{}, fmt.Errorf("%w: device is required", apperrors.ErrInvalidInput)
	}
	seq, found, err := i.offsets.Get(ctx, device, domain.CategoryAll)
	if err != nil {
		return dto.OffsetInfo{}, err
	}
	return dto.OffsetInfo{Device: device, Category: domain.CategoryAll.String(), Sequence: seq, Found: found}, nil
}

func (i *Interactor) TailNotifications(ctx context.Context, limit int) ([]dto.NotificationInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	notes, err := i.notifications.Tail(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]dto.NotificationInfo, 0, len(notes))
	for _, n := range notes {
		out = append(out, dto.NotificationInfo{
			Action:    string(n.Action),
			RunID:     n.RunID,
			Device:    n.Device,
			Sequence:  n.Sequence,
			EventTime: n.EventTime,
			Fields:    n.Fields,
			EmittedAt: n.EmittedAt,
		})
	}
	return out, nil
}

// DecodeFrame decodes one frame without touching the pump or the store.
func (i *Interactor) DecodeFrame(_ context.Context, tag uint16, payload []byte) (dto.EventInfo, error) {
	event, ok, err := i.dispatcher.Dispatch(domain.RawFrame{Tag: tag, Payload: payload}, "")
	if err != nil {
		return dto.EventInfo{}, err
	}
	if !ok {
		return dto.EventInfo{}, fmt.Errorf("%w: no decoder for tag 0x%04X", apperrors.ErrNotFound, tag)
	}
	h := event.Head()
	return dto.EventInfo{
		Kind:      string(event.Kind()),
		Sequence:  h.Sequence,
		EventTime: h.EventTime,
		Fields:    event.Fields(),
	}, nil
}

func mapReport(r domain.SyncReport) dto.SyncResult {
	persisted := make(map[string]int, len(r.Reconcile.Persisted))
	for kind, n := range r.Reconcile.Persisted {
		persisted[string(kind)] = n
	}
	return dto.SyncResult{
		RunID:      r.RunID,
		Device:     r.Device.Serial,
		Firmware:   r.Device.Firmware,
		Direction:  r.Plan.Direction.String(),
		Offset:     r.Plan.Offset,
		Frames:     r.Frames,
		Skipped:    r.Skipped,
		Isolated:   r.Isolated,
		Persisted:  persisted,
		Duplicates: r.Reconcile.Duplicates,
		Latest:     r.Reconcile.Offset,
		Duration:   r.Duration(),
	}
}

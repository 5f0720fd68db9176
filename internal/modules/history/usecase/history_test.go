package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sightsync/internal/modules/history/domain"
	"sightsync/internal/modules/history/dto"
	"sightsync/internal/modules/history/usecase"
	apperrors "sightsync/internal/platform/errors"
)

type stubSync struct {
	report domain.SyncReport
	err    error
}

func (s stubSync) Sync(context.Context) (domain.SyncReport, error) {
	return s.report, s.err
}

type stubOffsets struct {
	seq   uint32
	found bool
}

func (s stubOffsets) Get(context.Context, string, domain.Category) (uint32, bool, error) {
	return s.seq, s.found, nil
}

type stubEvents struct {
	device string
	limit  int
}

func (s *stubEvents) List(_ context.Context, device string, limit int) ([]domain.StoredEvent, error) {
	s.device, s.limit = device, limit
	return []domain.StoredEvent{{Device: "SIM-0001", Kind: domain.KindCannulaFilled, Sequence: 4, Fields: map[string]any{"fill_amount": "0.70"}}}, nil
}

type stubLog struct{}

func (stubLog) Tail(context.Context, int) ([]domain.Notification, error) {
	return []domain.Notification{{Action: domain.ActionSyncFinished, RunID: "run-1"}}, nil
}

func TestInteractorMapsResults(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	report := domain.SyncReport{
		RunID:      "run-1",
		Device:     domain.DeviceInfo{Serial: "SIM-0001", Firmware: "1.0"},
		Plan:       domain.ReadPlan{Offset: 14, Direction: domain.DirectionForward},
		Frames:     3,
		Reconcile:  domain.ReconcileReport{Persisted: map[domain.Kind]int{domain.KindBolusDelivered: 2}, Duplicates: 1, Offset: 16},
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
	}
	events := &stubEvents{}
	uc := usecase.NewInteractor(stubSync{report: report}, stubOffsets{seq: 16, found: true}, events, stubLog{}, time.UTC)

	result, err := uc.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Direction != "forward" || result.Persisted["bolus_delivered"] != 2 || result.Latest != 16 || result.Duration != 2*time.Second {
		t.Fatalf("unexpected result %+v", result)
	}

	list, err := uc.ListEvents(context.Background(), " SIM-0001 ", 0)
	if err != nil || len(list) != 1 || list[0].Kind != "cannula_filled" {
		t.Fatalf("unexpected events %+v %v", list, err)
	}
	if events.device != "SIM-0001" || events.limit != 50 {
		t.Fatalf("unexpected list arguments %q %d", events.device, events.limit)
	}

	offset, err := uc.GetOffset(context.Background(), "SIM-0001")
	if err != nil || !offset.Found || offset.Sequence != 16 || offset.Category != "all" {
		t.Fatalf("unexpected offset %+v %v", offset, err)
	}
	if _, err := uc.GetOffset(context.Background(), " "); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	notes, err := uc.TailNotifications(context.Background(), 5)
	if err != nil || len(notes) != 1 || notes[0].Action != "sync_finished" {
		t.Fatalf("unexpected notifications %+v %v", notes, err)
	}
}

func TestInteractorDecodesFrameOffline(t *testing.T) {
	t.Parallel()
	uc := usecase.NewInteractor(stubSync{}, stubOffsets{}, &stubEvents{}, stubLog{}, time.UTC)
	at := time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)
	frame, err := domain.Encode(&domain.CannulaFilled{Header: domain.Header{Sequence: 12, EventTime: at}, Amount: decimal.RequireFromString("0.70")}, time.UTC)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	info, err := uc.DecodeFrame(context.Background(), frame.Tag, frame.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Kind != "cannula_filled" || info.Sequence != 12 || !info.EventTime.Equal(at) || info.Fields["fill_amount"] != "0.70" {
		t.Fatalf("unexpected event %+v", info)
	}
	if _, err := uc.DecodeFrame(context.Background(), 0x0070, frame.Payload); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected unknown tag error, got %v", err)
	}
	if _, err := uc.DecodeFrame(context.Background(), frame.Tag, frame.Payload[:4]); !errors.Is(err, apperrors.ErrOutOfBounds) {
		t.Fatalf("expected truncated frame error, got %v", err)
	}
}

type countingUsecase struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingUsecase) SyncNow(context.Context) (dto.SyncResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return dto.SyncResult{}, c.err
}

func (c *countingUsecase) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *countingUsecase) ListEvents(context.Context, string, int) ([]dto.EventInfo, error) {
	return nil, nil
}

func (c *countingUsecase) GetOffset(context.Context, string) (dto.OffsetInfo, error) {
	return dto.OffsetInfo{}, nil
}

func (c *countingUsecase) TailNotifications(context.Context, int) ([]dto.NotificationInfo, error) {
	return nil, nil
}

func (c *countingUsecase) DecodeFrame(context.Context, uint16, []byte) (dto.EventInfo, error) {
	return dto.EventInfo{}, nil
}

func TestSchedulerRunsOnRequest(t *testing.T) {
	t.Parallel()
	uc := &countingUsecase{err: apperrors.ErrSyncInProgress}
	scheduler := usecase.NewScheduler(uc, nil)
	ctx, cancel := context.WithCancel(context.Background())
	requests := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- scheduler.Run(ctx, time.Hour, requests)
	}()

	requests <- struct{}{}
	requests <- struct{}{}
	deadline := time.After(2 * time.Second)
	for uc.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected 2 syncs, got %d", uc.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestSchedulerRunsOnInterval(t *testing.T) {
	t.Parallel()
	uc := &countingUsecase{}
	scheduler := usecase.NewScheduler(uc, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- scheduler.Run(ctx, 10*time.Millisecond, nil)
	}()
	deadline := time.After(2 * time.Second)
	for uc.count() < 1 {
		select {
		case <-deadline:
			t.Fatalf("expected an interval sync")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

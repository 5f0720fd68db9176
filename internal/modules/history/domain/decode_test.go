package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sightsync/internal/modules/history/domain"
	apperrors "sightsync/internal/platform/errors"
	"sightsync/internal/platform/wire"
)

func header(w *wire.Writer, year uint16, month, day, hour, minute, second uint8, seq uint32) *wire.Writer {
	return w.Uint16(year).Uint8(month).Uint8(day).Uint8(hour).Uint8(minute).Uint8(second).Uint32(seq)
}

func deliveredPayload(hour, minute, startHour, startMinute uint8, bolusType uint16) []byte {
	w := header(wire.NewWriter(32), 2024, 3, 10, hour, minute, 0, 7)
	w.Uint8(startHour).Uint8(startMinute).Uint8(0).Zero(1)
	w.Uint16(bolusType).Uint16(250).Uint16(1).Uint16(30).Zero(4).Uint16(42)
	return w.Finish()
}

func TestAmountScaling(t *testing.T) {
	t.Parallel()
	cases := map[uint16]string{250: "2.50", 1: "0.01", 0: "0.00", 65535: "655.35"}
	for raw, want := range cases {
		if got := domain.Amount(raw).StringFixed(2); got != want {
			t.Fatalf("amount %d: expected %s, got %s", raw, want, got)
		}
	}
	raw, err := domain.RawAmount(decimal.RequireFromString("2.50"))
	if err != nil || raw != 250 {
		t.Fatalf("expected raw 250, got %d %v", raw, err)
	}
	if _, err := domain.RawAmount(decimal.NewFromInt(-1)); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input for negative amount, got %v", err)
	}
	if _, err := domain.RawAmount(decimal.NewFromInt(1000)); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input for overflow, got %v", err)
	}
}

func TestBolusDeliveredDecode(t *testing.T) {
	t.Parallel()
	d := domain.NewDispatcher(domain.DecodeContext{Location: time.UTC})
	event, ok, err := d.Dispatch(domain.RawFrame{Tag: domain.TagBolusDelivered, Payload: deliveredPayload(12, 0, 11, 30, 0x0003)}, "SIM-0001")
	if err != nil || !ok {
		t.Fatalf("dispatch: ok=%v err=%v", ok, err)
	}
	bolus, isBolus := event.(*domain.BolusDelivered)
	if !isBolus {
		t.Fatalf("expected bolus delivered, got %T", event)
	}
	if bolus.Device != "SIM-0001" || bolus.Sequence != 7 || bolus.BolusID != 42 {
		t.Fatalf("unexpected header fields: %+v", bolus.Header)
	}
	if bolus.BolusType != domain.BolusStandard || bolus.Duration != 30 {
		t.Fatalf("unexpected bolus fields: %+v", bolus)
	}
	if bolus.ImmediateAmount.StringFixed(2) != "2.50" || bolus.ExtendedAmount.StringFixed(2) != "0.01" {
		t.Fatalf("unexpected amounts %s %s", bolus.ImmediateAmount, bolus.ExtendedAmount)
	}
	if bolus.Total().StringFixed(2) != "2.51" {
		t.Fatalf("unexpected total %s", bolus.Total())
	}
	if !bolus.EventTime.Equal(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected event time %s", bolus.EventTime)
	}
	if !bolus.StartTime.Equal(time.Date(2024, 3, 10, 11, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected same-day start, got %s", bolus.StartTime)
	}
}

func TestStartTimeRollsBackAcrossMidnight(t *testing.T) {
	t.Parallel()
	d := domain.NewDispatcher(domain.DecodeContext{Location: time.UTC})
	event, _, err := d.Dispatch(domain.RawFrame{Tag: domain.TagBolusDelivered, Payload: deliveredPayload(0, 10, 23, 50, 0x0030)}, "SIM-0001")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	bolus := event.(*domain.BolusDelivered)
	if !bolus.StartTime.Equal(time.Date(2024, 3, 9, 23, 50, 0, 0, time.UTC)) {
		t.Fatalf("expected previous-day start, got %s", bolus.StartTime)
	}

	equal := domain.StartTime(domain.DateTime{Year: 2024, Month: 3, Day: 1, Hour: 8}, domain.TimeOfDay{Hour: 8}, time.UTC)
	if !equal.Equal(time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("equal time of day must roll back a day, got %s", equal)
	}
}

func TestDecodeFailures(t *testing.T) {
	t.Parallel()
	d := domain.NewDispatcher(domain.DecodeContext{Location: time.UTC})

	_, ok, err := d.Dispatch(domain.RawFrame{Tag: domain.TagBolusDelivered, Payload: deliveredPayload(12, 0, 11, 0, 0x0001)}, "SIM-0001")
	if !ok || !errors.Is(err, apperrors.ErrUnknownEnumCode) {
		t.Fatalf("expected unknown enum code, got ok=%v err=%v", ok, err)
	}

	truncated := deliveredPayload(12, 0, 11, 0, 0x0003)[:15]
	if _, _, err := d.Dispatch(domain.RawFrame{Tag: domain.TagBolusDelivered, Payload: truncated}, "SIM-0001"); !errors.Is(err, apperrors.ErrOutOfBounds) {
		t.Fatalf("expected out of bounds, got %v", err)
	}

	status := header(wire.NewWriter(16), 2024, 3, 10, 9, 0, 0, 8).Uint16(0x0003).Uint16(0x0099).Finish()
	if _, _, err := d.Dispatch(domain.RawFrame{Tag: domain.TagPumpStatusChanged, Payload: status}, "SIM-0001"); !errors.Is(err, apperrors.ErrUnknownEnumCode) {
		t.Fatalf("expected unknown pump status, got %v", err)
	}

	badMonth := header(wire.NewWriter(16), 2024, 13, 10, 9, 0, 0, 9).Uint16(120).Finish()
	if _, _, err := d.Dispatch(domain.RawFrame{Tag: domain.TagCannulaFilled, Payload: badMonth}, "SIM-0001"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid timestamp, got %v", err)
	}
}

func TestUnknownTagIsSkipped(t *testing.T) {
	t.Parallel()
	d := domain.NewDispatcher(domain.DecodeContext{Location: time.UTC})
	frames := []domain.RawFrame{
		{Tag: 0x7777, Payload: []byte{0xde, 0xad}},
		{Tag: domain.TagCannulaFilled, Payload: header(wire.NewWriter(16), 2024, 3, 10, 9, 0, 0, 11).Uint16(120).Finish()},
	}
	var decoded []domain.Event
	for _, frame := range frames {
		event, ok, err := d.Dispatch(frame, "SIM-0001")
		if err != nil {
			t.Fatalf("dispatch 0x%04X: %v", frame.Tag, err)
		}
		if ok {
			decoded = append(decoded, event)
		}
	}
	if d.Known(0x7777) {
		t.Fatalf("tag 0x7777 must be unknown")
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 event, got %d", len(decoded))
	}
	fill := decoded[0].(*domain.CannulaFilled)
	if fill.Sequence != 11 || fill.Amount.StringFixed(2) != "1.20" {
		t.Fatalf("unexpected fill event %+v", fill)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	loc := time.UTC
	at := time.Date(2024, 3, 10, 8, 0, 0, 0, loc)
	events := []domain.Event{
		&domain.BolusDelivered{
			Header:          domain.Header{Sequence: 1, Device: "SIM-0001", EventTime: at},
			BolusID:         5,
			BolusType:       domain.BolusMultiwave,
			ImmediateAmount: decimal.RequireFromString("1.25"),
			ExtendedAmount:  decimal.RequireFromString("2.00"),
			Duration:        90,
			StartTime:       time.Date(2024, 3, 10, 6, 30, 0, 0, loc),
		},
		&domain.BolusProgrammed{
			Header:          domain.Header{Sequence: 2, Device: "SIM-0001", EventTime: at},
			BolusID:         6,
			BolusType:       domain.BolusExtended,
			ImmediateAmount: decimal.Zero,
			ExtendedAmount:  decimal.RequireFromString("3.10"),
			Duration:        120,
		},
		&domain.EndOfTBR{
			Header:    domain.Header{Sequence: 3, Device: "SIM-0001", EventTime: time.Date(2024, 3, 10, 0, 10, 0, 0, loc)},
			Amount:    150,
			Duration:  60,
			StartTime: time.Date(2024, 3, 9, 23, 50, 0, 0, loc),
		},
		&domain.PumpStatusChanged{
			Header:   domain.Header{Sequence: 4, Device: "SIM-0001", EventTime: at},
			OldValue: domain.PumpStarted,
			NewValue: domain.PumpPaused,
		},
		&domain.TimeChanged{
			Header:     domain.Header{Sequence: 5, Device: "SIM-0001", EventTime: at},
			TimeBefore: time.Date(2024, 3, 10, 7, 59, 12, 0, loc),
		},
		&domain.CannulaFilled{
			Header: domain.Header{Sequence: 6, Device: "SIM-0001", EventTime: at},
			Amount: decimal.RequireFromString("0.70"),
		},
	}

	d := domain.NewDispatcher(domain.DecodeContext{Location: loc})
	for _, want := range events {
		frame, err := domain.Encode(want, loc)
		if err != nil {
			t.Fatalf("encode %s: %v", want.Kind(), err)
		}
		if frame.Tag != want.Kind().Tag() {
			t.Fatalf("encode %s: unexpected tag 0x%04X", want.Kind(), frame.Tag)
		}
		got, ok, err := d.Dispatch(frame, "SIM-0001")
		if err != nil || !ok {
			t.Fatalf("decode %s: ok=%v err=%v", want.Kind(), ok, err)
		}
		if got.Kind() != want.Kind() || got.Head().Sequence != want.Head().Sequence {
			t.Fatalf("decode %s: unexpected head %+v", want.Kind(), got.Head())
		}
		if !got.Head().EventTime.Equal(want.Head().EventTime) {
			t.Fatalf("decode %s: event time %s != %s", want.Kind(), got.Head().EventTime, want.Head().EventTime)
		}
		if fmt.Sprint(got.Fields()) != fmt.Sprint(want.Fields()) {
			t.Fatalf("decode %s: fields %v != %v", want.Kind(), got.Fields(), want.Fields())
		}
	}
}

func TestEncodeRejectsOutOfRangeValues(t *testing.T) {
	t.Parallel()
	event := &domain.CannulaFilled{
		Header: domain.Header{Sequence: 1, EventTime: time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)},
		Amount: decimal.NewFromInt(-2),
	}
	if _, err := domain.Encode(event, time.UTC); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := domain.Encode(nil, time.UTC); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input for nil event, got %v", err)
	}
}

func TestEnumCodes(t *testing.T) {
	t.Parallel()
	if got, err := domain.ParseBolusType(0x000C); err != nil || got.String() != "extended" {
		t.Fatalf("unexpected bolus type %v %v", got, err)
	}
	if _, err := domain.ParseBolusType(0x0004); !errors.Is(err, apperrors.ErrUnknownEnumCode) {
		t.Fatalf("expected unknown enum code, got %v", err)
	}
	if got, err := domain.ParsePumpStatus(0x00FC); err != nil || got.String() != "paused" {
		t.Fatalf("unexpected pump status %v %v", got, err)
	}
	if domain.CategoryAll.String() != "all" || domain.DirectionBackward.String() != "backward" {
		t.Fatalf("unexpected enum names")
	}
	if err := domain.Kind("bogus").Validate(); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid kind, got %v", err)
	}
}

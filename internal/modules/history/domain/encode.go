package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "sightsync/internal/platform/errors"
	"sightsync/internal/platform/wire"
)

const headerSize = 11

// Encode produces the wire frame for e. It is the inverse of Dispatch and is used
// by the device simulator and by round-trip tests.
func Encode(e Event, loc *time.Location) (RawFrame, error) {
	if e == nil {
		return RawFrame{}, fmt.Errorf("%w: nil event", apperrors.ErrInvalidInput)
	}
	if loc == nil {
		loc = time.Local
	}
	h := e.Head()
	w := wire.NewWriter(headerSize + 24)
	writeDateTime(w, dateTimeOf(h.EventTime, loc))
	w.Uint32(h.Sequence)
	if err := e.encodeBody(w, loc); err != nil {
		return RawFrame{}, fmt.Errorf("encode %s seq %d: %w", e.Kind(), h.Sequence, err)
	}
	return RawFrame{Tag: e.Kind().Tag(), Payload: w.Finish()}, nil
}

func writeDateTime(w *wire.Writer, d DateTime) {
	w.Uint16(uint16(d.Year)).
		Uint8(uint8(d.Month)).
		Uint8(uint8(d.Day)).
		Uint8(uint8(d.Hour)).
		Uint8(uint8(d.Minute)).
		Uint8(uint8(d.Second))
}

func writeTimeOfDay(w *wire.Writer, t time.Time, loc *time.Location) {
	t = t.In(loc)
	w.Uint8(uint8(t.Hour())).Uint8(uint8(t.Minute())).Uint8(uint8(t.Second()))
}

func writeBolus(w *wire.Writer, bolusType BolusType, immediate, extended uint16, duration int, bolusID uint16) {
	w.Uint16(uint16(bolusType)).
		Uint16(immediate).
		Uint16(extended).
		Uint16(uint16(duration)).
		Zero(4).
		Uint16(bolusID)
}

func bolusAmounts(immediate, extended decimal.Decimal) (uint16, uint16, error) {
	imm, err := RawAmount(immediate)
	if err != nil {
		return 0, 0, err
	}
	ext, err := RawAmount(extended)
	if err != nil {
		return 0, 0, err
	}
	return imm, ext, nil
}

func (e *BolusDelivered) encodeBody(w *wire.Writer, loc *time.Location) error {
	imm, ext, err := bolusAmounts(e.ImmediateAmount, e.ExtendedAmount)
	if err != nil {
		return err
	}
	writeTimeOfDay(w, e.StartTime, loc)
	w.Zero(1)
	writeBolus(w, e.BolusType, imm, ext, e.Duration, e.BolusID)
	return nil
}

func (e *BolusProgrammed) encodeBody(w *wire.Writer, _ *time.Location) error {
	imm, ext, err := bolusAmounts(e.ImmediateAmount, e.ExtendedAmount)
	if err != nil {
		return err
	}
	writeBolus(w, e.BolusType, imm, ext, e.Duration, e.BolusID)
	return nil
}

func (e *EndOfTBR) encodeBody(w *wire.Writer, loc *time.Location) error {
	if e.Amount < 0 || e.Amount > 0xFFFF {
		return fmt.Errorf("%w: tbr amount %d", apperrors.ErrInvalidInput, e.Amount)
	}
	writeTimeOfDay(w, e.StartTime, loc)
	w.Zero(1).Uint16(uint16(e.Amount)).Uint16(uint16(e.Duration))
	return nil
}

func (e *PumpStatusChanged) encodeBody(w *wire.Writer, _ *time.Location) error {
	w.Uint16(uint16(e.OldValue)).Uint16(uint16(e.NewValue))
	return nil
}

func (e *TimeChanged) encodeBody(w *wire.Writer, loc *time.Location) error {
	writeDateTime(w, dateTimeOf(e.TimeBefore, loc))
	w.Zero(1)
	return nil
}

func (e *CannulaFilled) encodeBody(w *wire.Writer, _ *time.Location) error {
	amount, err := RawAmount(e.Amount)
	if err != nil {
		return err
	}
	w.Uint16(amount)
	return nil
}

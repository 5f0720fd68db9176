package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"sightsync/internal/platform/wire"
)

// Header is shared by every event. Device is not on the wire; the dispatcher sets it.
type Header struct {
	Sequence  uint32
	Device    string
	EventTime time.Time
}

func (h *Header) Head() *Header {
	return h
}

// Event is the closed set of decoded history records.
type Event interface {
	Kind() Kind
	Head() *Header
	// Fields returns the variant-specific values for persistence and notifications.
	Fields() map[string]any
	encodeBody(w *wire.Writer, loc *time.Location) error
}

// BolusAmount is implemented by variants that carry insulin amounts.
type BolusAmount interface {
	Total() decimal.Decimal
}

type BolusDelivered struct {
	Header
	BolusID         uint16
	BolusType       BolusType
	ImmediateAmount decimal.Decimal
	ExtendedAmount  decimal.Decimal
	Duration        int
	StartTime       time.Time
}

func (e *BolusDelivered) Kind() Kind { return KindBolusDelivered }

func (e *BolusDelivered) Total() decimal.Decimal {
	return e.ImmediateAmount.Add(e.ExtendedAmount)
}

func (e *BolusDelivered) Fields() map[string]any {
	return map[string]any{
		"bolus_id":         e.BolusID,
		"bolus_type":       e.BolusType.String(),
		"immediate_amount": e.ImmediateAmount.StringFixed(2),
		"extended_amount":  e.ExtendedAmount.StringFixed(2),
		"duration":         e.Duration,
		"start_time":       e.StartTime,
	}
}

type BolusProgrammed struct {
	Header
	BolusID         uint16
	BolusType       BolusType
	ImmediateAmount decimal.Decimal
	ExtendedAmount  decimal.Decimal
	Duration        int
}

func (e *BolusProgrammed) Kind() Kind { return KindBolusProgrammed }

func (e *BolusProgrammed) Total() decimal.Decimal {
	return e.ImmediateAmount.Add(e.ExtendedAmount)
}

func (e *BolusProgrammed) Fields() map[string]any {
	return map[string]any{
		"bolus_id":         e.BolusID,
		"bolus_type":       e.BolusType.String(),
		"immediate_amount": e.ImmediateAmount.StringFixed(2),
		"extended_amount":  e.ExtendedAmount.StringFixed(2),
		"duration":         e.Duration,
	}
}

// EndOfTBR closes a temporary basal rate. Amount is a percentage of the basal profile.
type EndOfTBR struct {
	Header
	Amount    int
	Duration  int
	StartTime time.Time
}

func (e *EndOfTBR) Kind() Kind { return KindEndOfTBR }

func (e *EndOfTBR) Fields() map[string]any {
	return map[string]any{
		"tbr_amount": e.Amount,
		"duration":   e.Duration,
		"start_time": e.StartTime,
	}
}

type PumpStatusChanged struct {
	Header
	OldValue PumpStatus
	NewValue PumpStatus
}

func (e *PumpStatusChanged) Kind() Kind { return KindPumpStatusChanged }

func (e *PumpStatusChanged) Fields() map[string]any {
	return map[string]any{
		"old_status": e.OldValue.String(),
		"new_status": e.NewValue.String(),
	}
}

type TimeChanged struct {
	Header
	TimeBefore time.Time
}

func (e *TimeChanged) Kind() Kind { return KindTimeChanged }

func (e *TimeChanged) Fields() map[string]any {
	return map[string]any{
		"time_before": e.TimeBefore,
	}
}

type CannulaFilled struct {
	Header
	Amount decimal.Decimal
}

func (e *CannulaFilled) Kind() Kind { return KindCannulaFilled }

func (e *CannulaFilled) Fields() map[string]any {
	return map[string]any{
		"fill_amount": e.Amount.StringFixed(2),
	}
}

// StoredEvent is the persisted projection of an Event as read back from the store.
type StoredEvent struct {
	Device     string
	Kind       Kind
	Sequence   uint32
	EventTime  time.Time
	Fields     map[string]any
	InsertedAt time.Time
}

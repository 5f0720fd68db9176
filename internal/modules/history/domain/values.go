package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "sightsync/internal/platform/errors"
)

var hundred = decimal.NewFromInt(100)

// Amount converts a raw u16 in hundredths of a unit, rounded half-up to 2 places.
func Amount(raw uint16) decimal.Decimal {
	return decimal.NewFromInt(int64(raw)).Div(hundred).Round(2)
}

// RawAmount is the inverse of Amount.
func RawAmount(amount decimal.Decimal) (uint16, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %s", apperrors.ErrInvalidInput, amount)
	}
	raw := amount.Mul(hundred).Round(0)
	if raw.GreaterThan(decimal.NewFromInt(0xFFFF)) {
		return 0, fmt.Errorf("%w: amount %s exceeds wire range", apperrors.ErrInvalidInput, amount)
	}
	return uint16(raw.IntPart()), nil
}

// Clock fields as reported by the device.
type DateTime struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

func (d DateTime) Validate() error {
	if d.Month < 1 || d.Month > 12 || d.Day < 1 || d.Day > 31 ||
		d.Hour < 0 || d.Hour > 23 || d.Minute < 0 || d.Minute > 59 || d.Second < 0 || d.Second > 59 {
		return fmt.Errorf("%w: invalid device timestamp %04d-%02d-%02d %02d:%02d:%02d",
			apperrors.ErrInvalidInput, d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second)
	}
	return nil
}

// In assembles the split fields into a timestamp with zero sub-second precision.
func (d DateTime) In(loc *time.Location) time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, d.Hour, d.Minute, d.Second, 0, loc)
}

func (d DateTime) secondOfDay() int {
	return d.Hour*3600 + d.Minute*60 + d.Second
}

func dateTimeOf(t time.Time, loc *time.Location) DateTime {
	t = t.In(loc)
	return DateTime{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
}

// TimeOfDay is an hour/minute/second triple without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

func (t TimeOfDay) secondOfDay() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

// StartTime places a start time-of-day relative to the event's date. A start at or
// after the event's own time of day belongs to the previous calendar day.
func StartTime(event DateTime, start TimeOfDay, loc *time.Location) time.Time {
	day := event.Day
	if start.secondOfDay() >= event.secondOfDay() {
		day--
	}
	return time.Date(event.Year, time.Month(event.Month), day, start.Hour, start.Minute, start.Second, 0, loc)
}

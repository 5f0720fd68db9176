package domain

import (
	"fmt"
	"time"

	"sightsync/internal/platform/wire"
)

// RawFrame is one history record as delivered by the transport.
type RawFrame struct {
	Tag     uint16
	Payload []byte
}

// DecodeContext carries decode configuration explicitly.
type DecodeContext struct {
	Location *time.Location
}

func (dc DecodeContext) location() *time.Location {
	if dc.Location == nil {
		return time.Local
	}
	return dc.Location
}

type decodeFunc func(c *wire.Cursor, event DateTime, h Header, dc DecodeContext) (Event, error)

var decoders = map[uint16]decodeFunc{
	TagBolusDelivered:    decodeBolusDelivered,
	TagBolusProgrammed:   decodeBolusProgrammed,
	TagEndOfTBR:          decodeEndOfTBR,
	TagPumpStatusChanged: decodePumpStatusChanged,
	TagTimeChanged:       decodeTimeChanged,
	TagCannulaFilled:     decodeCannulaFilled,
}

// Dispatcher routes raw frames to the decoder registered for their tag.
type Dispatcher struct {
	decoders map[uint16]decodeFunc
	ctx      DecodeContext
}

func NewDispatcher(dc DecodeContext) *Dispatcher {
	return &Dispatcher{decoders: decoders, ctx: dc}
}

// Known reports whether a decoder exists for tag.
func (d *Dispatcher) Known(tag uint16) bool {
	_, ok := d.decoders[tag]
	return ok
}

// Dispatch decodes frame and tags it with device. Unknown tags return ok=false and no error.
func (d *Dispatcher) Dispatch(frame RawFrame, device string) (Event, bool, error) {
	decode, ok := d.decoders[frame.Tag]
	if !ok {
		return nil, false, nil
	}
	c := wire.NewCursor(frame.Payload)
	at, seq, err := readHeader(c)
	if err != nil {
		return nil, true, fmt.Errorf("decode frame 0x%04X header: %w", frame.Tag, err)
	}
	h := Header{Sequence: seq, Device: device, EventTime: at.In(d.ctx.location())}
	event, err := decode(c, at, h, d.ctx)
	if err != nil {
		return nil, true, fmt.Errorf("decode frame 0x%04X seq %d: %w", frame.Tag, seq, err)
	}
	return event, true, nil
}

func readHeader(c *wire.Cursor) (DateTime, uint32, error) {
	year, err := c.ReadUint16()
	if err != nil {
		return DateTime{}, 0, err
	}
	clock, err := c.ReadBytes(5)
	if err != nil {
		return DateTime{}, 0, err
	}
	seq, err := c.ReadUint32()
	if err != nil {
		return DateTime{}, 0, err
	}
	at := DateTime{
		Year:   int(year),
		Month:  int(clock[0]),
		Day:    int(clock[1]),
		Hour:   int(clock[2]),
		Minute: int(clock[3]),
		Second: int(clock[4]),
	}
	if err := at.Validate(); err != nil {
		return DateTime{}, 0, err
	}
	return at, seq, nil
}

func readTimeOfDay(c *wire.Cursor) (TimeOfDay, error) {
	raw, err := c.ReadBytes(3)
	if err != nil {
		return TimeOfDay{}, err
	}
	t := TimeOfDay{Hour: int(raw[0]), Minute: int(raw[1]), Second: int(raw[2])}
	if err := (DateTime{Year: 2000, Month: 1, Day: 1, Hour: t.Hour, Minute: t.Minute, Second: t.Second}).Validate(); err != nil {
		return TimeOfDay{}, err
	}
	return t, nil
}

func readAmount(c *wire.Cursor) (raw uint16, err error) {
	return c.ReadUint16()
}

func decodeBolusDelivered(c *wire.Cursor, at DateTime, h Header, dc DecodeContext) (Event, error) {
	start, err := readTimeOfDay(c)
	if err != nil {
		return nil, err
	}
	if err := c.Skip(1); err != nil {
		return nil, err
	}
	code, err := c.ReadUint16()
	if err != nil {
		return nil, err
	}
	bolusType, err := ParseBolusType(code)
	if err != nil {
		return nil, err
	}
	immediate, err := readAmount(c)
	if err != nil {
		return nil, err
	}
	extended, err := readAmount(c)
	if err != nil {
		return nil, err
	}
	duration, err := c.ReadUint16()
	if err != nil {
		return nil, err
	}
	if err := c.Skip(4); err != nil {
		return nil, err
	}
	bolusID, err := c.ReadUint16()
	if err != nil {
		return nil, err
	}
	return &BolusDelivered{
		Header:          h,
		BolusID:         bolusID,
		BolusType:       bolusType,
		ImmediateAmount: Amount(immediate),
		ExtendedAmount:  Amount(extended),
		Duration:        int(duration),
		StartTime:       StartTime(at, start, dc.location()),
	}, nil
}

func decodeBolusProgrammed(c *wire.Cursor, _ DateTime, h Header, _ DecodeContext) (Event, error) {
	code, err := c.ReadUint16()
	if err != nil {
		return nil, err
	}
	bolusType, err := ParseBolusType(code)
	if err != nil {
		return nil, err
	}
	immediate, err := readAmount(c)
	if err != nil {
		return nil, err
	}
	extended, err := readAmount(c)
	if err != nil {
		return nil, err
	}
	duration, err := c.ReadUint16()
	if err != nil {
		return nil, err
	}
	if err := c.Skip(4); err != nil {
		return nil, err
	}
	bolusID, err := c.ReadUint16()
	if err != nil {
		return nil, err
	}
	return &BolusProgrammed{
		Header:          h,
		BolusID:         bolusID,
		BolusType:       bolusType,
		ImmediateAmount: Amount(immediate),
		ExtendedAmount:  Amount(extended),
		Duration:        int(duration),
	}, nil
}

func decodeEndOfTBR(c *wire.Cursor, at DateTime, h Header, dc DecodeContext) (Event, error) {
	start, err := readTimeOfDay(c)
	if err != nil {
		return nil, err
	}
	if err := c.Skip(1); err != nil {
		return nil, err
	}
	amount, err := c.ReadUint16()
	if err != nil {
		return nil, err
	}
	duration, err := c.ReadUint16()
	if err != nil {
		return nil, err
	}
	return &EndOfTBR{
		Header:    h,
		Amount:    int(amount),
		Duration:  int(duration),
		StartTime: StartTime(at, start, dc.location()),
	}, nil
}

func decodePumpStatusChanged(c *wire.Cursor, _ DateTime, h Header, _ DecodeContext) (Event, error) {
	oldCode, err := c.ReadUint16()
	if err != nil {
		return nil, err
	}
	newCode, err := c.ReadUint16()
	if err != nil {
		return nil, err
	}
	oldValue, err := ParsePumpStatus(oldCode)
	if err != nil {
		return nil, err
	}
	newValue, err := ParsePumpStatus(newCode)
	if err != nil {
		return nil, err
	}
	return &PumpStatusChanged{Header: h, OldValue: oldValue, NewValue: newValue}, nil
}

func decodeTimeChanged(c *wire.Cursor, _ DateTime, h Header, dc DecodeContext) (Event, error) {
	year, err := c.ReadUint16()
	if err != nil {
		return nil, err
	}
	clock, err := c.ReadBytes(5)
	if err != nil {
		return nil, err
	}
	if err := c.Skip(1); err != nil {
		return nil, err
	}
	before := DateTime{
		Year:   int(year),
		Month:  int(clock[0]),
		Day:    int(clock[1]),
		Hour:   int(clock[2]),
		Minute: int(clock[3]),
		Second: int(clock[4]),
	}
	if err := before.Validate(); err != nil {
		return nil, err
	}
	return &TimeChanged{Header: h, TimeBefore: before.In(dc.location())}, nil
}

func decodeCannulaFilled(c *wire.Cursor, _ DateTime, h Header, _ DecodeContext) (Event, error) {
	amount, err := readAmount(c)
	if err != nil {
		return nil, err
	}
	return &CannulaFilled{Header: h, Amount: Amount(amount)}, nil
}

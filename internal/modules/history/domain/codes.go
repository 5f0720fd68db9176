package domain

import (
	"fmt"

	apperrors "sightsync/internal/platform/errors"
)

// Kind discriminates the Event variants.
type Kind string

const (
	KindBolusDelivered    Kind = "bolus_delivered"
	KindBolusProgrammed   Kind = "bolus_programmed"
	KindEndOfTBR          Kind = "end_of_tbr"
	KindPumpStatusChanged Kind = "pump_status_changed"
	KindTimeChanged       Kind = "time_changed"
	KindCannulaFilled     Kind = "cannula_filled"
)

// Kinds lists the variants in reconciliation order.
var Kinds = []Kind{
	KindBolusDelivered,
	KindBolusProgrammed,
	KindEndOfTBR,
	KindPumpStatusChanged,
	KindTimeChanged,
	KindCannulaFilled,
}

// Frame type tags as sent by the device.
const (
	TagPumpStatusChanged uint16 = 0x001F
	TagTimeChanged       uint16 = 0x0036
	TagBolusProgrammed   uint16 = 0x0059
	TagBolusDelivered    uint16 = 0x005A
	TagEndOfTBR          uint16 = 0x0065
	TagCannulaFilled     uint16 = 0x0069
)

var kindTags = map[Kind]uint16{
	KindPumpStatusChanged: TagPumpStatusChanged,
	KindTimeChanged:       TagTimeChanged,
	KindBolusProgrammed:   TagBolusProgrammed,
	KindBolusDelivered:    TagBolusDelivered,
	KindEndOfTBR:          TagEndOfTBR,
	KindCannulaFilled:     TagCannulaFilled,
}

func (k Kind) Tag() uint16 {
	return kindTags[k]
}

func (k Kind) Validate() error {
	if _, ok := kindTags[k]; !ok {
		return fmt.Errorf("%w: unsupported event kind %q", apperrors.ErrInvalidInput, string(k))
	}
	return nil
}

type BolusType uint16

const (
	BolusStandard  BolusType = 0x0003
	BolusExtended  BolusType = 0x000C
	BolusMultiwave BolusType = 0x0030
)

var bolusTypeNames = map[BolusType]string{
	BolusStandard:  "standard",
	BolusExtended:  "extended",
	BolusMultiwave: "multiwave",
}

func ParseBolusType(code uint16) (BolusType, error) {
	t := BolusType(code)
	if _, ok := bolusTypeNames[t]; !ok {
		return 0, fmt.Errorf("%w: bolus type 0x%04X", apperrors.ErrUnknownEnumCode, code)
	}
	return t, nil
}

func (b BolusType) String() string {
	if name, ok := bolusTypeNames[b]; ok {
		return name
	}
	return fmt.Sprintf("bolus_type(0x%04X)", uint16(b))
}

type PumpStatus uint16

const (
	PumpStopped PumpStatus = 0x0003
	PumpStarted PumpStatus = 0x001F
	PumpPaused  PumpStatus = 0x00FC
)

var pumpStatusNames = map[PumpStatus]string{
	PumpStopped: "stopped",
	PumpStarted: "started",
	PumpPaused:  "paused",
}

func ParsePumpStatus(code uint16) (PumpStatus, error) {
	s := PumpStatus(code)
	if _, ok := pumpStatusNames[s]; !ok {
		return 0, fmt.Errorf("%w: pump status 0x%04X", apperrors.ErrUnknownEnumCode, code)
	}
	return s, nil
}

func (p PumpStatus) String() string {
	if name, ok := pumpStatusNames[p]; ok {
		return name
	}
	return fmt.Sprintf("pump_status(0x%04X)", uint16(p))
}

// Category is a class of history events requested together in one read session.
type Category uint16

const (
	CategoryAll     Category = 0x031F
	CategoryTherapy Category = 0x0360
)

func (c Category) String() string {
	switch c {
	case CategoryAll:
		return "all"
	case CategoryTherapy:
		return "therapy"
	default:
		return fmt.Sprintf("category(0x%04X)", uint16(c))
	}
}

type Direction uint16

const (
	DirectionForward  Direction = 0x001F
	DirectionBackward Direction = 0x00E0
)

func (d Direction) String() string {
	switch d {
	case DirectionForward:
		return "forward"
	case DirectionBackward:
		return "backward"
	default:
		return fmt.Sprintf("direction(0x%04X)", uint16(d))
	}
}

// MaxSequence marks "start from the newest event" on a backward read.
const MaxSequence uint32 = 0xFFFFFFFF

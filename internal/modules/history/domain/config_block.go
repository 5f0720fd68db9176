package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "sightsync/internal/platform/errors"
	"sightsync/internal/platform/wire"
)

// BlockFactoryMaxBolus identifies the factory maximum bolus configuration block.
const BlockFactoryMaxBolus uint16 = 0x06A1

// DeviceLimits holds configuration read from the device during a sync session.
// A zero MaxBolus means the limit is unknown.
type DeviceLimits struct {
	MaxBolus decimal.Decimal
}

func (l DeviceLimits) Known() bool {
	return l.MaxBolus.IsPositive()
}

// Exceeds reports whether a bolus total is above the factory limit.
func (l DeviceLimits) Exceeds(total decimal.Decimal) bool {
	return l.Known() && total.GreaterThan(l.MaxBolus)
}

func DecodeFactoryMaxBolus(payload []byte) (decimal.Decimal, error) {
	raw, err := wire.NewCursor(payload).ReadUint16()
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode block 0x%04X: %w", BlockFactoryMaxBolus, err)
	}
	return Amount(raw), nil
}

func EncodeFactoryMaxBolus(max decimal.Decimal) ([]byte, error) {
	raw, err := RawAmount(max)
	if err != nil {
		return nil, fmt.Errorf("encode block 0x%04X: %w", BlockFactoryMaxBolus, err)
	}
	if raw == 0 {
		return nil, fmt.Errorf("%w: max bolus must be positive", apperrors.ErrInvalidInput)
	}
	return wire.NewWriter(2).Uint16(raw).Finish(), nil
}

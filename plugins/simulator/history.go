package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"sightsync/internal/modules/history/domain"
	"sightsync/internal/platform/wire"
)

const (
	simulatedSerial   = "SIM-0001"
	simulatedFirmware = "sim-1.4.0"
	simulatedEvents   = 24
	// tagAlert is a frame type the host does not decode.
	tagAlert uint16 = 0x0070
)

var simulatedMaxBolus = decimal.NewFromInt(25)

type record struct {
	seq   uint32
	frame domain.RawFrame
}

// buildHistory returns a deterministic log in ascending sequence order. Every seventh
// slot is a frame type the host skips.
func buildHistory(count int) ([]record, error) {
	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	out := make([]record, 0, count)
	for i := 0; i < count; i++ {
		seq := uint32(i + 1)
		at := base.Add(time.Duration(i) * 37 * time.Minute)
		var frame domain.RawFrame
		if i%7 == 6 {
			payload := wire.NewWriter(13).
				Uint16(uint16(at.Year())).Uint8(uint8(at.Month())).Uint8(uint8(at.Day())).
				Uint8(uint8(at.Hour())).Uint8(uint8(at.Minute())).Uint8(uint8(at.Second())).
				Uint32(seq).Uint16(0x0001).Finish()
			frame = domain.RawFrame{Tag: tagAlert, Payload: payload}
		} else {
			encoded, err := domain.Encode(simulatedEvent(i, seq, at), time.UTC)
			if err != nil {
				return nil, fmt.Errorf("encode seq %d: %w", seq, err)
			}
			frame = encoded
		}
		out = append(out, record{seq: seq, frame: frame})
	}
	return out, nil
}

func simulatedEvent(i int, seq uint32, at time.Time) domain.Event {
	h := domain.Header{Sequence: seq, Device: simulatedSerial, EventTime: at}
	switch i % 7 {
	case 0:
		return &domain.BolusProgrammed{
			Header:          h,
			BolusID:         uint16(i),
			BolusType:       domain.BolusStandard,
			ImmediateAmount: decimal.New(int64(150+i*5), -2),
			ExtendedAmount:  decimal.Zero,
		}
	case 1:
		return &domain.BolusDelivered{
			Header:          h,
			BolusID:         uint16(i - 1),
			BolusType:       domain.BolusMultiwave,
			ImmediateAmount: decimal.New(int64(100+i*5), -2),
			ExtendedAmount:  decimal.RequireFromString("0.75"),
			Duration:        30,
			StartTime:       at.Add(-45 * time.Minute),
		}
	case 2:
		return &domain.EndOfTBR{
			Header:    h,
			Amount:    120,
			Duration:  60,
			StartTime: at.Add(-time.Hour),
		}
	case 3:
		return &domain.PumpStatusChanged{Header: h, OldValue: domain.PumpStarted, NewValue: domain.PumpPaused}
	case 4:
		return &domain.TimeChanged{Header: h, TimeBefore: at.Add(-2 * time.Minute)}
	default:
		return &domain.CannulaFilled{Header: h, Amount: decimal.RequireFromString("0.70")}
	}
}

// selectFrames applies a read plan to the log. Backward reads start at offset and walk
// toward older events; forward reads start at offset and walk toward newer ones.
func selectFrames(history []record, offset uint32, direction domain.Direction) []domain.RawFrame {
	picked := make([]record, 0, len(history))
	for _, r := range history {
		if direction == domain.DirectionBackward && r.seq <= offset {
			picked = append(picked, r)
		}
		if direction == domain.DirectionForward && r.seq >= offset {
			picked = append(picked, r)
		}
	}
	if direction == domain.DirectionBackward {
		sort.Slice(picked, func(i, j int) bool { return picked[i].seq > picked[j].seq })
	}
	frames := make([]domain.RawFrame, 0, len(picked))
	for _, r := range picked {
		frames = append(frames, r.frame)
	}
	return frames
}

func latestSequence(history []record) uint32 {
	if len(history) == 0 {
		return 0
	}
	return history[len(history)-1].seq
}

package service

import (
	"context"
	"fmt"

	"sightsync/internal/modules/history/domain"
	historyout "sightsync/internal/modules/history/port/out"
	apperrors "sightsync/internal/platform/errors"
)

// OffsetTracker guards the per-device read offset. Offsets only move forward.
type OffsetTracker struct {
	store historyout.OffsetStore
}

func NewOffsetTracker(store historyout.OffsetStore) *OffsetTracker {
	return &OffsetTracker{store: store}
}

func (t *OffsetTracker) Get(ctx context.Context, device string, category domain.Category) (uint32, bool, error) {
	seq, found, err := t.store.GetOffset(ctx, device, category)
	if err != nil {
		return 0, false, fmt.Errorf("%w: get offset %s/%s: %w", apperrors.ErrStore, device, category, err)
	}
	return seq, found, nil
}

// Advance stores seq when it is newer than the stored offset and reports whether it did.
func (t *OffsetTracker) Advance(ctx context.Context, device string, category domain.Category, seq uint32) (bool, error) {
	stored, found, err := t.Get(ctx, device, category)
	if err != nil {
		return false, err
	}
	if found && seq <= stored {
		return false, nil
	}
	if err := t.store.SetOffset(ctx, device, category, seq); err != nil {
		return false, fmt.Errorf("%w: set offset %s/%s: %w", apperrors.ErrStore, device, category, err)
	}
	return true, nil
}

type Planner struct {
	offsets *OffsetTracker
}

func NewPlanner(offsets *OffsetTracker) *Planner {
	return &Planner{offsets: offsets}
}

func (p *Planner) Plan(ctx context.Context, device string, category domain.Category) (domain.ReadPlan, error) {
	stored, found, err := p.offsets.Get(ctx, device, category)
	if err != nil {
		return domain.ReadPlan{}, err
	}
	return domain.PlanFrom(category, stored, found), nil
}

package in

import (
	"context"

	"sightsync/internal/modules/history/dto"
)

type Usecase interface {
	SyncNow(ctx context.Context) (dto.SyncResult, error)
	ListEvents(ctx context.Context, device string, limit int) ([]dto.EventInfo, error)
	GetOffset(ctx context.Context, device string) (dto.OffsetInfo, error)
	TailNotifications(ctx context.Context, limit int) ([]dto.NotificationInfo, error)
	DecodeFrame(ctx context.Context, tag uint16, payload []byte) (dto.EventInfo, error)
}

package in

import (
	"context"

	"sightsync/internal/modules/history/dto"
	historyin "sightsync/internal/modules/history/port/in"
)

type CLIHandler struct {
	usecase historyin.Usecase
}

func NewCLIHandler(usecase historyin.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

func (h CLIHandler) SyncNow(ctx context.Context) (dto.SyncResult, error) {
	return h.usecase.SyncNow(ctx)
}

func (h CLIHandler) ListEvents(ctx context.Context, device string, limit int) ([]dto.EventInfo, error) {
	return h.usecase.ListEvents(ctx, device, limit)
}

func (h CLIHandler) ShowOffset(ctx context.Context, device string) (dto.OffsetInfo, error) {
	return h.usecase.GetOffset(ctx, device)
}

func (h CLIHandler) TailNotifications(ctx context.Context, limit int) ([]dto.NotificationInfo, error) {
	return h.usecase.TailNotifications(ctx, limit)
}

func (h CLIHandler) DecodeFrame(ctx context.Context, tag uint16, payload []byte) (dto.EventInfo, error) {
	return h.usecase.DecodeFrame(ctx, tag, payload)
}

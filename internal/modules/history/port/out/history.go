package out

import (
	"context"
	"time"

	"sightsync/internal/modules/history/domain"
)

// Transport opens a link to the pump. Implementations own the driver lifecycle.
type Transport interface {
	Connect(ctx context.Context) (Connection, error)
}

type Connection interface {
	Identify(ctx context.Context) (domain.DeviceInfo, error)
	// ReadConfigBlock returns the raw payload of a configuration block. Drivers that do
	// not expose the block return an error wrapping apperrors.ErrNotFound.
	ReadConfigBlock(ctx context.Context, block uint16) ([]byte, error)
	OpenHistory(ctx context.Context, plan domain.ReadPlan) (HistorySession, error)
	Close() error
}

// HistorySession yields raw frames page by page. Next returns more=false once the
// device has no further frames for the plan.
type HistorySession interface {
	Next(ctx context.Context) (frames []domain.RawFrame, more bool, err error)
	// Close ends the read and returns the latest sequence reported by the device.
	Close(ctx context.Context) (latest uint32, err error)
}

type EventStore interface {
	Exists(ctx context.Context, device string, kind domain.Kind, sequence uint32) (bool, error)
	Insert(ctx context.Context, event domain.Event) error
}

type EventReader interface {
	List(ctx context.Context, device string, limit int) ([]domain.StoredEvent, error)
}

type OffsetStore interface {
	GetOffset(ctx context.Context, device string, category domain.Category) (uint32, bool, error)
	SetOffset(ctx context.Context, device string, category domain.Category, sequence uint32) error
}

type Notifier interface {
	Publish(ctx context.Context, n domain.Notification) error
}

type NotificationLog interface {
	Tail(ctx context.Context, limit int) ([]domain.Notification, error)
}

type WakeLock interface {
	Acquire(ctx context.Context, timeout time.Duration) (Lease, error)
}

type Lease interface {
	Held() bool
	Release() error
}

type Metrics interface {
	SyncFinished(outcome string, elapsed time.Duration)
	EventPersisted(kind domain.Kind)
	DuplicateSkipped(kind domain.Kind)
	FrameSkipped(reason string)
	NotifyFailed()
}

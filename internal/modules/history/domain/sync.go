package domain

import (
	"fmt"
	"time"

	apperrors "sightsync/internal/platform/errors"
)

type SyncState string

const (
	StateIdle        SyncState = "idle"
	StateConnecting  SyncState = "connecting"
	StateIdentifying SyncState = "identifying"
	StateReading     SyncState = "reading"
	StateReconciling SyncState = "reconciling"
	StateFailed      SyncState = "failed"
)

var transitions = map[SyncState][]SyncState{
	StateIdle:        {StateConnecting},
	StateConnecting:  {StateIdentifying, StateFailed},
	StateIdentifying: {StateReading, StateFailed},
	StateReading:     {StateReconciling, StateFailed},
	StateReconciling: {StateIdle, StateFailed},
	StateFailed:      {StateIdle},
}

func (s SyncState) CanTransition(next SyncState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ReadPlan describes where a history read session starts.
type ReadPlan struct {
	Category  Category
	Offset    uint32
	Direction Direction
}

// PlanFrom derives the read plan for a stored offset. Without one the read starts
// from the newest event and walks backward.
func PlanFrom(category Category, stored uint32, found bool) ReadPlan {
	if !found {
		return ReadPlan{Category: category, Offset: MaxSequence, Direction: DirectionBackward}
	}
	next := stored
	if next < MaxSequence {
		next++
	}
	return ReadPlan{Category: category, Offset: next, Direction: DirectionForward}
}

// DeviceInfo is what identification returns.
type DeviceInfo struct {
	Serial   string
	Firmware string
}

func (d DeviceInfo) Validate() error {
	if d.Serial == "" {
		return fmt.Errorf("%w: device serial is empty", apperrors.ErrInvalidInput)
	}
	return nil
}

// Batch accumulates decoded events of one read session in arrival order.
type Batch struct {
	Events   []Event
	Latest   uint32
	Frames   int
	Skipped  int
	Isolated int
}

func (b *Batch) Add(e Event) {
	b.Events = append(b.Events, e)
}

// ByKind partitions the batch in reconciliation order, keeping arrival order within a kind.
func (b *Batch) ByKind() [][]Event {
	groups := make(map[Kind][]Event, len(Kinds))
	for _, e := range b.Events {
		groups[e.Kind()] = append(groups[e.Kind()], e)
	}
	out := make([][]Event, 0, len(Kinds))
	for _, kind := range Kinds {
		if len(groups[kind]) > 0 {
			out = append(out, groups[kind])
		}
	}
	return out
}

type Action string

const (
	ActionSyncStarted  Action = "sync_started"
	ActionSyncFinished Action = "sync_finished"
	ActionStillSyncing Action = "still_syncing"
)

// EventAction is the notification action announcing a newly persisted event of kind k.
func EventAction(k Kind) Action {
	return Action(k)
}

type Notification struct {
	Action    Action         `json:"action"`
	RunID     string         `json:"run_id,omitempty"`
	Device    string         `json:"device,omitempty"`
	Sequence  uint32         `json:"sequence,omitempty"`
	EventTime *time.Time     `json:"event_time,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// EventNotification builds the notification for a newly persisted event.
func EventNotification(e Event, runID string, now time.Time) Notification {
	h := e.Head()
	at := h.EventTime
	return Notification{
		Action:    EventAction(e.Kind()),
		RunID:     runID,
		Device:    h.Device,
		Sequence:  h.Sequence,
		EventTime: &at,
		Fields:    e.Fields(),
		EmittedAt: now,
	}
}

type ReconcileReport struct {
	Persisted  map[Kind]int
	Duplicates int
	Advanced   bool
	Offset     uint32
}

func (r ReconcileReport) Total() int {
	total := 0
	for _, n := range r.Persisted {
		total += n
	}
	return total
}

type SyncReport struct {
	RunID      string
	Device     DeviceInfo
	Plan       ReadPlan
	Frames     int
	Skipped    int
	Isolated   int
	Reconcile  ReconcileReport
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r SyncReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

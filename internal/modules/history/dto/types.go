package dto

import "time"

type SyncResult struct {
	RunID      string
	Device     string
	Firmware   string
	Direction  string
	Offset     uint32
	Frames     int
	Skipped    int
	Isolated   int
	Persisted  map[string]int
	Duplicates int
	Latest     uint32
	Duration   time.Duration
}

type EventInfo struct {
	Device    string
	Kind      string
	Sequence  uint32
	EventTime time.Time
	Fields    map[string]any
}

type OffsetInfo struct {
	Device   string
	Category string
	Sequence uint32
	Found    bool
}

type NotificationInfo struct {
	Action    string
	RunID     string
	Device    string
	Sequence  uint32
	EventTime *time.Time
	Fields    map[string]any
	EmittedAt time.Time
}

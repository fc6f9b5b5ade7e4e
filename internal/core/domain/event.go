package domain

import "time"

// EventKind names a lifecycle event emitted by the print pipeline.
type EventKind string

const (
	EventConnected  EventKind = "connected"
	EventEvicted    EventKind = "evicted"
	EventUnhealthy  EventKind = "unhealthy"
	EventCorrection EventKind = "correction"
	EventPrinted    EventKind = "printed"
	EventPrintFail  EventKind = "print_failed"
)

// Event is a device or job lifecycle notification.
type Event struct {
	Kind      EventKind `json:"kind"`
	Address   string    `json:"address"`
	JobID     string    `json:"job_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps an event with the current time.
func NewEvent(kind EventKind, address, detail string) Event {
	return Event{
		Kind:      kind,
		Address:   address,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
}

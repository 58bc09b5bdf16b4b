package edgecommon

import gonanoid "github.com/matoous/go-nanoid/v2"

// NewRequestId returns a short unique id for tagging an operation in logs.
func NewRequestId() string {
	id, _ := gonanoid.New(12)
	return "req_" + id
}

// NewEventId returns a unique id for a fan-out event.
func NewEventId() string {
	id, _ := gonanoid.New(16)
	return "evt_" + id
}

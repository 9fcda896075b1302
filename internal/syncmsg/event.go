// Package syncmsg holds the payload types carried over the push channel:
// sync events and client heartbeats.
package syncmsg

import "time"

// EventType classifies an accepted file state transition.
type EventType string

const (
	EventCreate   EventType = "CREATE"
	EventModify   EventType = "MODIFY"
	EventDelete   EventType = "DELETE"
	EventRename   EventType = "RENAME"
	EventMove     EventType = "MOVE"
	EventRollback EventType = "ROLLBACK"
)

// EventStatus is the processing status recorded on a sync event.
type EventStatus string

const (
	StatusPending    EventStatus = "PENDING"
	StatusInProgress EventStatus = "IN_PROGRESS"
	StatusCompleted  EventStatus = "COMPLETED"
	StatusFailed     EventStatus = "FAILED"
	StatusConflict   EventStatus = "CONFLICT"
)

// SyncEvent is the durable record of a file state transition, broadcast to
// the other clients of the same user. Peers drop events whose ClientID
// matches their own.
type SyncEvent struct {
	EventID    string      `json:"eventId"`
	EventType  EventType   `json:"eventType"`
	ClientID   string      `json:"clientId"`
	FilePath   string      `json:"filePath"`
	FileSize   int64       `json:"fileSize,omitempty"`
	Checksum   string      `json:"checksum,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	SyncStatus EventStatus `json:"syncStatus"`
}

package domain

// EventType identifies a store or replay lifecycle notification.
type EventType string

const (
	EventAdded           EventType = "added"
	EventUpdated         EventType = "updated"
	EventRemoved         EventType = "removed"
	EventReplayStarted   EventType = "replay-started"
	EventReplayCompleted EventType = "replay-completed"
)

// Event is published on the bus after each store mutation commits.
// BatchID is set for bulk replay notifications only.
type Event struct {
	Type    EventType `json:"type"`
	ID      string    `json:"id"`
	BatchID string    `json:"batchId,omitempty"`
}

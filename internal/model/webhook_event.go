package model

import "time"

// WebhookEvent marks a gateway event as processed.  The event ID is the
// primary key so a redelivered event is detected on insert.
type WebhookEvent struct {
	EventID     string    // webhook_events.event_id
	Kind        string    // webhook_events.kind
	ProcessedAt time.Time // webhook_events.processed_at
}

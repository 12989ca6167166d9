package repository

import "context"

// WebhookEventRepo records processed gateway events so a redelivery is
// recognised and skipped.
type WebhookEventRepo struct {
	db DBTX
}

// NewWebhookEventRepo returns a WebhookEventRepo bound to db.
func NewWebhookEventRepo(db DBTX) *WebhookEventRepo { return &WebhookEventRepo{db: db} }

// RecordWebhookEvent inserts the event id.  INSERT IGNORE turns a
// duplicate key into zero affected rows, reported as false.  Run it in
// the same transaction as the event's effects so a rollback forgets the
// event too.
func (r *WebhookEventRepo) RecordWebhookEvent(ctx context.Context, eventID, kind string) (bool, error) {
	return affected(r.db.ExecContext(ctx,
		`INSERT IGNORE INTO webhook_events (event_id, kind) VALUES (?, ?)`,
		eventID, kind,
	))
}

package webhook

import (
	"database/sql"
	"fmt"
	"time"
)

// DeliveryLog records processed webhook delivery IDs so redeliveries with the
// same delivery UUID are acknowledged without reprocessing. Deliveries that
// carry no UUID are always processed.
type DeliveryLog struct {
	db *sql.DB
}

// NewDeliveryLog runs migrations and returns the log.
func NewDeliveryLog(db *sql.DB) (*DeliveryLog, error) {
	l := &DeliveryLog{db: db}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS webhook_deliveries (
			delivery_id TEXT PRIMARY KEY,
			event_kind  TEXT NOT NULL,
			received_at TEXT NOT NULL
		);
	`); err != nil {
		return nil, fmt.Errorf("delivery log: migrate: %w", err)
	}
	return l, nil
}

// Claim records a delivery ID, reporting whether this is its first
// appearance. The primary key makes the claim atomic under concurrent
// redeliveries.
func (l *DeliveryLog) Claim(deliveryID, eventKind string) (bool, error) {
	res, err := l.db.Exec(`INSERT INTO webhook_deliveries (delivery_id, event_kind, received_at)
		VALUES (?, ?, ?) ON CONFLICT(delivery_id) DO NOTHING`,
		deliveryID, eventKind, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("delivery log: claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delivery log: claim: %w", err)
	}
	return n > 0, nil
}

// Release removes a claimed delivery ID again. Called when processing fails
// after the claim, so the sender's retry of the same delivery is processed
// instead of being acknowledged as a duplicate.
func (l *DeliveryLog) Release(deliveryID string) error {
	if _, err := l.db.Exec(`DELETE FROM webhook_deliveries WHERE delivery_id = ?`, deliveryID); err != nil {
		return fmt.Errorf("delivery log: release: %w", err)
	}
	return nil
}

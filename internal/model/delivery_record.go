package model

import "time"

// DeliveryRecord is one per-recipient delivery attempt. Append-only:
// rows are never updated after insert, only removed wholesale by an
// administrative stats reset or campaign delete.
type DeliveryRecord struct {
	ID         int            `db:"id" json:"id"`
	CampaignID int            `db:"campaign_id" json:"campaign_id"`
	Email      string         `db:"email" json:"email"`
	Name       string         `db:"name" json:"name"`
	Status     DeliveryStatus `db:"status" json:"status"`
	Detail     string         `db:"detail" json:"detail,omitempty"`
	MessageID  string         `db:"message_id" json:"message_id,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

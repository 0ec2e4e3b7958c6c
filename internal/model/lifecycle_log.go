package model

import "time"

// LifecycleEvent distinguishes the two kinds of audit entries.
type LifecycleEvent string

const (
	EventStatusChange LifecycleEvent = "status_change"
	EventDelivery     LifecycleEvent = "delivery"
)

// LifecycleLogEntry is an append-only audit record. Status transitions
// write one entry with the prior and next status; delivery attempts write
// one entry with the classified outcome.
type LifecycleLogEntry struct {
	ID         string         `db:"id" json:"id"`
	CampaignID int            `db:"campaign_id" json:"campaign_id"`
	Event      LifecycleEvent `db:"event" json:"event"`
	PrevValue  string         `db:"prev_value" json:"prev_value,omitempty"`
	NextValue  string         `db:"next_value" json:"next_value"`
	Cause      string         `db:"cause" json:"cause,omitempty"`
	Actor      string         `db:"actor" json:"actor,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

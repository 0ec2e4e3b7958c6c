package model

import "time"

// SourceType discriminates the recipient source variant. Exactly one
// variant is active per campaign; list and group sources carry their
// payload in SourceRef, uploads keep their rows in campaign_recipients.
type SourceType string

const (
	SourceUpload SourceType = "upload"
	SourceList   SourceType = "list"
	SourceGroup  SourceType = "group"
)

type Campaign struct {
	ID              int        `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	Subject         string     `db:"subject" json:"subject"`
	BodyTemplate    string     `db:"body_template" json:"body_template"`
	FromEmail       string     `db:"from_email" json:"from_email"`
	FromName        string     `db:"from_name" json:"from_name"`
	Status          Status     `db:"status" json:"status"`
	SentCount       int        `db:"sent_count" json:"sent_count"`
	FailedCount     int        `db:"failed_count" json:"failed_count"`
	TotalRecipients int        `db:"total_recipients" json:"total_recipients"`
	SourceType      SourceType `db:"source_type" json:"source_type"`
	SourceRef       int        `db:"source_ref" json:"source_ref,omitempty"`

	EnableRandomInterval bool `db:"enable_random_interval" json:"enable_random_interval"`
	RandomIntervalMin    int  `db:"random_interval_min" json:"random_interval_min"`
	RandomIntervalMax    int  `db:"random_interval_max" json:"random_interval_max"`

	ScheduledAt *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// IsPaused is derived from status and never stored. PAUSED is the only
// status for which it holds.
func (c *Campaign) IsPaused() bool {
	return c.Status == StatusPaused
}

// Cursor is the resume position into the ordered recipient list.
func (c *Campaign) Cursor() int {
	return c.SentCount + c.FailedCount
}

// HasRemainingWork reports whether the persisted counters leave
// recipients unprocessed.
func (c *Campaign) HasRemainingWork() bool {
	return c.Cursor() < c.TotalRecipients
}

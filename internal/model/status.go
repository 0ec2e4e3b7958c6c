package model

import "strings"

// Status is the campaign lifecycle status. Stored lowercase; legacy rows
// and inbound payloads with other casing are normalized at the boundary.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSending   Status = "sending"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// NormalizeStatus maps arbitrary casing onto the canonical status values.
// The second return is false when the input matches no known status.
func NormalizeStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusDraft, StatusSending, StatusPaused, StatusStopped, StatusCompleted, StatusFailed:
		return s, true
	}
	return "", false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusFailed
}

// DeliveryStatus is the classified outcome of one delivery attempt.
type DeliveryStatus string

const (
	DeliverySent        DeliveryStatus = "sent"
	DeliveryFailed      DeliveryStatus = "failed"
	DeliveryBounced     DeliveryStatus = "bounced"
	DeliveryRejected    DeliveryStatus = "rejected"
	DeliveryInvalid     DeliveryStatus = "invalid"
	DeliveryBlacklisted DeliveryStatus = "blacklisted"
)

// Settled reports whether the outcome is final. Anything else is
// treated as unfinished work by recovery.
func (d DeliveryStatus) Settled() bool {
	return d == DeliverySent || d == DeliveryFailed
}

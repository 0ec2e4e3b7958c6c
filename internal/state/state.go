// Package state holds the campaign status transition table and the
// guards every mutator consults before touching a campaign.
package state

import (
	"github.com/bulkmailer/campaign-engine/internal/model"
)

// transitions lists the legal edges. Anything absent is rejected.
// stopped→sending is deliberately missing: a stopped campaign is only
// restarted through the explicit resend path, which bypasses this table
// after re-checking remaining work.
var transitions = map[model.Status][]model.Status{
	model.StatusDraft:   {model.StatusSending},
	model.StatusSending: {model.StatusPaused, model.StatusStopped, model.StatusCompleted, model.StatusFailed},
	model.StatusPaused:  {model.StatusSending},
}

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to model.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanEdit reports whether attribute updates are permitted in the given
// status. Edits while a loop may be dispatching are rejected.
func CanEdit(s model.Status) bool {
	return s == model.StatusDraft || s == model.StatusPaused || s == model.StatusStopped
}

// CanDelete reports whether the campaign may be deleted.
func CanDelete(s model.Status) bool {
	return s != model.StatusSending
}

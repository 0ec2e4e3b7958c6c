package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bulkmailer/campaign-engine/internal/model"
	"github.com/bulkmailer/campaign-engine/internal/state"
)

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to model.Status }{
		{model.StatusDraft, model.StatusSending},
		{model.StatusSending, model.StatusPaused},
		{model.StatusSending, model.StatusStopped},
		{model.StatusSending, model.StatusCompleted},
		{model.StatusSending, model.StatusFailed},
		{model.StatusPaused, model.StatusSending},
	}
	for _, tr := range allowed {
		assert.True(t, state.CanTransition(tr.from, tr.to), "%s -> %s must be allowed", tr.from, tr.to)
	}

	denied := []struct{ from, to model.Status }{
		{model.StatusPaused, model.StatusDraft},
		{model.StatusStopped, model.StatusSending},
		{model.StatusCompleted, model.StatusSending},
		{model.StatusFailed, model.StatusSending},
		{model.StatusDraft, model.StatusPaused},
		{model.StatusDraft, model.StatusCompleted},
		{model.StatusSending, model.StatusDraft},
	}
	for _, tr := range denied {
		assert.False(t, state.CanTransition(tr.from, tr.to), "%s -> %s must be denied", tr.from, tr.to)
	}
}

func TestEditGuard(t *testing.T) {
	assert.True(t, state.CanEdit(model.StatusDraft))
	assert.True(t, state.CanEdit(model.StatusPaused))
	assert.True(t, state.CanEdit(model.StatusStopped))
	assert.False(t, state.CanEdit(model.StatusSending))
	assert.False(t, state.CanEdit(model.StatusCompleted))
	assert.False(t, state.CanEdit(model.StatusFailed))
}

func TestDeleteGuard(t *testing.T) {
	assert.False(t, state.CanDelete(model.StatusSending))
	for _, s := range []model.Status{model.StatusDraft, model.StatusPaused, model.StatusStopped, model.StatusCompleted, model.StatusFailed} {
		assert.True(t, state.CanDelete(s), "delete from %s", s)
	}
}

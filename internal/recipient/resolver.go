// Package recipient resolves a campaign's tagged source variant into a
// single ordered recipient list. Resolution happens once, at loop
// start; the dispatch loop indexes into the result with its own cursor
// and never asks the source to resume.
package recipient

import (
	"fmt"

	appErrors "github.com/bulkmailer/campaign-engine/internal/errors"
	"github.com/bulkmailer/campaign-engine/internal/model"
	"github.com/bulkmailer/campaign-engine/internal/repository"
)

type Resolver struct {
	Sources repository.RecipientSourceRepositoryInterface
}

// Resolve returns the full, ordered recipient list for the campaign's
// source variant. An empty result is legal; an unknown variant is a
// validation error.
func (r *Resolver) Resolve(c *model.Campaign) ([]model.Recipient, error) {
	switch c.SourceType {
	case model.SourceUpload:
		return r.Sources.UploadedRecipients(c.ID)
	case model.SourceList:
		if c.SourceRef == 0 {
			return nil, appErrors.NewValidation("campaign %d selects a list source without a list", c.ID)
		}
		return r.Sources.ListMembers(c.SourceRef)
	case model.SourceGroup:
		if c.SourceRef == 0 {
			return nil, appErrors.NewValidation("campaign %d selects a group source without a group", c.ID)
		}
		return r.Sources.GroupSubscribers(c.SourceRef)
	default:
		return nil, fmt.Errorf("campaign %d: unknown recipient source %q", c.ID, c.SourceType)
	}
}

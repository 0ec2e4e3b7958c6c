package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/bulkmailer/campaign-engine/internal/errors"
	"github.com/bulkmailer/campaign-engine/internal/model"
	"github.com/bulkmailer/campaign-engine/internal/recovery"
	"github.com/bulkmailer/campaign-engine/internal/repository"
	"github.com/bulkmailer/campaign-engine/internal/state"
)

// Dispatcher is the queue manager contract the service drives.
type Dispatcher interface {
	IsRunning(campaignID int) bool
	Start(ctx context.Context, campaignID int, actor string) error
	Resume(ctx context.Context, campaignID int, actor string) error
	Recover(ctx context.Context, campaignID int, actor string) error
	Resend(ctx context.Context, campaignID int, actor string) error
	Pause(campaignID int, actor string) error
	Stop(campaignID int, actor string) error
}

// SchedulePublisher queues a deferred start. Optional: a nil publisher
// simply means scheduled campaigns wait for the scheduler binary's scan.
type SchedulePublisher interface {
	PublishStart(campaignID int, runAt time.Time) error
}

type CampaignService struct {
	Campaigns repository.CampaignRepositoryInterface
	Records   repository.DeliveryRecordRepositoryInterface
	Logs      repository.LifecycleLogRepositoryInterface
	Sources   repository.RecipientSourceRepositoryInterface
	Dispatch  Dispatcher
	Recovery  *recovery.Service
	Schedule  SchedulePublisher
	Logger    *zap.Logger
}

// CampaignView is a campaign plus the reconciled runtime state computed
// on every read.
type CampaignView struct {
	*model.Campaign
	IsPaused    bool                 `json:"is_paused"`
	IsRunning   bool                 `json:"is_running"`
	QueueStatus recovery.QueueStatus `json:"queue_status"`
}

type CreateCampaignInput struct {
	Name                 string
	Subject              string
	BodyTemplate         string
	FromEmail            string
	FromName             string
	SourceType           model.SourceType
	SourceRef            int
	Recipients           []model.Recipient
	EnableRandomInterval bool
	RandomIntervalMin    int
	RandomIntervalMax    int
	ScheduledAt          *time.Time
}

type UpdateCampaignInput struct {
	Name                 *string
	Subject              *string
	BodyTemplate         *string
	FromEmail            *string
	FromName             *string
	SourceType           *model.SourceType
	SourceRef            *int
	Recipients           []model.Recipient
	EnableRandomInterval *bool
	RandomIntervalMin    *int
	RandomIntervalMax    *int
	ScheduledAt          *time.Time

	// Status and IsPaused request transitions, applied through the
	// guarded paths after any attribute changes.
	Status   *string
	IsPaused *bool

	// ResetStats deletes every delivery record and zeroes the
	// counters, subject to the edit guard.
	ResetStats bool
}

func (s *CampaignService) CreateCampaign(input CreateCampaignInput) (*model.Campaign, error) {
	if input.Name == "" {
		return nil, appErrors.NewValidation("campaign name is required")
	}
	if input.BodyTemplate == "" {
		return nil, appErrors.NewValidation("campaign body template is required")
	}
	if input.EnableRandomInterval && input.RandomIntervalMax < input.RandomIntervalMin {
		return nil, appErrors.NewValidation("random interval max must not be below min")
	}

	sourceType := input.SourceType
	if sourceType == "" {
		sourceType = model.SourceUpload
	}
	switch sourceType {
	case model.SourceUpload:
	case model.SourceList, model.SourceGroup:
		if input.SourceRef == 0 {
			return nil, appErrors.NewValidation("source %s requires a source_ref", sourceType)
		}
	default:
		return nil, appErrors.NewValidation("unknown recipient source %q", sourceType)
	}

	c := &model.Campaign{
		Name:                 input.Name,
		Subject:              input.Subject,
		BodyTemplate:         input.BodyTemplate,
		FromEmail:            input.FromEmail,
		FromName:             input.FromName,
		Status:               model.StatusDraft,
		SourceType:           sourceType,
		SourceRef:            input.SourceRef,
		EnableRandomInterval: input.EnableRandomInterval,
		RandomIntervalMin:    input.RandomIntervalMin,
		RandomIntervalMax:    input.RandomIntervalMax,
		ScheduledAt:          input.ScheduledAt,
		TotalRecipients:      len(input.Recipients),
	}
	if err := s.Campaigns.Create(c); err != nil {
		return nil, err
	}

	if sourceType == model.SourceUpload && len(input.Recipients) > 0 {
		if err := s.Sources.ReplaceUpload(c.ID, input.Recipients); err != nil {
			return nil, err
		}
	}

	if c.ScheduledAt != nil && s.Schedule != nil {
		if err := s.Schedule.PublishStart(c.ID, *c.ScheduledAt); err != nil {
			// The scheduler binary's scan is the backstop.
			s.Logger.Warn("failed to publish scheduled start",
				zap.Int("campaign_id", c.ID), zap.Error(err))
		}
	}
	return c, nil
}

// GetCampaign returns the campaign with the reconciled queue status.
// The read never mutates: a SENDING row whose work is done is reported
// completed but left as is.
func (s *CampaignService) GetCampaign(id int) (*CampaignView, error) {
	c, err := s.Campaigns.GetByID(id)
	if err != nil {
		return nil, err
	}
	qs, running := s.Recovery.Evaluate(c)
	return &CampaignView{
		Campaign:    c,
		IsPaused:    c.IsPaused(),
		IsRunning:   running,
		QueueStatus: qs,
	}, nil
}

func (s *CampaignService) ListCampaigns(page, pageSize int, status, search string) ([]*CampaignView, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	campaigns, total, err := s.Campaigns.ListCampaigns(offset, pageSize, status, search)
	if err != nil {
		return nil, nil, err
	}

	views := make([]*CampaignView, len(campaigns))
	for i, c := range campaigns {
		qs, running := s.Recovery.Evaluate(c)
		views[i] = &CampaignView{Campaign: c, IsPaused: c.IsPaused(), IsRunning: running, QueueStatus: qs}
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return views, pagination, nil
}

// HandleAction routes the POST action verbs. "resume" covers both a
// paused campaign and one classified needs_recovery after a restart.
func (s *CampaignService) HandleAction(ctx context.Context, id int, action, actor string) error {
	c, err := s.Campaigns.GetByID(id)
	if err != nil {
		return err
	}

	switch action {
	case "start":
		return s.Dispatch.Start(ctx, id, actor)
	case "pause":
		return s.Dispatch.Pause(id, actor)
	case "resume":
		if c.Status == model.StatusPaused {
			return s.Dispatch.Resume(ctx, id, actor)
		}
		if qs, _ := s.Recovery.Evaluate(c); qs == recovery.QueueNeedsRecovery {
			return s.Dispatch.Recover(ctx, id, actor)
		}
		return appErrors.NewValidation("campaign %d cannot resume from status %s", id, c.Status)
	case "stop":
		return s.Dispatch.Stop(id, actor)
	case "resend":
		return s.Dispatch.Resend(ctx, id, actor)
	default:
		return appErrors.NewValidation("unrecognized action %q", action)
	}
}

func (s *CampaignService) UpdateCampaign(ctx context.Context, id int, input UpdateCampaignInput, actor string) (*CampaignView, error) {
	c, err := s.Campaigns.GetByID(id)
	if err != nil {
		return nil, err
	}

	editing := input.Name != nil || input.Subject != nil || input.BodyTemplate != nil ||
		input.FromEmail != nil || input.FromName != nil || input.SourceType != nil ||
		input.SourceRef != nil || len(input.Recipients) > 0 ||
		input.EnableRandomInterval != nil || input.RandomIntervalMin != nil ||
		input.RandomIntervalMax != nil || input.ScheduledAt != nil

	if (editing || input.ResetStats) && !state.CanEdit(c.Status) {
		return nil, appErrors.NewValidation("campaign %d cannot be edited in status %s", id, c.Status)
	}

	if input.ResetStats {
		if err := s.Campaigns.ResetStats(id); err != nil {
			return nil, err
		}
		c.SentCount = 0
		c.FailedCount = 0
		if err := s.Logs.Append(repository.NewStatusChangeEntry(
			id, c.Status, c.Status, "stats reset", actor)); err != nil {
			s.Logger.Warn("failed to log stats reset", zap.Int("campaign_id", id), zap.Error(err))
		}
	}

	if editing {
		applyString := func(dst *string, src *string) {
			if src != nil {
				*dst = *src
			}
		}
		applyString(&c.Name, input.Name)
		applyString(&c.Subject, input.Subject)
		applyString(&c.BodyTemplate, input.BodyTemplate)
		applyString(&c.FromEmail, input.FromEmail)
		applyString(&c.FromName, input.FromName)
		if input.SourceType != nil {
			c.SourceType = *input.SourceType
		}
		if input.SourceRef != nil {
			c.SourceRef = *input.SourceRef
		}
		if input.EnableRandomInterval != nil {
			c.EnableRandomInterval = *input.EnableRandomInterval
		}
		if input.RandomIntervalMin != nil {
			c.RandomIntervalMin = *input.RandomIntervalMin
		}
		if input.RandomIntervalMax != nil {
			c.RandomIntervalMax = *input.RandomIntervalMax
		}
		if input.ScheduledAt != nil {
			c.ScheduledAt = input.ScheduledAt
		}
		if c.EnableRandomInterval && c.RandomIntervalMax < c.RandomIntervalMin {
			return nil, appErrors.NewValidation("random interval max must not be below min")
		}
		if err := s.Campaigns.Update(c); err != nil {
			return nil, err
		}
		if len(input.Recipients) > 0 && c.SourceType == model.SourceUpload {
			if err := s.Sources.ReplaceUpload(id, input.Recipients); err != nil {
				return nil, err
			}
			if err := s.Campaigns.SetTotalRecipients(id, len(input.Recipients)); err != nil {
				return nil, err
			}
			c.TotalRecipients = len(input.Recipients)
		}
		if input.ScheduledAt != nil && s.Schedule != nil {
			if err := s.Schedule.PublishStart(id, *input.ScheduledAt); err != nil {
				s.Logger.Warn("failed to publish scheduled start",
					zap.Int("campaign_id", id), zap.Error(err))
			}
		}
	}

	if err := s.applyStatusChange(ctx, c, input, actor); err != nil {
		return nil, err
	}

	return s.GetCampaign(id)
}

// applyStatusChange maps a requested status or isPaused value onto the
// guarded transition paths. isPaused is only an alias: true pauses,
// false resumes; it is never written on its own.
func (s *CampaignService) applyStatusChange(ctx context.Context, c *model.Campaign, input UpdateCampaignInput, actor string) error {
	target := ""
	if input.Status != nil {
		normalized, ok := model.NormalizeStatus(*input.Status)
		if !ok {
			return appErrors.NewValidation("unknown status %q", *input.Status)
		}
		target = string(normalized)
	} else if input.IsPaused != nil {
		if *input.IsPaused {
			target = string(model.StatusPaused)
		} else if c.Status == model.StatusPaused {
			target = string(model.StatusSending)
		} else {
			// Already not paused; nothing to do.
			return nil
		}
	}
	if target == "" || target == string(c.Status) {
		return nil
	}

	switch model.Status(target) {
	case model.StatusSending:
		if c.Status == model.StatusDraft {
			return s.Dispatch.Start(ctx, c.ID, actor)
		}
		if c.Status == model.StatusPaused {
			return s.Dispatch.Resume(ctx, c.ID, actor)
		}
		return appErrors.NewValidation("campaign %d cannot transition %s -> sending", c.ID, c.Status)
	case model.StatusPaused:
		if !state.CanTransition(c.Status, model.StatusPaused) {
			return appErrors.NewValidation("campaign %d cannot transition %s -> paused", c.ID, c.Status)
		}
		return s.Dispatch.Pause(c.ID, actor)
	case model.StatusStopped:
		if !state.CanTransition(c.Status, model.StatusStopped) {
			return appErrors.NewValidation("campaign %d cannot transition %s -> stopped", c.ID, c.Status)
		}
		return s.Dispatch.Stop(c.ID, actor)
	default:
		return appErrors.NewValidation("campaign %d cannot transition %s -> %s", c.ID, c.Status, target)
	}
}

// DeleteCampaign removes the campaign and everything hanging off it.
// Deleting while SENDING is always rejected.
func (s *CampaignService) DeleteCampaign(id int) error {
	c, err := s.Campaigns.GetByID(id)
	if err != nil {
		return err
	}
	if !state.CanDelete(c.Status) || s.Dispatch.IsRunning(id) {
		return appErrors.NewValidation("campaign %d cannot be deleted while sending", id)
	}
	return s.Campaigns.Delete(id)
}

func (s *CampaignService) ListRecords(campaignID, page, pageSize int) ([]*model.DeliveryRecord, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > 500 {
		pageSize = 500
	}
	if _, err := s.Campaigns.GetByID(campaignID); err != nil {
		return nil, nil, err
	}
	records, total, err := s.Records.ListByCampaign(campaignID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, nil, err
	}
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}
	return records, pagination, nil
}

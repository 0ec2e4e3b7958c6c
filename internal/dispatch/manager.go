// Package dispatch owns the live, paced sending loop per campaign.
// Loop state lives only in process memory; durable status and counters
// live on the campaign row. The asymmetry is intentional and the
// recovery package adjudicates it after a restart.
package dispatch

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/bulkmailer/campaign-engine/internal/errors"
	"github.com/bulkmailer/campaign-engine/internal/metrics"
	"github.com/bulkmailer/campaign-engine/internal/model"
	"github.com/bulkmailer/campaign-engine/internal/recipient"
	"github.com/bulkmailer/campaign-engine/internal/repository"
	"github.com/bulkmailer/campaign-engine/internal/transport"
)

type Manager struct {
	registry  *Registry
	campaigns repository.CampaignRepositoryInterface
	logs      repository.LifecycleLogRepositoryInterface
	resolver  *recipient.Resolver
	worker    *Worker
	mailer    transport.Mailer
	logger    *zap.Logger

	// floor is the fixed inter-send delay for campaigns without a
	// random interval. The outbound rate is never unbounded.
	floor time.Duration

	// sleep and randInt are swappable for tests.
	sleep   func(d time.Duration)
	randInt func(n int) int
}

func NewManager(
	campaigns repository.CampaignRepositoryInterface,
	logs repository.LifecycleLogRepositoryInterface,
	resolver *recipient.Resolver,
	worker *Worker,
	mailer transport.Mailer,
	floor time.Duration,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		registry:  NewRegistry(),
		campaigns: campaigns,
		logs:      logs,
		resolver:  resolver,
		worker:    worker,
		mailer:    mailer,
		logger:    logger,
		floor:     floor,
		sleep:     time.Sleep,
		randInt:   rand.Intn,
	}
}

// IsRunning reports whether a dispatch loop currently holds the handle
// for this campaign.
func (m *Manager) IsRunning(campaignID int) bool {
	return m.registry.IsRunning(campaignID)
}

// Start begins sending a DRAFT campaign. Calling it again while the
// loop is live is a no-op: the registry guarantees at most one loop per
// campaign. A setup failure inside the loop rolls the status back to
// DRAFT.
func (m *Manager) Start(ctx context.Context, campaignID int, actor string) error {
	return m.launch(ctx, campaignID, actor, model.StatusDraft, "start")
}

// Resume continues a PAUSED campaign from the persisted cursor. A setup
// failure rolls back to PAUSED.
func (m *Manager) Resume(ctx context.Context, campaignID int, actor string) error {
	return m.launch(ctx, campaignID, actor, model.StatusPaused, "resume")
}

// Recover re-attaches a loop to a campaign whose persisted status is
// still SENDING but whose loop died with the process. No status
// transition happens here; the row already reads SENDING. Setup
// failures park the campaign in PAUSED so the work stays resumable.
func (m *Manager) Recover(ctx context.Context, campaignID int, actor string) error {
	c, err := m.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c.Status != model.StatusSending {
		return appErrors.NewValidation("campaign %d is %s, nothing to recover", campaignID, c.Status)
	}
	h, acquired := m.registry.acquire(campaignID)
	if !acquired {
		return nil
	}
	if err := m.logs.Append(repository.NewStatusChangeEntry(
		campaignID, model.StatusSending, model.StatusSending, "recover", actor)); err != nil {
		m.logger.Warn("failed to append lifecycle entry", zap.Int("campaign_id", campaignID), zap.Error(err))
	}
	go m.run(campaignID, h, model.StatusPaused, actor)
	return nil
}

// Resend restarts a STOPPED campaign over the unsent remainder of its
// recipient list. Stop is terminal for the plain transition table, so
// this is the one deliberate bypass, guarded by a remaining-work check.
func (m *Manager) Resend(ctx context.Context, campaignID int, actor string) error {
	c, err := m.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c.Status != model.StatusStopped {
		return appErrors.NewValidation("campaign %d cannot be resent from status %s", campaignID, c.Status)
	}
	if !c.HasRemainingWork() {
		return appErrors.NewValidation("campaign %d has no remaining recipients to resend", campaignID)
	}

	h, acquired := m.registry.acquire(campaignID)
	if !acquired {
		return nil
	}
	ok, err := m.campaigns.UpdateStatusIf(campaignID, model.StatusStopped, model.StatusSending)
	if err != nil {
		m.registry.release(campaignID)
		return err
	}
	if !ok {
		m.registry.release(campaignID)
		return appErrors.NewValidation("campaign %d changed status concurrently", campaignID)
	}
	m.appendTransition(campaignID, model.StatusStopped, model.StatusSending, "resend", actor)
	metrics.CampaignsStarted.Inc()
	go m.run(campaignID, h, model.StatusStopped, actor)
	return nil
}

// Pause requests a pause. With a live loop this only raises the
// advisory flag; the loop performs the transition between iterations,
// never mid-send. Without a loop the transition is applied directly.
func (m *Manager) Pause(campaignID int, actor string) error {
	if h, ok := m.registry.get(campaignID); ok {
		h.signalPause()
		return nil
	}
	return m.transitionDirect(campaignID, model.StatusSending, model.StatusPaused, "pause", actor)
}

// Stop requests a terminal stop, with the same advisory semantics as
// Pause.
func (m *Manager) Stop(campaignID int, actor string) error {
	if h, ok := m.registry.get(campaignID); ok {
		h.signalStop()
		return nil
	}
	return m.transitionDirect(campaignID, model.StatusSending, model.StatusStopped, "stop", actor)
}

// launch is the shared start/resume path: acquire the handle, apply the
// guarded transition, hand off to the loop goroutine.
func (m *Manager) launch(ctx context.Context, campaignID int, actor string, from model.Status, cause string) error {
	c, err := m.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c.Status != from {
		return appErrors.NewValidation("campaign %d cannot %s from status %s", campaignID, cause, c.Status)
	}

	h, acquired := m.registry.acquire(campaignID)
	if !acquired {
		// A loop is already live; second start is a no-op.
		return nil
	}

	ok, err := m.campaigns.UpdateStatusIf(campaignID, from, model.StatusSending)
	if err != nil {
		m.registry.release(campaignID)
		return err
	}
	if !ok {
		m.registry.release(campaignID)
		return appErrors.NewValidation("campaign %d changed status concurrently", campaignID)
	}
	m.appendTransition(campaignID, from, model.StatusSending, cause, actor)
	metrics.CampaignsStarted.Inc()

	go m.run(campaignID, h, from, actor)
	return nil
}

// run is the dispatch loop. Recipients are processed strictly
// sequentially; the persisted counters are the only cursor, so a resume
// after restart lands exactly where the last settled attempt left off.
// failback is where setup failures park the status.
func (m *Manager) run(campaignID int, h *handle, failback model.Status, actor string) {
	metrics.ActiveLoops.Inc()
	defer metrics.ActiveLoops.Dec()
	defer m.registry.release(campaignID)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("dispatch loop panicked",
				zap.Int("campaign_id", campaignID), zap.Any("panic", r))
		}
	}()

	ctx := context.Background()

	// Reload for fresh counters; the struct passed through launch may
	// be stale by the time the goroutine is scheduled.
	c, err := m.campaigns.GetByID(campaignID)
	if err != nil {
		m.logger.Error("dispatch loop cannot load campaign", zap.Int("campaign_id", campaignID), zap.Error(err))
		m.rollback(campaignID, failback, "setup failed: campaign load", actor)
		return
	}

	recipients, err := m.resolver.Resolve(c)
	if err != nil {
		m.logger.Error("recipient resolution failed", zap.Int("campaign_id", campaignID), zap.Error(err))
		m.rollback(campaignID, failback, "setup failed: recipient resolution", actor)
		return
	}
	if len(recipients) != c.TotalRecipients {
		if err := m.campaigns.SetTotalRecipients(campaignID, len(recipients)); err != nil {
			m.logger.Error("failed to sync recipient total", zap.Int("campaign_id", campaignID), zap.Error(err))
			m.rollback(campaignID, failback, "setup failed: recipient total", actor)
			return
		}
		c.TotalRecipients = len(recipients)
	}

	// Pre-loop transport verification. Failure here is fatal to the
	// run (FAILED), unlike per-recipient errors which only classify.
	if err := m.mailer.Verify(ctx); err != nil {
		m.logger.Error("transport verification failed",
			zap.Int("campaign_id", campaignID), zap.Error(err))
		if ok, _ := m.campaigns.UpdateStatusIf(campaignID, model.StatusSending, model.StatusFailed); ok {
			m.appendTransition(campaignID, model.StatusSending, model.StatusFailed,
				"transport verification failed: "+err.Error(), actor)
		}
		return
	}

	m.logger.Info("dispatch loop started",
		zap.Int("campaign_id", campaignID),
		zap.Int("cursor", c.Cursor()),
		zap.Int("total", c.TotalRecipients))

	for i := c.Cursor(); i < len(recipients); i++ {
		// Advisory flags, honored only between iterations so an
		// in-flight send is never abandoned.
		paused, stopped := h.flags()
		if stopped {
			m.finish(campaignID, model.StatusStopped, "stop requested", actor)
			return
		}
		if paused {
			m.finish(campaignID, model.StatusPaused, "pause requested", actor)
			return
		}

		if _, err := m.worker.SendOne(ctx, c, recipients[i]); err != nil {
			// Persistence failure: carrying on would desync the
			// cursor from the records, so park the campaign.
			m.finish(campaignID, model.StatusPaused, "attempt persistence failed", actor)
			return
		}

		if i < len(recipients)-1 {
			m.sleep(m.pacingDelay(c))
		}
	}

	m.finish(campaignID, model.StatusCompleted, "recipient list exhausted", actor)
}

// pacingDelay draws the inter-send delay: uniform over [min,max]
// seconds when the random interval is enabled, otherwise the fixed
// floor.
func (m *Manager) pacingDelay(c *model.Campaign) time.Duration {
	if c.EnableRandomInterval && c.RandomIntervalMin > 0 && c.RandomIntervalMax >= c.RandomIntervalMin {
		span := c.RandomIntervalMax - c.RandomIntervalMin + 1
		return time.Duration(c.RandomIntervalMin+m.randInt(span)) * time.Second
	}
	return m.floor
}

func (m *Manager) finish(campaignID int, next model.Status, cause, actor string) {
	ok, err := m.campaigns.UpdateStatusIf(campaignID, model.StatusSending, next)
	if err != nil {
		m.logger.Error("failed to finish dispatch loop",
			zap.Int("campaign_id", campaignID), zap.String("next", string(next)), zap.Error(err))
		return
	}
	if !ok {
		// A concurrent transition won; leave the row as it is.
		m.logger.Warn("loop finish lost a status race",
			zap.Int("campaign_id", campaignID), zap.String("next", string(next)))
		return
	}
	m.appendTransition(campaignID, model.StatusSending, next, cause, actor)
	m.logger.Info("dispatch loop finished",
		zap.Int("campaign_id", campaignID), zap.String("status", string(next)), zap.String("cause", cause))
}

func (m *Manager) rollback(campaignID int, to model.Status, cause, actor string) {
	if to == model.StatusSending {
		return
	}
	if ok, _ := m.campaigns.UpdateStatusIf(campaignID, model.StatusSending, to); ok {
		m.appendTransition(campaignID, model.StatusSending, to, cause, actor)
	}
}

func (m *Manager) transitionDirect(campaignID int, from, to model.Status, cause, actor string) error {
	ok, err := m.campaigns.UpdateStatusIf(campaignID, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.NewValidation("campaign %d is not %s", campaignID, from)
	}
	m.appendTransition(campaignID, from, to, cause, actor)
	return nil
}

func (m *Manager) appendTransition(campaignID int, prev, next model.Status, cause, actor string) {
	if err := m.logs.Append(repository.NewStatusChangeEntry(campaignID, prev, next, cause, actor)); err != nil {
		m.logger.Warn("failed to append lifecycle entry",
			zap.Int("campaign_id", campaignID), zap.Error(err))
	}
}

package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bulkmailer/campaign-engine/internal/metrics"
	"github.com/bulkmailer/campaign-engine/internal/model"
	"github.com/bulkmailer/campaign-engine/internal/repository"
	"github.com/bulkmailer/campaign-engine/internal/template"
	"github.com/bulkmailer/campaign-engine/internal/transport"
)

// Worker performs one recipient's delivery attempt: render, send,
// classify, persist. It never touches campaign status; the loop owns
// that.
type Worker struct {
	Records     repository.DeliveryRecordRepositoryInterface
	Mailer      transport.Mailer
	Logger      *zap.Logger
	SendTimeout time.Duration

	// Now is swappable so tests can pin the timestamp placeholder.
	Now func() time.Time
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// SendOne attempts delivery to a single recipient and persists exactly
// one DeliveryRecord and one LifecycleLogEntry together with the
// matching counter increment. The returned error covers persistence
// only; transport failures are classified into the outcome, not
// returned.
func (w *Worker) SendOne(ctx context.Context, c *model.Campaign, r model.Recipient) (model.DeliveryStatus, error) {
	now := w.now()
	subject := template.Render(c.Subject, r, now)
	body := template.Render(c.BodyTemplate, r, now)

	sendCtx := ctx
	if w.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, w.SendTimeout)
		defer cancel()
	}

	res, err := w.Mailer.Send(sendCtx, &transport.Message{
		FromEmail: c.FromEmail,
		FromName:  c.FromName,
		ToEmail:   r.Email,
		ToName:    r.Name,
		Subject:   subject,
		Body:      body,
	})

	outcome := transport.Classify(err)
	rec := &model.DeliveryRecord{
		CampaignID: c.ID,
		Email:      r.Email,
		Name:       r.Name,
		Status:     outcome,
	}
	cause := "delivered"
	if err != nil {
		rec.Detail = err.Error()
		cause = "send failed"
		w.Logger.Warn("delivery attempt failed",
			zap.Int("campaign_id", c.ID),
			zap.String("email", r.Email),
			zap.String("outcome", string(outcome)),
			zap.Error(err))
	} else {
		rec.MessageID = res.MessageID
		rec.Detail = res.Response
	}

	entry := repository.NewDeliveryEntry(c.ID, r.Email, outcome, cause)
	if err := w.Records.RecordAttempt(rec, entry); err != nil {
		w.Logger.Error("failed to persist delivery attempt",
			zap.Int("campaign_id", c.ID),
			zap.String("email", r.Email),
			zap.Error(err))
		return outcome, err
	}

	metrics.DeliveriesTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

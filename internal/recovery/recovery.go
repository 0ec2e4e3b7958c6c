// Package recovery reconciles a campaign's persisted status with the
// actual presence of a dispatch loop. It runs on every status read and
// ahead of every start, and it only ever reports: persisting a
// transition is always the caller's job.
package recovery

import (
	"go.uber.org/zap"

	"github.com/bulkmailer/campaign-engine/internal/metrics"
	"github.com/bulkmailer/campaign-engine/internal/model"
)

// QueueStatus is the reconciled dispatch state reported to readers.
type QueueStatus string

const (
	QueueRunning       QueueStatus = "running"
	QueueNeedsRecovery QueueStatus = "needs_recovery"
	QueueCompleted     QueueStatus = "completed"
	QueueIdle          QueueStatus = "idle"
	QueueError         QueueStatus = "error"
	QueueUnknown       QueueStatus = "unknown"
)

// DispatchProbe reports live loop presence.
type DispatchProbe interface {
	IsRunning(campaignID int) bool
}

// UnsettledProbe reports delivery records whose outcome is neither sent
// nor failed.
type UnsettledProbe interface {
	HasUnsettled(campaignID int) (bool, error)
}

// ScheduleProbe reports externally tracked scheduling tasks, a separate
// registry from the dispatch loop handles.
type ScheduleProbe interface {
	Has(campaignID int) bool
}

type Service struct {
	Dispatch DispatchProbe
	Records  UnsettledProbe
	Schedule ScheduleProbe
	Logger   *zap.Logger
}

// Evaluate classifies the campaign's dispatch state as an ordered
// decision. It never raises past the read boundary: any failure,
// including a panic in a probe, degrades to QueueError with
// running=false.
func (s *Service) Evaluate(c *model.Campaign) (status QueueStatus, running bool) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("recovery evaluation panicked", zap.Any("panic", r))
			metrics.RecoveryErrors.Inc()
			status = QueueError
			running = false
		}
	}()

	if c == nil {
		return QueueUnknown, false
	}

	// 1. A live loop settles it.
	if s.Dispatch.IsRunning(c.ID) {
		return QueueRunning, true
	}

	// 2. Persisted SENDING with no loop: either the process died
	// mid-run (remaining work) or it died after the last send but
	// before the COMPLETED transition landed.
	if c.Status == model.StatusSending {
		remaining := c.HasRemainingWork()
		if !remaining {
			unsettled, err := s.Records.HasUnsettled(c.ID)
			if err != nil {
				s.Logger.Warn("recovery could not inspect delivery records",
					zap.Int("campaign_id", c.ID), zap.Error(err))
				metrics.RecoveryErrors.Inc()
				return QueueError, false
			}
			remaining = unsettled
		}
		if remaining {
			// The caller must explicitly resume; nothing restarts
			// silently from a read.
			return QueueNeedsRecovery, false
		}
		return QueueCompleted, false
	}

	// 3. Not sending: running reflects any tracked scheduling task.
	scheduled := s.Schedule != nil && s.Schedule.Has(c.ID)
	if c.Status == model.StatusCompleted {
		return QueueCompleted, scheduled
	}
	return QueueIdle, scheduled
}

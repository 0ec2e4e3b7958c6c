package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/bulkmailer/campaign-engine/internal/model"
)

type LifecycleLogRepositoryInterface interface {
	Append(entry *model.LifecycleLogEntry) error
	ListByCampaign(campaignID, offset, limit int) ([]*model.LifecycleLogEntry, error)
}

type LifecycleLogRepository struct {
	DB *sql.DB
}

// NewStatusChangeEntry builds the audit entry every accepted transition
// appends.
func NewStatusChangeEntry(campaignID int, prev, next model.Status, cause, actor string) *model.LifecycleLogEntry {
	return &model.LifecycleLogEntry{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		Event:      model.EventStatusChange,
		PrevValue:  string(prev),
		NextValue:  string(next),
		Cause:      cause,
		Actor:      actor,
	}
}

// NewDeliveryEntry builds the audit entry for one delivery attempt.
func NewDeliveryEntry(campaignID int, email string, outcome model.DeliveryStatus, cause string) *model.LifecycleLogEntry {
	return &model.LifecycleLogEntry{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		Event:      model.EventDelivery,
		PrevValue:  email,
		NextValue:  string(outcome),
		Cause:      cause,
		Actor:      "dispatcher",
	}
}

func (r *LifecycleLogRepository) Append(entry *model.LifecycleLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now()
	_, err := r.DB.Exec(`
		INSERT INTO lifecycle_log (id, campaign_id, event, prev_value, next_value, cause, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.CampaignID, entry.Event, entry.PrevValue, entry.NextValue, entry.Cause, entry.Actor, entry.CreatedAt)
	return err
}

func (r *LifecycleLogRepository) ListByCampaign(campaignID, offset, limit int) ([]*model.LifecycleLogEntry, error) {
	rows, err := r.DB.Query(`
		SELECT id, campaign_id, event, prev_value, next_value, cause, actor, created_at
		FROM lifecycle_log
		WHERE campaign_id=$1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, campaignID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*model.LifecycleLogEntry{}
	for rows.Next() {
		e := &model.LifecycleLogEntry{}
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.Event, &e.PrevValue,
			&e.NextValue, &e.Cause, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ LifecycleLogRepositoryInterface = (*LifecycleLogRepository)(nil)

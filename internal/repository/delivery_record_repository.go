package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/bulkmailer/campaign-engine/internal/model"
)

type DeliveryRecordRepositoryInterface interface {
	// RecordAttempt persists one delivery record, one lifecycle log
	// entry and the matching counter increment in a single
	// transaction, so sent+failed <= total holds at every point an
	// observer can see.
	RecordAttempt(rec *model.DeliveryRecord, entry *model.LifecycleLogEntry) error

	ListByCampaign(campaignID, offset, limit int) ([]*model.DeliveryRecord, int, error)

	// HasUnsettled reports whether any record carries an outcome that
	// is neither sent nor failed, which recovery treats as work still
	// in flight.
	HasUnsettled(campaignID int) (bool, error)
}

type DeliveryRecordRepository struct {
	DB *sql.DB
}

func (r *DeliveryRecordRepository) RecordAttempt(rec *model.DeliveryRecord, entry *model.LifecycleLogEntry) error {
	rec.CreatedAt = time.Now()
	entry.CreatedAt = rec.CreatedAt

	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRow(`
		INSERT INTO delivery_records (campaign_id, email, name, status, detail, message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, rec.CampaignID, rec.Email, rec.Name, rec.Status, rec.Detail, rec.MessageID, rec.CreatedAt).Scan(&rec.ID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO lifecycle_log (id, campaign_id, event, prev_value, next_value, cause, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.CampaignID, entry.Event, entry.PrevValue, entry.NextValue, entry.Cause, entry.Actor, entry.CreatedAt); err != nil {
		return err
	}

	counter := "failed_count"
	if rec.Status == model.DeliverySent {
		counter = "sent_count"
	}
	res, err := tx.Exec(fmt.Sprintf(`
		UPDATE campaigns SET %s = %s + 1, updated_at=NOW()
		WHERE id=$1 AND sent_count + failed_count < total_recipients
	`, counter, counter), rec.CampaignID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("campaign %d: counters already account for every recipient", rec.CampaignID)
	}

	return tx.Commit()
}

func (r *DeliveryRecordRepository) ListByCampaign(campaignID, offset, limit int) ([]*model.DeliveryRecord, int, error) {
	records := []*model.DeliveryRecord{}
	rows, err := r.DB.Query(`
		SELECT id, campaign_id, email, name, status, detail, message_id, created_at
		FROM delivery_records
		WHERE campaign_id=$1
		ORDER BY id ASC LIMIT $2 OFFSET $3
	`, campaignID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		rec := &model.DeliveryRecord{}
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.Email, &rec.Name,
			&rec.Status, &rec.Detail, &rec.MessageID, &rec.CreatedAt); err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}

	var total int
	if err := r.DB.QueryRow(`SELECT COUNT(*) FROM delivery_records WHERE campaign_id=$1`, campaignID).Scan(&total); err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *DeliveryRecordRepository) HasUnsettled(campaignID int) (bool, error) {
	var tmp int
	err := r.DB.QueryRow(`
		SELECT 1 FROM delivery_records
		WHERE campaign_id=$1 AND status NOT IN ('sent', 'failed')
		LIMIT 1
	`, campaignID).Scan(&tmp)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var _ DeliveryRecordRepositoryInterface = (*DeliveryRecordRepository)(nil)

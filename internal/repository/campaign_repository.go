package repository

import (
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/bulkmailer/campaign-engine/internal/errors"
	"github.com/bulkmailer/campaign-engine/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(id int) (*model.Campaign, error)
	ListCampaigns(offset, limit int, status, search string) ([]*model.Campaign, int, error)
	Update(c *model.Campaign) error

	// UpdateStatusIf performs the conditional status transition: the
	// write only lands when the row still carries the expected status.
	// Returns false when a concurrent transition won the race.
	UpdateStatusIf(campaignID int, expected, next model.Status) (bool, error)

	SetTotalRecipients(campaignID, total int) error
	ResetStats(campaignID int) error
	Delete(campaignID int) error
	ListDue(now time.Time) ([]*model.Campaign, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, subject, body_template, from_email, from_name, status,
	sent_count, failed_count, total_recipients, source_type, source_ref,
	enable_random_interval, random_interval_min, random_interval_max,
	scheduled_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.BodyTemplate, &c.FromEmail, &c.FromName, &c.Status,
		&c.SentCount, &c.FailedCount, &c.TotalRecipients, &c.SourceType, &c.SourceRef,
		&c.EnableRandomInterval, &c.RandomIntervalMin, &c.RandomIntervalMax,
		&c.ScheduledAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	// Legacy rows carry mixed-case statuses; normalize on the way in.
	if s, ok := model.NormalizeStatus(string(c.Status)); ok {
		c.Status = s
	}
	return &c, nil
}

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	if c.SourceType == "" {
		c.SourceType = model.SourceUpload
	}
	query := `
		INSERT INTO campaigns (name, subject, body_template, from_email, from_name, status,
			sent_count, failed_count, total_recipients, source_type, source_ref,
			enable_random_interval, random_interval_min, random_interval_max,
			scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	return r.DB.QueryRow(query,
		c.Name, c.Subject, c.BodyTemplate, c.FromEmail, c.FromName, c.Status,
		c.TotalRecipients, c.SourceType, c.SourceRef,
		c.EnableRandomInterval, c.RandomIntervalMin, c.RandomIntervalMax,
		c.ScheduledAt, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, status, search string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}
	if search != "" {
		query += fmt.Sprintf(" AND name ILIKE $%d", argPos)
		args = append(args, "%"+search+"%")
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []interface{}{}
	argPosCount := 1
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", argPosCount)
		argsCount = append(argsCount, status)
		argPosCount++
	}
	if search != "" {
		countQuery += fmt.Sprintf(" AND name ILIKE $%d", argPosCount)
		argsCount = append(argsCount, "%"+search+"%")
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// Update writes the editable attributes only. Status and counters have
// their own guarded paths and are never written here.
func (r *CampaignRepository) Update(c *model.Campaign) error {
	query := `
		UPDATE campaigns
		SET name=$1, subject=$2, body_template=$3, from_email=$4, from_name=$5,
			source_type=$6, source_ref=$7,
			enable_random_interval=$8, random_interval_min=$9, random_interval_max=$10,
			scheduled_at=$11, updated_at=NOW()
		WHERE id=$12
	`
	_, err := r.DB.Exec(query,
		c.Name, c.Subject, c.BodyTemplate, c.FromEmail, c.FromName,
		c.SourceType, c.SourceRef,
		c.EnableRandomInterval, c.RandomIntervalMin, c.RandomIntervalMax,
		c.ScheduledAt, c.ID,
	)
	return err
}

func (r *CampaignRepository) UpdateStatusIf(campaignID int, expected, next model.Status) (bool, error) {
	query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND status=$3`
	res, err := r.DB.Exec(query, next, campaignID, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignRepository) SetTotalRecipients(campaignID, total int) error {
	query := `UPDATE campaigns SET total_recipients=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, total, campaignID)
	return err
}

// ResetStats deletes every delivery record and zeroes the counters in
// one transaction. Calling it on an already clean campaign is a no-op.
func (r *CampaignRepository) ResetStats(campaignID int) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM delivery_records WHERE campaign_id=$1`, campaignID); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE campaigns SET sent_count=0, failed_count=0, updated_at=NOW() WHERE id=$1`, campaignID); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes the delivery records, lifecycle log and the campaign
// itself. The SENDING guard lives in the service layer.
func (r *CampaignRepository) Delete(campaignID int) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM delivery_records WHERE campaign_id=$1`, campaignID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM lifecycle_log WHERE campaign_id=$1`, campaignID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM campaign_recipients WHERE campaign_id=$1`, campaignID); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM campaigns WHERE id=$1`, campaignID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	return tx.Commit()
}

// ListDue returns draft campaigns whose scheduled time has arrived.
func (r *CampaignRepository) ListDue(now time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
		ORDER BY scheduled_at ASC`
	rows, err := r.DB.Query(query, model.StatusDraft, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	due := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, c)
	}
	return due, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)

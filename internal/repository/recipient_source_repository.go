package repository

import (
	"database/sql"

	"github.com/bulkmailer/campaign-engine/internal/model"
)

type RecipientSourceRepositoryInterface interface {
	UploadedRecipients(campaignID int) ([]model.Recipient, error)
	ListMembers(listID int) ([]model.Recipient, error)
	GroupSubscribers(groupID int) ([]model.Recipient, error)
	ReplaceUpload(campaignID int, recipients []model.Recipient) error
}

type RecipientSourceRepository struct {
	DB *sql.DB
}

// UploadedRecipients returns the tabular upload rows in upload order.
// Position is assigned at upload time and defines the resume order.
func (r *RecipientSourceRepository) UploadedRecipients(campaignID int) ([]model.Recipient, error) {
	return r.collect(`
		SELECT email, name FROM campaign_recipients
		WHERE campaign_id=$1 ORDER BY position ASC
	`, campaignID)
}

func (r *RecipientSourceRepository) ListMembers(listID int) ([]model.Recipient, error) {
	return r.collect(`
		SELECT email, name FROM recipient_list_members
		WHERE list_id=$1 ORDER BY position ASC
	`, listID)
}

func (r *RecipientSourceRepository) GroupSubscribers(groupID int) ([]model.Recipient, error) {
	return r.collect(`
		SELECT email, name FROM subscribers
		WHERE group_id=$1 ORDER BY id ASC
	`, groupID)
}

// ReplaceUpload swaps the uploaded rows for a campaign in one
// transaction, renumbering positions from zero.
func (r *RecipientSourceRepository) ReplaceUpload(campaignID int, recipients []model.Recipient) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM campaign_recipients WHERE campaign_id=$1`, campaignID); err != nil {
		return err
	}
	for i, rec := range recipients {
		if _, err := tx.Exec(`
			INSERT INTO campaign_recipients (campaign_id, position, email, name)
			VALUES ($1, $2, $3, $4)
		`, campaignID, i, rec.Email, rec.Name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *RecipientSourceRepository) collect(query string, arg int) ([]model.Recipient, error) {
	rows, err := r.DB.Query(query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		var rec model.Recipient
		if err := rows.Scan(&rec.Email, &rec.Name); err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

var _ RecipientSourceRepositoryInterface = (*RecipientSourceRepository)(nil)

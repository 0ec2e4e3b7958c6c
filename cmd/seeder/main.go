// Seeder creates the schema and loads a small demo data set.
package main

import (
	"log"

	"github.com/bulkmailer/campaign-engine/internal/config"
	"github.com/bulkmailer/campaign-engine/internal/db"
	"github.com/bulkmailer/campaign-engine/internal/model"
	"github.com/bulkmailer/campaign-engine/internal/repository"
)

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS campaigns (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		body_template TEXT NOT NULL DEFAULT '',
		from_email TEXT NOT NULL DEFAULT '',
		from_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		sent_count INT NOT NULL DEFAULT 0,
		failed_count INT NOT NULL DEFAULT 0,
		total_recipients INT NOT NULL DEFAULT 0,
		source_type TEXT NOT NULL DEFAULT 'upload',
		source_ref INT NOT NULL DEFAULT 0,
		enable_random_interval BOOLEAN NOT NULL DEFAULT FALSE,
		random_interval_min INT NOT NULL DEFAULT 0,
		random_interval_max INT NOT NULL DEFAULT 0,
		scheduled_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS delivery_records (
		id SERIAL PRIMARY KEY,
		campaign_id INT NOT NULL REFERENCES campaigns(id),
		email TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		message_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS lifecycle_log (
		id TEXT PRIMARY KEY,
		campaign_id INT NOT NULL,
		event TEXT NOT NULL,
		prev_value TEXT NOT NULL DEFAULT '',
		next_value TEXT NOT NULL DEFAULT '',
		cause TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS campaign_recipients (
		campaign_id INT NOT NULL REFERENCES campaigns(id),
		position INT NOT NULL,
		email TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (campaign_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS recipient_lists (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS recipient_list_members (
		list_id INT NOT NULL REFERENCES recipient_lists(id),
		position INT NOT NULL,
		email TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (list_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS subscribers (
		id SERIAL PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		group_id INT NOT NULL DEFAULT 0
	)`,
}

func main() {
	cfg := config.Load()

	conn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal("failed to connect to DB:", err)
	}
	defer conn.Close()

	for _, stmt := range ddl {
		if _, err := conn.Exec(stmt); err != nil {
			log.Fatal("schema setup failed:", err)
		}
	}

	if _, err := conn.Exec(`
		INSERT INTO subscribers (email, name, group_id) VALUES
		('alice@example.com', 'Alice', 1),
		('bob@example.com', 'Bob', 1),
		('carol@example.com', 'Carol', 2)
		ON CONFLICT DO NOTHING
	`); err != nil {
		log.Fatal("failed to seed subscribers:", err)
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	sourceRepo := &repository.RecipientSourceRepository{DB: conn}

	demo := &model.Campaign{
		Name:            "Welcome series",
		Subject:         "{{greeting}}!",
		BodyTemplate:    "Hi {{name}}, thanks for subscribing. Sent at {{timestamp}}.",
		FromEmail:       "news@example.com",
		FromName:        "Example News",
		SourceType:      model.SourceUpload,
		TotalRecipients: 2,
	}
	if err := campaignRepo.Create(demo); err != nil {
		log.Fatal("failed to seed campaign:", err)
	}
	if err := sourceRepo.ReplaceUpload(demo.ID, []model.Recipient{
		{Email: "alice@example.com", Name: "Alice"},
		{Email: "bob@example.com", Name: "Bob"},
	}); err != nil {
		log.Fatal("failed to seed recipients:", err)
	}

	log.Println("seed complete, campaign id:", demo.ID)
}

// The scheduler is stateless: every scan it looks up draft campaigns
// whose scheduled time has arrived and publishes one start job each.
// Duplicate publishes are harmless because start is idempotent.
package main

import (
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/bulkmailer/campaign-engine/internal/config"
	"github.com/bulkmailer/campaign-engine/internal/db"
	"github.com/bulkmailer/campaign-engine/internal/repository"
	"github.com/bulkmailer/campaign-engine/internal/schedule"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	conn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer conn.Close()

	mq, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		logger.Fatal("amqp connection failed", zap.Error(err))
	}
	defer mq.Close()

	pub, err := schedule.NewPublisher(mq)
	if err != nil {
		logger.Fatal("amqp publisher setup failed", zap.Error(err))
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}

	logger.Info("scheduler running")
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		now := time.Now()
		due, err := campaignRepo.ListDue(now)
		if err != nil {
			logger.Error("due-campaign scan failed", zap.Error(err))
		}
		for _, c := range due {
			if err := pub.PublishStart(c.ID, *c.ScheduledAt); err != nil {
				logger.Error("failed to publish start job",
					zap.Int("campaign_id", c.ID), zap.Error(err))
				continue
			}
			logger.Info("published scheduled start",
				zap.Int("campaign_id", c.ID), zap.Time("run_at", *c.ScheduledAt))
		}
		<-ticker.C
	}
}

package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/bulkmailer/campaign-engine/internal/config"
	"github.com/bulkmailer/campaign-engine/internal/db"
	"github.com/bulkmailer/campaign-engine/internal/dispatch"
	"github.com/bulkmailer/campaign-engine/internal/handler"
	"github.com/bulkmailer/campaign-engine/internal/metrics"
	"github.com/bulkmailer/campaign-engine/internal/recipient"
	"github.com/bulkmailer/campaign-engine/internal/recovery"
	"github.com/bulkmailer/campaign-engine/internal/repository"
	"github.com/bulkmailer/campaign-engine/internal/schedule"
	"github.com/bulkmailer/campaign-engine/internal/service"
	"github.com/bulkmailer/campaign-engine/internal/transport"
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

	campaignRepo := &repository.CampaignRepository{DB: conn}
	recordRepo := &repository.DeliveryRecordRepository{DB: conn}
	logRepo := &repository.LifecycleLogRepository{DB: conn}
	sourceRepo := &repository.RecipientSourceRepository{DB: conn}

	mailer := transport.NewSMTPMailer(cfg.SMTP, logger)
	resolver := &recipient.Resolver{Sources: sourceRepo}
	worker := &dispatch.Worker{
		Records:     recordRepo,
		Mailer:      mailer,
		Logger:      logger,
		SendTimeout: cfg.SMTP.SendTimeout,
	}
	manager := dispatch.NewManager(campaignRepo, logRepo, resolver, worker, mailer, cfg.PacingFloor, logger)

	scheduleReg := schedule.NewRegistry()
	recoverySvc := &recovery.Service{
		Dispatch: manager,
		Records:  recordRepo,
		Schedule: scheduleReg,
		Logger:   logger,
	}

	svc := &service.CampaignService{
		Campaigns: campaignRepo,
		Records:   recordRepo,
		Logs:      logRepo,
		Sources:   sourceRepo,
		Dispatch:  manager,
		Recovery:  recoverySvc,
		Logger:    logger,
	}

	// amqp is optional at boot: without it, scheduled campaigns wait
	// for the scheduler binary's next scan after the broker returns.
	if mq, err := amqp.Dial(cfg.AMQPURL); err != nil {
		logger.Warn("amqp unavailable, scheduled starts disabled", zap.Error(err))
	} else {
		defer mq.Close()
		if pub, err := schedule.NewPublisher(mq); err != nil {
			logger.Warn("amqp publisher setup failed", zap.Error(err))
		} else {
			svc.Schedule = pub
		}
		if err := schedule.StartSubscriber(mq, scheduleReg, manager, logger); err != nil {
			logger.Warn("amqp subscriber setup failed", zap.Error(err))
		}
	}

	campaignHandler := handler.NewCampaignHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Group(campaignHandler.Routes)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	logger.Info("server listening", zap.String("addr", cfg.HTTPAddr))
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

package main

import (
	"os"
	"time"

	"warmit/aigen"
	"warmit/api"
	"warmit/bounce"
	"warmit/config"
	"warmit/conversation"
	"warmit/domainprofile"
	"warmit/jobs"
	"warmit/metricsagg"
	"warmit/middleware"
	"warmit/models"
	"warmit/ratelimit"
	"warmit/scheduler"
	"warmit/tracking"
	"warmit/transport"
	"warmit/vault"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			logrus.WithError(err).Warn("sentry init failed, continuing without error reporting")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	db, err := config.ConnectDB(cfg, &models.Account{}, &models.Campaign{}, &models.CampaignMember{}, &models.Email{}, &models.DailyMetric{})
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to database")
	}

	credVault := vault.New(cfg.EncryptionKey)
	tracker := tracking.New(cfg.TrackingSecretKey, cfg.APIBaseURL)
	mailClient := transport.New()
	profiler := domainprofile.New()

	ledger := ratelimit.New()
	generator := aigen.New(cfg, ledger)

	warmupScheduler := scheduler.New(db, credVault, mailClient, tracker, generator, cfg)
	conversationEngine := conversation.New(db, credVault, mailClient, tracker, generator, cfg)
	bounceDetector := bounce.New(db, credVault, mailClient)
	aggregator := metricsagg.New(db)

	runner, err := jobs.New(cfg.RedisURL, warmupScheduler, conversationEngine, bounceDetector, aggregator, db)
	if err != nil {
		logrus.WithError(err).Fatal("failed to build job runner")
	}
	if err := runner.Start(); err != nil {
		logrus.WithError(err).Fatal("failed to start job runner")
	}
	defer runner.Stop()

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			logrus.WithError(err).WithField("path", c.Path()).Error("unhandled request error")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "internal error"})
		},
	})
	app.Use(middleware.CORS())

	app.Use("/accounts/:id/check-domain", middleware.AccountProbeRateLimiter(cfg.RedisURL, 10))

	api.Register(app, &api.Handlers{
		DB: db, Vault: credVault, Tracker: tracker, Profiler: profiler,
		Scheduler: warmupScheduler, Aggregator: aggregator, Transport: mailClient, Cfg: cfg,
	})

	logrus.WithField("port", cfg.ServerPort).Info("warmit API starting")
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logrus.WithError(err).Fatal("server stopped")
	}
}


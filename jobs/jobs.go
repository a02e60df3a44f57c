// Package jobs wires the recurring triggers that drive the warmup
// scheduler, conversation engine, bounce detector, and metrics aggregator
// on a schedule, using asynq's cron-backed periodic tasks so the schedule
// survives a process restart and can be observed/retried like any other
// task queue.
package jobs

import (
	"context"
	"fmt"
	"time"

	"warmit/bounce"
	"warmit/conversation"
	"warmit/metricsagg"
	"warmit/models"
	"warmit/scheduler"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	typeCampaignProcessAll = "campaign:process_all"
	typeConversationPoll   = "conversation:poll_all"
	typeBounceScan         = "bounce:scan_all"
	typeMetricsRollup      = "metrics:rollup_daily"
	typeCountersReset      = "counters:reset_daily"
)

// Runner owns the asynq scheduler (enqueues periodic tasks per cron spec)
// and server (executes them), plus the domain services each task calls
// into.
type Runner struct {
	scheduler *asynq.Scheduler
	server    *asynq.Server
	mux       *asynq.ServeMux

	warmup       *scheduler.Scheduler
	conversation *conversation.Engine
	bounceDet    *bounce.Detector
	metrics      *metricsagg.Aggregator
	db           *gorm.DB
}

// New builds a Runner against the given Redis URL (REDIS_URL, the same
// instance the Fiber rate-limit middleware uses) and the constructed
// domain services.
func New(redisURL string, warmup *scheduler.Scheduler, conv *conversation.Engine, bd *bounce.Detector, agg *metricsagg.Aggregator, db *gorm.DB) (*Runner, error) {
	redisOpt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	asynqOpt := asynq.RedisClientOpt{Addr: redisOpt.Addr, Password: redisOpt.Password, DB: redisOpt.DB}

	r := &Runner{
		scheduler:    asynq.NewScheduler(asynqOpt, nil),
		server:       asynq.NewServer(asynqOpt, asynq.Config{Concurrency: 4}),
		mux:          asynq.NewServeMux(),
		warmup:       warmup,
		conversation: conv,
		bounceDet:    bd,
		metrics:      agg,
		db:           db,
	}
	r.registerHandlers()
	return r, nil
}

func (r *Runner) registerHandlers() {
	r.mux.HandleFunc(typeCampaignProcessAll, r.handleCampaignProcessAll)
	r.mux.HandleFunc(typeConversationPoll, r.handleConversationPoll)
	r.mux.HandleFunc(typeBounceScan, r.handleBounceScan)
	r.mux.HandleFunc(typeMetricsRollup, r.handleMetricsRollup)
	r.mux.HandleFunc(typeCountersReset, r.handleCountersReset)
}

// Start registers every periodic trigger with the scheduler and starts
// both the scheduler and the task server. Returns once both goroutines
// are launched; call Stop to shut down cleanly.
func (r *Runner) Start() error {
	triggers := []struct {
		cronSpec string
		taskType string
	}{
		{"*/2 * * * *", typeCampaignProcessAll},
		{"*/10 * * * *", typeConversationPoll},
		{"*/30 * * * *", typeBounceScan},
		{"5 0 * * *", typeMetricsRollup},
		{"0 0 * * *", typeCountersReset},
	}
	for _, t := range triggers {
		if _, err := r.scheduler.Register(t.cronSpec, asynq.NewTask(t.taskType, nil)); err != nil {
			return fmt.Errorf("register %s: %w", t.taskType, err)
		}
	}

	go func() {
		if err := r.scheduler.Run(); err != nil {
			logrus.WithError(err).Error("asynq scheduler stopped")
		}
	}()
	go func() {
		if err := r.server.Run(r.mux); err != nil {
			logrus.WithError(err).Error("asynq server stopped")
		}
	}()
	return nil
}

func (r *Runner) Stop() {
	r.scheduler.Shutdown()
	r.server.Shutdown()
}

func (r *Runner) handleCampaignProcessAll(ctx context.Context, _ *asynq.Task) error {
	return r.warmup.ProcessAllCampaigns(ctx)
}

func (r *Runner) handleConversationPoll(ctx context.Context, _ *asynq.Task) error {
	var ids []uint
	if err := r.db.Model(&models.Account{}).Where("status = ?", models.AccountActive).Pluck("id", &ids).Error; err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.conversation.PollAccount(ctx, id); err != nil {
			logrus.WithField("account", id).WithError(err).Warn("conversation poll failed")
		}
	}
	return nil
}

func (r *Runner) handleBounceScan(ctx context.Context, _ *asynq.Task) error {
	var ids []uint
	if err := r.db.Model(&models.Account{}).Where("role = ? AND status = ?", models.RoleSender, models.AccountActive).Pluck("id", &ids).Error; err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.bounceDet.ScanAccount(ctx, id); err != nil {
			logrus.WithField("account", id).WithError(err).Warn("bounce scan failed")
		}
	}
	return nil
}

func (r *Runner) handleMetricsRollup(ctx context.Context, _ *asynq.Task) error {
	return r.metrics.RollupAllAccounts(ctx, time.Now().UTC().AddDate(0, 0, -1))
}

func (r *Runner) handleCountersReset(ctx context.Context, _ *asynq.Task) error {
	return r.warmup.ResetDailyCounters(ctx)
}

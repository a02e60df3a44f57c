// Package metricsagg recomputes lifetime counters for accounts and
// campaigns from their Email rows, and rolls up one DailyMetric row per
// account per day.
package metricsagg

import (
	"context"
	"time"

	"warmit/apperrors"
	"warmit/models"

	"gorm.io/gorm"
)

// Aggregator recomputes lifetime counters from Email rows.
type Aggregator struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Aggregator {
	return &Aggregator{db: db}
}

// ResyncAccount recomputes an Account's lifetime Total* counters from its
// Email rows, correcting any drift from partial failures elsewhere.
func (a *Aggregator) ResyncAccount(ctx context.Context, accountID uint) error {
	var account models.Account
	if err := a.db.First(&account, accountID).Error; err != nil {
		return apperrors.Wrap(apperrors.NotFound, "load account", err)
	}

	var sent, opened, replied, bounced int64
	a.db.Model(&models.Email{}).Where("sender_id = ?", accountID).Count(&sent)
	a.db.Model(&models.Email{}).Where("sender_id = ? AND status IN ?", accountID,
		[]models.EmailStatus{models.EmailOpened, models.EmailReplied}).Count(&opened)
	a.db.Model(&models.Email{}).Where("sender_id = ? AND status = ?", accountID, models.EmailReplied).Count(&replied)
	a.db.Model(&models.Email{}).Where("sender_id = ? AND status = ?", accountID, models.EmailBounced).Count(&bounced)

	var received int64
	a.db.Model(&models.Email{}).Where("receiver_id = ?", accountID).Count(&received)

	account.TotalSent = sent
	account.TotalOpened = opened
	account.TotalReplied = replied
	account.TotalBounced = bounced
	account.TotalReceived = received

	return a.db.Save(&account).Error
}

// ResyncCampaign recomputes a Campaign's TotalEmailsSent/Opened/Replied/
// Bounced and EmailsSentToday from its Email rows, correcting any drift
// from partial failures elsewhere. Cheap enough to call on every campaign
// list/detail read rather than only from a periodic job.
func (a *Aggregator) ResyncCampaign(ctx context.Context, campaignID uint) error {
	var campaign models.Campaign
	if err := a.db.First(&campaign, campaignID).Error; err != nil {
		return apperrors.Wrap(apperrors.NotFound, "load campaign", err)
	}

	var sent, opened, replied, bounced int64
	a.db.Model(&models.Email{}).Where("campaign_id = ?", campaignID).Count(&sent)
	a.db.Model(&models.Email{}).Where("campaign_id = ? AND status IN ?", campaignID,
		[]models.EmailStatus{models.EmailOpened, models.EmailReplied}).Count(&opened)
	a.db.Model(&models.Email{}).Where("campaign_id = ? AND status = ?", campaignID, models.EmailReplied).Count(&replied)
	a.db.Model(&models.Email{}).Where("campaign_id = ? AND status = ?", campaignID, models.EmailBounced).Count(&bounced)

	var sentToday int64
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	a.db.Model(&models.Email{}).Where("campaign_id = ? AND created_at >= ?", campaignID, dayStart).Count(&sentToday)

	campaign.TotalEmailsSent = sent
	campaign.TotalEmailsOpened = opened
	campaign.TotalEmailsReplied = replied
	campaign.TotalEmailsBounced = bounced
	campaign.EmailsSentToday = int(sentToday)

	return a.db.Save(&campaign).Error
}

// RollupDay upserts the DailyMetric row for accountID on day, computed
// from Email rows created that UTC day.
func (a *Aggregator) RollupDay(ctx context.Context, accountID uint, day time.Time) error {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var sent, received, opened, replied, bounced, failed int64
	a.db.Model(&models.Email{}).Where("sender_id = ? AND created_at >= ? AND created_at < ?", accountID, dayStart, dayEnd).Count(&sent)
	a.db.Model(&models.Email{}).Where("receiver_id = ? AND created_at >= ? AND created_at < ?", accountID, dayStart, dayEnd).Count(&received)
	a.db.Model(&models.Email{}).Where("sender_id = ? AND status = ? AND created_at >= ? AND created_at < ?", accountID, models.EmailOpened, dayStart, dayEnd).Count(&opened)
	a.db.Model(&models.Email{}).Where("sender_id = ? AND status = ? AND created_at >= ? AND created_at < ?", accountID, models.EmailReplied, dayStart, dayEnd).Count(&replied)
	a.db.Model(&models.Email{}).Where("sender_id = ? AND status = ? AND created_at >= ? AND created_at < ?", accountID, models.EmailBounced, dayStart, dayEnd).Count(&bounced)
	a.db.Model(&models.Email{}).Where("sender_id = ? AND status = ? AND created_at >= ? AND created_at < ?", accountID, models.EmailFailed, dayStart, dayEnd).Count(&failed)

	metric := models.DailyMetric{
		AccountID:      accountID,
		Date:           dayStart,
		EmailsSent:     int(sent),
		EmailsReceived: int(received),
		EmailsOpened:   int(opened),
		EmailsReplied:  int(replied),
		EmailsBounced:  int(bounced),
		EmailsFailed:   int(failed),
	}
	metric.CalculateRates()

	var existing models.DailyMetric
	err := a.db.Where("account_id = ? AND date = ?", accountID, dayStart).First(&existing).Error
	if err == nil {
		metric.ID = existing.ID
		return a.db.Save(&metric).Error
	}
	return a.db.Create(&metric).Error
}

// RollupAllAccounts runs RollupDay for every account for the given day;
// meant to be invoked once daily by package jobs.
func (a *Aggregator) RollupAllAccounts(ctx context.Context, day time.Time) error {
	var ids []uint
	if err := a.db.Model(&models.Account{}).Pluck("id", &ids).Error; err != nil {
		return apperrors.Wrap(apperrors.TransportFailure, "list accounts", err)
	}
	for _, id := range ids {
		if err := a.RollupDay(ctx, id, day); err != nil {
			return err
		}
	}
	return nil
}

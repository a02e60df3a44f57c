// Package scheduler computes daily send targets per sender, distributes
// them into per-day slots, paces sends inside business hours, and drives
// the campaign state machine. Rather than a long-running goroutine that
// sleeps between sends, progress is tracked on the Campaign row itself
// (NextSendTime, EmailsSentToday) so a stateless periodic trigger can
// advance any campaign by calling ProcessCampaign.
package scheduler

import (
	"context"
	"math/rand"
	"time"

	"warmit/aigen"
	"warmit/apperrors"
	"warmit/config"
	"warmit/domainprofile"
	"warmit/models"
	"warmit/tracking"
	"warmit/transport"
	"warmit/vault"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	businessHourStart = 9
	businessHourEnd   = 18
	minSlotGap        = 2 * time.Minute
	maxSlotGap        = 10 * time.Minute
)

// baseTargetsByWeek is the per-week base send count; week 6 and beyond all
// use the week-6 figure.
var baseTargetsByWeek = []int{5, 10, 15, 25, 35, 50}

func baseTargetForWeek(week int) int {
	if week < 1 {
		week = 1
	}
	if week > len(baseTargetsByWeek) {
		week = len(baseTargetsByWeek)
	}
	return baseTargetsByWeek[week-1]
}

// senderDailyTarget is the base target for week, clamped for week 1 by the
// sender's domain age, then bounded by the deployment-wide
// MIN_EMAILS_PER_DAY/MAX_EMAILS_PER_DAY floor and ceiling so an operator
// can cap warmup volume regardless of what the week/domain-age table
// alone would produce.
func senderDailyTarget(account *models.Account, week int, cfg *config.Config) int {
	base := baseTargetForWeek(week)
	if week == 1 && account.DomainAgeDays != nil {
		if clamp := domainprofile.ClampForAge(*account.DomainAgeDays); clamp > 0 && clamp < base {
			base = clamp
		}
	}
	if cfg != nil {
		if cfg.MaxEmailsPerDay > 0 && base > cfg.MaxEmailsPerDay {
			base = cfg.MaxEmailsPerDay
		}
		if cfg.MinEmailsPerDay > 0 && base < cfg.MinEmailsPerDay {
			base = cfg.MinEmailsPerDay
		}
	}
	return base
}

// Scheduler drives the campaign send loop.
type Scheduler struct {
	db        *gorm.DB
	vault     *vault.Vault
	transport transport.Client
	tracker   *tracking.Tokenizer
	generator *aigen.Generator
	cfg       *config.Config
	rng       *rand.Rand
}

func New(db *gorm.DB, v *vault.Vault, tr transport.Client, tk *tracking.Tokenizer, gen *aigen.Generator, cfg *config.Config) *Scheduler {
	return &Scheduler{
		db:        db,
		vault:     v,
		transport: tr,
		tracker:   tk,
		generator: gen,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Scheduler) members(campaignID uint, role models.AccountRole) ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.
		Joins("JOIN campaign_members ON campaign_members.account_id = accounts.id").
		Where("campaign_members.campaign_id = ? AND campaign_members.role = ?", campaignID, role).
		Order("accounts.id").
		Find(&accounts).Error
	return accounts, err
}

// StartCampaign transitions a Pending campaign to Active, computing its
// first day's target and send time.
func (s *Scheduler) StartCampaign(ctx context.Context, campaignID uint) error {
	var campaign models.Campaign
	if err := s.db.First(&campaign, campaignID).Error; err != nil {
		return apperrors.Wrap(apperrors.NotFound, "load campaign", err)
	}
	if campaign.Status != models.CampaignPending {
		return apperrors.New(apperrors.InvalidState, "campaign is not pending")
	}

	senders, err := s.members(campaignID, models.RoleSender)
	if err != nil {
		return apperrors.Wrap(apperrors.TransportFailure, "load senders", err)
	}
	if len(senders) == 0 {
		return apperrors.New(apperrors.InvalidInput, "campaign has no senders")
	}

	now := time.Now().UTC()
	campaign.Status = models.CampaignActive
	campaign.CurrentWeek = 1
	campaign.StartTime = now
	campaign.TargetEmailsToday = computeCampaignTarget(senders, 1, s.cfg)
	campaign.EmailsSentToday = 0
	campaign.NextSendTime = s.chooseSendTime(now)

	return s.db.Save(&campaign).Error
}

// computeCampaignTarget sums each sender's (possibly week-1-clamped,
// config-bounded) daily target.
func computeCampaignTarget(senders []models.Account, week int, cfg *config.Config) int {
	total := 0
	for i := range senders {
		total += senderDailyTarget(&senders[i], week, cfg)
	}
	return total
}

// chooseSendTime picks the next send instant inside [09:00,18:00) UTC,
// jittered by [2,10) minutes from `from`; a candidate before 09:00 moves
// to 09:00 that day, and one at or after 18:00 rolls to 09:00 the next day.
func (s *Scheduler) chooseSendTime(from time.Time) time.Time {
	gap := minSlotGap + time.Duration(s.rng.Int63n(int64(maxSlotGap-minSlotGap)))
	candidate := from.Add(gap)
	return clampToBusinessHours(candidate)
}

func clampToBusinessHours(t time.Time) time.Time {
	t = t.UTC()
	if t.Hour() < businessHourStart {
		return time.Date(t.Year(), t.Month(), t.Day(), businessHourStart, 0, 0, 0, time.UTC)
	}
	if t.Hour() >= businessHourEnd {
		next := t.AddDate(0, 0, 1)
		return time.Date(next.Year(), next.Month(), next.Day(), businessHourStart, 0, 0, 0, time.UTC)
	}
	return t
}

// buildSlotOrder distributes target emails across senders (base count each
// plus a shuffled remainder), then shuffles the resulting sequence, so
// which sender fires on a given slot within the day varies without biasing
// any one sender. Seeded by campaignID+date for determinism within a day.
func buildSlotOrder(campaignID uint, date time.Time, senderIDs []uint, target int) []uint {
	if len(senderIDs) == 0 || target <= 0 {
		return nil
	}
	seed := int64(campaignID)*1_000_003 + int64(date.Year())*10000 + int64(date.YearDay())
	r := rand.New(rand.NewSource(seed))

	base := target / len(senderIDs)
	remainder := target % len(senderIDs)

	counts := make(map[uint]int, len(senderIDs))
	for _, id := range senderIDs {
		counts[id] = base
	}
	shuffledSenders := append([]uint(nil), senderIDs...)
	r.Shuffle(len(shuffledSenders), func(i, j int) { shuffledSenders[i], shuffledSenders[j] = shuffledSenders[j], shuffledSenders[i] })
	for i := 0; i < remainder; i++ {
		counts[shuffledSenders[i]]++
	}

	var slots []uint
	for _, id := range senderIDs {
		for i := 0; i < counts[id]; i++ {
			slots = append(slots, id)
		}
	}
	r.Shuffle(len(slots), func(i, j int) { slots[i], slots[j] = slots[j], slots[i] })
	return slots
}

// maxBatchPerCall caps how many emails a single ProcessCampaign call will
// emit, so one trigger invocation can't dump an entire day's remaining
// target into the mailbox at once.
const maxBatchPerCall = 3

// campaignIsDue reports whether a campaign should be processed right now:
// force bypasses the NextSendTime gate unconditionally, otherwise the gate
// holds until now reaches nextSendTime.
func campaignIsDue(force bool, now, nextSendTime time.Time) bool {
	return force || !now.Before(nextSendTime)
}

// batchSize returns how many emails this ProcessCampaign call should
// attempt: min(maxBatchPerCall, remaining), floored at 0.
func batchSize(remaining int) int {
	if remaining <= 0 {
		return 0
	}
	if remaining > maxBatchPerCall {
		return maxBatchPerCall
	}
	return remaining
}

// ProcessCampaign emits up to maxBatchPerCall emails for campaignID if it
// is due, then reschedules NextSendTime. A campaign is due when
// NextSendTime has passed and today's target is not yet met; force=true
// bypasses the NextSendTime gate (still capped at maxBatchPerCall and at
// the remaining daily target) for on-demand "process now" requests.
// Returns the number of emails actually sent this call.
func (s *Scheduler) ProcessCampaign(ctx context.Context, campaignID uint, force bool) (int, error) {
	var campaign models.Campaign
	if err := s.db.First(&campaign, campaignID).Error; err != nil {
		return 0, apperrors.Wrap(apperrors.NotFound, "load campaign", err)
	}
	if campaign.Status != models.CampaignActive {
		return 0, nil
	}

	now := time.Now().UTC()
	if !campaignIsDue(force, now, campaign.NextSendTime) {
		return 0, nil
	}
	batch := batchSize(campaign.TargetEmailsToday - campaign.EmailsSentToday)
	if batch == 0 {
		return 0, nil
	}

	senders, err := s.members(campaignID, models.RoleSender)
	if err != nil || len(senders) == 0 {
		return 0, apperrors.Wrap(apperrors.TransportFailure, "load senders", err)
	}
	receivers, err := s.members(campaignID, models.RoleReceiver)
	if err != nil || len(receivers) == 0 {
		return 0, apperrors.Wrap(apperrors.TransportFailure, "load receivers", err)
	}
	sendersByID := make(map[uint]*models.Account, len(senders))
	for i := range senders {
		sendersByID[senders[i].ID] = &senders[i]
	}

	senderIDs := make([]uint, len(senders))
	for i, a := range senders {
		senderIDs[i] = a.ID
	}
	slots := buildSlotOrder(campaignID, now, senderIDs, campaign.TargetEmailsToday)

	sent := 0
	for i := 0; i < batch; i++ {
		idx := campaign.EmailsSentToday
		if idx >= len(slots) {
			break
		}
		sender := sendersByID[slots[idx]]
		if sender == nil {
			return sent, apperrors.New(apperrors.InvalidState, "scheduled sender not found among campaign members")
		}

		if sender.BounceRate() > s.cfg.MaxBounceRate {
			logrus.WithField("sender", sender.Email).Warn("skipping sender: bounce rate over threshold")
			if s.cfg.AutoPauseOnHighBounce {
				sender.Status = models.AccountPaused
				s.db.Save(sender)
			}
			campaign.EmailsSentToday++
			continue
		}

		receiver := &receivers[s.rng.Intn(len(receivers))]
		if err := s.sendOne(ctx, &campaign, sender, receiver); err != nil {
			logrus.WithFields(logrus.Fields{"sender": sender.Email, "receiver": receiver.Email}).WithError(err).Warn("warmup send failed")
		}
		campaign.EmailsSentToday++
		sent++
	}

	campaign.NextSendTime = s.chooseSendTime(now)
	if campaign.EmailsSentToday >= campaign.TargetEmailsToday && campaign.CurrentWeek >= campaign.DurationWeeks {
		campaign.Status = models.CampaignCompleted
		end := now
		campaign.EndTime = &end
	}
	return sent, s.db.Save(&campaign).Error
}

func (s *Scheduler) sendOne(ctx context.Context, campaign *models.Campaign, sender, receiver *models.Account) error {
	plainPassword, err := s.vault.Decrypt(sender.EncryptedPassword)
	if err != nil {
		return apperrors.Wrap(apperrors.EncryptionUnavailable, "decrypt sender credentials", err)
	}

	gc := aigen.GenerationContext{
		SenderName:   sender.FullName(),
		ReceiverName: receiver.FullName(),
		Language:     campaign.Language,
	}
	content, err := s.generator.Generate(ctx, gc)
	if err != nil {
		return apperrors.Wrap(apperrors.TransportFailure, "compose email", err)
	}

	email := models.Email{
		SenderID:    sender.ID,
		ReceiverID:  receiver.ID,
		CampaignID:  &campaign.ID,
		Subject:     content.Subject,
		Body:        content.Body,
		Status:      models.EmailPending,
		IsWarmup:    true,
		AIGenerated: content.Model != "local_template",
		AIPrompt:    content.Prompt,
		AIModel:     content.Model,
	}
	if err := s.db.Create(&email).Error; err != nil {
		return apperrors.Wrap(apperrors.TransportFailure, "persist pending email", err)
	}

	trackingURL := ""
	if s.tracker != nil {
		trackingURL = s.tracker.TrackingURL(email.ID)
	}

	creds := transport.Credentials{
		SMTPHost: sender.SMTPHost, SMTPPort: sender.SMTPPort, SMTPTLS: sender.SMTPTLS,
		Username: sender.Email, Password: plainPassword,
	}
	msg := transport.Message{
		From: sender.Email, FromName: sender.FullName(), To: receiver.Email,
		Subject: content.Subject, PlainBody: content.Body, TrackingURL: trackingURL,
	}

	messageID, sendErr := s.transport.SendSMTP(ctx, creds, msg)
	if sendErr != nil {
		email.Status = models.EmailBounced
		email.ErrorText = sendErr.Error()
		s.db.Save(&email)
		sender.TotalSent++
		sender.TotalBounced++
		s.db.Save(sender)
		return sendErr
	}

	email.MessageID = messageID
	email.Status = models.EmailSent
	sentAt := time.Now().UTC()
	email.SentAt = &sentAt
	s.db.Save(&email)

	sender.TotalSent++
	sender.SentToday++
	s.db.Save(sender)
	receiver.TotalReceived++
	s.db.Save(receiver)
	campaign.TotalEmailsSent++
	return nil
}

// ProcessAllCampaigns drives every Active campaign one batch forward; meant
// to be invoked by package jobs's periodic trigger.
func (s *Scheduler) ProcessAllCampaigns(ctx context.Context) error {
	var ids []uint
	if err := s.db.Model(&models.Campaign{}).Where("status = ?", models.CampaignActive).Pluck("id", &ids).Error; err != nil {
		return apperrors.Wrap(apperrors.TransportFailure, "list active campaigns", err)
	}
	for _, id := range ids {
		if _, err := s.ProcessCampaign(ctx, id, false); err != nil {
			logrus.WithField("campaign", id).WithError(err).Warn("process campaign failed")
		}
	}
	return nil
}

// ResetDailyCounters zeroes each active campaign's and sender's daily
// counters and recomputes the next day's target, advancing CurrentWeek
// when 7 days have elapsed since StartTime.
func (s *Scheduler) ResetDailyCounters(ctx context.Context) error {
	var campaigns []models.Campaign
	if err := s.db.Where("status = ?", models.CampaignActive).Find(&campaigns).Error; err != nil {
		return apperrors.Wrap(apperrors.TransportFailure, "list active campaigns", err)
	}

	now := time.Now().UTC()
	for i := range campaigns {
		c := &campaigns[i]
		elapsedWeeks := int(now.Sub(c.StartTime).Hours()/24/7) + 1
		if elapsedWeeks > c.CurrentWeek {
			c.CurrentWeek = elapsedWeeks
		}
		if c.CurrentWeek > c.DurationWeeks {
			c.Status = models.CampaignCompleted
			end := now
			c.EndTime = &end
			s.db.Save(c)
			continue
		}

		senders, err := s.members(c.ID, models.RoleSender)
		if err != nil {
			continue
		}
		for j := range senders {
			senders[j].SentToday = 0
			s.db.Save(&senders[j])
		}
		c.TargetEmailsToday = computeCampaignTarget(senders, c.CurrentWeek, s.cfg)
		c.EmailsSentToday = 0
		c.NextSendTime = s.chooseSendTime(now)
		s.db.Save(c)
	}
	return nil
}

// Package api implements the HTTP surface: Fiber handlers over the REST
// routes, delegating all domain logic to the core packages. JSON in,
// fiber.Map out, go-playground/validator/v10 for input validation.
package api

import (
	"strconv"
	"time"

	"warmit/apperrors"
	"warmit/bounce"
	"warmit/config"
	"warmit/domainprofile"
	"warmit/metricsagg"
	"warmit/models"
	"warmit/scheduler"
	"warmit/tracking"
	"warmit/transport"
	"warmit/utils"
	"warmit/vault"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Handlers bundles the dependencies every route needs; constructed once
// in main and passed to Register.
type Handlers struct {
	DB         *gorm.DB
	Vault      *vault.Vault
	Tracker    *tracking.Tokenizer
	Profiler   *domainprofile.Profiler
	Scheduler  *scheduler.Scheduler
	Aggregator *metricsagg.Aggregator
	Transport  transport.Client
	Cfg        *config.Config
}

// Register mounts every route onto app.
func Register(app *fiber.App, h *Handlers) {
	app.Post("/accounts", h.createAccount)
	app.Get("/accounts", h.listAccounts)
	app.Patch("/accounts/:id", h.updateAccount)
	app.Delete("/accounts/:id", h.deleteAccount)
	app.Post("/accounts/:id/check-domain", h.checkDomain)

	app.Post("/campaigns", h.createCampaign)
	app.Get("/campaigns", h.listCampaigns)
	app.Patch("/campaigns/:id/status", h.updateCampaignStatus)
	app.Post("/campaigns/:id/process", h.processCampaign)
	app.Delete("/campaigns/:id", h.deleteCampaign)
	app.Get("/campaigns/:id/sender-stats", h.campaignSenderStats)
	app.Get("/campaigns/:id/receiver-stats", h.campaignReceiverStats)

	app.Get("/metrics/system", h.systemMetrics)
	app.Get("/metrics/daily", h.dailyMetrics)
	app.Get("/metrics/accounts/:id", h.accountMetrics)

	app.Get("/track/open/:id", h.trackOpen)
	app.Post("/webhooks/bounce", h.bounceWebhook)
}

func writeErr(c *fiber.Ctx, err error) error {
	if ae, ok := err.(*apperrors.Error); ok {
		status := fiber.StatusInternalServerError
		switch ae.Kind {
		case apperrors.InvalidInput:
			status = fiber.StatusBadRequest
		case apperrors.NotFound:
			status = fiber.StatusNotFound
		case apperrors.InvalidState:
			status = fiber.StatusConflict
		case apperrors.RateLimited:
			status = fiber.StatusTooManyRequests
		case apperrors.ProviderExhausted, apperrors.TransportFailure:
			status = fiber.StatusBadGateway
		}
		return utils.ErrorResponse(c, status, ae.Message, ae.Cause)
	}
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "internal error", err)
}

func paramUint(c *fiber.Ctx, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil {
		return 0, apperrors.New(apperrors.InvalidInput, name+" must be numeric")
	}
	return uint(v), nil
}

// --- Accounts ----------------------------------------------------------

type createAccountRequest struct {
	Email     string             `json:"email" validate:"required,email"`
	Role      models.AccountRole `json:"role" validate:"required,oneof=sender receiver"`
	FirstName string             `json:"firstName"`
	LastName  string             `json:"lastName"`

	SMTPHost string          `json:"smtpHost"`
	SMTPPort int             `json:"smtpPort"`
	SMTPTLS  models.TLSMode  `json:"smtpTls"`
	IMAPHost string          `json:"imapHost"`
	IMAPPort int             `json:"imapPort"`
	IMAPSSL  models.TLSMode  `json:"imapSsl"`
	Password string          `json:"password" validate:"required"`
}

func (h *Handlers) createAccount(c *fiber.Ctx) error {
	var req createAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	if c.Query("probe") == "true" {
		creds := transport.Credentials{
			SMTPHost: req.SMTPHost, SMTPPort: req.SMTPPort, SMTPTLS: req.SMTPTLS,
			IMAPHost: req.IMAPHost, IMAPPort: req.IMAPPort, IMAPSSL: req.IMAPSSL,
			Username: req.Email, Password: req.Password,
		}
		if err := h.Transport.TestCredentials(c.Context(), creds); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "credential probe failed", err)
		}
	}

	encrypted, err := h.Vault.Encrypt(req.Password)
	if err != nil {
		return writeErr(c, err)
	}

	account := models.Account{
		Email: req.Email, Role: req.Role, FirstName: req.FirstName, LastName: req.LastName,
		SMTPHost: req.SMTPHost, SMTPPort: req.SMTPPort, SMTPTLS: req.SMTPTLS,
		IMAPHost: req.IMAPHost, IMAPPort: req.IMAPPort, IMAPSSL: req.IMAPSSL,
		EncryptedPassword: encrypted, Status: models.AccountActive,
	}
	if err := h.DB.Create(&account).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "create account", err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(account))
}

func (h *Handlers) listAccounts(c *fiber.Ctx) error {
	var accounts []models.Account
	q := h.DB
	if role := c.Query("role"); role != "" {
		q = q.Where("role = ?", role)
	}
	if err := q.Find(&accounts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "list accounts", err)
	}
	return c.JSON(utils.SuccessResponse(accounts))
}

func (h *Handlers) updateAccount(c *fiber.Ctx) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return writeErr(c, err)
	}
	var account models.Account
	if err := h.DB.First(&account, id).Error; err != nil {
		return writeErr(c, apperrors.Wrap(apperrors.NotFound, "account not found", err))
	}

	var patch map[string]interface{}
	if err := c.BodyParser(&patch); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "invalid request body", err)
	}
	delete(patch, "encryptedPassword")
	delete(patch, "id")
	if err := h.DB.Model(&account).Updates(patch).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "update account", err)
	}
	return c.JSON(utils.SuccessResponse(account))
}

func (h *Handlers) deleteAccount(c *fiber.Ctx) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return writeErr(c, err)
	}
	if err := h.DB.Delete(&models.Account{}, id).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "delete account", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) checkDomain(c *fiber.Ctx) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return writeErr(c, err)
	}
	var account models.Account
	if err := h.DB.First(&account, id).Error; err != nil {
		return writeErr(c, apperrors.Wrap(apperrors.NotFound, "account not found", err))
	}

	profile, err := h.Profiler.CheckDomain(account.Email, c.Query("force") == "true")
	if err != nil {
		return writeErr(c, err)
	}

	account.Domain = profile.Domain
	account.DomainAgeDays = &profile.AgeDays
	now := time.Now().UTC()
	account.DomainLastCheckedAt = &now
	h.DB.Save(&account)

	return c.JSON(utils.SuccessResponse(profile))
}

// --- Campaigns -----------------------------------------------------------

type createCampaignRequest struct {
	Name          string          `json:"name" validate:"required"`
	Language      models.Language `json:"language"`
	DurationWeeks int             `json:"durationWeeks" validate:"min=0"`
	SenderIDs     []uint          `json:"senderIds" validate:"required,min=1"`
	ReceiverIDs   []uint          `json:"receiverIds" validate:"required,min=1"`
}

func (h *Handlers) createCampaign(c *fiber.Ctx) error {
	var req createCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}
	if req.Language == "" {
		req.Language = models.LanguageEN
	}
	if req.DurationWeeks == 0 {
		req.DurationWeeks = h.Cfg.WarmupDurationWeeks
		for _, sid := range req.SenderIDs {
			var sender models.Account
			if err := h.DB.First(&sender, sid).Error; err != nil {
				continue
			}
			if profile, err := h.Profiler.CheckDomain(sender.Email, false); err == nil && profile.WarmupWeeksRecommended > req.DurationWeeks {
				req.DurationWeeks = profile.WarmupWeeksRecommended
			}
		}
	}

	campaign := models.Campaign{
		Name: req.Name, Language: req.Language, DurationWeeks: req.DurationWeeks,
		Status: models.CampaignPending,
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&campaign).Error; err != nil {
			return err
		}
		for _, sid := range req.SenderIDs {
			if err := tx.Create(&models.CampaignMember{CampaignID: campaign.ID, AccountID: sid, Role: models.RoleSender}).Error; err != nil {
				return err
			}
		}
		for _, rid := range req.ReceiverIDs {
			if err := tx.Create(&models.CampaignMember{CampaignID: campaign.ID, AccountID: rid, Role: models.RoleReceiver}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "create campaign", err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(campaign))
}

func (h *Handlers) listCampaigns(c *fiber.Ctx) error {
	var ids []uint
	if err := h.DB.Model(&models.Campaign{}).Pluck("id", &ids).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "list campaigns", err)
	}
	for _, id := range ids {
		if err := h.Aggregator.ResyncCampaign(c.Context(), id); err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "resync campaign", err)
		}
	}

	var campaigns []models.Campaign
	if err := h.DB.Find(&campaigns).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "list campaigns", err)
	}
	return c.JSON(utils.SuccessResponse(campaigns))
}

type updateCampaignStatusRequest struct {
	Status models.CampaignStatus `json:"status" validate:"required,oneof=pending active paused completed failed"`
}

func (h *Handlers) updateCampaignStatus(c *fiber.Ctx) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return writeErr(c, err)
	}
	var req updateCampaignStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	var campaign models.Campaign
	if err := h.DB.First(&campaign, id).Error; err != nil {
		return writeErr(c, apperrors.Wrap(apperrors.NotFound, "campaign not found", err))
	}
	if campaign.IsTerminal() {
		return writeErr(c, apperrors.New(apperrors.InvalidState, "campaign is in a terminal state"))
	}

	if req.Status == models.CampaignActive && campaign.Status == models.CampaignPending {
		if err := h.Scheduler.StartCampaign(c.Context(), id); err != nil {
			return writeErr(c, err)
		}
		h.DB.First(&campaign, id)
		return c.JSON(utils.SuccessResponse(campaign))
	}

	campaign.Status = req.Status
	h.DB.Save(&campaign)
	return c.JSON(utils.SuccessResponse(campaign))
}

// processCampaign drives a campaign's scheduler forward by up to one
// batch, bypassing NextSendTime when ?force=true is passed, and reports
// how many emails this call actually sent.
func (h *Handlers) processCampaign(c *fiber.Ctx) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return writeErr(c, err)
	}
	force := c.Query("force") == "true"

	sent, err := h.Scheduler.ProcessCampaign(c.Context(), id, force)
	if err != nil {
		return writeErr(c, err)
	}

	var campaign models.Campaign
	if err := h.DB.First(&campaign, id).Error; err != nil {
		return writeErr(c, apperrors.Wrap(apperrors.NotFound, "campaign not found", err))
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"emailsSent":        sent,
		"emailsSentToday":   campaign.EmailsSentToday,
		"targetEmailsToday": campaign.TargetEmailsToday,
	}))
}

func (h *Handlers) deleteCampaign(c *fiber.Ctx) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return writeErr(c, err)
	}
	if err := h.DB.Delete(&models.Campaign{}, id).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "delete campaign", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type senderStat struct {
	AccountID uint    `json:"accountId"`
	Email     string  `json:"email"`
	Sent      int64   `json:"sent"`
	Bounced   int64   `json:"bounced"`
	BounceRate float64 `json:"bounceRate"`
}

func (h *Handlers) campaignSenderStats(c *fiber.Ctx) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return writeErr(c, err)
	}
	var rows []senderStat
	err = h.DB.Model(&models.Email{}).
		Select("emails.sender_id as account_id, accounts.email as email, count(*) as sent, "+
			"sum(case when emails.status = ? then 1 else 0 end) as bounced", models.EmailBounced).
		Joins("JOIN accounts ON accounts.id = emails.sender_id").
		Where("emails.campaign_id = ?", id).
		Group("emails.sender_id, accounts.email").
		Scan(&rows).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "sender stats", err)
	}
	for i := range rows {
		if rows[i].Sent > 0 {
			rows[i].BounceRate = float64(rows[i].Bounced) / float64(rows[i].Sent)
		}
	}
	return c.JSON(utils.SuccessResponse(rows))
}

type receiverStat struct {
	AccountID uint  `json:"accountId"`
	Email     string `json:"email"`
	Received  int64 `json:"received"`
	Opened    int64 `json:"opened"`
	Replied   int64 `json:"replied"`
}

func (h *Handlers) campaignReceiverStats(c *fiber.Ctx) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return writeErr(c, err)
	}
	var rows []receiverStat
	err = h.DB.Model(&models.Email{}).
		Select("emails.receiver_id as account_id, accounts.email as email, count(*) as received, "+
			"sum(case when emails.status = ? then 1 else 0 end) as opened, "+
			"sum(case when emails.status = ? then 1 else 0 end) as replied",
			models.EmailOpened, models.EmailReplied).
		Joins("JOIN accounts ON accounts.id = emails.receiver_id").
		Where("emails.campaign_id = ?", id).
		Group("emails.receiver_id, accounts.email").
		Scan(&rows).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "receiver stats", err)
	}
	return c.JSON(utils.SuccessResponse(rows))
}

// --- Metrics ---------------------------------------------------------------

func (h *Handlers) systemMetrics(c *fiber.Ctx) error {
	var activeCampaigns, totalAccounts int64
	h.DB.Model(&models.Campaign{}).Where("status = ?", models.CampaignActive).Count(&activeCampaigns)
	h.DB.Model(&models.Account{}).Count(&totalAccounts)

	var sentToday int64
	today := time.Now().UTC().Truncate(24 * time.Hour)
	h.DB.Model(&models.Email{}).Where("created_at >= ?", today).Count(&sentToday)

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"activeCampaigns": activeCampaigns,
		"totalAccounts":   totalAccounts,
		"emailsSentToday": sentToday,
	}))
}

func (h *Handlers) dailyMetrics(c *fiber.Ctx) error {
	var metrics []models.DailyMetric
	q := h.DB.Order("date desc").Limit(90)
	if accountID := c.Query("accountId"); accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	if err := q.Find(&metrics).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "daily metrics", err)
	}
	return c.JSON(utils.SuccessResponse(metrics))
}

func (h *Handlers) accountMetrics(c *fiber.Ctx) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return writeErr(c, err)
	}
	var account models.Account
	if err := h.DB.First(&account, id).Error; err != nil {
		return writeErr(c, apperrors.Wrap(apperrors.NotFound, "account not found", err))
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"account":    account,
		"bounceRate": account.BounceRate(),
		"openRate":   account.OpenRate(),
		"replyRate":  account.ReplyRate(),
	}))
}

// --- Tracking & webhooks -----------------------------------------------

var trackingPixelPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

// trackOpen always serves the 1x1 pixel, even on a failed or disabled
// token, so a tracking request never surfaces a broken image. The open is
// only recorded on the first call for a given email: the WHERE clause
// excludes Opened (as well as Replied/Bounced) so a second or third view
// of the pixel never overwrites opened_at.
func (h *Handlers) trackOpen(c *fiber.Ctx) error {
	id, err := paramUint(c, "id")
	if err == nil {
		token := c.Query("token")
		ts := c.Query("ts")
		if h.Tracker.Validate(id, token, ts) {
			var email models.Email
			excluded := []models.EmailStatus{models.EmailOpened, models.EmailReplied, models.EmailBounced}
			tx := h.DB.Model(&email).
				Where("id = ? AND status NOT IN ?", id, excluded).
				Updates(map[string]interface{}{"status": models.EmailOpened, "opened_at": time.Now().UTC()})
			if tx.Error == nil && tx.RowsAffected > 0 {
				if err := h.DB.First(&email, id).Error; err == nil {
					h.DB.Model(&models.Account{}).Where("id = ?", email.SenderID).
						UpdateColumn("total_opened", gorm.Expr("total_opened + 1"))
				}
			}
		}
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(trackingPixelPNG)
}

type bounceWebhookRequest struct {
	From    string `json:"from" validate:"required"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// bounceWebhook lets an inbound-mail provider push a bounce notification
// directly instead of waiting for the next IMAP scan.
func (h *Handlers) bounceWebhook(c *fiber.Ctx) error {
	var req bounceWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "invalid request body", err)
	}
	if !bounce.IsBounce(req.From, req.Subject) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "message does not look like a bounce", nil)
	}

	address := bounce.ExtractBouncedAddress(req.Body)
	if address == "" {
		address = bounce.ExtractBouncedAddress(req.Subject)
	}
	if address == "" {
		return c.JSON(utils.SuccessResponse(fiber.Map{"matched": false}))
	}

	var receiver models.Account
	if err := h.DB.Where("email = ?", address).First(&receiver).Error; err != nil {
		return c.JSON(utils.SuccessResponse(fiber.Map{"matched": false}))
	}

	var email models.Email
	err := h.DB.Where("receiver_id = ?", receiver.ID).Order("created_at desc").First(&email).Error
	if err != nil || !email.CanTransitionTo(models.EmailBounced) {
		return c.JSON(utils.SuccessResponse(fiber.Map{"matched": false}))
	}

	now := time.Now().UTC()
	email.Status = models.EmailBounced
	email.BouncedAt = &now
	h.DB.Save(&email)

	var sender models.Account
	if h.DB.First(&sender, email.SenderID).Error == nil {
		sender.TotalBounced++
		h.DB.Save(&sender)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"matched": true, "emailId": email.ID}))
}

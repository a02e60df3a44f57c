// Package conversation polls each receiving mailbox for unread inbound
// mail, matches it back to a sender/campaign, and probabilistically
// composes and sends a reply so warmup threads look like real
// back-and-forth correspondence. Messages are fetched with IMAP's
// BODY.PEEK[] (leaving \Seen untouched) and only flagged seen once fully
// handled, so a crash mid-reply leaves the message unread for the next
// poll to retry instead of silently losing it.
package conversation

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"warmit/aigen"
	"warmit/apperrors"
	"warmit/config"
	"warmit/models"
	"warmit/tracking"
	"warmit/transport"
	"warmit/vault"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// replyProbability is the weighted-coin chance that an inbound warmup
// message receives a reply.
const replyProbability = 0.85

// Engine drives inbound reply handling.
type Engine struct {
	db        *gorm.DB
	vault     *vault.Vault
	transport transport.Client
	tracker   *tracking.Tokenizer
	generator *aigen.Generator
	cfg       *config.Config
	rng       *rand.Rand
}

func New(db *gorm.DB, v *vault.Vault, tr transport.Client, tk *tracking.Tokenizer, gen *aigen.Generator, cfg *config.Config) *Engine {
	return &Engine{
		db:        db,
		vault:     v,
		transport: tr,
		tracker:   tk,
		generator: gen,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// chosenReplyDelay picks a delay within [ResponseDelayMinHours,
// ResponseDelayMaxHours] for logging purposes. The delay is not
// enforced as a blocking wait: a reply is only ever composed when
// PollAccount next runs, so the polling cadence itself is the real-world
// delay; this value exists to report how "human" the chosen gap looks.
func (e *Engine) chosenReplyDelay() time.Duration {
	min, max := 0.5, 4.0
	if e.cfg != nil && e.cfg.ResponseDelayMaxHours > e.cfg.ResponseDelayMinHours {
		min, max = e.cfg.ResponseDelayMinHours, e.cfg.ResponseDelayMaxHours
	}
	hours := min + e.rng.Float64()*(max-min)
	return time.Duration(hours * float64(time.Hour))
}

// PollAccount fetches unread inbound mail for one receiving account and
// decides, per message, whether to reply.
func (e *Engine) PollAccount(ctx context.Context, accountID uint) error {
	var receiver models.Account
	if err := e.db.First(&receiver, accountID).Error; err != nil {
		return apperrors.Wrap(apperrors.NotFound, "load receiver", err)
	}
	if receiver.Role != models.RoleReceiver && receiver.Role != models.RoleSender {
		return apperrors.New(apperrors.InvalidInput, "account cannot receive mail")
	}

	plainPassword, err := e.vault.Decrypt(receiver.EncryptedPassword)
	if err != nil {
		return apperrors.Wrap(apperrors.EncryptionUnavailable, "decrypt receiver credentials", err)
	}
	creds := transport.Credentials{
		IMAPHost: receiver.IMAPHost, IMAPPort: receiver.IMAPPort, IMAPSSL: receiver.IMAPSSL,
		Username: receiver.Email, Password: plainPassword,
	}

	inbound, err := e.transport.FetchUnreadIMAP(ctx, creds, 25)
	if err != nil {
		return apperrors.Wrap(apperrors.TransportFailure, "fetch unread", err)
	}

	var handledUIDs []uint32
	repliesSent := 0
	for _, msg := range inbound {
		replied, err := e.handleMessage(ctx, &receiver, creds, msg)
		if err != nil {
			logrus.WithField("from", msg.From).WithError(err).Warn("conversation handling failed, leaving unread for retry")
			continue
		}
		handledUIDs = append(handledUIDs, msg.UID)
		if replied {
			repliesSent++
		}
	}

	receiver.TotalReceived += int64(len(inbound))
	receiver.TotalReplied += int64(repliesSent)
	e.db.Save(&receiver)

	if len(handledUIDs) > 0 {
		if err := e.transport.FlagSeenIMAP(ctx, creds, handledUIDs); err != nil {
			logrus.WithError(err).Warn("failed to flag handled messages seen")
		}
	}
	return nil
}

// handleMessage matches an inbound message back to its sender and, if the
// reply coin-flip passes, composes and sends a reply. It reports whether a
// reply was actually sent so PollAccount can tally receiver.TotalReplied;
// the original Sent email is only flipped to Replied once the reply has
// gone out, not merely because a reply was attempted.
func (e *Engine) handleMessage(ctx context.Context, receiver *models.Account, receiverCreds transport.Credentials, msg transport.InboundMessage) (bool, error) {
	fromEmail := extractAddress(msg.From)

	var sender models.Account
	if err := e.db.Where("email = ?", fromEmail).First(&sender).Error; err != nil {
		logrus.WithField("from", fromEmail).Debug("inbound message from unknown sender, ignoring")
		return false, nil
	}

	original, _ := e.findOriginal(sender.ID, receiver.ID, msg)
	var campaign models.Campaign
	if original != nil && original.CampaignID != nil {
		e.db.First(&campaign, *original.CampaignID)
	}

	if !e.shouldReply() {
		return false, nil
	}
	logrus.WithFields(logrus.Fields{
		"receiver": receiver.Email, "sender": sender.Email, "reply_delay": e.chosenReplyDelay(),
	}).Debug("replying to inbound warmup message")

	plainPassword, err := e.vault.Decrypt(receiver.EncryptedPassword)
	if err != nil {
		return false, apperrors.Wrap(apperrors.EncryptionUnavailable, "decrypt receiver credentials for reply", err)
	}

	gc := aigen.GenerationContext{
		SenderName:          receiver.FullName(),
		ReceiverName:        sender.FullName(),
		Language:            campaign.Language,
		IsReply:             true,
		OriginalSubject:     msg.Subject,
		ConversationContext: msg.TextBody,
	}
	content, genErr := e.generator.Generate(ctx, gc)
	if genErr != nil {
		return false, apperrors.Wrap(apperrors.TransportFailure, "compose reply", genErr)
	}

	replyEmail := models.Email{
		SenderID: receiver.ID, ReceiverID: sender.ID,
		Subject: content.Subject, Body: content.Body,
		Status: models.EmailPending, IsWarmup: true,
		AIGenerated: content.Model != "local_template",
		AIPrompt:    content.Prompt, AIModel: content.Model,
		InReplyTo: msg.MessageID, ThreadID: threadID(original, msg),
	}
	if campaign.ID != 0 {
		replyEmail.CampaignID = &campaign.ID
	}
	if err := e.db.Create(&replyEmail).Error; err != nil {
		return false, apperrors.Wrap(apperrors.TransportFailure, "persist reply", err)
	}

	replyCreds := transport.Credentials{
		SMTPHost: receiver.SMTPHost, SMTPPort: receiver.SMTPPort, SMTPTLS: receiver.SMTPTLS,
		Username: receiver.Email, Password: plainPassword,
	}
	outbound := transport.Message{
		From: receiver.Email, FromName: receiver.FullName(), To: sender.Email,
		Subject: content.Subject, PlainBody: content.Body,
		InReplyTo: msg.MessageID, References: msg.MessageID,
	}
	messageID, sendErr := e.transport.SendSMTP(ctx, replyCreds, outbound)
	if sendErr != nil {
		replyEmail.Status = models.EmailFailed
		replyEmail.ErrorText = sendErr.Error()
		e.db.Save(&replyEmail)
		return false, sendErr
	}
	replyEmail.MessageID = messageID
	replyEmail.Status = models.EmailSent
	sentAt := time.Now().UTC()
	replyEmail.SentAt = &sentAt
	if err := e.db.Save(&replyEmail).Error; err != nil {
		return false, err
	}

	if original != nil && original.CanTransitionTo(models.EmailReplied) {
		repliedAt := time.Now().UTC()
		original.Status = models.EmailReplied
		original.RepliedAt = &repliedAt
		e.db.Save(original)
	}
	return true, nil
}

// findOriginal locates the most recent Sent email this sender addressed
// to this receiver, treated as the message the inbound reply answers.
func (e *Engine) findOriginal(senderID, receiverID uint, msg transport.InboundMessage) (*models.Email, error) {
	var original models.Email
	err := e.db.
		Where("sender_id = ? AND receiver_id = ? AND message_id <> ''", senderID, receiverID).
		Order("created_at desc").
		First(&original).Error
	if err != nil {
		return nil, err
	}
	return &original, nil
}

func threadID(original *models.Email, msg transport.InboundMessage) string {
	if original != nil && original.ThreadID != "" {
		return original.ThreadID
	}
	if original != nil {
		return original.MessageID
	}
	return msg.MessageID
}

func (e *Engine) shouldReply() bool {
	return e.rng.Float64() < replyProbability
}

// extractAddress pulls the bare address out of a "Name <addr>" or "addr"
// form, lower-cased for case-insensitive matching against Account.Email.
func extractAddress(from string) string {
	if i := strings.Index(from, "<"); i >= 0 {
		if j := strings.Index(from, ">"); j > i {
			return strings.ToLower(strings.TrimSpace(from[i+1 : j]))
		}
	}
	return strings.ToLower(strings.TrimSpace(from))
}

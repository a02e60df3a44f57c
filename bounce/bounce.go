// Package bounce classifies unread inbound mail as a delivery-failure
// notification, extracts the originally-addressed recipient from the
// bounce body, and back-links it to the sender's most recent matching
// Sent email.
package bounce

import (
	"context"
	"regexp"
	"strings"
	"time"

	"warmit/apperrors"
	"warmit/models"
	"warmit/transport"
	"warmit/vault"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var bounceFromSubstrings = []string{
	"mailer-daemon", "postmaster", "mail delivery subsystem", "mail delivery system", "bounce", "noreply",
}

var bounceSubjectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)undeliverable`),
	regexp.MustCompile(`(?i)undelivered\s+mail`),
	regexp.MustCompile(`(?i)delivery\s+status\s+notification`),
	regexp.MustCompile(`(?i)delivery\s+failure`),
	regexp.MustCompile(`(?i)failure\s+notice`),
	regexp.MustCompile(`(?i)returned\s+mail`),
	regexp.MustCompile(`(?i)mail\s+delivery\s+failed`),
	regexp.MustCompile(`(?i)mailer-daemon`),
	regexp.MustCompile(`(?i)message\s+not\s+delivered`),
}

// addressInBody extracts an RFC-5322-shaped address from a bounce
// notification body, where mail servers typically echo the rejected
// recipient.
var addressInBody = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// IsBounce reports whether an inbound message looks like a bounce
// notification, by from-address substring or subject pattern.
func IsBounce(from, subject string) bool {
	lowerFrom := strings.ToLower(from)
	for _, s := range bounceFromSubstrings {
		if strings.Contains(lowerFrom, s) {
			return true
		}
	}
	for _, p := range bounceSubjectPatterns {
		if p.MatchString(subject) {
			return true
		}
	}
	return false
}

// ExtractBouncedAddress returns the first address-shaped token in a bounce
// body, lower-cased, or "" if none is found.
func ExtractBouncedAddress(body string) string {
	m := addressInBody.FindString(body)
	return strings.ToLower(m)
}

// Detector scans an inbox for bounce notifications.
type Detector struct {
	db        *gorm.DB
	vault     *vault.Vault
	transport transport.Client
}

func New(db *gorm.DB, v *vault.Vault, tr transport.Client) *Detector {
	return &Detector{db: db, vault: v, transport: tr}
}

// ScanAccount polls one sending account's inbox for bounce notifications,
// marking the most recent matching Sent email Bounced and updating the
// sender's bounce counter. Idempotent: processed messages are flagged
// \Seen so a repeated scan never double-counts.
func (d *Detector) ScanAccount(ctx context.Context, accountID uint) error {
	var sender models.Account
	if err := d.db.First(&sender, accountID).Error; err != nil {
		return apperrors.Wrap(apperrors.NotFound, "load account", err)
	}

	plainPassword, err := d.vault.Decrypt(sender.EncryptedPassword)
	if err != nil {
		return apperrors.Wrap(apperrors.EncryptionUnavailable, "decrypt credentials", err)
	}
	creds := transport.Credentials{
		IMAPHost: sender.IMAPHost, IMAPPort: sender.IMAPPort, IMAPSSL: sender.IMAPSSL,
		Username: sender.Email, Password: plainPassword,
	}

	inbound, err := d.transport.FetchUnreadIMAP(ctx, creds, 50)
	if err != nil {
		return apperrors.Wrap(apperrors.TransportFailure, "fetch unread", err)
	}

	var handledUIDs []uint32
	for _, msg := range inbound {
		if !IsBounce(msg.From, msg.Subject) {
			continue
		}
		if err := d.handleBounce(&sender, msg); err != nil {
			logrus.WithField("subject", msg.Subject).WithError(err).Warn("bounce handling failed")
			continue
		}
		handledUIDs = append(handledUIDs, msg.UID)
	}

	if len(handledUIDs) > 0 {
		if err := d.transport.FlagSeenIMAP(ctx, creds, handledUIDs); err != nil {
			logrus.WithError(err).Warn("failed to flag bounce messages seen")
		}
	}
	return nil
}

func (d *Detector) handleBounce(sender *models.Account, msg transport.InboundMessage) error {
	bouncedAddress := ExtractBouncedAddress(msg.TextBody)
	if bouncedAddress == "" {
		bouncedAddress = ExtractBouncedAddress(msg.Subject)
	}
	if bouncedAddress == "" {
		logrus.Debug("bounce notification had no extractable address")
		return nil
	}

	var receiver models.Account
	if err := d.db.Where("email = ?", bouncedAddress).First(&receiver).Error; err != nil {
		return nil
	}

	var candidates []models.Email
	err := d.db.
		Where("sender_id = ? AND receiver_id = ? AND status = ?", sender.ID, receiver.ID, models.EmailSent).
		Order("created_at desc").
		Limit(10).
		Find(&candidates).Error
	if err != nil || len(candidates) == 0 {
		return apperrors.New(apperrors.NotFound, "no matching sent email for bounce")
	}

	target := &candidates[0]
	if !target.CanTransitionTo(models.EmailBounced) {
		return nil // already terminal, nothing to update
	}

	now := time.Now().UTC()
	target.Status = models.EmailBounced
	target.BouncedAt = &now
	if err := d.db.Save(target).Error; err != nil {
		return apperrors.Wrap(apperrors.TransportFailure, "persist bounce", err)
	}

	sender.TotalBounced++
	return d.db.Save(sender).Error
}

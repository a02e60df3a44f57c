package models

import "time"

type EmailStatus string

const (
	EmailPending   EmailStatus = "pending"
	EmailSent      EmailStatus = "sent"
	EmailDelivered EmailStatus = "delivered"
	EmailOpened    EmailStatus = "opened"
	EmailReplied   EmailStatus = "replied"
	EmailBounced   EmailStatus = "bounced"
	EmailFailed    EmailStatus = "failed"
)

// Email is one outbound (or reply) message record.
type Email struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	MessageID  string  `gorm:"index" json:"messageId"`
	InReplyTo  string  `gorm:"index" json:"inReplyTo,omitempty"`
	ThreadID   string  `gorm:"index" json:"threadId,omitempty"`

	SenderID   uint  `gorm:"index;not null" json:"senderId"`
	ReceiverID uint  `gorm:"index;not null" json:"receiverId"`
	CampaignID *uint `gorm:"index" json:"campaignId,omitempty"`

	Subject string `json:"subject"`
	Body    string `json:"body"`

	Status EmailStatus `gorm:"default:pending;index" json:"status"`

	SentAt      *time.Time `json:"sentAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	OpenedAt    *time.Time `json:"openedAt,omitempty"`
	RepliedAt   *time.Time `json:"repliedAt,omitempty"`
	BouncedAt   *time.Time `json:"bouncedAt,omitempty"`

	IsWarmup    bool   `json:"isWarmup"`
	AIGenerated bool   `json:"aiGenerated"`
	AIPrompt    string `json:"aiPrompt,omitempty"`
	AIModel     string `json:"aiModel,omitempty"`

	RetryCount int    `json:"retryCount"`
	ErrorText  string `json:"errorText,omitempty"`
}

func (Email) TableName() string { return "emails" }

// CanTransitionTo enforces the monotonic chain:
// Pending → Sent → {Delivered, Opened, Replied, Bounced}; Bounced is terminal.
func (e *Email) CanTransitionTo(next EmailStatus) bool {
	if e.Status == EmailBounced {
		return false
	}
	switch e.Status {
	case EmailPending:
		return next == EmailSent || next == EmailFailed || next == EmailBounced
	case EmailSent:
		return next == EmailDelivered || next == EmailOpened || next == EmailReplied || next == EmailBounced
	default:
		return next != EmailPending && next != EmailSent && next != EmailFailed
	}
}

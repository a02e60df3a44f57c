package models

import "time"

// AccountRole is fixed for the lifetime of an Account.
type AccountRole string

const (
	RoleSender   AccountRole = "sender"
	RoleReceiver AccountRole = "receiver"
)

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountPaused   AccountStatus = "paused"
	AccountDisabled AccountStatus = "disabled"
	AccountError    AccountStatus = "error"
)

// TLSMode covers the encryption modes a mail server's SMTP/IMAP config can
// expose (ssl/tls, starttls, none).
type TLSMode string

const (
	TLSModeNone     TLSMode = "none"
	TLSModeSSL      TLSMode = "ssl"
	TLSModeStartTLS TLSMode = "starttls"
)

// Account is a mailbox participating in warming, tagged by role for its
// entire lifetime.
type Account struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Email     string      `gorm:"uniqueIndex;not null" json:"email"`
	Role      AccountRole `gorm:"index;not null" json:"role"`
	FirstName string      `json:"firstName,omitempty"`
	LastName  string      `json:"lastName,omitempty"`

	SMTPHost string  `json:"smtpHost"`
	SMTPPort int     `json:"smtpPort"`
	SMTPTLS  TLSMode `json:"smtpTls"`

	IMAPHost string  `json:"imapHost"`
	IMAPPort int     `json:"imapPort"`
	IMAPSSL  TLSMode `json:"imapSsl"`

	// EncryptedPassword is always ciphertext when persisted, produced by
	// the credential vault.
	EncryptedPassword string `json:"-"`

	Domain             string     `json:"domain,omitempty"`
	DomainAgeDays      *int       `json:"domainAgeDays,omitempty"`
	DomainLastCheckedAt *time.Time `json:"domainLastCheckedAt,omitempty"`

	DailyLimit      int        `gorm:"default:5" json:"dailyLimit"`
	WarmupStartedAt *time.Time `json:"warmupStartedAt,omitempty"`

	TotalSent     int64 `json:"totalSent"`
	TotalReceived int64 `json:"totalReceived"`
	TotalOpened   int64 `json:"totalOpened"`
	TotalReplied  int64 `json:"totalReplied"`
	TotalBounced  int64 `json:"totalBounced"`

	SentToday int `gorm:"default:0" json:"sentToday"`

	Status AccountStatus `gorm:"default:active" json:"status"`
}

func (Account) TableName() string { return "accounts" }

// FullName composes a display name from FirstName/LastName, falling back
// to the bare address.
func (a *Account) FullName() string {
	switch {
	case a.FirstName != "" && a.LastName != "":
		return a.FirstName + " " + a.LastName
	case a.FirstName != "":
		return a.FirstName
	default:
		return a.Email
	}
}

// BounceRate is the rolling bounce rate used by the scheduler's cut-off.
func (a *Account) BounceRate() float64 {
	if a.TotalSent == 0 {
		return 0
	}
	return float64(a.TotalBounced) / float64(a.TotalSent)
}

func (a *Account) OpenRate() float64 {
	if a.TotalSent == 0 {
		return 0
	}
	return float64(a.TotalOpened) / float64(a.TotalSent)
}

func (a *Account) ReplyRate() float64 {
	if a.TotalReceived == 0 {
		return 0
	}
	return float64(a.TotalReplied) / float64(a.TotalReceived)
}

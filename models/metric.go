package models

import "time"

// DailyMetric is one (account_id, date) row, unique on the pair.
type DailyMetric struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	AccountID uint      `gorm:"uniqueIndex:idx_account_date;not null" json:"accountId"`
	Date      time.Time `gorm:"uniqueIndex:idx_account_date;not null" json:"date"`

	EmailsSent     int `json:"emailsSent"`
	EmailsReceived int `json:"emailsReceived"`
	EmailsOpened   int `json:"emailsOpened"`
	EmailsReplied  int `json:"emailsReplied"`
	EmailsBounced  int `json:"emailsBounced"`
	EmailsFailed   int `json:"emailsFailed"`

	OpenRate   float64 `json:"openRate"`
	ReplyRate  float64 `json:"replyRate"`
	BounceRate float64 `json:"bounceRate"`
}

func (DailyMetric) TableName() string { return "daily_metrics" }

// CalculateRates fills OpenRate/BounceRate/ReplyRate, guarding every
// denominator against zero.
func (m *DailyMetric) CalculateRates() {
	if m.EmailsSent > 0 {
		m.OpenRate = float64(m.EmailsOpened) / float64(m.EmailsSent)
		m.BounceRate = float64(m.EmailsBounced) / float64(m.EmailsSent)
	} else {
		m.OpenRate = 0
		m.BounceRate = 0
	}
	if m.EmailsReceived > 0 {
		m.ReplyRate = float64(m.EmailsReplied) / float64(m.EmailsReceived)
	} else {
		m.ReplyRate = 0
	}
}

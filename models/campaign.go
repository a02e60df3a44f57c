package models

import "time"

type CampaignStatus string

const (
	CampaignPending   CampaignStatus = "pending"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

type Language string

const (
	LanguageEN Language = "en"
	LanguageIT Language = "it"
)

// CampaignMember is the join row backing a Campaign's sender/receiver sets.
type CampaignMember struct {
	ID         uint `gorm:"primarykey"`
	CampaignID uint `gorm:"index:idx_campaign_member,unique"`
	AccountID  uint `gorm:"index:idx_campaign_member,unique"`
	Role       AccountRole
}

func (CampaignMember) TableName() string { return "campaign_members" }

// Campaign is a warming run binding N senders to M receivers for W weeks.
type Campaign struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name     string         `gorm:"not null" json:"name"`
	Status   CampaignStatus `gorm:"default:pending;index" json:"status"`
	Language Language       `gorm:"default:en" json:"language"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`

	DurationWeeks int        `json:"durationWeeks"`
	CurrentWeek   int        `gorm:"default:1" json:"currentWeek"`
	NextSendTime  time.Time  `json:"nextSendTime"`
	LastSendTime  *time.Time `json:"lastSendTime,omitempty"`

	EmailsSentToday   int `gorm:"default:0" json:"emailsSentToday"`
	TargetEmailsToday int `gorm:"default:0" json:"targetEmailsToday"`

	TotalEmailsSent     int64 `json:"totalEmailsSent"`
	TotalEmailsOpened   int64 `json:"totalEmailsOpened"`
	TotalEmailsReplied  int64 `json:"totalEmailsReplied"`
	TotalEmailsBounced  int64 `json:"totalEmailsBounced"`
}

func (Campaign) TableName() string { return "campaigns" }

// IsTerminal reports whether the campaign may no longer be mutated.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed
}

package scheduler

import (
	"testing"
	"time"

	"warmit/config"
	"warmit/models"

	"github.com/stretchr/testify/assert"
)

func TestBaseTargetByWeekTable(t *testing.T) {
	assert.Equal(t, 5, baseTargetForWeek(1))
	assert.Equal(t, 10, baseTargetForWeek(2))
	assert.Equal(t, 15, baseTargetForWeek(3))
	assert.Equal(t, 25, baseTargetForWeek(4))
	assert.Equal(t, 35, baseTargetForWeek(5))
	assert.Equal(t, 50, baseTargetForWeek(6))
	assert.Equal(t, 50, baseTargetForWeek(9), "week 6+ all use the week-6 figure")
}

func ageDays(d int) *int { return &d }

func TestSenderDailyTargetYoungDomainClampedOnlyInWeekOne(t *testing.T) {
	sender := &models.Account{DomainAgeDays: ageDays(15)}
	assert.Equal(t, 3, senderDailyTarget(sender, 1, nil), "young domain clamps week-1 target to 3")
	assert.Equal(t, 10, senderDailyTarget(sender, 2, nil), "clamp only applies in week 1")
}

func TestSenderDailyTargetOldDomainUnclamped(t *testing.T) {
	sender := &models.Account{DomainAgeDays: ageDays(400)}
	assert.Equal(t, 5, senderDailyTarget(sender, 1, nil))
}

func TestSenderDailyTargetRespectsConfigBounds(t *testing.T) {
	sender := &models.Account{DomainAgeDays: ageDays(400)}
	cfg := &config.Config{MaxEmailsPerDay: 20}
	assert.Equal(t, 20, senderDailyTarget(sender, 6, cfg), "week-6 base of 50 is capped by MaxEmailsPerDay")

	cfg2 := &config.Config{MinEmailsPerDay: 10}
	assert.Equal(t, 10, senderDailyTarget(sender, 1, cfg2), "week-1 base of 5 is floored by MinEmailsPerDay")
}

// TestFreshCampaignTwoYoungSendersWeekOne reproduces the two-sender,
// week-1, young-domain scenario: each sender clamps to 3/day, giving a
// campaign target of 6 and an even 3-email slot count per sender.
func TestFreshCampaignTwoYoungSendersWeekOne(t *testing.T) {
	senders := []models.Account{
		{ID: 1, DomainAgeDays: ageDays(10)},
		{ID: 2, DomainAgeDays: ageDays(20)},
	}
	target := computeCampaignTarget(senders, 1, nil)
	assert.Equal(t, 6, target)

	slots := buildSlotOrder(1, time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC), []uint{1, 2}, target)
	assert.Len(t, slots, 6)
	counts := map[uint]int{}
	for _, id := range slots {
		counts[id]++
	}
	assert.Equal(t, 3, counts[1])
	assert.Equal(t, 3, counts[2])
}

func TestBuildSlotOrderDistributesRemainder(t *testing.T) {
	slots := buildSlotOrder(2, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), []uint{1, 2, 3}, 10)
	assert.Len(t, slots, 10)
	counts := map[uint]int{}
	for _, id := range slots {
		counts[id]++
	}
	total := 0
	for _, c := range counts {
		assert.GreaterOrEqual(t, c, 3)
		assert.LessOrEqual(t, c, 4)
		total += c
	}
	assert.Equal(t, 10, total)
}

func TestBuildSlotOrderDeterministicForSameDay(t *testing.T) {
	date := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	a := buildSlotOrder(7, date, []uint{1, 2, 3}, 9)
	b := buildSlotOrder(7, date, []uint{1, 2, 3}, 9)
	assert.Equal(t, a, b)
}

func TestBatchSizeCapsAtThreePerCall(t *testing.T) {
	assert.Equal(t, 3, batchSize(10), "remaining above the cap is clamped to maxBatchPerCall")
	assert.Equal(t, 2, batchSize(2), "remaining below the cap is used as-is")
	assert.Equal(t, 0, batchSize(0))
	assert.Equal(t, 0, batchSize(-1), "already-met target never goes negative")
}

func TestCampaignIsDue(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.False(t, campaignIsDue(false, now, future), "not due before NextSendTime without force")
	assert.True(t, campaignIsDue(false, now, past), "due once NextSendTime has passed")
	assert.True(t, campaignIsDue(false, now, now), "due exactly at NextSendTime")
	assert.True(t, campaignIsDue(true, now, future), "force bypasses the NextSendTime gate")
}

func TestClampToBusinessHours(t *testing.T) {
	early := time.Date(2026, 7, 29, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, 9, clampToBusinessHours(early).Hour())

	late := time.Date(2026, 7, 29, 19, 30, 0, 0, time.UTC)
	clamped := clampToBusinessHours(late)
	assert.Equal(t, 9, clamped.Hour())
	assert.Equal(t, 30, clamped.Day())

	inWindow := time.Date(2026, 7, 29, 14, 0, 0, 0, time.UTC)
	assert.Equal(t, inWindow, clampToBusinessHours(inWindow))
}

package metricsagg

import (
	"testing"
	"time"

	"warmit/models"

	"github.com/stretchr/testify/assert"
)

func TestDailyMetricRatesComputedConsistently(t *testing.T) {
	m := models.DailyMetric{
		AccountID:      1,
		Date:           time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC),
		EmailsSent:     20,
		EmailsReceived: 10,
		EmailsOpened:   5,
		EmailsReplied:  2,
		EmailsBounced:  1,
	}
	m.CalculateRates()

	assert.InDelta(t, 0.25, m.OpenRate, 0.0001)
	assert.InDelta(t, 0.05, m.BounceRate, 0.0001)
	assert.InDelta(t, 0.2, m.ReplyRate, 0.0001)
}

func TestDailyMetricRatesZeroDenominators(t *testing.T) {
	m := models.DailyMetric{}
	m.CalculateRates()
	assert.Equal(t, 0.0, m.OpenRate)
	assert.Equal(t, 0.0, m.BounceRate)
	assert.Equal(t, 0.0, m.ReplyRate)
}

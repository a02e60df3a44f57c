package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanUseDeniesAtMinuteLimit(t *testing.T) {
	l := New()
	l.RegisterWithQuota("k1", ProviderOpenRouter, 2, 100)

	ok, _ := l.CanUse("k1")
	require.True(t, ok)
	require.True(t, l.Record("k1"))
	require.True(t, l.Record("k1"))

	ok, reason := l.CanUse("k1")
	assert.False(t, ok)
	assert.Contains(t, reason, "minute")
}

func TestPickKeyPrefersMostHeadroom(t *testing.T) {
	l := New()
	l.RegisterWithQuota("openrouter_1", ProviderOpenRouter, 20, 50)
	l.RegisterWithQuota("openrouter_2", ProviderOpenRouter, 20, 50)

	for i := 0; i < 20; i++ {
		require.True(t, l.Record("openrouter_1"))
	}

	picked, ok := l.PickKey(ProviderOpenRouter)
	require.True(t, ok)
	assert.Equal(t, "openrouter_2", picked)
}

func TestPickKeyReturnsFalseWhenAllExhausted(t *testing.T) {
	l := New()
	l.RegisterWithQuota("k1", ProviderGroq, 1, 1)
	require.True(t, l.Record("k1"))

	_, ok := l.PickKey(ProviderGroq)
	assert.False(t, ok)
}

func TestMinuteWindowResets(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := base
	l := New()
	l.now = func() time.Time { return cur }
	l.RegisterWithQuota("k1", ProviderOpenRouter, 1, 100)

	require.True(t, l.Record("k1"))
	ok, _ := l.CanUse("k1")
	assert.False(t, ok)

	cur = base.Add(61 * time.Second)
	ok, _ = l.CanUse("k1")
	assert.True(t, ok)
}

func TestSaturationForecastNilWhenNoTraffic(t *testing.T) {
	l := New()
	l.RegisterWithQuota("k1", ProviderOpenAI, 60, 200)
	assert.Nil(t, l.SaturationForecast("k1"))
}

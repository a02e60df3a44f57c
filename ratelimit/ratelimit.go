// Package ratelimit implements a rate-limit ledger: per-API-key sliding
// minute window plus absolute daily-until-UTC-midnight window, best-key
// selection per provider, and saturation forecasting.
//
// The ledger is process-local: if multiple worker processes share provider
// quotas, promote this to a shared counter (e.g. backed by the go-redis
// client already wired for the Fiber rate limiter) or concentrate AI calls
// in one worker class.
package ratelimit

import (
	"sort"
	"sync"
	"time"
)

type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderGroq       Provider = "groq"
	ProviderOpenAI     Provider = "openai"
)

// Default free-tier quotas.
var defaultQuotas = map[Provider]struct{ RPM, RPD int }{
	ProviderOpenRouter: {RPM: 20, RPD: 50},
	ProviderGroq:       {RPM: 30, RPD: 1000},
	ProviderOpenAI:     {RPM: 60, RPD: 200},
}

type keyState struct {
	id       string
	provider Provider
	rpm      int
	rpd      int

	minuteCount int
	dayCount    int
	minuteReset time.Time
	dayReset    time.Time

	ring []time.Time // request timestamps, last 60 minutes

	insertionOrder int
}

// Ledger is a single mutex-protected rate ledger. Never expose this as a
// package-level global; construct one per process and pass it to every
// component that needs it.
type Ledger struct {
	mu   sync.Mutex
	keys map[string]*keyState
	seq  int
	now  func() time.Time
}

// New builds an empty Ledger. Add keys with Register (provider default
// quotas) or RegisterWithQuota (overrides).
func New() *Ledger {
	return &Ledger{keys: make(map[string]*keyState), now: time.Now}
}

// Register adds a key with the provider's default RPM/RPD.
func (l *Ledger) Register(id string, provider Provider) {
	q := defaultQuotas[provider]
	l.RegisterWithQuota(id, provider, q.RPM, q.RPD)
}

func (l *Ledger) RegisterWithQuota(id string, provider Provider, rpm, rpd int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.seq++
	l.keys[id] = &keyState{
		id:             id,
		provider:       provider,
		rpm:            rpm,
		rpd:            rpd,
		minuteReset:    now.Add(time.Minute),
		dayReset:       nextUTCMidnight(now),
		insertionOrder: l.seq,
	}
}

func nextUTCMidnight(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

// rollWindows resets either window that has elapsed. Caller holds l.mu.
func (l *Ledger) rollWindows(k *keyState, now time.Time) {
	if !now.Before(k.minuteReset) {
		k.minuteCount = 0
		k.minuteReset = now.Add(time.Minute)
	}
	if !now.Before(k.dayReset) {
		k.dayCount = 0
		k.dayReset = nextUTCMidnight(now)
	}
	cutoff := now.Add(-time.Hour)
	trimmed := k.ring[:0]
	for _, t := range k.ring {
		if t.After(cutoff) {
			trimmed = append(trimmed, t)
		}
	}
	k.ring = trimmed
}

// CanUse reports whether keyId may be used right now, and if not, why.
func (l *Ledger) CanUse(keyId string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.keys[keyId]
	if !ok {
		return false, "unknown key"
	}
	now := l.now()
	l.rollWindows(k, now)

	if k.minuteCount >= k.rpm {
		remaining := k.minuteReset.Sub(now).Round(time.Second)
		return false, "minute rate limit exceeded, retry in " + remaining.String()
	}
	if k.dayCount >= k.rpd {
		remaining := k.dayReset.Sub(now).Round(time.Minute)
		return false, "daily rate limit exceeded, resets in " + remaining.String()
	}
	return true, ""
}

// Record attempts to consume one request against keyId. Returns false if
// the key was not permitted (mirrors CanUse's check, then commits).
func (l *Ledger) Record(keyId string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.keys[keyId]
	if !ok {
		return false
	}
	now := l.now()
	l.rollWindows(k, now)

	if k.minuteCount >= k.rpm || k.dayCount >= k.rpd {
		return false
	}
	k.minuteCount++
	k.dayCount++
	k.ring = append(k.ring, now)
	return true
}

// PickKey returns the best available key for provider: among keys that
// CanUse allows, the one with the largest min(remaining_rpm, remaining_rpd);
// ties broken by insertion order.
func (l *Ledger) PickKey(provider Provider) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var candidates []*keyState
	now := l.now()
	for _, k := range l.keys {
		if k.provider != provider {
			continue
		}
		l.rollWindows(k, now)
		if k.minuteCount >= k.rpm || k.dayCount >= k.rpd {
			continue
		}
		candidates = append(candidates, k)
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool {
		ri := min(candidates[i].rpm-candidates[i].minuteCount, candidates[i].rpd-candidates[i].dayCount)
		rj := min(candidates[j].rpm-candidates[j].minuteCount, candidates[j].rpd-candidates[j].dayCount)
		if ri != rj {
			return ri > rj
		}
		return candidates[i].insertionOrder < candidates[j].insertionOrder
	})
	return candidates[0].id, true
}

// RequestRate returns requests in the last hour for keyId.
func (l *Ledger) RequestRate(keyId string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.keys[keyId]
	if !ok {
		return 0
	}
	l.rollWindows(k, l.now())
	return len(k.ring)
}

// SaturationForecast estimates when keyId will exhaust its daily quota at
// its current request rate; nil if that is more than 24h away or the rate
// is zero.
func (l *Ledger) SaturationForecast(keyId string) *time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.keys[keyId]
	if !ok {
		return nil
	}
	now := l.now()
	l.rollWindows(k, now)

	rate := len(k.ring) // reqs/hour
	if rate == 0 {
		return nil
	}
	remaining := k.rpd - k.dayCount
	if remaining <= 0 {
		t := now
		return &t
	}
	hoursAway := float64(remaining) / float64(rate)
	if hoursAway > 24 {
		return nil
	}
	t := now.Add(time.Duration(hoursAway * float64(time.Hour)))
	return &t
}

// Reset is the admin operation: zero both counters, re-arm both windows.
func (l *Ledger) Reset(keyId string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.keys[keyId]
	if !ok {
		return
	}
	now := l.now()
	k.minuteCount = 0
	k.dayCount = 0
	k.minuteReset = now.Add(time.Minute)
	k.dayReset = nextUTCMidnight(now)
	k.ring = nil
}

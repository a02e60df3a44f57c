// Package domainprofile looks up a sender's domain creation date via WHOIS
// and derives a conservative initial daily send cap and recommended
// warmup length.
package domainprofile

import (
	"regexp"
	"strings"
	"time"

	"github.com/likexian/whois"
)

type Profile struct {
	Domain                  string
	AgeDays                 int
	WarmupWeeksRecommended  int
	InitialDailyLimit       int
}

// Profiler caches WHOIS lookups in memory: a domain re-checked inside 7
// days returns the cached result rather than re-querying.
type Profiler struct {
	lookup func(domain string) (string, error)
	cache  map[string]cachedProfile
	now    func() time.Time
}

type cachedProfile struct {
	profile  Profile
	checkedAt time.Time
}

const recheckInterval = 7 * 24 * time.Hour

func New() *Profiler {
	return &Profiler{
		lookup: whois.Whois,
		cache:  make(map[string]cachedProfile),
		now:    time.Now,
	}
}

// CheckDomain returns the recommended warmup parameters for a sender's
// email domain, using the 7-day cache unless force is set.
func (p *Profiler) CheckDomain(email string, force bool) (Profile, error) {
	domain := domainOf(email)

	if !force {
		if c, ok := p.cache[domain]; ok && p.now().Sub(c.checkedAt) < recheckInterval {
			return c.profile, nil
		}
	}

	raw, err := p.lookup(domain)
	ageDays := -1
	if err == nil {
		if created, ok := parseCreationDate(raw); ok {
			ageDays = int(p.now().Sub(created).Hours() / 24)
		}
	}

	profile := buildProfile(domain, ageDays)
	p.cache[domain] = cachedProfile{profile: profile, checkedAt: p.now()}
	return profile, nil
}

func domainOf(email string) string {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) == 2 {
		return strings.ToLower(parts[1])
	}
	return strings.ToLower(email)
}

// buildProfile maps domain age to the week-1 clamp table and to a
// recommended total warmup duration. InitialDailyLimit of 0 means "no
// clamp" (domain age ≥ 180 days).
func buildProfile(domain string, ageDays int) Profile {
	if ageDays < 0 {
		// Unknown age: treat conservatively, as if very young.
		return Profile{Domain: domain, AgeDays: ageDays, WarmupWeeksRecommended: 8, InitialDailyLimit: 3}
	}
	switch {
	case ageDays < 30:
		return Profile{Domain: domain, AgeDays: ageDays, WarmupWeeksRecommended: 8, InitialDailyLimit: ClampForAge(ageDays)}
	case ageDays < 90:
		return Profile{Domain: domain, AgeDays: ageDays, WarmupWeeksRecommended: 6, InitialDailyLimit: ClampForAge(ageDays)}
	case ageDays < 180:
		return Profile{Domain: domain, AgeDays: ageDays, WarmupWeeksRecommended: 4, InitialDailyLimit: ClampForAge(ageDays)}
	default:
		return Profile{Domain: domain, AgeDays: ageDays, WarmupWeeksRecommended: 2, InitialDailyLimit: ClampForAge(ageDays)}
	}
}

// ClampForAge returns the week-1-only daily send cap for a domain of the
// given age; 0 means no clamp (domain age ≥ 180 days). A negative
// (unknown) age gets the youngest bucket's cap of 3. Exported so the
// scheduler can apply
// the same table to a sender's recorded DomainAgeDays without duplicating
// it.
func ClampForAge(ageDays int) int {
	switch {
	case ageDays < 0:
		return 3
	case ageDays < 30:
		return 3
	case ageDays < 90:
		return 5
	case ageDays < 180:
		return 10
	default:
		return 0
	}
}

var creationDatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Creation Date:\s*(\S+)`),
	regexp.MustCompile(`(?i)created(?:\s+on)?:\s*(\S+)`),
	regexp.MustCompile(`(?i)Registered on:\s*(\S+)`),
	regexp.MustCompile(`(?i)Domain Registration Date:\s*(\S+)`),
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
}

// parseCreationDate applies a set of best-effort patterns to tolerate the
// heterogeneous WHOIS formats different registrars emit.
func parseCreationDate(raw string) (time.Time, bool) {
	for _, pat := range creationDatePatterns {
		m := pat.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		candidate := strings.TrimSpace(m[1])
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, candidate); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

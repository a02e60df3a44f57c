package domainprofile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildProfileClampTable(t *testing.T) {
	cases := []struct {
		ageDays  int
		wantCap  int
	}{
		{15, 3},
		{60, 5},
		{120, 10},
		{400, 0},
	}
	for _, c := range cases {
		p := buildProfile("example.com", c.ageDays)
		assert.Equal(t, c.wantCap, p.InitialDailyLimit)
	}
}

func TestCheckDomainUsesCache(t *testing.T) {
	calls := 0
	p := &Profiler{
		lookup: func(domain string) (string, error) {
			calls++
			return "Creation Date: 2020-01-01T00:00:00Z", nil
		},
		cache: make(map[string]cachedProfile),
		now:   func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	}

	_, err := p.CheckDomain("sender@example.com", false)
	assert.NoError(t, err)
	_, err = p.CheckDomain("sender@example.com", false)
	assert.NoError(t, err)

	assert.Equal(t, 1, calls, "second lookup within 7 days should hit cache")
}

func TestParseCreationDateFormats(t *testing.T) {
	_, ok := parseCreationDate("Domain Name: EXAMPLE.COM\nCreation Date: 2015-06-05T00:00:00Z\n")
	assert.True(t, ok)

	_, ok = parseCreationDate("no date here")
	assert.False(t, ok)
}

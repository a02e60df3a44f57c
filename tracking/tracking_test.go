package tracking

import (
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, trackingURL string) (token, ts string) {
	t.Helper()
	u, err := url.Parse(trackingURL)
	require.NoError(t, err)
	q := u.Query()
	return q.Get("token"), q.Get("ts")
}

func TestRoundTrip(t *testing.T) {
	tk := New("shh-secret", "https://example.com")
	u := tk.TrackingURL(42)
	assert.True(t, strings.HasPrefix(u, "https://example.com/track/open/42?"))

	token, ts := parse(t, u)
	assert.True(t, tk.Validate(42, token, ts))
}

func TestMutatingAnyFieldFailsValidation(t *testing.T) {
	tk := New("shh-secret", "https://example.com")
	u := tk.TrackingURL(42)
	token, ts := parse(t, u)

	assert.False(t, tk.Validate(43, token, ts), "mutated id")
	assert.False(t, tk.Validate(42, token+"a", ts), "mutated token")

	tsInt, _ := strconv.ParseInt(ts, 10, 64)
	assert.False(t, tk.Validate(42, token, strconv.FormatInt(tsInt+1, 10)), "mutated ts")
}

func TestFutureTimestampRejected(t *testing.T) {
	tk := New("shh-secret", "https://example.com")
	future := time.Now().Add(time.Hour).Unix()
	tok := tk.token(42, future)
	assert.False(t, tk.Validate(42, tok, strconv.FormatInt(future, 10)))
}

func TestExpiredTimestampRejected(t *testing.T) {
	tk := New("shh-secret", "https://example.com")
	old := time.Now().Add(-31 * 24 * time.Hour).Unix()
	tok := tk.token(42, old)
	assert.False(t, tk.Validate(42, tok, strconv.FormatInt(old, 10)))
}

func TestDisabledValidationAlwaysPasses(t *testing.T) {
	tk := New("", "https://example.com")
	assert.True(t, tk.Validate(1, "garbage", "0"))
}

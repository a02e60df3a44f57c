// Package tracking implements HMAC-signed open-pixel URLs with timestamp
// and bounded validity, verified with constant-time comparison.
package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const validityWindow = 30 * 24 * time.Hour

// Tokenizer issues and validates tracking tokens against a single secret.
// An empty secret disables validation: Validate then accepts any token, so
// opens are recorded unverified, and a warning is logged at construction.
type Tokenizer struct {
	secret string
	apiBase string
	now     func() time.Time
}

func New(secret, apiBase string) *Tokenizer {
	if secret == "" {
		logrus.Warn("TRACKING_SECRET_KEY is unset: open-pixel token validation is disabled")
	}
	return &Tokenizer{secret: secret, apiBase: apiBase, now: time.Now}
}

func (t *Tokenizer) Enabled() bool { return t.secret != "" }

func (t *Tokenizer) token(emailID uint, ts int64) string {
	mac := hmac.New(sha256.New, []byte(t.secret))
	mac.Write([]byte(fmt.Sprintf("%d:%d", emailID, ts)))
	sum := hex.EncodeToString(mac.Sum(nil))
	if len(sum) > 32 {
		sum = sum[:32]
	}
	return sum
}

// TrackingURL builds {apiBase}/track/open/{emailId}?token=&ts=.
func (t *Tokenizer) TrackingURL(emailID uint) string {
	ts := t.now().Unix()
	tok := t.token(emailID, ts)
	return fmt.Sprintf("%s/track/open/%d?token=%s&ts=%d", t.apiBase, emailID, tok, ts)
}

// Validate checks a (token, ts) pair for emailID. If validation is disabled
// (no secret configured), it returns true unconditionally.
func (t *Tokenizer) Validate(emailID uint, token, tsStr string) bool {
	if !t.Enabled() {
		return true
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return false
	}

	now := t.now().Unix()
	if ts > now {
		return false // future timestamp
	}
	if now-ts > int64(validityWindow.Seconds()) {
		return false // expired
	}

	expected := t.token(emailID, ts)
	return hmac.Equal([]byte(expected), []byte(token))
}

package bounce

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBounceByFromAddress(t *testing.T) {
	assert.True(t, IsBounce("Mail Delivery Subsystem <MAILER-DAEMON@example.com>", "hello"))
	assert.True(t, IsBounce("postmaster@example.com", "anything"))
	assert.False(t, IsBounce("alice@example.com", "Quick thought on travel"))
}

func TestIsBounceBySubjectPattern(t *testing.T) {
	assert.True(t, IsBounce("alice@example.com", "Undeliverable: Quick thought on travel"))
	assert.True(t, IsBounce("alice@example.com", "Delivery Status Notification (Failure)"))
	assert.True(t, IsBounce("alice@example.com", "Undelivered Mail Returned to Sender"))
	assert.True(t, IsBounce("alice@example.com", "Message not delivered"))
	assert.False(t, IsBounce("alice@example.com", "Quick thought on travel"))
}

func TestIsBounceByNoreplyFromAddress(t *testing.T) {
	assert.True(t, IsBounce("noreply@example.com", "Quick thought on travel"))
}

func TestIsBounceByMailerDaemonSubject(t *testing.T) {
	assert.True(t, IsBounce("alice@example.com", "mailer-daemon notification"))
}

func TestExtractBouncedAddress(t *testing.T) {
	body := "Your message to bob@example.com could not be delivered.\n\nTechnical details follow."
	assert.Equal(t, "bob@example.com", ExtractBouncedAddress(body))
}

func TestExtractBouncedAddressNoMatch(t *testing.T) {
	assert.Equal(t, "", ExtractBouncedAddress("no address in here at all"))
}

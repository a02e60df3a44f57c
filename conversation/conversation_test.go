package conversation

import (
	"math/rand"
	"testing"
	"time"

	"warmit/config"

	"github.com/stretchr/testify/assert"
)

func TestExtractAddressWithDisplayName(t *testing.T) {
	assert.Equal(t, "bob@example.com", extractAddress("Bob Smith <Bob@Example.com>"))
}

func TestExtractAddressBareAddress(t *testing.T) {
	assert.Equal(t, "bob@example.com", extractAddress("  bob@example.com  "))
}

func TestReplyProbabilityConstant(t *testing.T) {
	assert.Equal(t, 0.85, replyProbability)
}

func TestChosenReplyDelayWithinConfiguredBounds(t *testing.T) {
	e := &Engine{
		cfg: &config.Config{ResponseDelayMinHours: 1, ResponseDelayMaxHours: 2},
		rng: rand.New(rand.NewSource(1)),
	}
	d := e.chosenReplyDelay()
	assert.GreaterOrEqual(t, d, time.Hour)
	assert.LessOrEqual(t, d, 2*time.Hour)
}

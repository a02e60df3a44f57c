package jobs

import "testing"

// TestTaskTypeNamesAreDistinct guards against a typo silently merging two
// triggers onto the same asynq task type.
func TestTaskTypeNamesAreDistinct(t *testing.T) {
	types := []string{
		typeCampaignProcessAll,
		typeConversationPoll,
		typeBounceScan,
		typeMetricsRollup,
		typeCountersReset,
	}
	seen := make(map[string]bool, len(types))
	for _, ty := range types {
		if seen[ty] {
			t.Fatalf("duplicate task type: %s", ty)
		}
		seen[ty] = true
	}
}

package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobSnapshotKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

// StageCheckpointKey holds completed-segment results for a long stage so a
// retried or resumed attempt does not redo finished segments.
func StageCheckpointKey(jobID uuid.UUID, stage string) string {
	return fmt.Sprintf("checkpoint:%s:%s", jobID, stage)
}

func RateLimitKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("ratelimit:%s", tenantID)
}

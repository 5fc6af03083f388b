package outbox

import (
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// Patch is a partial update. Nil fields leave the item untouched.
type Patch struct {
	Status              *models.OutboxStatus
	Attempts            *int
	LastError           *string
	UploadProgress      *int
	ClearUploadProgress bool
	NextEligibleAt      *time.Time
	ClearNextEligibleAt bool
	SyncedAt            *time.Time
}

// StatusPatch returns a patch that only changes the status.
func StatusPatch(status models.OutboxStatus) Patch {
	return Patch{Status: &status}
}

func (p Patch) apply(item *models.OutboxItem) {
	if p.Status != nil {
		item.Status = *p.Status
	}
	if p.Attempts != nil {
		item.Attempts = *p.Attempts
	}
	if p.LastError != nil {
		item.LastError = *p.LastError
	}
	if p.ClearUploadProgress {
		item.UploadProgress = nil
	} else if p.UploadProgress != nil {
		v := clampProgress(*p.UploadProgress)
		item.UploadProgress = &v
	}
	if p.ClearNextEligibleAt {
		item.NextEligibleAt = nil
	} else if p.NextEligibleAt != nil {
		t := *p.NextEligibleAt
		item.NextEligibleAt = &t
	}
	if p.SyncedAt != nil {
		t := *p.SyncedAt
		item.SyncedAt = &t
	}

	// lastError only describes error and conflict items.
	if item.Status != models.StatusError && item.Status != models.StatusConflict {
		item.LastError = ""
	}
}

func clampProgress(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

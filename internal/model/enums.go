package model

type SyncState string

const (
	SyncStatePending SyncState = "pending_sync"
	SyncStateSynced  SyncState = "synced"
	SyncStateFailed  SyncState = "sync_failed"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusDone    JobStatus = "done"
	JobStatusDead    JobStatus = "dead"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusDone, JobStatusDead:
		return true
	}
	return false
}

type JobReason string

const (
	JobReasonSignup     JobReason = "signup"
	JobReasonUpgrade    JobReason = "upgrade"
	JobReasonResync     JobReason = "resync"
	JobReasonDeactivate JobReason = "deactivate"
)

// Built-in plan names. The catalog may define more.
const (
	PlanFree    = "free"
	PlanBasic   = "basic"
	PlanAdvance = "advance"
	PlanPremium = "premium"
)

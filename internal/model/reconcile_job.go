package model

import "time"

// ReconcileJob is the durable retry queue entry for one account. Generation
// increases on every enqueue so a stale worker cannot complete a newer request.
type ReconcileJob struct {
	AccountID      string    `db:"account_id" json:"accountId"`
	SubscriptionID *string   `db:"subscription_id" json:"subscriptionId,omitempty"`
	Reason         JobReason `db:"reason" json:"reason"`
	Status         JobStatus `db:"status" json:"status"`
	Generation     int64     `db:"generation" json:"generation"`
	Attempts       int       `db:"attempts" json:"attempts"`
	NextAttemptAt  time.Time `db:"next_attempt_at" json:"nextAttemptAt"`
	LastError      *string   `db:"last_error" json:"lastError,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

type EnqueueJobParams struct {
	AccountID      string
	SubscriptionID *string
	Reason         JobReason
}

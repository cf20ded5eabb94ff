package model

import "time"

// Subscription is one entry in an account's plan history. At most one row per
// account is active; SyncState tracks whether the gateway reflects it.
type Subscription struct {
	ID        string     `db:"id" json:"id"`
	AccountID string     `db:"account_id" json:"accountId"`
	PlanID    string     `db:"plan_id" json:"planId"`
	StartAt   time.Time  `db:"start_at" json:"startAt"`
	EndAt     time.Time  `db:"end_at" json:"endAt"`
	Active    bool       `db:"active" json:"active"`
	SyncState SyncState  `db:"sync_state" json:"syncState"`
	SyncError *string    `db:"sync_error" json:"syncError,omitempty"`
	SyncedAt  *time.Time `db:"synced_at" json:"syncedAt,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
}

type CreateSubscriptionParams struct {
	AccountID string
	PlanID    string
	StartAt   time.Time
	EndAt     time.Time
}

package model

import "time"

type UsageRecord struct {
	ID         int64     `db:"id" json:"id"`
	AccountID  string    `db:"account_id" json:"accountId"`
	Endpoint   string    `db:"endpoint" json:"endpoint"`
	StatusCode int       `db:"status_code" json:"statusCode"`
	LatencyMs  int64     `db:"latency_ms" json:"latencyMs"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

type CreateUsageRecordParams struct {
	AccountID  string
	Endpoint   string
	StatusCode int
	Latency    time.Duration
	CreatedAt  time.Time
}

// DailyCount is one UTC calendar day bucket of usage.
type DailyCount struct {
	Day   time.Time `db:"day"`
	Count int       `db:"count"`
}

package model

import "time"

type Plan struct {
	ID               string    `db:"id" json:"id"`
	Name             string    `db:"name" json:"name"`
	MonthlyQuota     int       `db:"monthly_quota" json:"monthlyQuota"`
	RateLimit        int       `db:"rate_limit" json:"rateLimit"`
	Price            float64   `db:"price" json:"price"`
	OveragePrice     float64   `db:"overage_price" json:"overagePrice"`
	RejectionMessage string    `db:"rejection_message" json:"rejectionMessage"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}

type UpsertPlanParams struct {
	Name             string
	MonthlyQuota     int
	RateLimit        int
	Price            float64
	OveragePrice     float64
	RejectionMessage string
}

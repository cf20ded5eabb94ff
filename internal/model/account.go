package model

import (
	"time"
)

// Account is an API consumer identified by email. APIKey holds the sealed
// form of the key; it is assigned once and never regenerated.
type Account struct {
	ID         string    `db:"id" json:"id"`
	Email      string    `db:"email" json:"email"`
	APIKey     string    `db:"api_key" json:"-"`
	APIKeyHash string    `db:"api_key_hash" json:"-"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

type CreateAccountParams struct {
	Email      string
	APIKey     string
	APIKeyHash string
	Active     bool
}

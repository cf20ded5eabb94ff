package handler

import (
	"net/http"
	"strconv"

	apperrors "github.com/superparser/gateway-control/internal/errors"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ParsePage reads ?limit= and ?offset=. Missing values take defaults;
// malformed or out-of-range values are rejected.
func ParsePage(r *http.Request) (Page, error) {
	page := Page{Limit: DefaultLimit}
	q := r.URL.Query()

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxLimit {
			return Page{}, apperrors.InvalidInput("limit", "must be between 1 and "+strconv.Itoa(MaxLimit))
		}
		page.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Page{}, apperrors.InvalidInput("offset", "must be a non-negative integer")
		}
		page.Offset = n
	}
	return page, nil
}

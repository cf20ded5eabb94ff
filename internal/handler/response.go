package handler

import (
	"net/http"

	"github.com/goccy/go-json"

	apperrors "github.com/superparser/gateway-control/internal/errors"
	"github.com/superparser/gateway-control/internal/httputil"
	"github.com/superparser/gateway-control/internal/validation"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeJSON reads a JSON body into dst and validates it.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.InvalidInput("body", "invalid JSON body")
	}
	return validation.Struct(dst)
}

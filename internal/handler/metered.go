package handler

import (
	"net/http"
	"time"

	apperrors "github.com/superparser/gateway-control/internal/errors"
	"github.com/superparser/gateway-control/internal/middleware"
)

// GET /api/test
//
// Sample metered endpoint. In production the gateway fronts it and enforces
// the consumer's quota before the request arrives.
func TestAPI(w http.ResponseWriter, r *http.Request) {
	if middleware.GetAccount(r.Context()) == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "success",
		"message":   "API request successful",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

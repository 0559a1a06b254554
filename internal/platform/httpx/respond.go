// Package httpx renders API responses: JSON bodies, RFC7807 problem
// documents and the mapping from domain errors to HTTP statuses.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/manish5476/apex/internal/shared"
)

// maxBodyBytes caps request bodies decoded through DecodeJSON.
const maxBodyBytes = 1 << 20

// ProblemDetail is an RFC7807 problem document.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	JSON(w, status, ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// DecodeJSON decodes a JSON request body into the target struct. Bodies are
// capped at one megabyte.
func DecodeJSON(r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(target)
}

// RespondError maps a domain error to its problem response. Errors outside
// the taxonomy become opaque 500s; their detail never leaks to the client.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrOverpayment):
		Problem(w, http.StatusUnprocessableEntity, "Overpayment", err.Error())
	case errors.Is(err, shared.ErrAlreadyPaid):
		Problem(w, http.StatusConflict, "Already Paid", err.Error())
	case errors.Is(err, shared.ErrTransientConflict):
		Problem(w, http.StatusConflict, "Conflict", "concurrent update, retry later")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

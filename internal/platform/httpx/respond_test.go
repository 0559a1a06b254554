package httpx

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manish5476/apex/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("invoice 9: %w", shared.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("bad count: %w", shared.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("product 4: %w", shared.ErrInsufficientStock), http.StatusConflict},
		{fmt.Errorf("120 over 100: %w", shared.ErrOverpayment), http.StatusUnprocessableEntity},
		{fmt.Errorf("invoice 9: %w", shared.ErrAlreadyPaid), http.StatusConflict},
		{shared.ErrTransientConflict, http.StatusConflict},
		{fmt.Errorf("pool exhausted"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, "error %v", tc.err)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("dial tcp 10.0.0.4:5432: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.4")
}

func TestDecodeJSONCapsBody(t *testing.T) {
	big := `{"notes":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))

	var target struct {
		Notes string `json:"notes"`
	}
	err := DecodeJSON(req, &target)
	require.Error(t, err)
}

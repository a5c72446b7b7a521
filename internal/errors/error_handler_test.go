package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"invalid argument", InvalidArgument("bad", nil), http.StatusBadRequest},
		{"invalid score", InvalidScore(0), http.StatusBadRequest},
		{"not found", NotFound("sessions", "s"), http.StatusNotFound},
		{"already exists", AlreadyExists("sessions", "s"), http.StatusConflict},
		{"already joined", AlreadyJoined("s", "u"), http.StatusConflict},
		{"session full", SessionFull("s", 2), http.StatusConflict},
		{"not a joiner", NotAJoiner("s", "u"), http.StatusConflict},
		{"max retries", MaxRetriesExceeded("sessions", "s", 5), http.StatusConflict},
		{"rate limited", RateLimited("10.0.0.1"), http.StatusTooManyRequests},
		{"in progress", RequestInProgress("join"), http.StatusConflict},
		{"unavailable", Unavailable("down", nil), http.StatusServiceUnavailable},
		{"corrupted", CorruptedData("bad", nil), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("ctx: %w", SessionFull("s", 2)), http.StatusConflict},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestHandler_HandleError(t *testing.T) {
	h := NewHandler(zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/attendees", nil)
	req.Header.Set("X-Request-ID", "req-1")

	rec := httptest.NewRecorder()
	h.HandleError(rec, req, SessionFull("s1", 2))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "SESSION_FULL", resp.ErrorCode)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "s1", resp.Details["session_id"])
	assert.Equal(t, float64(2), resp.Details["capacity"])
}

func TestHandler_WriteValidationError(t *testing.T) {
	h := NewHandler(zap.NewNop())

	rec := httptest.NewRecorder()
	h.WriteValidationError(rec, "score is required", "req-2")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_REQUEST", resp.ErrorCode)
	assert.Equal(t, "score is required", resp.Message)
}

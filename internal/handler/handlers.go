// Package handler provides HTTP request handlers for the study session service.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/CS196Illinois/FA25-Group8/internal/errors"
	"github.com/CS196Illinois/FA25-Group8/internal/metrics"
	"github.com/CS196Illinois/FA25-Group8/internal/model"
	"github.com/CS196Illinois/FA25-Group8/internal/service"
	"github.com/CS196Illinois/FA25-Group8/internal/util"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	defaultTopRatedLimit = 10
	maxRequestBodySize   = 64 * 1024

	idempotencyPollInterval = 25 * time.Millisecond
	idempotencyMaxWait      = 5 * time.Second
)

// AttendanceCoordinator is the attendance surface the handlers need
type AttendanceCoordinator interface {
	CreateSession(ctx context.Context, sessionID string, capacity *int) (model.VersionedDocument[model.SessionAttendance], error)
	GetSession(ctx context.Context, sessionID string) (model.VersionedDocument[model.SessionAttendance], error)
	Join(ctx context.Context, sessionID, userID string) (model.VersionedDocument[model.SessionAttendance], error)
	Leave(ctx context.Context, sessionID, userID string) (model.VersionedDocument[model.SessionAttendance], error)
}

// RatingAggregator is the rating surface the handlers need
type RatingAggregator interface {
	GetLocation(ctx context.Context, locationID string) (model.VersionedDocument[model.LocationRatingAggregate], error)
	UpsertRating(ctx context.Context, locationID, userID string, score int, reviewText *string) (model.VersionedDocument[model.LocationRatingAggregate], error)
	GetTopRated(ctx context.Context, limit int) ([]model.LocationRatingAggregate, error)
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	attendance   AttendanceCoordinator
	ratings      RatingAggregator
	idempotency  *service.IdempotencyService
	errorHandler *apperrors.Handler
	metrics      *metrics.Metrics
	logger       *zap.Logger

	// how often and how long a request waits on a key another request holds
	pendingPoll time.Duration
	pendingWait time.Duration
}

// NewHandlers creates a new Handlers instance. idempotency may be nil to
// disable Idempotency-Key handling.
func NewHandlers(
	attendance AttendanceCoordinator,
	ratings RatingAggregator,
	idempotency *service.IdempotencyService,
	errorHandler *apperrors.Handler,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		attendance:   attendance,
		ratings:      ratings,
		idempotency:  idempotency,
		errorHandler: errorHandler,
		metrics:      m,
		logger:       logger,
		pendingPoll:  idempotencyPollInterval,
		pendingWait:  idempotencyMaxWait,
	}
}

// CreateSession handles POST /v1/sessions requests.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	var req CreateSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	ctx := r.Context()

	doc, err := h.attendance.CreateSession(ctx, req.SessionID, req.Capacity)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/sessions/"+req.SessionID)
	h.writeJSONResponse(w, http.StatusCreated, newSessionResponse(doc))
}

// GetSession handles GET /v1/sessions/{session_id} requests.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	doc, err := h.attendance.GetSession(ctx, mux.Vars(r)["session_id"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeVersioned(w, r, doc.Version, doc.Value, newSessionResponse(doc))
}

// JoinSession handles POST /v1/sessions/{session_id}/attendees requests.
func (h *Handlers) JoinSession(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	sessionID := mux.Vars(r)["session_id"]

	var req JoinSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	scope := fmt.Sprintf("join:%s:%s", sessionID, req.UserID)
	h.withIdempotency(w, r, "join", scope, func(ctx context.Context) (int, interface{}, error) {
		doc, err := h.attendance.Join(ctx, sessionID, req.UserID)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, newSessionResponse(doc), nil
	})
}

// LeaveSession handles DELETE /v1/sessions/{session_id}/attendees/{user_id} requests.
func (h *Handlers) LeaveSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID, userID := vars["session_id"], vars["user_id"]

	scope := fmt.Sprintf("leave:%s:%s", sessionID, userID)
	h.withIdempotency(w, r, "leave", scope, func(ctx context.Context) (int, interface{}, error) {
		doc, err := h.attendance.Leave(ctx, sessionID, userID)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, newSessionResponse(doc), nil
	})
}

// UpsertRating handles PUT /v1/locations/{location_id}/ratings/{user_id} requests.
func (h *Handlers) UpsertRating(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	vars := mux.Vars(r)
	locationID, userID := vars["location_id"], vars["user_id"]

	var req UpsertRatingRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}
	if req.Score == nil {
		h.errorHandler.WriteValidationError(w, "score is required", requestID)
		return
	}

	scope := fmt.Sprintf("rate:%s:%s", locationID, userID)
	h.withIdempotency(w, r, "upsert_rating", scope, func(ctx context.Context) (int, interface{}, error) {
		doc, err := h.ratings.UpsertRating(ctx, locationID, userID, *req.Score, req.ReviewText)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, newLocationResponse(doc), nil
	})
}

// GetLocation handles GET /v1/locations/{location_id} requests.
func (h *Handlers) GetLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	doc, err := h.ratings.GetLocation(ctx, mux.Vars(r)["location_id"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeVersioned(w, r, doc.Version, doc.Value, newLocationResponse(doc))
}

// GetTopRated handles GET /v1/locations/top requests.
func (h *Handlers) GetTopRated(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	limit := defaultTopRatedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.errorHandler.WriteValidationError(w, "limit must be an integer", requestID)
			return
		}
		limit = n
	}

	ctx := r.Context()

	aggs, err := h.ratings.GetTopRated(ctx, limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp := TopRatedResponse{
		Status:    "success",
		Locations: make([]TopRatedEntry, 0, len(aggs)),
	}
	for _, agg := range aggs {
		resp.Locations = append(resp.Locations, TopRatedEntry{
			LocationID:   agg.LocationID,
			AverageScore: agg.AverageScore,
			TotalCount:   agg.TotalCount,
		})
	}

	h.writeJSONResponse(w, http.StatusOK, resp)
}

// withIdempotency runs fn, replaying a recorded response when the request
// carries an Idempotency-Key that was already answered. The key is reserved
// before fn runs; a concurrent request with the same key waits for the
// outcome instead of running fn again. Only deterministic outcomes (success
// and 4xx) are recorded; 5xx and aborted transactions release the key since
// they may succeed on retry.
func (h *Handlers) withIdempotency(
	w http.ResponseWriter,
	r *http.Request,
	operation, scope string,
	fn func(ctx context.Context) (int, interface{}, error),
) {
	requestID := r.Header.Get("X-Request-ID")
	key := r.Header.Get("Idempotency-Key")

	ctx := r.Context()

	owned := false
	if key != "" && h.idempotency != nil {
		if !h.idempotency.ValidateIdempotencyKey(key) {
			h.errorHandler.WriteValidationError(w, "invalid Idempotency-Key header", requestID)
			return
		}

		recorded, claimed, err := h.claimIdempotencyKey(ctx, operation, scope, key, requestID)
		if err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		if recorded != nil {
			if h.metrics != nil {
				h.metrics.RecordIdempotentReplay(operation)
			}
			w.Header().Set("Idempotent-Replayed", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(recorded.StatusCode)
			w.Write(recorded.Body)
			return
		}
		owned = claimed
	}

	statusCode, body, fnErr := fn(ctx)
	if fnErr != nil {
		var errResp apperrors.ErrorResponse
		statusCode, errResp = h.errorHandler.Build(r, fnErr)
		body = errResp
	}

	data, err := json.Marshal(body)
	if err != nil {
		if owned {
			h.releaseIdempotencyKey(ctx, operation, scope, key, requestID)
		}
		h.errorHandler.WriteInternalError(w, "failed to encode response", requestID)
		return
	}

	if owned {
		if statusCode < http.StatusInternalServerError && apperrors.GetCode(fnErr) != apperrors.ErrCodeMaxRetriesExceeded {
			record := &service.IdempotencyResponse{
				Operation:  operation,
				StatusCode: statusCode,
				Body:       data,
			}
			// the outcome is final even if the caller's deadline has passed
			if err := h.idempotency.Complete(context.WithoutCancel(ctx), scope, key, record); err != nil {
				h.logger.Warn("Failed to record idempotent response",
					zap.String("operation", operation),
					zap.String("request_id", requestID),
					zap.Error(err))
				h.releaseIdempotencyKey(ctx, operation, scope, key, requestID)
			}
		} else {
			h.releaseIdempotencyKey(ctx, operation, scope, key, requestID)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(append(data, '\n'))
}

// claimIdempotencyKey either reserves key for the caller (claimed), or
// returns the response recorded by the request that held it. While another
// request holds the key it polls, giving up with REQUEST_IN_PROGRESS after
// pendingWait. A store failure yields neither so the request runs unrecorded.
func (h *Handlers) claimIdempotencyKey(
	ctx context.Context,
	operation, scope, key, requestID string,
) (*service.IdempotencyResponse, bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, h.pendingWait)
	defer cancel()
	ticker := time.NewTicker(h.pendingPoll)
	defer ticker.Stop()

	for {
		reserved, err := h.idempotency.Reserve(ctx, scope, key, operation)
		if err != nil {
			h.logger.Warn("Idempotency reservation failed, executing request",
				zap.String("operation", operation),
				zap.String("request_id", requestID),
				zap.Error(err))
			return nil, false, nil
		}
		if reserved {
			return nil, true, nil
		}

		recorded, err := h.idempotency.Get(ctx, scope, key)
		if err != nil {
			h.logger.Warn("Idempotency lookup failed, executing request",
				zap.String("operation", operation),
				zap.String("request_id", requestID),
				zap.Error(err))
			return nil, false, nil
		}
		if recorded != nil && !recorded.Pending {
			return recorded, false, nil
		}

		// held by another request, or released between Reserve and Get
		select {
		case <-waitCtx.Done():
			h.logger.Info("Idempotency key still in progress",
				zap.String("operation", operation),
				zap.String("request_id", requestID))
			return nil, false, apperrors.RequestInProgress(operation)
		case <-ticker.C:
		}
	}
}

func (h *Handlers) releaseIdempotencyKey(ctx context.Context, operation, scope, key, requestID string) {
	if err := h.idempotency.Delete(context.WithoutCancel(ctx), scope, key); err != nil {
		h.logger.Warn("Failed to release idempotency key",
			zap.String("operation", operation),
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// writeVersioned writes resp with an ETag over the version and the encoded
// value, answering 304 when the client already holds that state.
func (h *Handlers) writeVersioned(w http.ResponseWriter, r *http.Request, version int64, value interface{}, resp interface{}) {
	encoded, err := json.Marshal(value)
	if err != nil {
		h.errorHandler.WriteInternalError(w, "failed to encode response", r.Header.Get("X-Request-ID"))
		return
	}

	etag := util.ETag(version, encoded)
	w.Header().Set("ETag", etag)
	if util.IfNoneMatch(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, resp)
}

// writeJSONResponse writes a JSON response.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

// decodeBody decodes a JSON request body, rejecting unknown fields and
// trailing data.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, maxRequestBodySize)); err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if buf.Len() == 0 {
		return fmt.Errorf("request body is required")
	}

	dec := json.NewDecoder(&buf)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid JSON body: trailing data")
	}
	return nil
}

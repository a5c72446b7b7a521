package handler

import (
	"time"

	"github.com/CS196Illinois/FA25-Group8/internal/model"
)

// CreateSessionRequest is the body of POST /v1/sessions
type CreateSessionRequest struct {
	SessionID string `json:"session_id"`
	Capacity  *int   `json:"capacity,omitempty"`
}

// JoinSessionRequest is the body of POST /v1/sessions/{session_id}/attendees
type JoinSessionRequest struct {
	UserID string `json:"user_id"`
}

// UpsertRatingRequest is the body of PUT /v1/locations/{location_id}/ratings/{user_id}
type UpsertRatingRequest struct {
	Score      *int    `json:"score"`
	ReviewText *string `json:"review_text,omitempty"`
}

// SessionResponse describes a session's attendance
type SessionResponse struct {
	Status        string   `json:"status"`
	SessionID     string   `json:"session_id"`
	Attendees     []string `json:"attendees"`
	AttendeeCount int      `json:"attendee_count"`
	Capacity      *int     `json:"capacity,omitempty"`
	IsFull        bool     `json:"is_full"`
	Version       int64    `json:"version"`
}

// RatingResponse is one user's rating
type RatingResponse struct {
	Score       int       `json:"score"`
	ReviewText  *string   `json:"review_text,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// LocationResponse describes a location's rating aggregate
type LocationResponse struct {
	Status       string                    `json:"status"`
	LocationID   string                    `json:"location_id"`
	AverageScore float64                   `json:"average_score"`
	TotalCount   int                       `json:"total_count"`
	Ratings      map[string]RatingResponse `json:"ratings,omitempty"`
	Version      int64                     `json:"version,omitempty"`
}

// TopRatedEntry is one row of the top-rated listing
type TopRatedEntry struct {
	LocationID   string  `json:"location_id"`
	AverageScore float64 `json:"average_score"`
	TotalCount   int     `json:"total_count"`
}

// TopRatedResponse is the body of GET /v1/locations/top
type TopRatedResponse struct {
	Status    string          `json:"status"`
	Locations []TopRatedEntry `json:"locations"`
}

func newSessionResponse(doc model.VersionedDocument[model.SessionAttendance]) SessionResponse {
	attendees := doc.Value.Attendees
	if attendees == nil {
		attendees = []string{}
	}
	sessionID := doc.Value.SessionID
	if sessionID == "" {
		sessionID = doc.ID
	}
	return SessionResponse{
		Status:        "success",
		SessionID:     sessionID,
		Attendees:     attendees,
		AttendeeCount: len(attendees),
		Capacity:      doc.Value.Capacity,
		IsFull:        doc.Value.IsFull,
		Version:       doc.Version,
	}
}

func newLocationResponse(doc model.VersionedDocument[model.LocationRatingAggregate]) LocationResponse {
	ratings := make(map[string]RatingResponse, len(doc.Value.Ratings))
	for userID, r := range doc.Value.Ratings {
		ratings[userID] = RatingResponse{
			Score:       r.Score,
			ReviewText:  r.ReviewText,
			SubmittedAt: r.SubmittedAt,
		}
	}
	locationID := doc.Value.LocationID
	if locationID == "" {
		locationID = doc.ID
	}
	return LocationResponse{
		Status:       "success",
		LocationID:   locationID,
		AverageScore: doc.Value.AverageScore,
		TotalCount:   doc.Value.TotalCount,
		Ratings:      ratings,
		Version:      doc.Version,
	}
}

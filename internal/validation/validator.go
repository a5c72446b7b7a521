// Package validation checks caller-supplied identifiers and rating input
// before they reach the transaction layer.
package validation

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/CS196Illinois/FA25-Group8/internal/errors"
	"github.com/CS196Illinois/FA25-Group8/internal/model"
)

const (
	// Size limits
	MaxIDSize         = 256
	MaxReviewTextSize = 4096 // runes
	MaxTopRatedLimit  = 100
)

// Validator validates coordination requests
type Validator struct {
	maxIDSize         int
	maxReviewTextSize int
	maxTopRatedLimit  int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxIDSize:         MaxIDSize,
		maxReviewTextSize: MaxReviewTextSize,
		maxTopRatedLimit:  MaxTopRatedLimit,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxIDSize, maxReviewTextSize, maxTopRatedLimit int) *Validator {
	return &Validator{
		maxIDSize:         maxIDSize,
		maxReviewTextSize: maxReviewTextSize,
		maxTopRatedLimit:  maxTopRatedLimit,
	}
}

// ValidateID validates an opaque identifier. field names the identifier in
// the error message (session_id, location_id, user_id).
func (v *Validator) ValidateID(field, id string) error {
	if id == "" {
		return apperrors.InvalidArgument(fmt.Sprintf("%s is required", field), nil).
			WithDetail("field", field)
	}

	if len(id) > v.maxIDSize {
		return apperrors.InvalidArgument(
			fmt.Sprintf("%s exceeds maximum size of %d bytes", field, v.maxIDSize), nil).
			WithDetail("field", field)
	}

	if !utf8.ValidString(id) {
		return apperrors.InvalidArgument(fmt.Sprintf("%s must be valid UTF-8", field), nil).
			WithDetail("field", field)
	}

	// Control characters (including null bytes) are rejected
	for _, r := range id {
		if unicode.IsControl(r) {
			return apperrors.InvalidArgument(fmt.Sprintf("%s cannot contain control characters", field), nil).
				WithDetail("field", field)
		}
	}

	return nil
}

// ValidateIDs validates several field/id pairs in order
func (v *Validator) ValidateIDs(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := v.ValidateID(pairs[i], pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateScore checks 1 <= score <= 5
func (v *Validator) ValidateScore(score int) error {
	if score < model.MinScore || score > model.MaxScore {
		return apperrors.InvalidScore(score)
	}
	return nil
}

// ValidateReviewText checks the optional review text
func (v *Validator) ValidateReviewText(text *string) error {
	if text == nil {
		return nil
	}
	if !utf8.ValidString(*text) {
		return apperrors.InvalidArgument("review_text must be valid UTF-8", nil)
	}
	if n := utf8.RuneCountInString(*text); n > v.maxReviewTextSize {
		return apperrors.InvalidArgument(
			fmt.Sprintf("review_text exceeds maximum length of %d characters", v.maxReviewTextSize), nil).
			WithDetail("length", n)
	}
	return nil
}

// ValidateCapacity checks an optional session capacity
func (v *Validator) ValidateCapacity(capacity *int) error {
	if capacity != nil && *capacity <= 0 {
		return apperrors.InvalidArgument("capacity must be a positive integer", nil).
			WithDetail("capacity", *capacity)
	}
	return nil
}

// ValidateLimit checks the page size of a top-rated query
func (v *Validator) ValidateLimit(limit int) error {
	if limit <= 0 || limit > v.maxTopRatedLimit {
		return apperrors.InvalidArgument(
			fmt.Sprintf("limit must be between 1 and %d", v.maxTopRatedLimit), nil).
			WithDetail("limit", limit)
	}
	return nil
}

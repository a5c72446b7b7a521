package validation

import (
	"strings"
	"testing"

	apperrors "github.com/CS196Illinois/FA25-Group8/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "session-42", false},
		{"unicode", "café-study", false},
		{"uuid", "2f1d6c1e-8a51-4a0e-9b2c-1c3d4e5f6a7b", false},
		{"empty", "", true},
		{"too long", strings.Repeat("x", MaxIDSize+1), true},
		{"max length", strings.Repeat("x", MaxIDSize), false},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
		{"null byte", "a\x00b", true},
		{"newline", "a\nb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateID("session_id", tt.id)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))
			assert.Contains(t, err.Error(), "session_id")
		})
	}
}

func TestValidateIDs(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateIDs("session_id", "s1", "user_id", "u1"))

	err := v.ValidateIDs("session_id", "s1", "user_id", "")
	assert.ErrorContains(t, err, "user_id")
}

func TestValidateScore(t *testing.T) {
	v := NewValidator()
	for score := 1; score <= 5; score++ {
		assert.NoError(t, v.ValidateScore(score))
	}
	for _, score := range []int{0, 6, -1, 100} {
		assert.True(t, apperrors.Is(v.ValidateScore(score), apperrors.ErrInvalidScore), "score %d", score)
	}
}

func TestValidateReviewText(t *testing.T) {
	v := NewValidatorWithLimits(MaxIDSize, 5, MaxTopRatedLimit)

	assert.NoError(t, v.ValidateReviewText(nil))
	ok := "héllo"
	assert.NoError(t, v.ValidateReviewText(&ok), "limit counts runes, not bytes")
	long := "toolong"
	assert.Error(t, v.ValidateReviewText(&long))
	bad := string([]byte{0xff})
	assert.Error(t, v.ValidateReviewText(&bad))
}

func TestValidateCapacity(t *testing.T) {
	v := NewValidator()
	one, zero, negative := 1, 0, -3

	assert.NoError(t, v.ValidateCapacity(nil))
	assert.NoError(t, v.ValidateCapacity(&one))
	assert.Error(t, v.ValidateCapacity(&zero))
	assert.Error(t, v.ValidateCapacity(&negative))
}

func TestValidateLimit(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateLimit(1))
	assert.NoError(t, v.ValidateLimit(MaxTopRatedLimit))
	assert.Error(t, v.ValidateLimit(0))
	assert.Error(t, v.ValidateLimit(MaxTopRatedLimit+1))
}

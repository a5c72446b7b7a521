package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestNewSessionAttendance(t *testing.T) {
	open := NewSessionAttendance("s1", nil)
	assert.Empty(t, open.Attendees)
	assert.NotNil(t, open.Attendees)
	assert.False(t, open.IsFull)
	assert.False(t, open.AtCapacity())

	capacity := 2
	bounded := NewSessionAttendance("s2", &capacity)
	capacity = 10
	assert.Equal(t, 2, *bounded.Capacity, "capacity is copied")
}

func TestSessionAttendance_WithAttendee(t *testing.T) {
	s := NewSessionAttendance("s1", intPtr(3))

	s1 := s.WithAttendee("carol")
	s2 := s1.WithAttendee("alice").WithAttendee("bob")

	assert.Empty(t, s.Attendees, "original untouched")
	assert.Equal(t, []string{"carol"}, s1.Attendees)
	assert.Equal(t, []string{"alice", "bob", "carol"}, s2.Attendees)
	assert.True(t, s2.IsFull)
	assert.True(t, s2.AtCapacity())
	assert.True(t, s2.HasAttendee("bob"))
	assert.False(t, s2.HasAttendee("dave"))

	assert.Equal(t, s2.Attendees, s2.WithAttendee("bob").Attendees, "adding twice is a no-op")
}

func TestSessionAttendance_WithoutAttendee(t *testing.T) {
	s := NewSessionAttendance("s1", intPtr(2)).WithAttendee("a").WithAttendee("b")
	require.True(t, s.IsFull)

	out := s.WithoutAttendee("a")
	assert.Equal(t, []string{"b"}, out.Attendees)
	assert.False(t, out.IsFull)
	assert.Equal(t, []string{"a", "b"}, s.Attendees, "original untouched")

	assert.Equal(t, []string{"b"}, out.WithoutAttendee("zzz").Attendees)
}

func TestSessionAttendance_Normalized(t *testing.T) {
	s := SessionAttendance{
		SessionID: "s1",
		Attendees: []string{"c", "a", "c", "b", "a"},
		Capacity:  intPtr(3),
		IsFull:    false,
	}

	n := s.Normalized()
	assert.Equal(t, []string{"a", "b", "c"}, n.Attendees)
	assert.True(t, n.IsFull)
	assert.Equal(t, []string{"c", "a", "c", "b", "a"}, s.Attendees, "original untouched")
}

func TestSessionAttendance_ComputeIsFullOverCapacity(t *testing.T) {
	// capacity shrunk below the attendee count by an external writer
	s := SessionAttendance{Attendees: []string{"a", "b", "c"}, Capacity: intPtr(2)}
	assert.False(t, s.ComputeIsFull())
	assert.True(t, s.AtCapacity())
}

func TestSessionAttendance_JSON(t *testing.T) {
	s := NewSessionAttendance("s1", nil).WithAttendee("u1")
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_id":"s1","attendees":["u1"],"is_full":false}`, string(data))
}

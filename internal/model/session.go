package model

import "sort"

// SessionCollection is the document collection holding study sessions
const SessionCollection = "sessions"

// SessionAttendance is the attendance slice of a study session document.
// Attendees is kept sorted so the encoded form is deterministic.
type SessionAttendance struct {
	SessionID string   `json:"session_id"`
	Attendees []string `json:"attendees"`
	Capacity  *int     `json:"capacity,omitempty"`
	IsFull    bool     `json:"is_full"`
}

// NewSessionAttendance creates an empty session with an optional capacity
func NewSessionAttendance(sessionID string, capacity *int) SessionAttendance {
	s := SessionAttendance{
		SessionID: sessionID,
		Attendees: []string{},
	}
	if capacity != nil {
		c := *capacity
		s.Capacity = &c
	}
	s.IsFull = s.ComputeIsFull()
	return s
}

// HasAttendee reports whether userID is in the attendee set
func (s SessionAttendance) HasAttendee(userID string) bool {
	i := sort.SearchStrings(s.Attendees, userID)
	return i < len(s.Attendees) && s.Attendees[i] == userID
}

// AtCapacity reports whether no further attendee can be admitted
func (s SessionAttendance) AtCapacity() bool {
	return s.Capacity != nil && len(s.Attendees) >= *s.Capacity
}

// ComputeIsFull derives isFull from capacity and the current attendee count
func (s SessionAttendance) ComputeIsFull() bool {
	return s.Capacity != nil && len(s.Attendees) == *s.Capacity
}

// WithAttendee returns a copy with userID inserted in sorted position.
func (s SessionAttendance) WithAttendee(userID string) SessionAttendance {
	out := s.copy()
	i := sort.SearchStrings(out.Attendees, userID)
	if i < len(out.Attendees) && out.Attendees[i] == userID {
		return out
	}
	out.Attendees = append(out.Attendees, "")
	copy(out.Attendees[i+1:], out.Attendees[i:])
	out.Attendees[i] = userID
	out.IsFull = out.ComputeIsFull()
	return out
}

// WithoutAttendee returns a copy with userID removed.
func (s SessionAttendance) WithoutAttendee(userID string) SessionAttendance {
	out := s.copy()
	i := sort.SearchStrings(out.Attendees, userID)
	if i < len(out.Attendees) && out.Attendees[i] == userID {
		out.Attendees = append(out.Attendees[:i], out.Attendees[i+1:]...)
	}
	out.IsFull = out.ComputeIsFull()
	return out
}

func (s SessionAttendance) copy() SessionAttendance {
	out := s
	out.Attendees = append(make([]string, 0, len(s.Attendees)+1), s.Attendees...)
	if s.Capacity != nil {
		c := *s.Capacity
		out.Capacity = &c
	}
	return out
}

// Normalized returns a copy with attendees sorted and de-duplicated and
// isFull derived again. Documents written by other clients may not keep
// the sorted form.
func (s SessionAttendance) Normalized() SessionAttendance {
	out := s.copy()
	sort.Strings(out.Attendees)
	unique := out.Attendees[:0]
	for _, a := range out.Attendees {
		if len(unique) == 0 || a != unique[len(unique)-1] {
			unique = append(unique, a)
		}
	}
	out.Attendees = unique
	out.IsFull = out.ComputeIsFull()
	return out
}

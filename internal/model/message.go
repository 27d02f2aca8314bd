// Package model defines the core data types for the memory processing
// engine: input messages, extracted emotional memories, batches, and the
// scoring/threshold structures that travel between pipeline stages.
package model

import "time"

// Message is a single conversational message supplied by the upstream
// message store. Immutable; ordered by Timestamp within a conversation.
type Message struct {
	ID             string
	ConversationID string
	AuthorID       string
	Timestamp      time.Time
	Text           string
}

// ParticipantRole classifies a participant's relationship to the subject.
type ParticipantRole string

const (
	RoleSelf         ParticipantRole = "self"
	RolePartner      ParticipantRole = "partner"
	RoleFamily       ParticipantRole = "family"
	RoleFriend       ParticipantRole = "friend"
	RoleColleague    ParticipantRole = "colleague"
	RoleProfessional ParticipantRole = "professional"
	RoleOther        ParticipantRole = "other"
)

// CloseTie reports whether the role represents a close personal tie.
// Close ties boost relationship impact scoring.
func (r ParticipantRole) CloseTie() bool {
	return r == RolePartner || r == RoleFamily
}

// Participant identifies one person in a conversation.
type Participant struct {
	ID          string
	DisplayName string
	Role        ParticipantRole
}

// ParticipantIDs returns the sorted-stable id list for a participant set.
// Callers that need deterministic ordering sort the result themselves.
func ParticipantIDs(ps []Participant) []string {
	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	return ids
}

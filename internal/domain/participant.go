// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxParticipantIDLen = 36

var ErrParticipantIDTooLong = errors.New("participant id too long")

type ParticipantID string

// Participant is the identity a connection joined with.
type Participant struct {
	ID ParticipantID `json:"id"`
}

// NewParticipant validates raw; an empty id gets a generated guest id.
func NewParticipant(raw string) (*Participant, error) {
	if len(raw) > MaxParticipantIDLen {
		return nil, ErrParticipantIDTooLong
	}
	if raw == "" {
		raw = "guest-" + uuid.NewString()[:8]
	}
	return &Participant{ID: ParticipantID(raw)}, nil
}

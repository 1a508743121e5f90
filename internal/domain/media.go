package domain

import "github.com/google/uuid"

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

type TransportKind string

const (
	TransportSend    TransportKind = "send"
	TransportReceive TransportKind = "receive"
)

type (
	TransportID string
	ProducerID  string
	ConsumerID  string
)

type TransportState string

const (
	TransportCreated   TransportState = "created"
	TransportConnected TransportState = "connected"
	TransportClosed    TransportState = "closed"
)

type ProducerState string

const (
	ProducerActive ProducerState = "active"
	ProducerClosed ProducerState = "closed"
)

type ConsumerState string

const (
	ConsumerPaused ConsumerState = "paused"
	ConsumerActive ConsumerState = "active"
	ConsumerClosed ConsumerState = "closed"
)

// NewID returns a fresh random object id for engines that do not mint their own.
func NewID() string { return uuid.NewString() }

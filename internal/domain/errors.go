package domain

import "errors"

// Protocol-level rejections. Each maps to the reason string returned to the
// requesting peer; none of them affects other peers or room state.
var (
	ErrRoomCreationFailed    = errors.New("RoomCreationFailed")
	ErrDuplicateTransport    = errors.New("DuplicateTransport")
	ErrDuplicateProducer     = errors.New("DuplicateProducer")
	ErrTransportNotReady     = errors.New("TransportNotReady")
	ErrUnknownConsumer       = errors.New("UnknownConsumer")
	ErrUnknownProducer       = errors.New("UnknownProducer")
	ErrUnknownTransport      = errors.New("UnknownTransport")
	ErrInvalidTransportState = errors.New("InvalidTransportState")
	ErrInvalidKind           = errors.New("InvalidKind")
	ErrOwnProducer           = errors.New("OwnProducer")
	ErrPeerGone              = errors.New("PeerGone")
	ErrNotJoined             = errors.New("NotJoined")
	ErrUnsupported           = errors.New("Unsupported")

	// Rejections raised by the signaling adapter before a request reaches
	// the orchestrator.
	ErrBadPayload     = errors.New("BadPayload")
	ErrRateLimited    = errors.New("RateLimited")
	ErrUnknownMessage = errors.New("UnknownMessage")
)

var reasons = []error{
	ErrRoomCreationFailed,
	ErrDuplicateTransport,
	ErrDuplicateProducer,
	ErrTransportNotReady,
	ErrUnknownConsumer,
	ErrUnknownProducer,
	ErrUnknownTransport,
	ErrInvalidTransportState,
	ErrInvalidKind,
	ErrOwnProducer,
	ErrPeerGone,
	ErrNotJoined,
	ErrUnsupported,
	ErrBadPayload,
	ErrRateLimited,
	ErrUnknownMessage,
}

// Reason maps err to the reason string sent inline to the peer.
// Anything outside the taxonomy is reported as "Internal".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r) {
			return r.Error()
		}
	}
	return "Internal"
}

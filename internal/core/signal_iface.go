package core

// SessionID identifies one signaling connection.
type SessionID string

// Notification is a server-initiated message with no acknowledgement.
type Notification struct {
	Type string `json:"type" msgpack:"type"`
	Data any    `json:"data" msgpack:"data"`
}

const (
	NotifyRoutingCapabilities = "routingCapabilities"
	NotifyNewProducer         = "newProducer"
	NotifyProducerClosed      = "producerClosed"
	NotifyConsumerClosed      = "consumerClosed"
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Notification) error
	Close()
}

type ProducerInfo struct {
	ProducerID         string `json:"producerId" msgpack:"producerId"`
	OwnerParticipantID string `json:"ownerParticipantId" msgpack:"ownerParticipantId"`
	Kind               string `json:"kind" msgpack:"kind"`
}

type RoutingCapabilitiesData struct {
	Capabilities Params         `json:"capabilities" msgpack:"capabilities"`
	Producers    []ProducerInfo `json:"producers" msgpack:"producers"`
}

type ProducerClosedData struct {
	ProducerID string `json:"producerId" msgpack:"producerId"`
}

type ConsumerClosedData struct {
	ConsumerID string `json:"consumerId" msgpack:"consumerId"`
	ProducerID string `json:"producerId" msgpack:"producerId"`
}

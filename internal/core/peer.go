package core

import "github.com/dkeye/Huddle/internal/domain"

// Producer is a registered outbound track. State is guarded by the room lock.
type Producer struct {
	media     MediaProducer
	kind      domain.MediaKind
	owner     *PeerSession
	state     domain.ProducerState
	consumers map[domain.ConsumerID]*Consumer
}

func (p *Producer) ID() domain.ProducerID  { return p.media.ID() }
func (p *Producer) Kind() domain.MediaKind { return p.kind }
func (p *Producer) Owner() SessionID       { return p.owner.sid }
func (p *Producer) Media() MediaProducer   { return p.media }

func (p *Producer) info() ProducerInfo {
	return ProducerInfo{
		ProducerID:         string(p.ID()),
		OwnerParticipantID: string(p.owner.participant.ID),
		Kind:               string(p.Kind()),
	}
}

// Consumer is a subscription of one peer to a remote producer.
type Consumer struct {
	media    MediaConsumer
	owner    *PeerSession
	producer *Producer
	state    domain.ConsumerState
}

func (c *Consumer) ID() domain.ConsumerID         { return c.media.ID() }
func (c *Consumer) ProducerID() domain.ProducerID { return c.producer.ID() }
func (c *Consumer) Owner() SessionID              { return c.owner.sid }
func (c *Consumer) Media() MediaConsumer          { return c.media }

// PeerSession aggregates one participant's transports, producers and
// consumers. It is owned by exactly one room and every field is guarded by
// that room's lock.
type PeerSession struct {
	sid         SessionID
	participant *domain.Participant
	signal      SignalConnection

	transports map[domain.TransportKind]*Transport
	producers  map[domain.MediaKind]*Producer
	consumers  map[domain.ConsumerID]*Consumer

	// Slots reserved while the engine call that fills them is in flight.
	pendingTransports map[domain.TransportKind]bool
	pendingProducers  map[domain.MediaKind]bool

	gone bool
}

func NewPeerSession(sid SessionID, participant *domain.Participant, signal SignalConnection) *PeerSession {
	return &PeerSession{
		sid:               sid,
		participant:       participant,
		signal:            signal,
		transports:        make(map[domain.TransportKind]*Transport),
		producers:         make(map[domain.MediaKind]*Producer),
		consumers:         make(map[domain.ConsumerID]*Consumer),
		pendingTransports: make(map[domain.TransportKind]bool),
		pendingProducers:  make(map[domain.MediaKind]bool),
	}
}

func (p *PeerSession) SID() SessionID                   { return p.sid }
func (p *PeerSession) Participant() *domain.Participant { return p.participant }
func (p *PeerSession) Signal() SignalConnection         { return p.signal }

// Teardown is everything a departed peer owned, in cleanup order.
type Teardown struct {
	Peer *PeerSession
	// Producers of the peer, each with the remote consumers subscribed to it.
	Producers []ClosedProducer
	// Consumers the peer itself owned.
	Consumers  []*Consumer
	Transports []*Transport
	// Remaining peers in the room after removal.
	Remaining int
}

// ClosedProducer is a producer detached from the room together with the
// remote consumers that referenced it.
type ClosedProducer struct {
	Producer  *Producer
	Consumers []*Consumer
	// Notify lists the peers that still need to hear about the close.
	Notify []*PeerSession
}

// Package protocol defines the signaling wire format shared by the server
// adapter and the client coordinator: envelopes, message names, payloads
// and the frame codecs.
package protocol

import "github.com/dkeye/Huddle/internal/core"

// Requests sent by a peer. Every request gets exactly one response with the
// same id.
const (
	CreateSendTransport         = "createSendTransport"
	CreateReceiveTransport      = "createReceiveTransport"
	ConnectSendTransport        = "connectSendTransport"
	ConnectReceiveTransport     = "connectReceiveTransport"
	RenegotiateReceiveTransport = "renegotiateReceiveTransport"
	Produce                     = "produce"
	CloseProducer               = "closeProducer"
	Consume                     = "consume"
	ResumeConsumer              = "resumeConsumer"
	Ping                        = "ping"
)

const (
	TypeResponse = "response"
	// JoinFailed is sent instead of routingCapabilities when the implicit
	// join is rejected; the server closes the connection afterwards.
	JoinFailed = "joinFailed"
)

type Request struct {
	ID   uint64 `json:"id" msgpack:"id"`
	Type string `json:"type" msgpack:"type"`
	Data any    `json:"data,omitempty" msgpack:"data,omitempty"`
}

type Response struct {
	ID    uint64 `json:"id" msgpack:"id"`
	Type  string `json:"type" msgpack:"type"`
	OK    bool   `json:"ok" msgpack:"ok"`
	Data  any    `json:"data,omitempty" msgpack:"data,omitempty"`
	Error string `json:"error,omitempty" msgpack:"error,omitempty"`
}

func OK(id uint64, data any) Response {
	if data == nil {
		data = struct{}{}
	}
	return Response{ID: id, Type: TypeResponse, OK: true, Data: data}
}

func Fail(id uint64, reason string) Response {
	return Response{ID: id, Type: TypeResponse, Error: reason}
}

type TransportInfo struct {
	TransportID   string      `json:"transportId" msgpack:"transportId"`
	ConnectParams core.Params `json:"connectParams" msgpack:"connectParams"`
}

type Handshake struct {
	HandshakeParams core.Params `json:"handshakeParams" msgpack:"handshakeParams"`
}

type ProduceRequest struct {
	Kind        string      `json:"kind" msgpack:"kind"`
	TrackParams core.Params `json:"trackParams,omitempty" msgpack:"trackParams,omitempty"`
}

type ProducerResult struct {
	ProducerID string `json:"producerId" msgpack:"producerId"`
}

type CloseProducerRequest struct {
	ProducerID string `json:"producerId" msgpack:"producerId"`
}

type ConsumeRequest struct {
	ProducerID           string      `json:"producerId" msgpack:"producerId"`
	ReceiverCapabilities core.Params `json:"receiverCapabilities,omitempty" msgpack:"receiverCapabilities,omitempty"`
}

type ConsumerInfo struct {
	ConsumerID  string      `json:"consumerId" msgpack:"consumerId"`
	ProducerID  string      `json:"producerId" msgpack:"producerId"`
	Kind        string      `json:"kind" msgpack:"kind"`
	TrackParams core.Params `json:"trackParams" msgpack:"trackParams"`
}

type ResumeConsumerRequest struct {
	ConsumerID string `json:"consumerId" msgpack:"consumerId"`
}

type JoinFailedData struct {
	Error string `json:"error" msgpack:"error"`
}

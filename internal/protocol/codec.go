package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrUnknownCodec = errors.New("unknown codec")

// Frame is a decoded envelope whose data has not been decoded yet. It covers
// requests, responses and notifications.
type Frame struct {
	ID    uint64
	Type  string
	OK    bool
	Error string

	data   []byte
	decode func([]byte, any) error
}

// Decode unmarshals the frame data into v. A frame without data leaves v
// untouched.
func (f Frame) Decode(v any) error {
	if len(f.data) == 0 {
		return nil
	}
	return f.decode(f.data, v)
}

// Codec turns envelopes into websocket frames and back.
type Codec interface {
	Name() string
	// MessageType is the websocket frame type the codec writes.
	MessageType() int
	Marshal(v any) ([]byte, error)
	Unmarshal(frame []byte) (Frame, error)
}

// CodecByName resolves the codec query parameter. Empty means JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", JSON.Name():
		return JSON, nil
	case Msgpack.Name():
		return Msgpack, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

type jsonCodec struct{}

func (jsonCodec) Name() string                  { return "json" }
func (jsonCodec) MessageType() int              { return websocket.TextMessage }
func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(frame []byte) (Frame, error) {
	var env struct {
		ID    uint64          `json:"id"`
		Type  string          `json:"type"`
		OK    bool            `json:"ok"`
		Error string          `json:"error"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return Frame{}, err
	}
	if bytes.Equal(env.Data, []byte("null")) {
		env.Data = nil
	}
	return Frame{
		ID:     env.ID,
		Type:   env.Type,
		OK:     env.OK,
		Error:  env.Error,
		data:   env.Data,
		decode: json.Unmarshal,
	}, nil
}

// msgpackCodec carries opaque engine params as binary blobs holding the
// engine's JSON.
type msgpackCodec struct{}

func (msgpackCodec) Name() string                  { return "msgpack" }
func (msgpackCodec) MessageType() int              { return websocket.BinaryMessage }
func (msgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (msgpackCodec) Unmarshal(frame []byte) (Frame, error) {
	var env struct {
		ID    uint64             `msgpack:"id"`
		Type  string             `msgpack:"type"`
		OK    bool               `msgpack:"ok"`
		Error string             `msgpack:"error"`
		Data  msgpack.RawMessage `msgpack:"data"`
	}
	if err := msgpack.Unmarshal(frame, &env); err != nil {
		return Frame{}, err
	}
	// msgpack nil
	if len(env.Data) == 1 && env.Data[0] == 0xc0 {
		env.Data = nil
	}
	return Frame{
		ID:     env.ID,
		Type:   env.Type,
		OK:     env.OK,
		Error:  env.Error,
		data:   env.Data,
		decode: msgpack.Unmarshal,
	}, nil
}

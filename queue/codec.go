package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/export"
	"github.com/xraph/export/id"
)

// Codec serializes messages for broker-backed queues.
type Codec interface {
	// Encode serializes a message to bytes.
	Encode(m *Message) ([]byte, error)

	// Decode deserializes bytes into a message.
	Decode(data []byte) (*Message, error)

	// Name returns the codec identifier ("json" or "msgpack").
	Name() string
}

// Codec names.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. Defaults to JSON.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameMsgpack:
		return MsgpackCodec{}
	default:
		return JSONCodec{}
	}
}

// JSONCodec encodes messages as JSON.
type JSONCodec struct{}

// Encode implements Codec.
func (JSONCodec) Encode(m *Message) ([]byte, error) { return json.Marshal(m) }

// Decode implements Codec.
func (JSONCodec) Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("queue: decode json message: %w", err)
	}
	return &m, nil
}

// Name implements Codec.
func (JSONCodec) Name() string { return CodecNameJSON }

// wireMessage is the MessagePack layout. The job ID travels as its
// string form.
type wireMessage struct {
	JobID      string          `msgpack:"job_id"`
	TenantID   string          `msgpack:"tenant_id"`
	Filters    *export.Filters `msgpack:"filters"`
	ActorID    string          `msgpack:"actor_id,omitempty"`
	EnqueuedAt time.Time       `msgpack:"enqueued_at"`
}

// MsgpackCodec encodes messages as MessagePack.
type MsgpackCodec struct{}

// Encode implements Codec.
func (MsgpackCodec) Encode(m *Message) ([]byte, error) {
	return msgpack.Marshal(&wireMessage{
		JobID:      m.JobID.String(),
		TenantID:   m.TenantID,
		Filters:    m.Filters,
		ActorID:    m.ActorID,
		EnqueuedAt: m.EnqueuedAt,
	})
}

// Decode implements Codec.
func (MsgpackCodec) Decode(data []byte) (*Message, error) {
	var w wireMessage
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("queue: decode msgpack message: %w", err)
	}
	m := &Message{
		TenantID:   w.TenantID,
		Filters:    w.Filters,
		ActorID:    w.ActorID,
		EnqueuedAt: w.EnqueuedAt,
	}
	if w.JobID != "" {
		jobID, err := id.ParseExportID(w.JobID)
		if err != nil {
			return nil, fmt.Errorf("queue: decode msgpack message: %w", err)
		}
		m.JobID = jobID
	}
	return m, nil
}

// Name implements Codec.
func (MsgpackCodec) Name() string { return CodecNameMsgpack }

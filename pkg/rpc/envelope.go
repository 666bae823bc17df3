package rpc

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

// ContentType of call and reply bodies.
const ContentType = "application/json"

// Envelope is the body of a call: which operation to run and the
// identifier it runs against. Unknown fields are ignored on decode so new
// call kinds can carry more without breaking existing responders.
type Envelope struct {
	Kind string      `json:"kind"`
	ID   interface{} `json:"id,omitempty"`
}

// NewEnvelope returns an envelope for kind and id.
func NewEnvelope(kind string, id interface{}) Envelope {
	return Envelope{Kind: kind, ID: id}
}

// Marshal encodes the envelope as JSON.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a call body. Older publishers name the kind field
// "type"; both spellings are accepted. Numbers are kept as json.Number. The
// body must hold exactly one JSON object.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var raw struct {
		Kind string      `json:"kind"`
		Type string      `json:"type"`
		ID   interface{} `json:"id"`
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Envelope{}, errors.Wrap(ErrMalformedEnvelope, err.Error())
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, errors.Wrap(ErrMalformedEnvelope, "trailing data after envelope")
	}

	kind := raw.Kind
	if kind == "" {
		kind = raw.Type
	}
	if kind == "" {
		return Envelope{}, errors.Wrap(ErrMalformedEnvelope, "missing kind")
	}

	return Envelope{Kind: kind, ID: raw.ID}, nil
}

// Call is an inbound call. It is either FireAndForget or RequestReply.
type Call interface {
	Envelope() Envelope
	isCall()
}

// FireAndForget is a call that carries no reply address.
type FireAndForget struct {
	Env Envelope
}

// Envelope implements Call.
func (c FireAndForget) Envelope() Envelope { return c.Env }

func (FireAndForget) isCall() {}

// RequestReply is a call whose result goes to ReplyTo, tagged with
// CorrelationID.
type RequestReply struct {
	Env           Envelope
	CorrelationID string
	ReplyTo       string
}

// Envelope implements Call.
func (c RequestReply) Envelope() Envelope { return c.Env }

func (RequestReply) isCall() {}

// ParseCall builds a Call from a delivery. Only a delivery with both a
// reply address and a correlation id expects a reply.
func ParseCall(d amqp.Delivery) (Call, error) {
	env, err := DecodeEnvelope(d.Body)
	if err != nil {
		return nil, err
	}

	if d.ReplyTo != "" && d.CorrelationId != "" {
		return RequestReply{Env: env, CorrelationID: d.CorrelationId, ReplyTo: d.ReplyTo}, nil
	}
	return FireAndForget{Env: env}, nil
}

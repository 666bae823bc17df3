package rpc

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind string
		wantID   string
		wantErr  bool
	}{
		{name: "kind", body: `{"kind":"getUser","id":42}`, wantKind: "getUser", wantID: "42"},
		{name: "legacy type field", body: `{"type":"getUser","id":7}`, wantKind: "getUser", wantID: "7"},
		{name: "kind wins over type", body: `{"kind":"a","type":"b","id":1}`, wantKind: "a", wantID: "1"},
		{name: "string id", body: `{"kind":"getUser","id":"9"}`, wantKind: "getUser", wantID: "9"},
		{name: "extra fields ignored", body: `{"kind":"getUser","id":3,"trace":"x"}`, wantKind: "getUser", wantID: "3"},
		{name: "missing kind", body: `{"id":3}`, wantErr: true},
		{name: "not json", body: `getUser 3`, wantErr: true},
		{name: "array", body: `[1,2]`, wantErr: true},
		{name: "empty", body: ``, wantErr: true},
		{name: "trailing newline", body: "{\"kind\":\"getUser\",\"id\":5}\n", wantKind: "getUser", wantID: "5"},
		{name: "trailing garbage", body: `{"kind":"getUser","id":1}garbage`, wantErr: true},
		{name: "second object", body: `{"kind":"getUser","id":1}{"kind":"getUser","id":2}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedEnvelope) {
					t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.Kind != tt.wantKind {
				t.Fatalf("kind = %q, want %q", env.Kind, tt.wantKind)
			}
			var id string
			switch v := env.ID.(type) {
			case json.Number:
				id = v.String()
			case string:
				id = v
			}
			if id != tt.wantID {
				t.Fatalf("id = %q, want %q", id, tt.wantID)
			}
		})
	}
}

func TestEnvelopeMarshal(t *testing.T) {
	body, err := NewEnvelope("getUser", 42).Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(body) != `{"kind":"getUser","id":42}` {
		t.Fatalf("unexpected wire shape: %s", body)
	}
}

func TestParseCall(t *testing.T) {
	body := []byte(`{"kind":"getUser","id":1}`)

	call, err := ParseCall(amqp.Delivery{Body: body, ReplyTo: "amq.gen-1", CorrelationId: "c-1"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rr, ok := call.(RequestReply)
	if !ok {
		t.Fatalf("expected RequestReply, got %T", call)
	}
	if rr.ReplyTo != "amq.gen-1" || rr.CorrelationID != "c-1" {
		t.Fatalf("unexpected reply fields: %+v", rr)
	}

	for _, d := range []amqp.Delivery{
		{Body: body},
		{Body: body, ReplyTo: "amq.gen-1"},
		{Body: body, CorrelationId: "c-1"},
	} {
		call, err := ParseCall(d)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if _, ok := call.(FireAndForget); !ok {
			t.Fatalf("expected FireAndForget for %+v, got %T", d, call)
		}
	}
}

// Package task defines the wire envelope exchanged between producers and
// workers: a JSON object with a string "type" and an object "payload".
package task

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"unicode/utf8"

	"github.com/drblury/taskflow/internal/runtime/jsoncodec"
)

// Well-known task kinds handled by the built-in handlers.
const (
	KindEmail = "email"
	KindSMS   = "sms"
	KindPush  = "push"
)

// ErrMalformed classifies every envelope decode failure.
var ErrMalformed = errors.New("taskflow: malformed task")

// Reason names why a message could not be decoded into an envelope.
type Reason string

const (
	ReasonInvalidEncoding Reason = "invalid_encoding"
	ReasonMissingKind     Reason = "missing_kind"
	ReasonInvalidKind     Reason = "invalid_kind"
	ReasonInvalidPayload  Reason = "invalid_payload"
)

// MalformedError reports a message that is not a valid envelope.
type MalformedError struct {
	Reason Reason
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrMalformed, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", ErrMalformed, e.Reason, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

func malformed(reason Reason, err error) error {
	return &MalformedError{Reason: reason, Err: err}
}

// Envelope is an immutable task: a kind tag plus a kind-specific payload.
type Envelope struct {
	kind    string
	payload map[string]any
}

// New builds an envelope. The payload is cloned; a nil payload is empty.
func New(kind string, payload map[string]any) (Envelope, error) {
	if strings.TrimSpace(kind) == "" {
		return Envelope{}, errors.New("taskflow: task kind is required")
	}
	return Envelope{kind: kind, payload: clonePayload(payload)}, nil
}

// MustNew is New for static inputs; it panics on error.
func MustNew(kind string, payload map[string]any) Envelope {
	env, err := New(kind, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Kind returns the task kind tag.
func (e Envelope) Kind() string { return e.kind }

// Payload returns a deep copy of the payload.
func (e Envelope) Payload() map[string]any { return clonePayload(e.payload) }

// Field returns a top-level payload field.
func (e Envelope) Field(name string) (any, bool) {
	v, ok := e.payload[name]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Text returns a string payload field, or "" when absent or not a string.
func (e Envelope) Text(name string) string {
	s, _ := e.payload[name].(string)
	return s
}

// Decode converts the payload into out, typically a pointer to a struct.
func (e Envelope) Decode(out any) error {
	return jsoncodec.Convert(e.payload, out)
}

type wireEnvelope struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Encode renders the envelope as UTF-8 JSON.
func Encode(e Envelope) ([]byte, error) {
	if e.kind == "" {
		return nil, errors.New("taskflow: cannot encode task without kind")
	}
	payload := e.payload
	if payload == nil {
		payload = map[string]any{}
	}
	return jsoncodec.Marshal(wireEnvelope{Type: e.kind, Payload: payload})
}

// Decode parses raw message bytes. Unknown top-level fields are ignored. A
// missing or null payload decodes as empty. Every failure is a
// *MalformedError.
func Decode(raw []byte) (Envelope, error) {
	if !utf8.Valid(raw) {
		return Envelope{}, malformed(ReasonInvalidEncoding, errors.New("payload is not valid UTF-8"))
	}

	var doc map[string]any
	if err := jsoncodec.Unmarshal(raw, &doc); err != nil {
		return Envelope{}, malformed(ReasonInvalidEncoding, err)
	}
	if doc == nil {
		return Envelope{}, malformed(ReasonInvalidEncoding, errors.New("envelope is not a JSON object"))
	}

	rawKind, ok := doc["type"]
	if !ok || rawKind == nil {
		return Envelope{}, malformed(ReasonMissingKind, nil)
	}
	kind, ok := rawKind.(string)
	if !ok {
		return Envelope{}, malformed(ReasonInvalidKind, fmt.Errorf("type is %T, want string", rawKind))
	}

	var payload map[string]any
	switch p := doc["payload"].(type) {
	case nil:
		payload = map[string]any{}
	case map[string]any:
		payload = p
	default:
		return Envelope{}, malformed(ReasonInvalidPayload, fmt.Errorf("payload is %T, want object", p))
	}

	return Envelope{kind: kind, payload: payload}, nil
}

func clonePayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return clonePayload(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]string:
		return maps.Clone(t)
	default:
		return v
	}
}

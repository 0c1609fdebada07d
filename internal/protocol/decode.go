// Package protocol defines the wire contract between the chaos harness and
// the console: inbound envelopes decoded into a closed Event union, and the
// outbound commands the console may send.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for input that is not a valid envelope or
	// whose payload does not match the shape for its type.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for well-formed envelopes with a Type the
	// console does not handle. Callers ignore these.
	ErrUnknownType = errors.New("unknown message type")
)

// Envelope is one inbound message.
type Envelope struct {
	ID      string
	Type    string
	Payload json.RawMessage
}

// Decode parses raw into a typed Event.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env.Event()
}

// Event validates the envelope payload against its type and returns the
// typed event.
func (e *Envelope) Event() (Event, error) {
	switch e.Type {
	case TypeConfig:
		return e.decode(&ConfigPayload{})
	case TypeWorkerAction:
		p := &WorkerActionPayload{}
		if err := e.decodeInto(p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, fmt.Errorf("%w: %s without UserID", ErrMalformed, e.Type)
		}
		return p, nil
	case TypeTickGeneration:
		return e.decode(&TickGenerationPayload{})
	case TypeConvergence:
		return e.decode(&ConvergencePayload{})
	case TypeNetsplit:
		return e.decode(&NetsplitPayload{})
	case TypeFederationRequest:
		if e.ID == "" {
			return nil, fmt.Errorf("%w: %s without envelope ID", ErrMalformed, e.Type)
		}
		return e.decode(&FederationRequestPayload{ID: e.ID})
	case TypeRestart:
		p := &RestartPayload{}
		if err := e.decodeInto(p); err != nil {
			return nil, err
		}
		if p.Domain == "" {
			return nil, fmt.Errorf("%w: %s without Domain", ErrMalformed, e.Type)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
}

func (e *Envelope) decode(dst Event) (Event, error) {
	if err := e.decodeInto(dst); err != nil {
		return nil, err
	}
	return dst, nil
}

func (e *Envelope) decodeInto(dst Event) error {
	trimmed := bytes.TrimSpace(e.Payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: %s payload is not an object", ErrMalformed, e.Type)
	}
	if err := json.Unmarshal(trimmed, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

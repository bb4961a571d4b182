package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Payload is the packet body as stored: either plain serialized JSON or an
// authenticated-encryption envelope. Modeled as a closed sum type rather
// than a runtime-checked flag field.
type Payload interface {
	isPayload()
}

// PlainPayload carries unencrypted JSON.
type PlainPayload struct {
	Data json.RawMessage
}

func (PlainPayload) isPayload() {}

// EncryptedPayload carries an AES-GCM envelope. The auth tag stays appended
// to Data, as produced by Seal.
type EncryptedPayload struct {
	Data  []byte
	Nonce []byte
}

func (EncryptedPayload) isPayload() {}

// encryptedEnvelope is the on-disk / on-wire shape of EncryptedPayload.
type encryptedEnvelope struct {
	Encrypted bool   `json:"encrypted"`
	Data      []byte `json:"data"`
	Nonce     []byte `json:"nonce"`
}

var ErrNilPayload = errors.New("nil payload")

// MarshalPayload serializes a payload for storage. Plain payloads pass
// through as raw JSON; encrypted ones become {"encrypted":true,...}.
func MarshalPayload(p Payload) ([]byte, error) {
	switch v := p.(type) {
	case PlainPayload:
		if len(v.Data) == 0 {
			return []byte("null"), nil
		}
		return v.Data, nil
	case EncryptedPayload:
		return json.Marshal(encryptedEnvelope{Encrypted: true, Data: v.Data, Nonce: v.Nonce})
	case nil:
		return nil, ErrNilPayload
	default:
		return nil, fmt.Errorf("unknown payload variant %T", p)
	}
}

// UnmarshalPayload reconstructs the payload variant from stored bytes.
// Anything that is not a well-formed encrypted envelope is treated as plain.
func UnmarshalPayload(b []byte) (Payload, error) {
	if len(b) == 0 {
		return PlainPayload{}, nil
	}
	var env encryptedEnvelope
	if err := json.Unmarshal(b, &env); err == nil && env.Encrypted && len(env.Nonce) > 0 {
		return EncryptedPayload{Data: env.Data, Nonce: env.Nonce}, nil
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	raw := make(json.RawMessage, len(b))
	copy(raw, b)
	return PlainPayload{Data: raw}, nil
}

package models

import (
	"encoding/json"
	"time"
)

// Kind classifies the payload of a packet.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindContext      Kind = "context"
	KindSystemPrompt Kind = "system_prompt"
	// KindOpaque preserves payloads of unknown shape for forward
	// compatibility; their full object is kept in Envelope.Opaque.
	KindOpaque Kind = "opaque"
)

// Envelope is the decrypted, typed view of a packet payload: a tagged
// union with exactly one kind-specific field set, plus fields shared by
// every kind (title, fork metadata).
type Envelope struct {
	Kind  Kind   `json:"kind,omitempty"`
	Title string `json:"title,omitempty"`

	Conversation *ConversationPayload `json:"conversation,omitempty"`
	Context      *ContextPayload      `json:"context,omitempty"`
	SystemPrompt *SystemPromptPayload `json:"systemPrompt,omitempty"`
	Opaque       map[string]any       `json:"data,omitempty"`

	// Fork is set on packets created by conflict resolution.
	Fork *ForkInfo `json:"fork,omitempty"`
}

// ForkInfo annotates a packet forked during merge conflict resolution.
type ForkInfo struct {
	ForkedFrom    string    `json:"forkedFrom"`
	OriginalTitle string    `json:"originalTitle"`
	ForkedByUser  string    `json:"forkedByUser"`
	ForkedAt      time.Time `json:"forkedAt"`
}

// Message is one ordered entry of a conversation.
type Message struct {
	Actor       string    `json:"actor"`
	Timestamp   time.Time `json:"timestamp"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments,omitempty"`
	ModelID     string    `json:"modelId,omitempty"`
}

// ConversationPayload is an ordered chat transcript with denormalized
// convenience fields.
type ConversationPayload struct {
	Messages     []Message `json:"messages"`
	Archived     bool      `json:"archived,omitempty"`
	Favorite     bool      `json:"favorite,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	// Models lists the model ids used across the conversation. May be
	// stored explicitly; ModelsUsed falls back to computing it.
	Models []string `json:"models,omitempty"`
}

// ModelsUsed returns the stored model list, or computes the distinct model
// ids appearing in the messages when none was stored.
func (c *ConversationPayload) ModelsUsed() []string {
	if len(c.Models) > 0 {
		return c.Models
	}
	seen := make(map[string]struct{})
	var out []string
	for _, m := range c.Messages {
		if m.ModelID == "" {
			continue
		}
		if _, ok := seen[m.ModelID]; ok {
			continue
		}
		seen[m.ModelID] = struct{}{}
		out = append(out, m.ModelID)
	}
	return out
}

// ContextPayload stores reusable prompt context.
type ContextPayload struct {
	Body        string   `json:"body"`
	Description string   `json:"description,omitempty"`
	Documents   []string `json:"documents,omitempty"`
}

// SystemPromptPayload stores a reusable system prompt.
type SystemPromptPayload struct {
	Prompt    string   `json:"prompt"`
	ModelIDs  []string `json:"modelIds,omitempty"`
	IsDefault bool     `json:"isDefault,omitempty"`
}

// ParseEnvelope decodes raw payload JSON into the typed union. Payloads of
// unknown or missing kind degrade to KindOpaque with the original object
// preserved, never an error for syntactically valid JSON.
func ParseEnvelope(raw json.RawMessage) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, err
	}
	switch e.Kind {
	case KindConversation, KindContext, KindSystemPrompt:
		return e, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: KindOpaque, Title: e.Title, Opaque: m, Fork: e.Fork}, nil
}

// Encode serializes the envelope back to payload JSON. Opaque envelopes
// are written as their original object (with title and fork overlaid when
// set) so payloads of unknown shape survive a parse/encode round trip.
func (e Envelope) Encode() (json.RawMessage, error) {
	if e.Kind == KindOpaque && e.Opaque != nil {
		m := make(map[string]any, len(e.Opaque)+2)
		for k, v := range e.Opaque {
			m[k] = v
		}
		if e.Title != "" {
			m["title"] = e.Title
		}
		if e.Fork != nil {
			m["fork"] = e.Fork
		}
		return json.Marshal(m)
	}
	return json.Marshal(e)
}

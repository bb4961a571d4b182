package adapter

import (
	"encoding/json"
	"errors"

	"github.com/packetkeeper/packetkeeper/internal/common"
	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
	"github.com/packetkeeper/packetkeeper/internal/keeper/repositories/packets"
)

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}

// toQuery lowers a ListFilter onto the repository query, pinning the
// reserved kind tag.
func toQuery(f ListFilter, reserved string) packets.Query {
	q := packets.Query{
		OwnerID: f.OwnerID,
		Tags:    withReserved(f.Tags, reserved),
		From:    f.From,
		To:      f.To,
		Limit:   f.Limit,
		Sort:    packets.SortAsc,
	}
	if f.NewestFirst {
		q.Sort = packets.SortDesc
	}
	if f.Page > 0 && f.Limit > 0 {
		q.Offset = f.Page * f.Limit
	}
	return q
}

// placeholderTitle marks records whose payload could not be read.
const placeholderTitle = "(parse error)"

// withReserved returns tags with the reserved kind tag present exactly
// once.
func withReserved(tags []string, reserved string) []string {
	out := make([]string, 0, len(tags)+1)
	out = append(out, reserved)
	for _, t := range tags {
		if t != reserved {
			out = append(out, t)
		}
	}
	return out
}

// userTags strips the reserved kind tag back out for the caller.
func userTags(tags []string, reserved string) []string {
	var out []string
	for _, t := range tags {
		if t != reserved {
			out = append(out, t)
		}
	}
	return out
}

func encodeEnvelope(env models.Envelope) (models.PlainPayload, error) {
	raw, err := env.Encode()
	if err != nil {
		return models.PlainPayload{}, err
	}
	return models.PlainPayload{Data: raw}, nil
}

// parsePacket opens a packet's payload as an envelope. ok is false when
// the payload is still sealed or not valid JSON; callers degrade to a
// placeholder.
func parsePacket(p *models.Packet) (models.Envelope, bool) {
	plain, isPlain := p.Payload.(models.PlainPayload)
	if !isPlain {
		return models.Envelope{}, false
	}
	env, err := models.ParseEnvelope(plain.Data)
	if err != nil {
		return models.Envelope{}, false
	}
	return env, true
}

func conversationEnvelope(title string, msgs []models.Message, archived, favorite bool, participants []string, fork *models.ForkInfo) models.Envelope {
	payload := &models.ConversationPayload{
		Messages:     msgs,
		Archived:     archived,
		Favorite:     favorite,
		Participants: participants,
	}
	return models.Envelope{
		Kind:         models.KindConversation,
		Title:        title,
		Conversation: payload,
		Fork:         fork,
	}
}

func packetToConversation(p *models.Packet) *Conversation {
	c := &Conversation{
		ID:        p.ID,
		OwnerID:   p.OwnerID,
		Tags:      userTags(p.Tags, TagConversation),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}

	env, ok := parsePacket(p)
	if !ok || env.Conversation == nil {
		c.Title = placeholderTitle
		c.Broken = true
		return c
	}

	c.Title = env.Title
	c.Fork = env.Fork
	c.Messages = env.Conversation.Messages
	c.Archived = env.Conversation.Archived
	c.Favorite = env.Conversation.Favorite
	c.Participants = env.Conversation.Participants
	c.Models = env.Conversation.ModelsUsed()
	return c
}

func contextEnvelope(in ContextInput) models.Envelope {
	return models.Envelope{
		Kind:  models.KindContext,
		Title: in.Title,
		Context: &models.ContextPayload{
			Body:        in.Body,
			Description: in.Description,
			Documents:   in.Documents,
		},
	}
}

func packetToContext(p *models.Packet) *Context {
	c := &Context{
		ID:        p.ID,
		OwnerID:   p.OwnerID,
		Tags:      userTags(p.Tags, TagContext),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}

	env, ok := parsePacket(p)
	if !ok || env.Context == nil {
		c.Title = placeholderTitle
		c.Broken = true
		return c
	}

	c.Title = env.Title
	c.Body = env.Context.Body
	c.Description = env.Context.Description
	c.Documents = env.Context.Documents
	return c
}

func systemPromptEnvelope(in SystemPromptInput) models.Envelope {
	return models.Envelope{
		Kind:  models.KindSystemPrompt,
		Title: in.Title,
		SystemPrompt: &models.SystemPromptPayload{
			Prompt:    in.Prompt,
			ModelIDs:  in.ModelIDs,
			IsDefault: in.IsDefault,
		},
	}
}

func packetToSystemPrompt(p *models.Packet) *SystemPrompt {
	s := &SystemPrompt{
		ID:        p.ID,
		OwnerID:   p.OwnerID,
		Tags:      userTags(p.Tags, TagSystemPrompt),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}

	env, ok := parsePacket(p)
	if !ok || env.SystemPrompt == nil {
		s.Title = placeholderTitle
		s.Broken = true
		return s
	}

	s.Title = env.Title
	s.Prompt = env.SystemPrompt.Prompt
	s.ModelIDs = env.SystemPrompt.ModelIDs
	s.IsDefault = env.SystemPrompt.IsDefault
	return s
}

// encodeSecret and decodeSecret store API-key material as a JSON string
// payload.
func encodeSecret(secret string) (models.PlainPayload, error) {
	data, err := json.Marshal(secret)
	if err != nil {
		return models.PlainPayload{}, err
	}
	return models.PlainPayload{Data: data}, nil
}

func decodeSecret(p models.Payload) (string, bool) {
	plain, ok := p.(models.PlainPayload)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(plain.Data, &s); err != nil {
		return "", false
	}
	return s, true
}

package adapter

import (
	"context"
	"fmt"

	"github.com/packetkeeper/packetkeeper/internal/common"
	"github.com/packetkeeper/packetkeeper/internal/keeper/merge"
	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
	"github.com/packetkeeper/packetkeeper/internal/keeper/vaultapi"
	"github.com/packetkeeper/packetkeeper/internal/logging"
)

// Vault delegates every operation to a hosted vault server. The server is
// authoritative, so Sync has nothing to reconcile and IsOnline probes the
// server directly.
type Vault struct {
	client vaultapi.Client
	log    logging.Logger
}

func NewVault(client vaultapi.Client, log logging.Logger) *Vault {
	return &Vault{client: client, log: log}
}

func (a *Vault) Close() error { return nil }

func (a *Vault) CreateConversation(ctx context.Context, in ConversationInput) (*Conversation, error) {
	env := conversationEnvelope(in.Title, in.Messages, in.Archived, in.Favorite, in.Participants, nil)
	payload, err := encodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	p, err := a.client.CreatePacket(ctx, &models.Packet{
		CreateRequestID: in.RequestID,
		OwnerID:         in.OwnerID,
		Tags:            withReserved(in.Tags, TagConversation),
		Payload:         payload,
	})
	if err != nil {
		return nil, err
	}
	return packetToConversation(p), nil
}

func (a *Vault) UpdateConversation(ctx context.Context, upd ConversationUpdate) (*Conversation, error) {
	current, err := a.client.GetPacket(ctx, upd.ID)
	if err != nil {
		return nil, err
	}

	change := models.PacketUpdate{ID: upd.ID}
	if upd.Tags != nil {
		change.Tags = withReserved(upd.Tags, TagConversation)
	}
	if upd.Title != nil || upd.Messages != nil || upd.Archived != nil || upd.Favorite != nil {
		env, ok := parsePacket(current)
		if !ok || env.Conversation == nil {
			return nil, fmt.Errorf("%w: conversation payload is unreadable", common.ErrDecryptionFailure)
		}
		if upd.Title != nil {
			env.Title = *upd.Title
		}
		if upd.Messages != nil {
			env.Conversation.Messages = upd.Messages
		}
		if upd.Archived != nil {
			env.Conversation.Archived = *upd.Archived
		}
		if upd.Favorite != nil {
			env.Conversation.Favorite = *upd.Favorite
		}
		payload, err := encodeEnvelope(env)
		if err != nil {
			return nil, err
		}
		change.Payload = payload
	}

	p, err := a.client.UpdatePacket(ctx, upd.RequestID, change)
	if err != nil {
		return nil, err
	}
	return packetToConversation(p), nil
}

func (a *Vault) GetConversationByID(ctx context.Context, id string) (*Conversation, error) {
	p, err := a.client.GetPacket(ctx, id)
	if err != nil {
		return nil, err
	}
	return packetToConversation(p), nil
}

func (a *Vault) ListConversations(ctx context.Context, f ListFilter) ([]*Conversation, error) {
	rows, err := a.client.ListPackets(ctx, toQuery(f, TagConversation))
	if err != nil {
		return nil, err
	}
	out := make([]*Conversation, 0, len(rows))
	for _, p := range rows {
		c := packetToConversation(p)
		if c.Broken {
			a.log.Warn(ctx, "listing placeholder for unreadable conversation", "packet_id", p.ID)
		}
		out = append(out, c)
	}
	return out, nil
}

func (a *Vault) GetMessages(ctx context.Context, id string) ([]models.Message, error) {
	c, err := a.GetConversationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.Messages, nil
}

func (a *Vault) DeleteConversation(ctx context.Context, id string) error {
	return a.client.DeletePacket(ctx, id)
}

func (a *Vault) SaveContext(ctx context.Context, in ContextInput) (*Context, error) {
	payload, err := encodeEnvelope(contextEnvelope(in))
	if err != nil {
		return nil, err
	}
	p, err := a.savePacket(ctx, in.RequestID, in.ID, in.OwnerID, withReserved(in.Tags, TagContext), payload)
	if err != nil {
		return nil, err
	}
	return packetToContext(p), nil
}

func (a *Vault) GetContext(ctx context.Context, id string) (*Context, error) {
	p, err := a.client.GetPacket(ctx, id)
	if err != nil {
		return nil, err
	}
	return packetToContext(p), nil
}

func (a *Vault) ListContexts(ctx context.Context, f ListFilter) ([]*Context, error) {
	rows, err := a.client.ListPackets(ctx, toQuery(f, TagContext))
	if err != nil {
		return nil, err
	}
	out := make([]*Context, 0, len(rows))
	for _, p := range rows {
		out = append(out, packetToContext(p))
	}
	return out, nil
}

func (a *Vault) DeleteContext(ctx context.Context, id string) error {
	return a.client.DeletePacket(ctx, id)
}

func (a *Vault) SaveSystemPrompt(ctx context.Context, in SystemPromptInput) (*SystemPrompt, error) {
	payload, err := encodeEnvelope(systemPromptEnvelope(in))
	if err != nil {
		return nil, err
	}
	p, err := a.savePacket(ctx, in.RequestID, in.ID, in.OwnerID, withReserved(in.Tags, TagSystemPrompt), payload)
	if err != nil {
		return nil, err
	}
	return packetToSystemPrompt(p), nil
}

func (a *Vault) GetSystemPrompt(ctx context.Context, id string) (*SystemPrompt, error) {
	p, err := a.client.GetPacket(ctx, id)
	if err != nil {
		return nil, err
	}
	return packetToSystemPrompt(p), nil
}

func (a *Vault) ListSystemPrompts(ctx context.Context, f ListFilter) ([]*SystemPrompt, error) {
	rows, err := a.client.ListPackets(ctx, toQuery(f, TagSystemPrompt))
	if err != nil {
		return nil, err
	}
	out := make([]*SystemPrompt, 0, len(rows))
	for _, p := range rows {
		out = append(out, packetToSystemPrompt(p))
	}
	return out, nil
}

func (a *Vault) DeleteSystemPrompt(ctx context.Context, id string) error {
	return a.client.DeletePacket(ctx, id)
}

func (a *Vault) SaveAPIKey(ctx context.Context, provider, ownerID, secret string) error {
	payload, err := encodeSecret(secret)
	if err != nil {
		return err
	}
	_, err = a.client.SaveAPIKey(ctx, &models.APIKey{
		Provider: provider,
		OwnerID:  ownerID,
		Secret:   payload,
	})
	return err
}

func (a *Vault) GetAPIKey(ctx context.Context, provider, ownerID string) (string, error) {
	k, err := a.client.GetAPIKey(ctx, provider, ownerID)
	if err != nil {
		return "", err
	}
	secret, ok := decodeSecret(k.Secret)
	if !ok {
		return "", fmt.Errorf("%w: api key secret is unreadable", common.ErrDecryptionFailure)
	}
	return secret, nil
}

func (a *Vault) IsAPIKeyAvailable(ctx context.Context, provider, ownerID string) (bool, error) {
	_, err := a.client.GetAPIKey(ctx, provider, ownerID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *Vault) DeleteAPIKey(ctx context.Context, provider, ownerID string) error {
	return a.client.DeleteAPIKey(ctx, provider, ownerID)
}

// Sync is a no-op: the server is the single source of truth.
func (a *Vault) Sync(context.Context) (merge.Summary, error) {
	return merge.Summary{}, nil
}

func (a *Vault) IsOnline(ctx context.Context) bool {
	return a.client.Ping(ctx) == nil
}

func (a *Vault) savePacket(ctx context.Context, requestID, id, ownerID string, tags []string, payload models.PlainPayload) (*models.Packet, error) {
	if id == "" {
		return a.client.CreatePacket(ctx, &models.Packet{
			CreateRequestID: requestID,
			OwnerID:         ownerID,
			Tags:            tags,
			Payload:         payload,
		})
	}
	return a.client.UpdatePacket(ctx, requestID, models.PacketUpdate{
		ID:      id,
		Tags:    tags,
		Payload: payload,
	})
}

var _ Adapter = (*Vault)(nil)

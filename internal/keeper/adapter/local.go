package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/packetkeeper/packetkeeper/internal/common"
	"github.com/packetkeeper/packetkeeper/internal/dbx"
	"github.com/packetkeeper/packetkeeper/internal/keeper/blob"
	"github.com/packetkeeper/packetkeeper/internal/keeper/keyring"
	"github.com/packetkeeper/packetkeeper/internal/keeper/merge"
	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
	"github.com/packetkeeper/packetkeeper/internal/keeper/repositories/apikeys"
	"github.com/packetkeeper/packetkeeper/internal/keeper/repositories/metadata"
	"github.com/packetkeeper/packetkeeper/internal/keeper/repositories/packets"
	"github.com/packetkeeper/packetkeeper/internal/keeper/services"
	"github.com/packetkeeper/packetkeeper/internal/keeper/store"
	"github.com/packetkeeper/packetkeeper/internal/logging"
)

// LocalConfig identifies the active user and workspace for a local
// backend.
type LocalConfig struct {
	// OwnerID is the signed-in user; operations that do not name an owner
	// run as this user.
	OwnerID string
	// User is the display name stamped on merge conflict copies.
	User          string
	WorkspaceID   string
	WorkspaceType keyring.WorkspaceType
}

// Local is the embedded backend: all data lives in the local store, and
// Sync reconciles it with snapshot blobs on a remote transport. A nil
// transport makes Sync a no-op and IsOnline false (pure offline mode).
type Local struct {
	store     *store.Store
	packets   *services.PacketService
	keys      *services.APIKeyService
	engine    *merge.Engine
	transport blob.Transport
	cfg       LocalConfig
	log       logging.Logger
	now       func() time.Time

	syncMu sync.Mutex
}

func NewLocal(st *store.Store, cipher *keyring.Cipher, transport blob.Transport, cfg LocalConfig, log logging.Logger) *Local {
	return &Local{
		store:   st,
		packets: services.NewPacketService(st.Packets, cipher, log),
		keys:    services.NewAPIKeyService(st.Keys, cipher, log),
		engine: merge.NewEngine(cipher, merge.Options{
			User:          cfg.User,
			WorkspaceID:   cfg.WorkspaceID,
			WorkspaceType: cfg.WorkspaceType,
		}, log),
		transport: transport,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

func (a *Local) refFor(ownerID string) keyring.KeyRef {
	if ownerID == "" {
		ownerID = a.cfg.OwnerID
	}
	return keyring.KeyRef{
		OwnerID:       ownerID,
		WorkspaceID:   a.cfg.WorkspaceID,
		WorkspaceType: a.cfg.WorkspaceType,
	}
}

func (a *Local) Close() error { return a.store.Close() }

// --- conversations ---

func (a *Local) CreateConversation(ctx context.Context, in ConversationInput) (*Conversation, error) {
	env := conversationEnvelope(in.Title, in.Messages, in.Archived, in.Favorite, in.Participants, nil)
	payload, err := encodeEnvelope(env)
	if err != nil {
		return nil, err
	}

	p, err := a.packets.Create(ctx, &models.Packet{
		CreateRequestID: in.RequestID,
		OwnerID:         in.OwnerID,
		Tags:            withReserved(in.Tags, TagConversation),
		Payload:         payload,
	}, a.refFor(in.OwnerID))
	if err != nil {
		return nil, err
	}
	return packetToConversation(p), nil
}

func (a *Local) UpdateConversation(ctx context.Context, upd ConversationUpdate) (*Conversation, error) {
	current, err := a.packets.Get(ctx, upd.ID, a.refFor(""))
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

	p, err := a.packets.Update(ctx, upd.RequestID, change, a.refFor(current.OwnerID))
	if err != nil {
		return nil, err
	}
	return packetToConversation(p), nil
}

func (a *Local) GetConversationByID(ctx context.Context, id string) (*Conversation, error) {
	p, err := a.packets.Get(ctx, id, a.refFor(""))
	if err != nil {
		return nil, err
	}
	return packetToConversation(p), nil
}

func (a *Local) ListConversations(ctx context.Context, f ListFilter) ([]*Conversation, error) {
	rows, err := a.listPackets(ctx, f, TagConversation)
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

func (a *Local) GetMessages(ctx context.Context, id string) ([]models.Message, error) {
	c, err := a.GetConversationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.Messages, nil
}

func (a *Local) DeleteConversation(ctx context.Context, id string) error {
	return a.packets.Delete(ctx, id)
}

// --- contexts ---

func (a *Local) SaveContext(ctx context.Context, in ContextInput) (*Context, error) {
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

func (a *Local) GetContext(ctx context.Context, id string) (*Context, error) {
	p, err := a.packets.Get(ctx, id, a.refFor(""))
	if err != nil {
		return nil, err
	}
	return packetToContext(p), nil
}

func (a *Local) ListContexts(ctx context.Context, f ListFilter) ([]*Context, error) {
	rows, err := a.listPackets(ctx, f, TagContext)
	if err != nil {
		return nil, err
	}
	out := make([]*Context, 0, len(rows))
	for _, p := range rows {
		out = append(out, packetToContext(p))
	}
	return out, nil
}

func (a *Local) DeleteContext(ctx context.Context, id string) error {
	return a.packets.Delete(ctx, id)
}

// --- system prompts ---

func (a *Local) SaveSystemPrompt(ctx context.Context, in SystemPromptInput) (*SystemPrompt, error) {
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

func (a *Local) GetSystemPrompt(ctx context.Context, id string) (*SystemPrompt, error) {
	p, err := a.packets.Get(ctx, id, a.refFor(""))
	if err != nil {
		return nil, err
	}
	return packetToSystemPrompt(p), nil
}

func (a *Local) ListSystemPrompts(ctx context.Context, f ListFilter) ([]*SystemPrompt, error) {
	rows, err := a.listPackets(ctx, f, TagSystemPrompt)
	if err != nil {
		return nil, err
	}
	out := make([]*SystemPrompt, 0, len(rows))
	for _, p := range rows {
		out = append(out, packetToSystemPrompt(p))
	}
	return out, nil
}

func (a *Local) DeleteSystemPrompt(ctx context.Context, id string) error {
	return a.packets.Delete(ctx, id)
}

// --- api keys ---

func (a *Local) SaveAPIKey(ctx context.Context, provider, ownerID, secret string) error {
	payload, err := encodeSecret(secret)
	if err != nil {
		return err
	}
	_, err = a.keys.Save(ctx, &models.APIKey{
		Provider: provider,
		OwnerID:  ownerID,
		Secret:   payload,
	}, a.refFor(ownerID))
	return err
}

func (a *Local) GetAPIKey(ctx context.Context, provider, ownerID string) (string, error) {
	k, err := a.keys.GetByProvider(ctx, provider, ownerID, a.refFor(ownerID))
	if err != nil {
		return "", err
	}
	secret, ok := decodeSecret(k.Secret)
	if !ok {
		return "", fmt.Errorf("%w: api key secret is unreadable", common.ErrDecryptionFailure)
	}
	return secret, nil
}

func (a *Local) IsAPIKeyAvailable(ctx context.Context, provider, ownerID string) (bool, error) {
	return a.keys.IsAvailable(ctx, provider, ownerID)
}

func (a *Local) DeleteAPIKey(ctx context.Context, provider, ownerID string) error {
	return a.keys.Delete(ctx, provider, ownerID)
}

// --- sync ---

// Sync downloads the remote snapshots, merges them into the local
// databases, uploads the reconciled state, and only then flips pending
// rows to synced. A failed upload leaves rows pending so the next sync
// re-uploads them.
func (a *Local) Sync(ctx context.Context) (merge.Summary, error) {
	if a.transport == nil {
		return merge.Summary{}, nil
	}
	if !a.syncMu.TryLock() {
		return merge.Summary{}, common.ErrSyncInProgress
	}
	defer a.syncMu.Unlock()

	var total merge.Summary
	for _, dataset := range []store.Dataset{store.DatasetPackets, store.DatasetKeys} {
		sum, err := a.syncDataset(ctx, dataset)
		if err != nil {
			return total, fmt.Errorf("sync %s: %w", dataset, err)
		}
		total.Add(sum)
	}
	a.log.Info(ctx, "sync finished",
		"inserted", total.Inserted, "updated", total.Updated,
		"forked", total.Forked, "deleted", total.Deleted)
	return total, nil
}

func (a *Local) syncDataset(ctx context.Context, dataset store.Dataset) (merge.Summary, error) {
	db := a.store.DB(dataset)
	name := store.BlobName(dataset)

	var sum merge.Summary
	data, err := a.transport.Download(ctx, name)
	switch {
	case err == nil:
		snap, cleanup, err := store.OpenSnapshot(ctx, data)
		if err != nil {
			return sum, err
		}
		lastSync, ok, err := metadata.NewSQLiteRepository(db).GetTime(ctx, metadata.KeyLastSync)
		if err != nil {
			cleanup()
			return sum, err
		}
		if !ok {
			lastSync = time.Time{}
		}

		if dataset == store.DatasetPackets {
			sum, err = a.engine.MergePackets(ctx, db, snap, lastSync)
		} else {
			sum, err = a.engine.MergeAPIKeys(ctx, db, snap)
		}
		cleanup()
		if err != nil {
			return sum, err
		}

	case errors.Is(err, common.ErrNotFound):
		a.log.Info(ctx, "remote has no snapshot yet", "blob", name)

	default:
		return sum, err
	}

	out, err := store.Export(ctx, db)
	if err != nil {
		return sum, err
	}
	if err := a.transport.Upload(ctx, name, out); err != nil {
		// Rows stay pending; the next sync retries the upload.
		return sum, err
	}

	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if dataset == store.DatasetPackets {
			if err := packets.NewSQLiteRepository(tx).MarkAllSynced(ctx); err != nil {
				return err
			}
		} else {
			if err := apikeys.NewSQLiteRepository(tx).MarkAllSynced(ctx); err != nil {
				return err
			}
		}
		return metadata.NewSQLiteRepository(tx).SetTime(ctx, metadata.KeyLastSync, a.now().UTC())
	})
	return sum, err
}

func (a *Local) IsOnline(ctx context.Context) bool {
	if a.transport == nil {
		return false
	}
	return a.transport.Ping(ctx) == nil
}

// --- helpers ---

// savePacket implements the create-or-replace flow shared by contexts and
// system prompts: an empty id creates, a set id replaces the payload and
// tags in one update.
func (a *Local) savePacket(ctx context.Context, requestID, id, ownerID string, tags []string, payload models.PlainPayload) (*models.Packet, error) {
	if id == "" {
		return a.packets.Create(ctx, &models.Packet{
			CreateRequestID: requestID,
			OwnerID:         ownerID,
			Tags:            tags,
			Payload:         payload,
		}, a.refFor(ownerID))
	}
	return a.packets.Update(ctx, requestID, models.PacketUpdate{
		ID:      id,
		Tags:    tags,
		Payload: payload,
	}, a.refFor(ownerID))
}

func (a *Local) listPackets(ctx context.Context, f ListFilter, reserved string) ([]*models.Packet, error) {
	return a.packets.List(ctx, toQuery(f, reserved), a.refFor(f.OwnerID))
}

var _ Adapter = (*Local)(nil)

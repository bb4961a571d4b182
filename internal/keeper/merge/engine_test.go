package merge

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetkeeper/packetkeeper/internal/common"
	"github.com/packetkeeper/packetkeeper/internal/keeper/keyring"
	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
	"github.com/packetkeeper/packetkeeper/internal/keeper/repositories/apikeys"
	"github.com/packetkeeper/packetkeeper/internal/keeper/repositories/packets"
	"github.com/packetkeeper/packetkeeper/internal/logging"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE packets (
  id TEXT PRIMARY KEY,
  create_request_id TEXT NOT NULL UNIQUE,
  owner_id TEXT NOT NULL,
  collection_id TEXT NOT NULL DEFAULT 'profile',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  tags TEXT,
  payload TEXT,
  sync_status TEXT NOT NULL DEFAULT 'pending'
);
CREATE TABLE packet_tags (
  packet_id TEXT NOT NULL,
  tag TEXT NOT NULL,
  PRIMARY KEY (packet_id, tag)
);
CREATE TABLE update_ledger (
  request_id TEXT PRIMARY KEY,
  packet_id TEXT NOT NULL,
  applied_at TEXT NOT NULL
);
CREATE TABLE tombstones (
  packet_id TEXT PRIMARY KEY,
  deleted_at TEXT NOT NULL
);
CREATE TABLE api_keys (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  owner_id TEXT NOT NULL,
  secret TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  sync_status TEXT NOT NULL DEFAULT 'pending',
  UNIQUE (provider, owner_id)
);
`)
	require.NoError(t, err)
	return db
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func mkPacket(id, requestID, title string, updatedAt time.Time) *models.Packet {
	payload, _ := json.Marshal(map[string]any{"kind": "context", "title": title,
		"context": map[string]any{"body": "b"}})
	return &models.Packet{
		ID:              id,
		CreateRequestID: requestID,
		OwnerID:         "alice",
		CollectionID:    "profile",
		CreatedAt:       day(1),
		UpdatedAt:       updatedAt,
		Tags:            []string{"t"},
		Payload:         models.PlainPayload{Data: payload},
		SyncStatus:      models.SyncSynced,
	}
}

func titleOf(t *testing.T, p *models.Packet) string {
	t.Helper()
	plain, ok := p.Payload.(models.PlainPayload)
	require.True(t, ok)
	env, err := models.ParseEnvelope(plain.Data)
	require.NoError(t, err)
	return env.Title
}

func newEngine() *Engine {
	return NewEngine(nil, Options{User: "alice"}, logging.NewDiscard())
}

func TestMergePackets_RemoteOnlyInserted(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)

	require.NoError(t, packets.NewSQLiteRepository(remote).
		Insert(ctx, mkPacket("p1", "r1", "hello", day(2))))

	sum, err := newEngine().MergePackets(ctx, local, remote, day(1))
	require.NoError(t, err)
	assert.Equal(t, Summary{Inserted: 1}, sum)

	got, err := packets.NewSQLiteRepository(local).GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)
}

func TestMergePackets_OnlyRemoteModified(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)

	require.NoError(t, packets.NewSQLiteRepository(local).
		Insert(ctx, mkPacket("p1", "r1", "old", day(2))))
	require.NoError(t, packets.NewSQLiteRepository(remote).
		Insert(ctx, mkPacket("p1", "r1", "new", day(5))))

	sum, err := newEngine().MergePackets(ctx, local, remote, day(3))
	require.NoError(t, err)
	assert.Equal(t, Summary{Updated: 1}, sum)

	got, err := packets.NewSQLiteRepository(local).GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "new", titleOf(t, got))
	assert.Equal(t, models.SyncSynced, got.SyncStatus)
}

func TestMergePackets_OnlyLocalModified(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)

	require.NoError(t, packets.NewSQLiteRepository(local).
		Insert(ctx, mkPacket("p1", "r1", "mine", day(5))))
	require.NoError(t, packets.NewSQLiteRepository(remote).
		Insert(ctx, mkPacket("p1", "r1", "stale", day(2))))

	sum, err := newEngine().MergePackets(ctx, local, remote, day(3))
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)

	got, err := packets.NewSQLiteRepository(local).GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "mine", titleOf(t, got))
}

func TestMergePackets_ConflictForks(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)

	// Both sides modified p1 after the last sync, with different stamps.
	require.NoError(t, packets.NewSQLiteRepository(local).
		Insert(ctx, mkPacket("c1", "r1", "draft", day(2))))
	require.NoError(t, packets.NewSQLiteRepository(remote).
		Insert(ctx, mkPacket("c1", "r1", "draft remote", day(3))))

	sum, err := newEngine().MergePackets(ctx, local, remote, day(1))
	require.NoError(t, err)
	assert.Equal(t, Summary{Updated: 1, Forked: 1}, sum)

	repo := packets.NewSQLiteRepository(local)
	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	// The original id now holds the remote version.
	orig, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "draft remote", titleOf(t, orig))
	assert.Equal(t, models.SyncSynced, orig.SyncStatus)
	assert.True(t, orig.UpdatedAt.Equal(day(3)))

	// The local version survives as a pending fork with a fresh id.
	var fork *models.Packet
	for _, p := range all {
		if p.ID != "c1" {
			fork = p
		}
	}
	require.NotNil(t, fork)
	assert.NotEqual(t, "r1", fork.CreateRequestID)
	assert.Equal(t, models.SyncPending, fork.SyncStatus)
	assert.Equal(t, "draft (1)", titleOf(t, fork))

	plain := fork.Payload.(models.PlainPayload)
	env, err := models.ParseEnvelope(plain.Data)
	require.NoError(t, err)
	require.NotNil(t, env.Fork)
	assert.Equal(t, "c1", env.Fork.ForkedFrom)
	assert.Equal(t, "draft", env.Fork.OriginalTitle)
	assert.Equal(t, "alice", env.Fork.ForkedByUser)
}

func TestMergePackets_PersonalSuffixIncrements(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)

	lr := packets.NewSQLiteRepository(local)
	rr := packets.NewSQLiteRepository(remote)
	require.NoError(t, lr.Insert(ctx, mkPacket("a", "ra", "one", day(2))))
	require.NoError(t, lr.Insert(ctx, mkPacket("b", "rb", "two", day(2))))
	require.NoError(t, rr.Insert(ctx, mkPacket("a", "ra", "one'", day(3))))
	require.NoError(t, rr.Insert(ctx, mkPacket("b", "rb", "two'", day(3))))

	sum, err := newEngine().MergePackets(ctx, local, remote, day(1))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Forked)

	all, err := lr.GetAll(ctx)
	require.NoError(t, err)
	var titles []string
	for _, p := range all {
		if p.SyncStatus == models.SyncPending {
			titles = append(titles, titleOf(t, p))
		}
	}
	assert.ElementsMatch(t, []string{"one (1)", "two (2)"}, titles)
}

func TestMergePackets_SharedWorkspaceSuffix(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)

	require.NoError(t, packets.NewSQLiteRepository(local).
		Insert(ctx, mkPacket("a", "ra", "doc", day(2))))
	require.NoError(t, packets.NewSQLiteRepository(remote).
		Insert(ctx, mkPacket("a", "ra", "doc'", day(3))))

	eng := NewEngine(nil, Options{
		User:          "bob",
		WorkspaceID:   "ws1",
		WorkspaceType: keyring.WorkspaceShared,
	}, logging.NewDiscard())

	_, err := eng.MergePackets(ctx, local, remote, day(1))
	require.NoError(t, err)

	all, err := packets.NewSQLiteRepository(local).GetAll(ctx)
	require.NoError(t, err)
	var forkTitle string
	for _, p := range all {
		if p.SyncStatus == models.SyncPending {
			forkTitle = titleOf(t, p)
		}
	}
	assert.Equal(t, "doc [bob's copy]", forkTitle)
}

func TestMergePackets_NoLastSyncNeverForks(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)

	require.NoError(t, packets.NewSQLiteRepository(local).
		Insert(ctx, mkPacket("p1", "r1", "mine", day(2))))
	require.NoError(t, packets.NewSQLiteRepository(remote).
		Insert(ctx, mkPacket("p1", "r1", "theirs", day(3))))

	sum, err := newEngine().MergePackets(ctx, local, remote, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, Summary{Updated: 1}, sum)

	repo := packets.NewSQLiteRepository(local)
	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "conflict detection is disabled without a last sync")

	got, err := repo.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "theirs", titleOf(t, got))
}

func TestMergePackets_TombstoneBlocksResurrection(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)

	// Deleted locally at day 4; the remote copy predates the deletion.
	require.NoError(t, packets.NewSQLiteRepository(local).
		InsertTombstone(ctx, models.Tombstone{PacketID: "p1", DeletedAt: day(4)}))
	require.NoError(t, packets.NewSQLiteRepository(remote).
		Insert(ctx, mkPacket("p1", "r1", "zombie", day(2))))

	sum, err := newEngine().MergePackets(ctx, local, remote, day(3))
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)

	_, err = packets.NewSQLiteRepository(local).GetByID(ctx, "p1")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestMergePackets_RemoteEditRestoresTombstoned(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)

	// The remote edit post-dates the last sync: someone resurrected the
	// packet elsewhere, so the local tombstone yields.
	require.NoError(t, packets.NewSQLiteRepository(local).
		InsertTombstone(ctx, models.Tombstone{PacketID: "p1", DeletedAt: day(2)}))
	require.NoError(t, packets.NewSQLiteRepository(remote).
		Insert(ctx, mkPacket("p1", "r1", "back", day(5))))

	sum, err := newEngine().MergePackets(ctx, local, remote, day(3))
	require.NoError(t, err)
	assert.Equal(t, Summary{Inserted: 1}, sum)

	repo := packets.NewSQLiteRepository(local)
	_, err = repo.GetByID(ctx, "p1")
	require.NoError(t, err)

	dead, err := repo.HasTombstone(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, dead, "a restored packet must not stay tombstoned")
}

func TestMergePackets_RemoteTombstoneDeletesStaleLocal(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)

	// Local copy untouched since the last sync: remote deletion wins.
	require.NoError(t, packets.NewSQLiteRepository(local).
		Insert(ctx, mkPacket("p1", "r1", "stale", day(2))))
	require.NoError(t, packets.NewSQLiteRepository(remote).
		InsertTombstone(ctx, models.Tombstone{PacketID: "p1", DeletedAt: day(4)}))

	sum, err := newEngine().MergePackets(ctx, local, remote, day(3))
	require.NoError(t, err)
	assert.Equal(t, Summary{Deleted: 1}, sum)

	repo := packets.NewSQLiteRepository(local)
	_, err = repo.GetByID(ctx, "p1")
	require.ErrorIs(t, err, common.ErrNotFound)

	dead, err := repo.HasTombstone(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, dead)
}

func TestMergePackets_LocalEditOutranksRemoteTombstone(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)

	require.NoError(t, packets.NewSQLiteRepository(local).
		Insert(ctx, mkPacket("y", "ry", "edited", day(10))))
	require.NoError(t, packets.NewSQLiteRepository(remote).
		InsertTombstone(ctx, models.Tombstone{PacketID: "y", DeletedAt: day(5)}))

	sum, err := newEngine().MergePackets(ctx, local, remote, day(1))
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)

	repo := packets.NewSQLiteRepository(local)
	_, err = repo.GetByID(ctx, "y")
	require.NoError(t, err, "the local edit must survive the remote deletion")

	dead, err := repo.HasTombstone(ctx, "y")
	require.NoError(t, err)
	assert.False(t, dead, "a live packet must never carry a tombstone")
}

func TestMergePackets_PropagatesUnknownTombstones(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)

	require.NoError(t, packets.NewSQLiteRepository(remote).
		InsertTombstone(ctx, models.Tombstone{PacketID: "gone", DeletedAt: day(2)}))

	_, err := newEngine().MergePackets(ctx, local, remote, day(1))
	require.NoError(t, err)

	dead, err := packets.NewSQLiteRepository(local).HasTombstone(ctx, "gone")
	require.NoError(t, err)
	assert.True(t, dead)
}

func TestMergePackets_Rerun(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)

	lr := packets.NewSQLiteRepository(local)
	rr := packets.NewSQLiteRepository(remote)
	require.NoError(t, lr.Insert(ctx, mkPacket("c1", "r1", "mine", day(2))))
	require.NoError(t, rr.Insert(ctx, mkPacket("c1", "r1", "theirs", day(3))))
	require.NoError(t, rr.Insert(ctx, mkPacket("c2", "r2", "fresh", day(3))))
	require.NoError(t, rr.InsertTombstone(ctx, models.Tombstone{PacketID: "c3", DeletedAt: day(2)}))

	eng := newEngine()
	first, err := eng.MergePackets(ctx, local, remote, day(1))
	require.NoError(t, err)
	assert.Equal(t, Summary{Inserted: 1, Updated: 1, Forked: 1}, first)

	countBefore, err := lr.Count(ctx)
	require.NoError(t, err)

	second, err := eng.MergePackets(ctx, local, remote, day(1))
	require.NoError(t, err)
	assert.Equal(t, Summary{}, second, "re-running the same merge must be a no-op")

	countAfter, err := lr.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, countBefore, countAfter)
}

func TestMergePackets_SkipsUnusableRemoteRows(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)

	// A remote row with a broken updated_at cannot participate in
	// timestamp comparisons and is skipped.
	_, err := remote.Exec(`INSERT INTO packets
		(id, create_request_id, owner_id, created_at, updated_at, payload)
		VALUES ('bad', 'rb', 'alice', 'garbage', 'garbage', '{}')`)
	require.NoError(t, err)
	require.NoError(t, packets.NewSQLiteRepository(remote).
		Insert(ctx, mkPacket("ok", "ro", "fine", day(2))))

	sum, err := newEngine().MergePackets(ctx, local, remote, day(1))
	require.NoError(t, err)
	assert.Equal(t, Summary{Inserted: 1}, sum)

	_, err = packets.NewSQLiteRepository(local).GetByID(ctx, "bad")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func mkKey(id, provider, secret string, updatedAt time.Time) *models.APIKey {
	data, _ := json.Marshal(secret)
	return &models.APIKey{
		ID:         id,
		Provider:   provider,
		OwnerID:    "alice",
		Secret:     models.PlainPayload{Data: data},
		CreatedAt:  day(1),
		UpdatedAt:  updatedAt,
		SyncStatus: models.SyncSynced,
	}
}

func TestMergeAPIKeys_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)

	lr := apikeys.NewSQLiteRepository(local)
	rr := apikeys.NewSQLiteRepository(remote)

	// Same natural key, different ids (each device minted its own).
	require.NoError(t, lr.Insert(ctx, mkKey("l1", "openai", "sk-old", day(2))))
	require.NoError(t, rr.Insert(ctx, mkKey("x1", "openai", "sk-new", day(4))))
	// Local newer than remote: local wins.
	require.NoError(t, lr.Insert(ctx, mkKey("l2", "anthropic", "sk-keep", day(5))))
	require.NoError(t, rr.Insert(ctx, mkKey("x2", "anthropic", "sk-lose", day(3))))
	// Remote only: inserted.
	require.NoError(t, rr.Insert(ctx, mkKey("x3", "mistral", "sk-meta", day(2))))

	sum, err := newEngine().MergeAPIKeys(ctx, local, remote)
	require.NoError(t, err)
	assert.Equal(t, Summary{Inserted: 1, Updated: 1}, sum)

	k, err := lr.GetByProviderOwner(ctx, "openai", "alice")
	require.NoError(t, err)
	assert.Equal(t, "l1", k.ID, "the local id survives an adopted remote row")
	assert.JSONEq(t, `"sk-new"`, string(k.Secret.(models.PlainPayload).Data))

	k, err = lr.GetByProviderOwner(ctx, "anthropic", "alice")
	require.NoError(t, err)
	assert.JSONEq(t, `"sk-keep"`, string(k.Secret.(models.PlainPayload).Data))

	_, err = lr.GetByProviderOwner(ctx, "mistral", "alice")
	require.NoError(t, err)
}

type fixedResolver struct{ key []byte }

func (r fixedResolver) ResolveKey(context.Context, keyring.KeyRef) ([]byte, error) {
	return append([]byte(nil), r.key...), nil
}

func cipherWithKey(b byte) *keyring.Cipher {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return keyring.NewCipher(fixedResolver{key: key}, logging.NewDiscard())
}

func TestMergePackets_EncryptedFork(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)
	cipher := cipherWithKey('k')

	sealed, err := cipher.Encrypt(ctx, json.RawMessage(`{"kind":"context","title":"secret","context":{"body":"b"}}`),
		keyring.KeyRef{OwnerID: "alice"})
	require.NoError(t, err)

	lp := mkPacket("c1", "r1", "x", day(2))
	lp.Payload = sealed
	require.NoError(t, packets.NewSQLiteRepository(local).Insert(ctx, lp))
	require.NoError(t, packets.NewSQLiteRepository(remote).
		Insert(ctx, mkPacket("c1", "r1", "remote", day(3))))

	eng := NewEngine(cipher, Options{User: "alice"}, logging.NewDiscard())
	sum, err := eng.MergePackets(ctx, local, remote, day(1))
	require.NoError(t, err)
	require.Equal(t, 1, sum.Forked)

	all, err := packets.NewSQLiteRepository(local).GetAll(ctx)
	require.NoError(t, err)
	var fork *models.Packet
	for _, p := range all {
		if p.ID != "c1" {
			fork = p
		}
	}
	require.NotNil(t, fork)

	// The fork stayed encrypted and carries the annotation inside.
	enc, ok := fork.Payload.(models.EncryptedPayload)
	require.True(t, ok)
	var raw json.RawMessage
	require.NoError(t, cipher.Decrypt(ctx, enc, keyring.KeyRef{OwnerID: "alice"}, &raw))
	env, err := models.ParseEnvelope(raw)
	require.NoError(t, err)
	require.NotNil(t, env.Fork)
	assert.Equal(t, "secret (1)", env.Title)
}

func TestMergePackets_EncryptedForkDegrades(t *testing.T) {
	ctx := context.Background()
	local, remote := setupDB(t), setupDB(t)

	sealer := cipherWithKey('k')
	sealed, err := sealer.Encrypt(ctx, json.RawMessage(`{"title":"secret"}`),
		keyring.KeyRef{OwnerID: "alice"})
	require.NoError(t, err)

	lp := mkPacket("c1", "r1", "x", day(2))
	lp.Payload = sealed
	require.NoError(t, packets.NewSQLiteRepository(local).Insert(ctx, lp))
	require.NoError(t, packets.NewSQLiteRepository(remote).
		Insert(ctx, mkPacket("c1", "r1", "remote", day(3))))

	// The merging device holds the wrong key: the fork must still happen,
	// keeping the ciphertext byte for byte.
	eng := NewEngine(cipherWithKey('w'), Options{User: "alice"}, logging.NewDiscard())
	sum, err := eng.MergePackets(ctx, local, remote, day(1))
	require.NoError(t, err)
	require.Equal(t, 1, sum.Forked)

	all, err := packets.NewSQLiteRepository(local).GetAll(ctx)
	require.NoError(t, err)
	var fork *models.Packet
	for _, p := range all {
		if p.ID != "c1" {
			fork = p
		}
	}
	require.NotNil(t, fork)
	enc, ok := fork.Payload.(models.EncryptedPayload)
	require.True(t, ok)
	assert.Equal(t, sealed.Data, enc.Data, "undecryptable payload forks unmodified")
	assert.Equal(t, sealed.Nonce, enc.Nonce)
}

func TestForkEnvelope(t *testing.T) {
	env := models.Envelope{Kind: models.KindContext, Title: "notes",
		Context: &models.ContextPayload{Body: "b"}}

	forked := ForkEnvelope(env, ForkMeta{
		ForkedFrom: "p1", User: "bob", Shared: true, At: day(2),
	})
	assert.Equal(t, "notes [bob's copy]", forked.Title)
	require.NotNil(t, forked.Fork)
	assert.Equal(t, "notes", forked.Fork.OriginalTitle)
	assert.Nil(t, env.Fork, "input envelope must not be mutated")

	untitled := ForkEnvelope(models.Envelope{Kind: models.KindContext,
		Context: &models.ContextPayload{Body: "b"}}, ForkMeta{Seq: 2})
	assert.Equal(t, "(2)", untitled.Title)
}

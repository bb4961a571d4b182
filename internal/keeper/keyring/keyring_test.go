package keyring

import (
	"context"
	"errors"
	"testing"

	"github.com/packetkeeper/packetkeeper/internal/common"
	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
	"github.com/packetkeeper/packetkeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver struct {
	key []byte
	err error
}

func (r *staticResolver) ResolveKey(context.Context, KeyRef) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]byte, len(r.key))
	copy(out, r.key)
	return out, nil
}

type notePayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func TestCipher_RoundTrip(t *testing.T) {
	key := common.GenerateRandByteArray(32)
	c := NewCipher(&staticResolver{key: key}, logging.NewDiscard())
	ctx := context.Background()
	ref := KeyRef{OwnerID: "alice"}

	in := notePayload{Title: "t", Body: "b"}
	enc, err := c.Encrypt(ctx, in, ref)
	require.NoError(t, err)
	require.NotEmpty(t, enc.Data)
	require.Len(t, enc.Nonce, 12)

	var out notePayload
	require.NoError(t, c.Decrypt(ctx, enc, ref, &out))
	assert.Equal(t, in, out)
}

func TestCipher_KeyUnavailable(t *testing.T) {
	c := NewCipher(&staticResolver{err: errors.New("no network")}, logging.NewDiscard())
	ctx := context.Background()

	_, err := c.Encrypt(ctx, notePayload{}, KeyRef{OwnerID: "alice"})
	require.ErrorIs(t, err, common.ErrKeyUnavailable)

	var out notePayload
	err = c.Decrypt(ctx, models.EncryptedPayload{Data: []byte("x"), Nonce: []byte("y")}, KeyRef{OwnerID: "alice"}, &out)
	require.ErrorIs(t, err, common.ErrKeyUnavailable)
}

func TestCipher_DecryptWrongKey(t *testing.T) {
	ctx := context.Background()
	ref := KeyRef{OwnerID: "alice"}

	c1 := NewCipher(&staticResolver{key: common.GenerateRandByteArray(32)}, logging.NewDiscard())
	c2 := NewCipher(&staticResolver{key: common.GenerateRandByteArray(32)}, logging.NewDiscard())

	enc, err := c1.Encrypt(ctx, notePayload{Title: "secret"}, ref)
	require.NoError(t, err)

	var out notePayload
	err = c2.Decrypt(ctx, enc, ref, &out)
	require.ErrorIs(t, err, common.ErrDecryptionFailure)
	assert.Empty(t, out.Title)
}

func TestCipher_EncryptBadKeyLength(t *testing.T) {
	c := NewCipher(&staticResolver{key: []byte("short")}, logging.NewDiscard())

	_, err := c.Encrypt(context.Background(), notePayload{}, KeyRef{OwnerID: "alice"})
	require.ErrorIs(t, err, common.ErrEncryptionFailure)
}

func TestKeyRef_SharedSelection(t *testing.T) {
	personal := KeyRef{OwnerID: "alice"}
	assert.False(t, personal.Shared())
	assert.Equal(t, "alice", personal.CacheKey())

	nonShared := KeyRef{OwnerID: "alice", WorkspaceID: "w1", WorkspaceType: WorkspacePersonal}
	assert.False(t, nonShared.Shared())
	assert.Equal(t, "alice", nonShared.CacheKey())

	shared := KeyRef{OwnerID: "alice", WorkspaceID: "w1", WorkspaceType: WorkspaceShared}
	assert.True(t, shared.Shared())
	assert.Equal(t, "alice|w1", shared.CacheKey())
}

func TestLocalResolver_DistinctPerRef(t *testing.T) {
	r := NewLocalResolver([]byte("secret"), []byte("salt"))
	ctx := context.Background()

	k1, err := r.ResolveKey(ctx, KeyRef{OwnerID: "alice"})
	require.NoError(t, err)
	k2, err := r.ResolveKey(ctx, KeyRef{OwnerID: "alice"})
	require.NoError(t, err)
	k3, err := r.ResolveKey(ctx, KeyRef{OwnerID: "bob"})
	require.NoError(t, err)
	k4, err := r.ResolveKey(ctx, KeyRef{OwnerID: "alice", WorkspaceID: "w1", WorkspaceType: WorkspaceShared})
	require.NoError(t, err)

	require.Len(t, k1, 32)
	assert.Equal(t, k1, k2, "deterministic per ref")
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k1, k4)
}

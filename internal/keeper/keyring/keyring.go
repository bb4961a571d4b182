// Package keyring is the encryption service: it resolves the symmetric key
// for an owner or shared workspace and runs authenticated encryption of
// packet payloads with it.
package keyring

import (
	"context"
	"fmt"

	"github.com/packetkeeper/packetkeeper/internal/common"
	"github.com/packetkeeper/packetkeeper/internal/cryptox"
	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
	"github.com/packetkeeper/packetkeeper/internal/logging"
)

// WorkspaceType distinguishes personal owner space from shared workspaces.
type WorkspaceType string

const (
	WorkspacePersonal WorkspaceType = "personal"
	WorkspaceShared   WorkspaceType = "shared"
)

// KeyRef identifies which key encrypts a payload. A shared workspace
// selects the workspace key; everything else uses the personal per-owner
// key.
type KeyRef struct {
	OwnerID       string
	WorkspaceID   string
	WorkspaceType WorkspaceType
}

// Shared reports whether the ref selects a workspace-shared key.
func (r KeyRef) Shared() bool {
	return r.WorkspaceID != "" && r.WorkspaceType == WorkspaceShared
}

// CacheKey is the identity the key cache and resolvers key on.
func (r KeyRef) CacheKey() string {
	if r.Shared() {
		return r.OwnerID + "|" + r.WorkspaceID
	}
	return r.OwnerID
}

// Resolver turns a KeyRef into raw AES key material.
type Resolver interface {
	ResolveKey(ctx context.Context, ref KeyRef) ([]byte, error)
}

// Cipher encrypts and decrypts packet payloads with resolver-provided keys.
type Cipher struct {
	resolver Resolver
	log      logging.Logger
}

func NewCipher(resolver Resolver, log logging.Logger) *Cipher {
	return &Cipher{resolver: resolver, log: log}
}

// Encrypt serializes v and seals it under the key for ref. Fails with
// common.ErrKeyUnavailable when no key can be resolved and
// common.ErrEncryptionFailure on any cipher error.
func (c *Cipher) Encrypt(ctx context.Context, v any, ref KeyRef) (models.EncryptedPayload, error) {
	key, err := c.resolver.ResolveKey(ctx, ref)
	if err != nil {
		return models.EncryptedPayload{}, fmt.Errorf("%w: %v", common.ErrKeyUnavailable, err)
	}
	defer common.WipeByteArray(key)

	ciphertext, nonce, err := cryptox.EncryptJSON(v, key)
	if err != nil {
		return models.EncryptedPayload{}, fmt.Errorf("%w: %v", common.ErrEncryptionFailure, err)
	}
	return models.EncryptedPayload{Data: ciphertext, Nonce: nonce}, nil
}

// Decrypt opens an envelope under the key for ref and unmarshals the
// plaintext into v. Corruption, a wrong key, and a tampered tag all
// surface as common.ErrDecryptionFailure; no plaintext guess escapes.
func (c *Cipher) Decrypt(ctx context.Context, enc models.EncryptedPayload, ref KeyRef, v any) error {
	key, err := c.resolver.ResolveKey(ctx, ref)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrKeyUnavailable, err)
	}
	defer common.WipeByteArray(key)

	if err := cryptox.DecryptJSON(enc.Data, enc.Nonce, key, v); err != nil {
		c.log.Debug(ctx, "payload decryption failed", "owner", ref.OwnerID)
		return common.ErrDecryptionFailure
	}
	return nil
}

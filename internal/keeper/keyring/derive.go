package keyring

import (
	"context"

	"github.com/packetkeeper/packetkeeper/internal/cryptox"
)

// LocalResolver derives keys offline with argon2id from a locally held
// secret and a persistent salt, without any network dependency. The
// KeyRef identity is folded into the salt so each owner and workspace
// gets distinct material.
type LocalResolver struct {
	secret []byte
	salt   []byte
}

func NewLocalResolver(secret, salt []byte) *LocalResolver {
	return &LocalResolver{secret: secret, salt: salt}
}

func (r *LocalResolver) ResolveKey(_ context.Context, ref KeyRef) ([]byte, error) {
	salt := make([]byte, 0, len(r.salt)+len(ref.CacheKey()))
	salt = append(salt, r.salt...)
	salt = append(salt, ref.CacheKey()...)
	return cryptox.DeriveKey(r.secret, salt), nil
}

// Package cryptox holds the symmetric-crypto primitives used by the
// encryption service: AES-256-GCM over JSON-serialized payloads and
// argon2id key derivation for offline personal keys.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"

	"github.com/packetkeeper/packetkeeper/internal/common"
	"golang.org/x/crypto/argon2"
)

// NonceSize is the AES-GCM nonce length used throughout the keeper.
const NonceSize = 12

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// DeriveKey derives a 32-byte key from a secret and salt using argon2id.
// Parameters follow the RFC 9106 low-memory recommendation.
func DeriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, KeySize)
}

// EncryptJSON serializes v to JSON and encrypts it with AES-GCM.
//
// The key must be a valid AES key length (16, 24, or 32 bytes). A fresh
// random nonce is generated per call; the GCM auth tag stays appended to
// the returned ciphertext, as produced by Seal.
func EncryptJSON(v any, key []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	nonce = common.GenerateRandByteArray(aesgcm.NonceSize())
	ciphertext = aesgcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// DecryptJSON decrypts an AES-GCM ciphertext produced by EncryptJSON and
// unmarshals the plaintext JSON into v. Corruption, a wrong key, and a
// tampered tag all surface as an error; no partial plaintext escapes.
func DecryptJSON(ciphertext, nonce, key []byte, v any) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plaintext)

	return json.Unmarshal(plaintext, v)
}

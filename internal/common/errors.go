// Package common defines shared constants and sentinel errors used across
// PacketKeeper components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Crypto boundary errors.
	ErrKeyUnavailable    = errors.New("encryption key unavailable")
	ErrEncryptionFailure = errors.New("encryption failure")
	ErrDecryptionFailure = errors.New("decryption failure")

	// Snapshot exchange errors.
	ErrTransportFailure = errors.New("transport failure")
	ErrSchemaMismatch   = errors.New("snapshot schema mismatch")

	// Sync orchestration errors.
	ErrSyncInProgress = errors.New("sync already in progress")

	// Remote collaborator errors.
	ErrUnavailable  = errors.New("remote endpoint unavailable")
	ErrUnauthorized = errors.New("unauthorized")
)

package models

import "time"

// APIKey stores a model-provider credential. Unique on (Provider, OwnerID).
// Unlike packets, API keys have no tags and no tombstones; merge is pure
// last-write-wins.
type APIKey struct {
	ID       string
	Provider string
	OwnerID  string

	// Secret is the key material, possibly as an encrypted envelope.
	Secret Payload

	CreatedAt time.Time
	UpdatedAt time.Time

	SyncStatus SyncStatus
}

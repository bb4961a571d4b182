// Package models defines the data types persisted by the keeper: packets,
// tombstones, the update ledger, API keys, and the typed payload envelope.
package models

import "time"

// DefaultCollectionID is the collection a packet lands in when the writer
// does not name one.
const DefaultCollectionID = "profile"

// SyncStatus tracks whether a row carries local changes that have not been
// uploaded yet.
type SyncStatus string

const (
	// SyncPending marks rows with local changes awaiting upload.
	SyncPending SyncStatus = "pending"
	// SyncSynced marks rows that match the last uploaded snapshot.
	SyncSynced SyncStatus = "synced"
)

// Packet is the generic owned, taggable unit of stored user data.
type Packet struct {
	// ID is a globally unique identifier, immutable once created.
	ID string

	// CreateRequestID is the idempotency key supplied by the writer at
	// creation time. Unique across the packets table; replaying a create
	// with the same value returns the original packet.
	CreateRequestID string

	// OwnerID and CollectionID partition the packet space.
	OwnerID      string
	CollectionID string

	// Timestamps in UTC. UpdatedAt is monotonically non-decreasing per id.
	CreatedAt time.Time
	UpdatedAt time.Time

	// Tags categorize the packet; order is irrelevant. Mirrored into the
	// packet_tags junction table for querying.
	Tags []string

	// Payload is the packet body, either plain JSON or an encrypted
	// envelope.
	Payload Payload

	SyncStatus SyncStatus
}

// Tombstone records that a packet id was deliberately deleted, preventing
// resurrection by merge. A given id is never simultaneously present as a
// live packet and as a tombstone.
type Tombstone struct {
	PacketID  string
	DeletedAt time.Time
}

// LedgerEntry records that an update request has already been applied,
// enabling idempotent retries of update calls.
type LedgerEntry struct {
	RequestID string
	PacketID  string
	AppliedAt time.Time
}

// PacketUpdate carries the partial fields of an update call. Nil fields are
// left untouched.
type PacketUpdate struct {
	ID      string
	Tags    []string
	Payload Payload
}

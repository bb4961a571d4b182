// Package packets is the SQL repository for packet rows, their tag
// junction, deletion tombstones, and the update-idempotency ledger.
package packets

import (
	"context"
	"time"

	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
)

// SortOrder controls List ordering by creation time.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Query filters a List call. Zero-valued fields are ignored. Tags use AND
// semantics: a packet matches only if it carries every listed tag.
type Query struct {
	OwnerID      string
	CollectionID string
	Tags         []string
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
	Sort         SortOrder
}

// Repository is the low-level row store. Higher-level concerns
// (encryption, create/update idempotency policy) live in the service
// layer; callers compose repository calls inside dbx.WithTx when a
// multi-statement operation must be atomic.
type Repository interface {
	// Insert adds a new packet row and mirrors its tags into the junction
	// table. Unique violations are surfaced to the caller.
	Insert(ctx context.Context, p *models.Packet) error

	// Replace overwrites the row for p.ID in place (all columns except id)
	// and re-syncs the tag junction. common.ErrNotFound if absent.
	Replace(ctx context.Context, p *models.Packet) error

	// GetByID returns a single packet. common.ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*models.Packet, error)

	// GetByCreateRequestID resolves the idempotency key of a create call.
	// common.ErrNotFound if no packet carries the request id.
	GetByCreateRequestID(ctx context.Context, requestID string) (*models.Packet, error)

	// List returns packets matching q.
	List(ctx context.Context, q Query) ([]*models.Packet, error)

	// GetAll returns every live packet. Used by the merge engine and by
	// snapshot adoption.
	GetAll(ctx context.Context) ([]*models.Packet, error)

	// Delete removes the row and its junction entries. It does not write
	// a tombstone; deletion flows compose Delete + InsertTombstone in one
	// transaction. common.ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// Count reports the number of live packet rows.
	Count(ctx context.Context) (int, error)

	// MarkAllSynced flips every pending row to synced after a successful
	// snapshot upload.
	MarkAllSynced(ctx context.Context) error

	// Tombstones.
	InsertTombstone(ctx context.Context, ts models.Tombstone) error
	DeleteTombstone(ctx context.Context, packetID string) error
	HasTombstone(ctx context.Context, packetID string) (bool, error)
	AllTombstones(ctx context.Context) ([]models.Tombstone, error)

	// Update ledger.
	InsertLedgerEntry(ctx context.Context, e models.LedgerEntry) error
	HasLedgerEntry(ctx context.Context, requestID string) (bool, error)
}

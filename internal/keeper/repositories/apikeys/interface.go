// Package apikeys is the SQL repository for provider API-key records.
// Keys are unique on (provider, owner_id); there is no tag index and no
// tombstone table, deletion is final and merge is last-write-wins.
package apikeys

import (
	"context"

	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
)

type Repository interface {
	// Insert adds a new key row. Unique violations are surfaced.
	Insert(ctx context.Context, k *models.APIKey) error

	// Replace overwrites the row for k.ID. common.ErrNotFound if absent.
	Replace(ctx context.Context, k *models.APIKey) error

	// GetByID returns one key. common.ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*models.APIKey, error)

	// GetByProviderOwner resolves the natural key. common.ErrNotFound if
	// absent.
	GetByProviderOwner(ctx context.Context, provider, ownerID string) (*models.APIKey, error)

	// List returns all keys for one owner, or every key when ownerID is
	// empty.
	List(ctx context.Context, ownerID string) ([]*models.APIKey, error)

	// Delete removes the row. common.ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	Count(ctx context.Context) (int, error)
	MarkAllSynced(ctx context.Context) error
}

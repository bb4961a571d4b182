// Package vaultapi defines the contract of a hosted vault server the
// keeper can delegate to instead of (or in addition to) its embedded
// database. Implementations are transport-specific and live with the
// deployment that provides them; the keeper only depends on this
// interface.
package vaultapi

import (
	"context"

	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
	"github.com/packetkeeper/packetkeeper/internal/keeper/repositories/packets"
)

// Client is a remote vault. Semantics mirror the embedded engine: creates
// are idempotent on the request id, updates on the ledger request id, and
// reads return common.ErrNotFound for unknown ids. The server is
// authoritative, so a delegating adapter performs no local merge.
type Client interface {
	CreatePacket(ctx context.Context, p *models.Packet) (*models.Packet, error)
	UpdatePacket(ctx context.Context, requestID string, upd models.PacketUpdate) (*models.Packet, error)
	GetPacket(ctx context.Context, id string) (*models.Packet, error)
	ListPackets(ctx context.Context, q packets.Query) ([]*models.Packet, error)
	DeletePacket(ctx context.Context, id string) error

	SaveAPIKey(ctx context.Context, k *models.APIKey) (*models.APIKey, error)
	GetAPIKey(ctx context.Context, provider, ownerID string) (*models.APIKey, error)
	ListAPIKeys(ctx context.Context, ownerID string) ([]*models.APIKey, error)
	DeleteAPIKey(ctx context.Context, provider, ownerID string) error

	// Ping probes server reachability.
	Ping(ctx context.Context) error
}

// Package services implements the write/read policies on top of the raw
// repositories: create and update idempotency, payload encryption, and
// tombstoned deletion. Repositories stay dumb row stores; everything a
// caller would call "business rules" lives here.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/packetkeeper/packetkeeper/internal/dbx"
	"github.com/packetkeeper/packetkeeper/internal/keeper/keyring"
	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
	"github.com/packetkeeper/packetkeeper/internal/keeper/repositories/packets"
	"github.com/packetkeeper/packetkeeper/internal/logging"
)

// PacketService owns packet writes and reads. When constructed with a
// non-nil cipher, payloads are sealed before insert and opened
// transparently on read; with a nil cipher packets are stored in plain.
type PacketService struct {
	db     *sql.DB
	cipher *keyring.Cipher
	log    logging.Logger
	now    func() time.Time
}

func NewPacketService(db *sql.DB, cipher *keyring.Cipher, log logging.Logger) *PacketService {
	return &PacketService{db: db, cipher: cipher, log: log, now: time.Now}
}

// Create stores a new packet. The packet's CreateRequestID is the
// idempotency key: replaying a create with a request id that was already
// stored returns the original packet instead of inserting a duplicate.
func (s *PacketService) Create(ctx context.Context, p *models.Packet, ref keyring.KeyRef) (*models.Packet, error) {
	if p == nil {
		return nil, fmt.Errorf("nil packet")
	}
	if p.CreateRequestID == "" {
		return nil, fmt.Errorf("missing create request id")
	}
	if p.OwnerID == "" {
		return nil, fmt.Errorf("missing owner id")
	}

	stored := *p
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CollectionID == "" {
		stored.CollectionID = models.DefaultCollectionID
	}
	now := s.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	stored.SyncStatus = models.SyncPending

	payload, err := s.seal(ctx, stored.Payload, ref)
	if err != nil {
		return nil, err
	}
	stored.Payload = payload

	repo := packets.NewSQLiteRepository(s.db)
	if err := repo.Insert(ctx, &stored); err != nil {
		if dbx.IsUniqueViolation(err) {
			existing, getErr := repo.GetByCreateRequestID(ctx, p.CreateRequestID)
			if getErr == nil {
				s.log.Info(ctx, "create replayed, returning existing packet",
					"request_id", p.CreateRequestID, "packet_id", existing.ID)
				return s.open(ctx, existing, ref), nil
			}
			// The violation was on id, not on the request id.
		}
		return nil, fmt.Errorf("insert packet: %w", err)
	}

	return s.open(ctx, &stored, ref), nil
}

// Update applies a partial update under a request-id idempotency ledger.
// A request id already present in the ledger returns the packet unchanged;
// otherwise tags and payload are merged in, updated_at is bumped, and the
// row goes back to pending.
func (s *PacketService) Update(ctx context.Context, requestID string, upd models.PacketUpdate, ref keyring.KeyRef) (*models.Packet, error) {
	if requestID == "" {
		return nil, fmt.Errorf("missing update request id")
	}
	if upd.ID == "" {
		return nil, fmt.Errorf("missing packet id")
	}

	var result *models.Packet
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := packets.NewSQLiteRepository(tx)

		applied, err := repo.HasLedgerEntry(ctx, requestID)
		if err != nil {
			return err
		}
		if applied {
			s.log.Info(ctx, "update replayed, returning packet unchanged",
				"request_id", requestID, "packet_id", upd.ID)
			result, err = repo.GetByID(ctx, upd.ID)
			return err
		}

		p, err := repo.GetByID(ctx, upd.ID)
		if err != nil {
			return err
		}

		if upd.Tags != nil {
			p.Tags = upd.Tags
		}
		if upd.Payload != nil {
			payload, err := s.seal(ctx, upd.Payload, ref)
			if err != nil {
				return err
			}
			p.Payload = payload
		}

		now := s.now().UTC()
		if !now.After(p.UpdatedAt) {
			now = p.UpdatedAt.Add(time.Millisecond)
		}
		p.UpdatedAt = now
		p.SyncStatus = models.SyncPending

		if err := repo.Replace(ctx, p); err != nil {
			return err
		}
		if err := repo.InsertLedgerEntry(ctx, models.LedgerEntry{
			RequestID: requestID,
			PacketID:  p.ID,
			AppliedAt: now,
		}); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.open(ctx, result, ref), nil
}

// Get returns one packet with its payload opened when possible.
func (s *PacketService) Get(ctx context.Context, id string, ref keyring.KeyRef) (*models.Packet, error) {
	p, err := packets.NewSQLiteRepository(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, p, ref), nil
}

// List returns packets matching q, payloads opened when possible. A
// payload that fails to decrypt is returned sealed with a warning rather
// than failing the whole listing.
func (s *PacketService) List(ctx context.Context, q packets.Query, ref keyring.KeyRef) ([]*models.Packet, error) {
	rows, err := packets.NewSQLiteRepository(s.db).List(ctx, q)
	if err != nil {
		return nil, err
	}
	for i, p := range rows {
		rows[i] = s.open(ctx, p, ref)
	}
	return rows, nil
}

// Delete removes the packet and writes its tombstone in one transaction,
// so the id can never be simultaneously live and tombstoned.
func (s *PacketService) Delete(ctx context.Context, id string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := packets.NewSQLiteRepository(tx)
		if err := repo.Delete(ctx, id); err != nil {
			return err
		}
		return repo.InsertTombstone(ctx, models.Tombstone{
			PacketID:  id,
			DeletedAt: s.now().UTC(),
		})
	})
}

// seal encrypts a plain payload when the service runs with a cipher.
// Already-encrypted payloads pass through untouched.
func (s *PacketService) seal(ctx context.Context, payload models.Payload, ref keyring.KeyRef) (models.Payload, error) {
	plain, ok := payload.(models.PlainPayload)
	if !ok || s.cipher == nil {
		return payload, nil
	}
	enc, err := s.cipher.Encrypt(ctx, plain.Data, ref)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// open decrypts an encrypted payload for the caller. Failure leaves the
// payload sealed and logs a warning; readers degrade instead of erroring.
func (s *PacketService) open(ctx context.Context, p *models.Packet, ref keyring.KeyRef) *models.Packet {
	enc, ok := p.Payload.(models.EncryptedPayload)
	if !ok || s.cipher == nil {
		return p
	}
	var raw json.RawMessage
	if err := s.cipher.Decrypt(ctx, enc, ref, &raw); err != nil {
		s.log.Warn(ctx, "packet payload left sealed",
			"packet_id", p.ID, "error", err)
		return p
	}
	out := *p
	out.Payload = models.PlainPayload{Data: raw}
	return &out
}

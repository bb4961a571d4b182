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
	"github.com/packetkeeper/packetkeeper/internal/keeper/repositories/apikeys"
	"github.com/packetkeeper/packetkeeper/internal/logging"
)

// APIKeyService stores provider credentials. Keys are natural-keyed on
// (provider, owner); saving a provider that already has a key overwrites
// it in place. Secrets get the same seal/open treatment as packet
// payloads.
type APIKeyService struct {
	db     *sql.DB
	cipher *keyring.Cipher
	log    logging.Logger
	now    func() time.Time
}

func NewAPIKeyService(db *sql.DB, cipher *keyring.Cipher, log logging.Logger) *APIKeyService {
	return &APIKeyService{db: db, cipher: cipher, log: log, now: time.Now}
}

// Save upserts the key for (k.Provider, k.OwnerID). An existing row keeps
// its id and created_at; only the secret and updated_at move.
func (s *APIKeyService) Save(ctx context.Context, k *models.APIKey, ref keyring.KeyRef) (*models.APIKey, error) {
	if k == nil {
		return nil, fmt.Errorf("nil api key")
	}
	if k.Provider == "" || k.OwnerID == "" {
		return nil, fmt.Errorf("missing provider or owner id")
	}

	secret, err := s.sealSecret(ctx, k.Secret, ref)
	if err != nil {
		return nil, err
	}

	var result *models.APIKey
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := apikeys.NewSQLiteRepository(tx)
		now := s.now().UTC()

		existing, err := repo.GetByProviderOwner(ctx, k.Provider, k.OwnerID)
		switch {
		case err == nil:
			existing.Secret = secret
			existing.UpdatedAt = now
			existing.SyncStatus = models.SyncPending
			if err := repo.Replace(ctx, existing); err != nil {
				return err
			}
			result = existing
			return nil
		case isNotFound(err):
			stored := *k
			if stored.ID == "" {
				stored.ID = uuid.NewString()
			}
			stored.Secret = secret
			stored.CreatedAt = now
			stored.UpdatedAt = now
			stored.SyncStatus = models.SyncPending
			if err := repo.Insert(ctx, &stored); err != nil {
				return err
			}
			result = &stored
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return s.openSecret(ctx, result, ref), nil
}

// GetByProvider returns the owner's key for one provider.
// common.ErrNotFound when none is stored.
func (s *APIKeyService) GetByProvider(ctx context.Context, provider, ownerID string, ref keyring.KeyRef) (*models.APIKey, error) {
	k, err := apikeys.NewSQLiteRepository(s.db).GetByProviderOwner(ctx, provider, ownerID)
	if err != nil {
		return nil, err
	}
	return s.openSecret(ctx, k, ref), nil
}

// IsAvailable reports whether the owner has a key stored for provider.
func (s *APIKeyService) IsAvailable(ctx context.Context, provider, ownerID string) (bool, error) {
	_, err := apikeys.NewSQLiteRepository(s.db).GetByProviderOwner(ctx, provider, ownerID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns the owner's keys, or every key when ownerID is empty.
func (s *APIKeyService) List(ctx context.Context, ownerID string, ref keyring.KeyRef) ([]*models.APIKey, error) {
	rows, err := apikeys.NewSQLiteRepository(s.db).List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i, k := range rows {
		rows[i] = s.openSecret(ctx, k, ref)
	}
	return rows, nil
}

// Delete removes the owner's key for provider. Deletion is final: API keys
// carry no tombstones, a concurrently re-added key simply wins by
// timestamp at the next merge.
func (s *APIKeyService) Delete(ctx context.Context, provider, ownerID string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := apikeys.NewSQLiteRepository(tx)
		k, err := repo.GetByProviderOwner(ctx, provider, ownerID)
		if err != nil {
			return err
		}
		return repo.Delete(ctx, k.ID)
	})
}

func (s *APIKeyService) sealSecret(ctx context.Context, secret models.Payload, ref keyring.KeyRef) (models.Payload, error) {
	plain, ok := secret.(models.PlainPayload)
	if !ok || s.cipher == nil {
		return secret, nil
	}
	enc, err := s.cipher.Encrypt(ctx, plain.Data, ref)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

func (s *APIKeyService) openSecret(ctx context.Context, k *models.APIKey, ref keyring.KeyRef) *models.APIKey {
	enc, ok := k.Secret.(models.EncryptedPayload)
	if !ok || s.cipher == nil {
		return k
	}
	var raw json.RawMessage
	if err := s.cipher.Decrypt(ctx, enc, ref, &raw); err != nil {
		s.log.Warn(ctx, "api key secret left sealed",
			"provider", k.Provider, "error", err)
		return k
	}
	out := *k
	out.Secret = models.PlainPayload{Data: raw}
	return &out
}

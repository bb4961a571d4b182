// Package merge reconciles a local database with a freshly downloaded
// remote snapshot: remote-only rows are adopted, concurrent edits are
// resolved by timestamp, true conflicts fork the local version into a new
// packet, and deletions propagate symmetrically through tombstones.
package merge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/packetkeeper/packetkeeper/internal/common"
	"github.com/packetkeeper/packetkeeper/internal/dbx"
	"github.com/packetkeeper/packetkeeper/internal/keeper/keyring"
	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
	"github.com/packetkeeper/packetkeeper/internal/keeper/repositories/apikeys"
	"github.com/packetkeeper/packetkeeper/internal/keeper/repositories/packets"
	"github.com/packetkeeper/packetkeeper/internal/logging"
)

// Summary counts what one merge pass did.
type Summary struct {
	Inserted int
	Updated  int
	Forked   int
	Deleted  int
}

// Add accumulates another summary into s.
func (s *Summary) Add(other Summary) {
	s.Inserted += other.Inserted
	s.Updated += other.Updated
	s.Forked += other.Forked
	s.Deleted += other.Deleted
}

// Options configure conflict-fork annotation.
type Options struct {
	// User is the display name stamped on conflict copies.
	User          string
	WorkspaceID   string
	WorkspaceType keyring.WorkspaceType
}

func (o Options) shared() bool {
	return o.WorkspaceID != "" && o.WorkspaceType == keyring.WorkspaceShared
}

// Engine merges remote snapshots into local databases. The cipher is used
// only to annotate encrypted payloads during forking and may be nil; a
// fork that cannot be decrypted keeps its ciphertext unmodified.
type Engine struct {
	cipher *keyring.Cipher
	opts   Options
	log    logging.Logger
	now    func() time.Time
}

func NewEngine(cipher *keyring.Cipher, opts Options, log logging.Logger) *Engine {
	return &Engine{cipher: cipher, opts: opts, log: log, now: time.Now}
}

// MergePackets reconciles the local packets database with a remote
// snapshot. lastSync is the timestamp of the last successful sync; the
// zero time means no sync has completed yet, which disables conflict
// detection and degrades to plain timestamp-wins (a first sync after a
// gap must not fork an entire database).
//
// Local mutations run in one transaction: a failed merge leaves the local
// database untouched. Re-running the same merge is a no-op.
func (e *Engine) MergePackets(ctx context.Context, local, remote *sql.DB, lastSync time.Time) (Summary, error) {
	var sum Summary

	remoteRepo := packets.NewSQLiteRepository(remote)
	remoteRows, err := remoteRepo.GetAll(ctx)
	if err != nil {
		return sum, err
	}
	remoteTombs, err := remoteRepo.AllTombstones(ctx)
	if err != nil {
		return sum, err
	}

	hasLastSync := !lastSync.IsZero()

	err = dbx.WithTx(ctx, local, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := packets.NewSQLiteRepository(tx)
		forkSeq := 0

		for _, rp := range remoteRows {
			if rp.ID == "" || rp.UpdatedAt.IsZero() {
				e.log.Warn(ctx, "skipping unusable remote packet row", "packet_id", rp.ID)
				continue
			}

			lp, err := repo.GetByID(ctx, rp.ID)
			switch {
			case errors.Is(err, common.ErrNotFound):
				dead, err := repo.HasTombstone(ctx, rp.ID)
				if err != nil {
					return err
				}
				if dead {
					// Restore only when the remote edit post-dates the
					// local deletion, i.e. someone resurrected it
					// elsewhere after the last sync.
					if !hasLastSync || !rp.UpdatedAt.After(lastSync) {
						continue
					}
					if err := repo.DeleteTombstone(ctx, rp.ID); err != nil {
						return err
					}
				}
				if err := e.adoptInsert(ctx, repo, rp); err != nil {
					return err
				}
				sum.Inserted++

			case err != nil:
				return err

			default:
				if rp.UpdatedAt.Equal(lp.UpdatedAt) {
					continue
				}
				localMod := hasLastSync && lp.UpdatedAt.After(lastSync)
				remoteMod := hasLastSync && rp.UpdatedAt.After(lastSync)

				if localMod && remoteMod {
					// True conflict: the local version survives as a new
					// packet, the original id adopts the remote version.
					forkSeq++
					forked := e.fork(ctx, lp, forkSeq)
					if err := repo.Insert(ctx, forked); err != nil {
						return err
					}
					if err := e.adoptReplace(ctx, repo, rp); err != nil {
						return err
					}
					sum.Forked++
					sum.Updated++
					continue
				}

				if rp.UpdatedAt.After(lp.UpdatedAt) {
					if err := e.adoptReplace(ctx, repo, rp); err != nil {
						return err
					}
					sum.Updated++
				}
			}
		}

		// Tombstone pass, after the packet pass so restores are settled.
		for _, rt := range remoteTombs {
			dead, err := repo.HasTombstone(ctx, rt.PacketID)
			if err != nil {
				return err
			}
			if dead {
				continue
			}

			lp, err := repo.GetByID(ctx, rt.PacketID)
			if errors.Is(err, common.ErrNotFound) {
				// Nothing live here; record the deletion so it cannot
				// resurrect later.
				if err := repo.InsertTombstone(ctx, rt); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}

			// A local edit after the last sync outranks the remote
			// deletion; so does any edit when no sync has completed yet.
			if !hasLastSync || lp.UpdatedAt.After(lastSync) {
				continue
			}
			if err := repo.Delete(ctx, lp.ID); err != nil {
				return err
			}
			if err := repo.InsertTombstone(ctx, rt); err != nil {
				return err
			}
			sum.Deleted++
		}

		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// MergeAPIKeys reconciles the API-keys database. Keys have no tombstones
// and no forking: the row with the newer updated_at wins per
// (provider, owner).
func (e *Engine) MergeAPIKeys(ctx context.Context, local, remote *sql.DB) (Summary, error) {
	var sum Summary

	remoteRows, err := apikeys.NewSQLiteRepository(remote).List(ctx, "")
	if err != nil {
		return sum, err
	}

	err = dbx.WithTx(ctx, local, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := apikeys.NewSQLiteRepository(tx)

		for _, rk := range remoteRows {
			if rk.Provider == "" || rk.OwnerID == "" || rk.UpdatedAt.IsZero() {
				e.log.Warn(ctx, "skipping unusable remote api key row", "id", rk.ID)
				continue
			}

			lk, err := repo.GetByProviderOwner(ctx, rk.Provider, rk.OwnerID)
			switch {
			case errors.Is(err, common.ErrNotFound):
				ins := *rk
				ins.SyncStatus = models.SyncSynced
				if err := repo.Insert(ctx, &ins); err != nil {
					return err
				}
				sum.Inserted++

			case err != nil:
				return err

			default:
				if !rk.UpdatedAt.After(lk.UpdatedAt) {
					continue
				}
				// Devices mint independent ids for the same natural key;
				// the local id survives, the remote content wins.
				lk.Secret = rk.Secret
				lk.UpdatedAt = rk.UpdatedAt
				lk.SyncStatus = models.SyncSynced
				if err := repo.Replace(ctx, lk); err != nil {
					return err
				}
				sum.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

func (e *Engine) adoptInsert(ctx context.Context, repo *packets.SQLiteRepository, rp *models.Packet) error {
	ins := *rp
	ins.SyncStatus = models.SyncSynced
	if err := repo.Insert(ctx, &ins); err != nil {
		if dbx.IsUniqueViolation(err) {
			e.log.Warn(ctx, "skipping remote packet clashing with a local row",
				"packet_id", rp.ID, "request_id", rp.CreateRequestID)
			return nil
		}
		return err
	}
	return nil
}

func (e *Engine) adoptReplace(ctx context.Context, repo *packets.SQLiteRepository, rp *models.Packet) error {
	upd := *rp
	upd.SyncStatus = models.SyncSynced
	return repo.Replace(ctx, &upd)
}

// fork creates the conflict copy of a local packet: fresh identity,
// pending status, and the payload annotated with fork metadata. An
// encrypted payload that cannot be opened (or re-sealed) is copied with
// its ciphertext unchanged rather than lost.
func (e *Engine) fork(ctx context.Context, lp *models.Packet, seq int) *models.Packet {
	now := e.now().UTC()
	out := *lp
	out.ID = uuid.NewString()
	out.CreateRequestID = uuid.NewString()
	out.Tags = append([]string(nil), lp.Tags...)
	out.UpdatedAt = now
	out.SyncStatus = models.SyncPending

	meta := ForkMeta{
		ForkedFrom: lp.ID,
		User:       e.opts.User,
		Shared:     e.opts.shared(),
		Seq:        seq,
		At:         now,
	}

	switch p := lp.Payload.(type) {
	case models.PlainPayload:
		annotated, err := annotateRaw(p.Data, meta)
		if err != nil {
			e.log.Warn(ctx, "fork annotation failed, copying payload as is",
				"packet_id", lp.ID, "error", err)
			break
		}
		out.Payload = models.PlainPayload{Data: annotated}

	case models.EncryptedPayload:
		if e.cipher == nil {
			e.log.Warn(ctx, "no cipher, forking ciphertext unmodified", "packet_id", lp.ID)
			break
		}
		ref := keyring.KeyRef{
			OwnerID:       lp.OwnerID,
			WorkspaceID:   e.opts.WorkspaceID,
			WorkspaceType: e.opts.WorkspaceType,
		}
		var raw json.RawMessage
		if err := e.cipher.Decrypt(ctx, p, ref, &raw); err != nil {
			e.log.Warn(ctx, "fork decryption failed, forking ciphertext unmodified",
				"packet_id", lp.ID, "error", err)
			break
		}
		annotated, err := annotateRaw(raw, meta)
		if err != nil {
			e.log.Warn(ctx, "fork annotation failed, forking ciphertext unmodified",
				"packet_id", lp.ID, "error", err)
			break
		}
		enc, err := e.cipher.Encrypt(ctx, annotated, ref)
		if err != nil {
			e.log.Warn(ctx, "fork re-encryption failed, forking ciphertext unmodified",
				"packet_id", lp.ID, "error", err)
			break
		}
		out.Payload = enc
	}

	return &out
}

// Package store opens and migrates the two embedded SQLite databases
// (packets and API keys) and turns them into and from portable snapshot
// blobs for sync.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"

	"github.com/packetkeeper/packetkeeper/internal/filex"
	"github.com/packetkeeper/packetkeeper/internal/keeper/migrations"
	"github.com/packetkeeper/packetkeeper/internal/logging"

	_ "modernc.org/sqlite"
)

// Dataset names one of the two embedded databases.
type Dataset string

const (
	DatasetPackets Dataset = "packets"
	DatasetKeys    Dataset = "keys"
)

// Snapshot blob names. The suffix is the schema version: bumping it is a
// migration boundary, and snapshots from another version are rejected.
const (
	PacketsBlobName = "packets_v1.db"
	KeysBlobName    = "api_keys_v1.db"
)

// SchemaVersion is the value recorded in each dataset's metadata table.
const SchemaVersion = "1"

// BlobName returns the snapshot name a dataset syncs under.
func BlobName(d Dataset) string {
	if d == DatasetKeys {
		return KeysBlobName
	}
	return PacketsBlobName
}

// Store holds the two open databases backing one keeper instance.
type Store struct {
	Packets *sql.DB
	Keys    *sql.DB

	log logging.Logger
}

// Open creates (or reopens) the keeper databases under dir and brings both
// schemas up to date. A missing directory or missing files are a normal
// cold start.
func Open(ctx context.Context, dir string, log logging.Logger) (*Store, error) {
	if err := filex.EnsureDir(dir); err != nil {
		return nil, err
	}

	packets, err := openDB(ctx, filepath.Join(dir, PacketsBlobName), DatasetPackets)
	if err != nil {
		return nil, err
	}
	keys, err := openDB(ctx, filepath.Join(dir, KeysBlobName), DatasetKeys)
	if err != nil {
		packets.Close()
		return nil, err
	}

	log.Debug(ctx, "store opened", "dir", dir)
	return &Store{Packets: packets, Keys: keys, log: log}, nil
}

// OpenMemory opens a fully migrated in-memory store. Used by tests and by
// the vault-delegate backend, which needs no local persistence.
func OpenMemory(ctx context.Context, log logging.Logger) (*Store, error) {
	packets, err := openMemoryDB(ctx, DatasetPackets)
	if err != nil {
		return nil, err
	}
	keys, err := openMemoryDB(ctx, DatasetKeys)
	if err != nil {
		packets.Close()
		return nil, err
	}
	return &Store{Packets: packets, Keys: keys, log: log}, nil
}

// DB returns the handle for one dataset.
func (s *Store) DB(d Dataset) *sql.DB {
	if d == DatasetKeys {
		return s.Keys
	}
	return s.Packets
}

func (s *Store) Close() error {
	var firstErr error
	for _, db := range []*sql.DB{s.Packets, s.Keys} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func openDB(ctx context.Context, path string, d Dataset) (*sql.DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := Migrate(ctx, db, d); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openMemoryDB(ctx context.Context, d Dataset) (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// A pool of connections would each get their own empty memory DB.
	db.SetMaxOpenConns(1)
	if err := Migrate(ctx, db, d); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate brings one dataset's schema up to date with the embedded goose
// migrations.
func Migrate(ctx context.Context, db *sql.DB, d Dataset) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, string(d)); err != nil {
		return fmt.Errorf("migrate %s: %w", d, err)
	}
	return nil
}

// Export serializes one dataset into a portable single-file snapshot via
// VACUUM INTO, which produces a consistent copy regardless of journal
// mode.
func Export(ctx context.Context, db *sql.DB) ([]byte, error) {
	tmp, err := os.CreateTemp("", "keeper-export-*.db")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	// VACUUM INTO refuses to overwrite an existing file.
	os.Remove(path)
	defer os.Remove(path)

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return nil, fmt.Errorf("vacuum into: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/packetkeeper/packetkeeper/internal/common"
	"github.com/packetkeeper/packetkeeper/internal/keeper/repositories/metadata"
)

// OpenSnapshot materializes a downloaded snapshot blob as a read-only
// database handle and verifies its recorded schema version. The returned
// cleanup closes the handle and removes the backing temp file.
func OpenSnapshot(ctx context.Context, data []byte) (*sql.DB, func(), error) {
	tmp, err := os.CreateTemp("", "keeper-snapshot-*.db")
	if err != nil {
		return nil, nil, fmt.Errorf("create temp: %w", err)
	}
	path := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(path)
		return nil, nil, fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(path)
		return nil, nil, err
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		os.Remove(path)
		return nil, nil, fmt.Errorf("open snapshot: %w", err)
	}
	cleanup := func() {
		db.Close()
		os.Remove(path)
	}

	if err := checkSchemaVersion(ctx, db); err != nil {
		cleanup()
		return nil, nil, err
	}
	return db, cleanup, nil
}

func checkSchemaVersion(ctx context.Context, db *sql.DB) error {
	version, err := metadata.NewSQLiteRepository(db).Get(ctx, metadata.KeySchemaVersion)
	if err != nil {
		return fmt.Errorf("%w: snapshot carries no schema version", common.ErrSchemaMismatch)
	}
	if string(version) != SchemaVersion {
		return fmt.Errorf("%w: snapshot schema %q, expected %q",
			common.ErrSchemaMismatch, version, SchemaVersion)
	}
	return nil
}

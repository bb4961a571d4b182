package apikeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/packetkeeper/packetkeeper/internal/common"
	"github.com/packetkeeper/packetkeeper/internal/dbx"
	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or
// *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const keyColumns = `id, provider, owner_id, secret, created_at, updated_at, sync_status`

func (r *SQLiteRepository) Insert(ctx context.Context, k *models.APIKey) error {
	secret, err := models.MarshalPayload(k.Secret)
	if err != nil {
		return fmt.Errorf("failed to encode secret: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO api_keys (`+keyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.Provider, k.OwnerID, secret,
		formatTime(k.CreatedAt), formatTime(k.UpdatedAt), string(k.SyncStatus))
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Replace(ctx context.Context, k *models.APIKey) error {
	secret, err := models.MarshalPayload(k.Secret)
	if err != nil {
		return fmt.Errorf("failed to encode secret: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE api_keys SET provider=?, owner_id=?, secret=?, created_at=?, updated_at=?, sync_status=?
		WHERE id=?`,
		k.Provider, k.OwnerID, secret, formatTime(k.CreatedAt), formatTime(k.UpdatedAt),
		string(k.SyncStatus), k.ID)
	if err != nil {
		return fmt.Errorf("failed to replace api key: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE id=?`, id)
	return scanKey(row)
}

func (r *SQLiteRepository) GetByProviderOwner(ctx context.Context, provider, ownerID string) (*models.APIKey, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE provider=? AND owner_id=?`, provider, ownerID)
	return scanKey(row)
}

func (r *SQLiteRepository) List(ctx context.Context, ownerID string) ([]*models.APIKey, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id=?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY provider`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var result []*models.APIKey
	for rows.Next() {
		k, err := scanKeyRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count api keys: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) MarkAllSynced(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET sync_status=? WHERE sync_status=?`,
		string(models.SyncSynced), string(models.SyncPending))
	if err != nil {
		return fmt.Errorf("failed to mark api keys synced: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKeyColumns(s rowScanner) (*models.APIKey, error) {
	var k models.APIKey
	var createdAt, updatedAt, status string
	var secret []byte

	if err := s.Scan(&k.ID, &k.Provider, &k.OwnerID, &secret,
		&createdAt, &updatedAt, &status); err != nil {
		return nil, err
	}

	var err error
	if k.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at for %s: %w", k.ID, err)
	}
	if k.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("bad updated_at for %s: %w", k.ID, err)
	}
	if k.Secret, err = models.UnmarshalPayload(secret); err != nil {
		return nil, fmt.Errorf("bad secret for %s: %w", k.ID, err)
	}
	k.SyncStatus = models.SyncStatus(status)
	return &k, nil
}

func scanKey(row *sql.Row) (*models.APIKey, error) {
	k, err := scanKeyColumns(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return k, nil
}

func scanKeyRow(rows *sql.Rows) (*models.APIKey, error) {
	return scanKeyColumns(rows)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

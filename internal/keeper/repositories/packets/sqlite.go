package packets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
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

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const packetColumns = `id, create_request_id, owner_id, collection_id, created_at, updated_at, tags, payload, sync_status`

func (r *SQLiteRepository) Insert(ctx context.Context, p *models.Packet) error {
	tags, payload, err := encodeRow(p)
	if err != nil {
		return err
	}
	query := `INSERT INTO packets (` + packetColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		p.ID, p.CreateRequestID, p.OwnerID, p.CollectionID,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
		tags, payload, string(p.SyncStatus))
	if err != nil {
		return fmt.Errorf("failed to insert packet: %w", err)
	}
	return r.syncTags(ctx, p.ID, p.Tags)
}

func (r *SQLiteRepository) Replace(ctx context.Context, p *models.Packet) error {
	tags, payload, err := encodeRow(p)
	if err != nil {
		return err
	}
	query := `UPDATE packets SET create_request_id=?, owner_id=?, collection_id=?,
			created_at=?, updated_at=?, tags=?, payload=?, sync_status=?
			WHERE id=?`
	res, err := r.db.ExecContext(ctx, query,
		p.CreateRequestID, p.OwnerID, p.CollectionID,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
		tags, payload, string(p.SyncStatus), p.ID)
	if err != nil {
		return fmt.Errorf("failed to replace packet: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return r.syncTags(ctx, p.ID, p.Tags)
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Packet, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+packetColumns+` FROM packets WHERE id=?`, id)
	return scanPacket(row)
}

func (r *SQLiteRepository) GetByCreateRequestID(ctx context.Context, requestID string) (*models.Packet, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+packetColumns+` FROM packets WHERE create_request_id=?`, requestID)
	return scanPacket(row)
}

func (r *SQLiteRepository) List(ctx context.Context, q Query) ([]*models.Packet, error) {
	parts := []string{`SELECT DISTINCT p.` + strings.ReplaceAll(packetColumns, ", ", ", p.") + ` FROM packets p`}
	parts = append(parts, `WHERE 1=1`)
	var args []any

	if q.OwnerID != "" {
		parts = append(parts, `AND p.owner_id = ?`)
		args = append(args, q.OwnerID)
	}
	if q.CollectionID != "" {
		parts = append(parts, `AND p.collection_id = ?`)
		args = append(args, q.CollectionID)
	}
	if !q.From.IsZero() {
		parts = append(parts, `AND p.created_at >= ?`)
		args = append(args, formatTime(q.From))
	}
	if !q.To.IsZero() {
		parts = append(parts, `AND p.created_at <= ?`)
		args = append(args, formatTime(q.To))
	}
	// AND semantics: one membership subquery per requested tag.
	for _, tag := range q.Tags {
		parts = append(parts, `AND p.id IN (SELECT packet_id FROM packet_tags WHERE tag = ?)`)
		args = append(args, tag)
	}

	order := "ASC"
	if q.Sort == SortDesc {
		order = "DESC"
	}
	parts = append(parts, `ORDER BY p.created_at `+order)

	limit := q.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	parts = append(parts, `LIMIT ? OFFSET ?`)
	args = append(args, limit, q.Offset)

	rows, err := r.db.QueryContext(ctx, strings.Join(parts, " "), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list packets: %w", err)
	}
	defer rows.Close()
	return scanPackets(rows)
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]*models.Packet, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+packetColumns+` FROM packets`)
	if err != nil {
		return nil, fmt.Errorf("failed to select packets: %w", err)
	}
	defer rows.Close()
	return scanPackets(rows)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM packets WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete packet: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM packet_tags WHERE packet_id=?`, id); err != nil {
		return fmt.Errorf("failed to delete packet tags: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM packets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count packets: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) MarkAllSynced(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE packets SET sync_status=? WHERE sync_status=?`,
		string(models.SyncSynced), string(models.SyncPending))
	if err != nil {
		return fmt.Errorf("failed to mark packets synced: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) InsertTombstone(ctx context.Context, ts models.Tombstone) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tombstones (packet_id, deleted_at) VALUES (?, ?)
		ON CONFLICT(packet_id) DO NOTHING
	`, ts.PacketID, formatTime(ts.DeletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert tombstone: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteTombstone(ctx context.Context, packetID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tombstones WHERE packet_id=?`, packetID)
	if err != nil {
		return fmt.Errorf("failed to delete tombstone: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) HasTombstone(ctx context.Context, packetID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM tombstones WHERE packet_id=?`, packetID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check tombstone: %w", err)
	}
	return true, nil
}

func (r *SQLiteRepository) AllTombstones(ctx context.Context) ([]models.Tombstone, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT packet_id, deleted_at FROM tombstones`)
	if err != nil {
		return nil, fmt.Errorf("failed to select tombstones: %w", err)
	}
	defer rows.Close()

	var result []models.Tombstone
	for rows.Next() {
		var ts models.Tombstone
		var deletedAt string
		if err := rows.Scan(&ts.PacketID, &deletedAt); err != nil {
			return nil, err
		}
		ts.DeletedAt, _ = parseTime(deletedAt)
		result = append(result, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) InsertLedgerEntry(ctx context.Context, e models.LedgerEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO update_ledger (request_id, packet_id, applied_at) VALUES (?, ?, ?)
	`, e.RequestID, e.PacketID, formatTime(e.AppliedAt))
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) HasLedgerEntry(ctx context.Context, requestID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM update_ledger WHERE request_id=?`, requestID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return true, nil
}

// syncTags rewrites the junction rows for one packet to match tags.
func (r *SQLiteRepository) syncTags(ctx context.Context, packetID string, tags []string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM packet_tags WHERE packet_id=?`, packetID); err != nil {
		return fmt.Errorf("failed to clear packet tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO packet_tags (packet_id, tag) VALUES (?, ?)`,
			packetID, tag); err != nil {
			return fmt.Errorf("failed to insert packet tag: %w", err)
		}
	}
	return nil
}

func encodeRow(p *models.Packet) (tags string, payload []byte, err error) {
	tagsJSON, err := json.Marshal(p.Tags)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode tags: %w", err)
	}
	payload, err = models.MarshalPayload(p.Payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(tagsJSON), payload, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(s rowScanner) (*models.Packet, error) {
	var p models.Packet
	var createdAt, updatedAt, status string
	var tags sql.NullString
	var payload []byte

	if err := s.Scan(&p.ID, &p.CreateRequestID, &p.OwnerID, &p.CollectionID,
		&createdAt, &updatedAt, &tags, &payload, &status); err != nil {
		return nil, err
	}

	// Corrupt columns degrade instead of failing the whole result set:
	// unparseable timestamps scan as the zero time, bad tag JSON as no
	// tags, and a payload that is not valid JSON is kept as an opaque
	// JSON string so no data is dropped. Readers and the merge engine
	// decide what to do with such rows.
	p.CreatedAt, _ = parseTime(createdAt)
	p.UpdatedAt, _ = parseTime(updatedAt)
	if tags.Valid && tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &p.Tags)
	}
	var err error
	if p.Payload, err = models.UnmarshalPayload(payload); err != nil {
		quoted, _ := json.Marshal(string(payload))
		p.Payload = models.PlainPayload{Data: quoted}
	}
	p.SyncStatus = models.SyncStatus(status)
	return &p, nil
}

func scanPacket(row *sql.Row) (*models.Packet, error) {
	p, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return p, nil
}

func scanPackets(rows *sql.Rows) ([]*models.Packet, error) {
	var result []*models.Packet
	for rows.Next() {
		p, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

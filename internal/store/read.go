package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/iapsync/internal/purchase"
)

// ErrNotFound is returned when a receipt does not exist.
var ErrNotFound = errors.New("receipt not found")

// CompletedReceipts returns the user's completed receipts in seq order.
func (s *Store) CompletedReceipts(ctx context.Context, user purchase.UserKey) ([]purchase.Receipt, error) {
	return s.queryReceipts(ctx, `
		SELECT id, seq, content
		FROM receipts
		WHERE source = ? AND user_key = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, purchase.SourceCompleted, string(user))
}

// OfflineReceipts returns every offline receipt in seq order.
func (s *Store) OfflineReceipts(ctx context.Context) ([]purchase.Receipt, error) {
	return s.queryReceipts(ctx, `
		SELECT id, seq, content
		FROM receipts
		WHERE source = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, purchase.SourceOffline)
}

// ReceiptsForTransaction returns every receipt recorded for a backend
// transaction id, completed and offline, in seq order.
func (s *Store) ReceiptsForTransaction(ctx context.Context, transactionID string) ([]purchase.Receipt, error) {
	return s.queryReceipts(ctx, `
		SELECT id, seq, content
		FROM receipts
		WHERE transaction_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, transactionID)
}

// ReadReceipt returns one receipt by id. Returns ErrNotFound if absent.
func (s *Store) ReadReceipt(ctx context.Context, id string) (purchase.Receipt, error) {
	var (
		seq     int64
		content string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, content FROM receipts WHERE id = ?
	`, id).Scan(&seq, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return purchase.Receipt{}, fmt.Errorf("read receipt %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return purchase.Receipt{}, fmt.Errorf("read receipt %s: %w", id, err)
	}
	return unmarshalReceipt(id, seq, content)
}

// LastSeq returns the highest recorded seq, or 0 for an empty store.
// The engine clock resumes from it.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM receipts`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read last seq: %w", err)
	}
	return seq.Int64, nil
}

func (s *Store) queryReceipts(ctx context.Context, query string, args ...any) ([]purchase.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	receipts := []purchase.Receipt{}
	for rows.Next() {
		var (
			id      string
			seq     int64
			content string
		)
		if err := rows.Scan(&id, &seq, &content); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		r, err := unmarshalReceipt(id, seq, content)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return receipts, nil
}

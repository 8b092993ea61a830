package store

import (
	"context"
	"fmt"

	"github.com/roach88/iapsync/internal/purchase"
)

// AppendCompleted records a receipt produced by an in-process checkout.
// Uses ON CONFLICT DO NOTHING; writing the same receipt twice is a no-op.
func (s *Store) AppendCompleted(ctx context.Context, user purchase.UserKey, r purchase.Receipt) error {
	if _, err := s.insert(ctx, purchase.SourceCompleted, user, r, nil); err != nil {
		return fmt.Errorf("append completed: %w", err)
	}
	return nil
}

// AppendOffline records a receipt with no in-process checkout. Returns
// false when the same (transaction id, state) was already recorded.
func (s *Store) AppendOffline(ctx context.Context, r purchase.Receipt) (bool, error) {
	inserted, err := s.insert(ctx, purchase.SourceOffline, "", r, dedupeKey(r))
	if err != nil {
		return false, fmt.Errorf("append offline: %w", err)
	}
	return inserted, nil
}

func (s *Store) insert(ctx context.Context, source string, user purchase.UserKey, r purchase.Receipt, dedupe any) (bool, error) {
	content, err := marshalReceipt(r)
	if err != nil {
		return false, err
	}

	id := r.ID
	if id == "" {
		id, err = purchase.ReceiptID(source, user, r.Seq, r)
		if err != nil {
			return false, err
		}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO receipts
		(id, seq, source, user_key, transaction_id, state, content, dedupe_key, engine_version, receipt_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		id,
		r.Seq,
		source,
		string(user),
		r.TransactionID,
		r.State.String(),
		content,
		dedupe,
		purchase.EngineVersion,
		purchase.ReceiptVersion,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

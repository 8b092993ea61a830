package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/iapsync/internal/purchase"
)

// marshalReceipt converts a receipt's content to canonical JSON TEXT.
// ID and Seq live in their own columns.
func marshalReceipt(r purchase.Receipt) (string, error) {
	data, err := purchase.CanonicalReceipt(r)
	if err != nil {
		return "", fmt.Errorf("marshal receipt: %w", err)
	}
	return string(data), nil
}

// unmarshalReceipt parses the content column back into a receipt.
func unmarshalReceipt(id string, seq int64, content string) (purchase.Receipt, error) {
	var r purchase.Receipt
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return purchase.Receipt{}, fmt.Errorf("unmarshal receipt %s: %w", id, err)
	}
	r.ID = id
	r.Seq = seq
	if r.Offers == nil {
		r.Offers = []purchase.ReceiptOffer{}
	}
	for i := range r.Offers {
		if r.Offers[i].LineItems == nil {
			r.Offers[i].LineItems = []purchase.LineItem{}
		}
	}
	return r, nil
}

// dedupeKey identifies an offline notification. Receipts without a
// transaction id are never deduplicated.
func dedupeKey(r purchase.Receipt) any {
	if r.TransactionID == "" {
		return nil
	}
	return r.TransactionID + "\x00" + r.State.String()
}

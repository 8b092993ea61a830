package purchase

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for a future algorithm change.
const (
	DomainReceipt = "iapsync/receipt/v1"
)

// Receipt sources recorded alongside each stored receipt.
const (
	SourceCompleted = "completed"
	SourceOffline   = "offline"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ReceiptID computes the content-addressed ID of a recorded receipt.
// The seq makes two otherwise identical receipts (two failed attempts at
// the same offer, say) distinct.
func ReceiptID(source string, user UserKey, seq int64, r Receipt) (string, error) {
	content, err := CanonicalReceipt(r)
	if err != nil {
		return "", fmt.Errorf("ReceiptID: marshal receipt: %w", err)
	}
	envelope, err := MarshalCanonical(map[string]any{
		"source":  source,
		"user":    string(user),
		"seq":     seq,
		"receipt": string(content),
	})
	if err != nil {
		return "", fmt.Errorf("ReceiptID: marshal envelope: %w", err)
	}
	return hashWithDomain(DomainReceipt, envelope), nil
}

// MustReceiptID is like ReceiptID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustReceiptID(source string, user UserKey, seq int64, r Receipt) string {
	id, err := ReceiptID(source, user, seq, r)
	if err != nil {
		panic(err)
	}
	return id
}

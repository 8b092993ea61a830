package engine

import (
	"github.com/roach88/iapsync/internal/purchase"
)

// GenerateFromPending builds the receipt for a pending transaction using its
// overall state. Success receipts carry the resolved offers with their line
// items; anything else echoes the requested offers with no line items.
func GenerateFromPending(p *PendingTransaction) purchase.Receipt {
	state := p.OverallState()
	receipt := purchase.Receipt{
		TransactionID: p.transactionID,
		State:         state,
		Offers:        make([]purchase.ReceiptOffer, 0, len(p.requested)),
	}

	seen := make(map[string]bool, len(p.requested))
	for _, o := range p.requested {
		if seen[o.OfferID] {
			continue
		}
		seen[o.OfferID] = true

		entry := purchase.ReceiptOffer{
			Namespace: o.Namespace,
			OfferID:   o.OfferID,
			Quantity:  o.Quantity,
			LineItems: []purchase.LineItem{},
		}
		if state.IsSuccess() {
			entry.LineItems = append(entry.LineItems, p.receiptLines[o.OfferID]...)
		}
		receipt.Offers = append(receipt.Offers, entry)
	}
	return receipt
}

// GenerateFromTransaction builds a receipt for a completion that never had a
// pending transaction. Success yields a single-offer receipt; anything else
// an empty offer list.
func GenerateFromTransaction(state purchase.TransactionState, data purchase.TransactionData) purchase.Receipt {
	receipt := purchase.Receipt{
		TransactionID: data.TransactionID,
		State:         state,
		Offers:        []purchase.ReceiptOffer{},
	}
	if state.IsSuccess() {
		receipt.Offers = append(receipt.Offers, purchase.ReceiptOffer{
			OfferID:   data.OfferID,
			Quantity:  1,
			LineItems: []purchase.LineItem{data.LineItem()},
		})
	}
	return receipt
}

// rejectedReceipt mirrors the requested offers for a checkout that never
// reached the native layer.
func rejectedReceipt(req purchase.CheckoutRequest, state purchase.TransactionState) purchase.Receipt {
	receipt := purchase.Receipt{
		State:  state,
		Offers: make([]purchase.ReceiptOffer, 0, len(req.Offers)),
	}
	for _, o := range req.Offers {
		receipt.Offers = append(receipt.Offers, purchase.ReceiptOffer{
			Namespace: o.Namespace,
			OfferID:   o.OfferID,
			Quantity:  o.Quantity,
			LineItems: []purchase.LineItem{},
		})
	}
	return receipt
}

package backend

import (
	"github.com/roach88/iapsync/internal/purchase"
)

type sinkCall struct {
	kind    string
	outcome purchase.Outcome
	txs     []purchase.TransactionData
}

// recordingSink captures what the adapters forward.
type recordingSink struct {
	calls []sinkCall
}

func (s *recordingSink) OnNativeCompletion(outcome purchase.Outcome, data purchase.TransactionData) error {
	s.calls = append(s.calls, sinkCall{kind: "completion", outcome: outcome, txs: []purchase.TransactionData{data}})
	return nil
}

func (s *recordingSink) OnQueryExistingPurchasesComplete(outcome purchase.Outcome, txs []purchase.TransactionData) error {
	s.calls = append(s.calls, sinkCall{kind: "query", outcome: outcome, txs: txs})
	return nil
}

func (s *recordingSink) OnRestoreTransactionsComplete(outcome purchase.Outcome, txs []purchase.TransactionData) error {
	s.calls = append(s.calls, sinkCall{kind: "restore", outcome: outcome, txs: txs})
	return nil
}

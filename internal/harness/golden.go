package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/iapsync/internal/purchase"
)

// Snapshot captures a run for golden comparison: the trace, every stored
// receipt, the native calls and the live registry size. Receipt ids are
// left out; seq pins the order and the content is spelled out in full.
type Snapshot struct {
	ScenarioName string
	Backend      string
	Result       *Result
}

// toCanonicalMap converts the snapshot to the map form MarshalCanonical
// accepts.
func (s *Snapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Result.Trace))
	for i, event := range s.Result.Trace {
		m := map[string]any{
			"seq":  event.Seq,
			"step": event.Step,
			"type": event.Type,
		}
		if event.User != "" {
			m["user"] = event.User
		}
		if event.OfferID != "" {
			m["offer_id"] = event.OfferID
		}
		if event.TransactionID != "" {
			m["transaction_id"] = event.TransactionID
		}
		if event.State != "" {
			m["state"] = event.State
		}
		if event.ErrorCode != "" {
			m["error_code"] = event.ErrorCode
		}
		trace[i] = m
	}

	receipts := make([]any, len(s.Result.Receipts))
	for i, rr := range s.Result.Receipts {
		receipts[i] = map[string]any{
			"source":         rr.Source,
			"user":           string(rr.User),
			"seq":            rr.Receipt.Seq,
			"transaction_id": rr.Receipt.TransactionID,
			"state":          rr.Receipt.State.String(),
			"offers":         canonicalOffers(rr.Receipt.Offers),
		}
	}

	calls := make([]any, len(s.Result.NativeCalls))
	for i, c := range s.Result.NativeCalls {
		calls[i] = c
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"backend":       s.Backend,
		"trace":         trace,
		"receipts":      receipts,
		"native_calls":  calls,
		"pending":       s.Result.Pending,
	}
}

func canonicalOffers(offers []purchase.ReceiptOffer) []any {
	out := make([]any, len(offers))
	for i, o := range offers {
		items := make([]any, len(o.LineItems))
		for j, li := range o.LineItems {
			items[j] = map[string]any{
				"item_name":       li.ItemName,
				"unique_id":       li.UniqueID,
				"validation_info": li.ValidationInfo,
			}
		}
		out[i] = map[string]any{
			"namespace":  o.Namespace,
			"offer_id":   o.OfferID,
			"quantity":   o.Quantity,
			"line_items": items,
		}
	}
	return out
}

// MarshalSnapshot renders a run as canonical JSON.
func MarshalSnapshot(scenario *Scenario, result *Result) ([]byte, error) {
	s := Snapshot{
		ScenarioName: scenario.Name,
		Backend:      scenario.Backend,
		Result:       result,
	}
	return purchase.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against the scenario's golden
// file without re-running it.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenario, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}

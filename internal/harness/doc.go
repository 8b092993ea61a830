// Package harness runs YAML purchase scenarios against the reconciler.
//
// A scenario scripts both sides of a purchase: the caller (checkout, query,
// finalize) and the native billing layer (purchase callbacks, query and
// restore batches, refusals). Steps run in order against one reconciler
// backed by an in-memory SQLite store and a scripted native SDK; callbacks
// fire inline, so every run is deterministic.
//
// # Scenario Format
//
//	name: googleplay_purchase
//	description: "A single offer bought through Play Billing"
//	backend: googleplay
//	steps:
//	  - checkout:
//	      user: alice
//	      offers:
//	        - { namespace: game, offer_id: gems, quantity: 1 }
//	    expect: { succeeded: true, state: Purchased }
//	  - complete:
//	      googleplay:
//	        response_code: 0
//	        purchase: { product_id: gems, purchase_token: tok-1 }
//	assertions:
//	  - type: receipt_state
//	    source: completed
//	    user: alice
//	    transaction_id: tok-1
//	    state: Purchased
//
// # Assertion Types
//
//   - receipt_count: number of receipts in a set
//   - receipt_state: state of the receipt for a transaction id
//   - pending: number of live pending transactions
//   - error_code: stable error code a step's callback delivered
//   - native_calls: exact list of calls the native layer received
//
// Golden snapshots (testdata/golden) hold the canonical JSON of the trace,
// the stored receipts and the native calls.
package harness

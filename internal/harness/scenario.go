package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/iapsync/internal/backend"
	"github.com/roach88/iapsync/internal/purchase"
)

// Scenario is a scripted purchase conversation between callers, the
// reconciler and a native billing layer, with assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Backend selects the backend adapter: googleplay or storekit.
	Backend string `yaml:"backend"`

	// Allowed scripts whether the native layer permits purchases.
	// Defaults to true.
	Allowed *bool `yaml:"allowed,omitempty"`

	// RestoreOffers are handed to the native restore call.
	RestoreOffers []RestoreOffer `yaml:"restore_offers,omitempty"`

	// Steps run in order against a single reconciler.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final receipts, registry and native calls.
	Assertions []Assertion `yaml:"assertions"`
}

// RestoreOffer is one restorable offer.
type RestoreOffer struct {
	ID         string `yaml:"id"`
	Consumable bool   `yaml:"consumable,omitempty"`
}

// Step is one scenario step. Exactly one action field must be set.
type Step struct {
	Checkout        *CheckoutStep `yaml:"checkout,omitempty"`
	Complete        *CompleteStep `yaml:"complete,omitempty"`
	Query           *QueryStep    `yaml:"query,omitempty"`
	QueryComplete   *BatchStep    `yaml:"query_complete,omitempty"`
	RestoreComplete *BatchStep    `yaml:"restore_complete,omitempty"`
	Finalize        *FinalizeStep `yaml:"finalize,omitempty"`
	Native          *NativeStep   `yaml:"native,omitempty"`

	// Expect checks the callback of a checkout or query step once every
	// step has run.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// CheckoutStep starts a checkout.
type CheckoutStep struct {
	User   string                  `yaml:"user"`
	Offers []purchase.OfferRequest `yaml:"offers"`
}

// CompleteStep delivers one native purchase callback in the format of the
// scenario's backend.
type CompleteStep struct {
	GooglePlay *GooglePlayCompletion        `yaml:"googleplay,omitempty"`
	StoreKit   *backend.StoreKitTransaction `yaml:"storekit,omitempty"`
}

// GooglePlayCompletion is an onPurchasesUpdated callback.
type GooglePlayCompletion struct {
	ResponseCode int                        `yaml:"response_code"`
	Purchase     backend.GooglePlayPurchase `yaml:"purchase"`
}

// QueryStep asks for existing purchases or a restore.
type QueryStep struct {
	User    string `yaml:"user"`
	Restore bool   `yaml:"restore,omitempty"`
}

// BatchStep ends a query or restore. Google Play scenarios use
// ResponseCode and Purchases; StoreKit scenarios use Failed, ErrorCode and
// Transactions.
type BatchStep struct {
	ResponseCode int                           `yaml:"response_code,omitempty"`
	Purchases    []backend.GooglePlayPurchase  `yaml:"purchases,omitempty"`
	Failed       bool                          `yaml:"failed,omitempty"`
	ErrorCode    int                           `yaml:"error_code,omitempty"`
	Transactions []backend.StoreKitTransaction `yaml:"transactions,omitempty"`
}

// FinalizeStep consumes a transaction.
type FinalizeStep struct {
	User          string `yaml:"user"`
	TransactionID string `yaml:"transaction_id"`
}

// NativeStep rescripts the native layer mid-scenario.
type NativeStep struct {
	Allowed       *bool    `yaml:"allowed,omitempty"`
	RejectBegin   []string `yaml:"reject_begin,omitempty"`
	RejectQueries *bool    `yaml:"reject_queries,omitempty"`
}

// ExpectClause describes the expected callback.
type ExpectClause struct {
	// Pending means the callback must not have fired by the end.
	Pending bool `yaml:"pending,omitempty"`

	// Succeeded, when set, must match whether the callback error was nil.
	Succeeded *bool `yaml:"succeeded,omitempty"`

	// ErrorCode is the expected stable error code.
	ErrorCode string `yaml:"error_code,omitempty"`

	// State is the expected receipt state (checkout callbacks only).
	State string `yaml:"state,omitempty"`
}

// Assertion validates the end state of a run.
type Assertion struct {
	// Type is one of receipt_count, receipt_state, pending, error_code,
	// native_calls.
	Type string `yaml:"type"`

	// Source filters receipts: completed, offline, or empty for what
	// GetReceipts returns to the user.
	Source string `yaml:"source,omitempty"`

	// User scopes receipt assertions.
	User string `yaml:"user,omitempty"`

	// TransactionID picks the receipt for receipt_state. Empty picks the
	// last receipt in the set.
	TransactionID string `yaml:"transaction_id,omitempty"`

	// State is the expected receipt state (receipt_state).
	State string `yaml:"state,omitempty"`

	// Count is the expected number (receipt_count, pending).
	Count int `yaml:"count,omitempty"`

	// Step is the callback's step index (error_code).
	Step int `yaml:"step,omitempty"`

	// Code is the expected error code; empty means success (error_code).
	Code string `yaml:"code,omitempty"`

	// Calls is the exact native call list (native_calls).
	Calls []string `yaml:"calls,omitempty"`
}

// Assertion type constants.
const (
	AssertReceiptCount = "receipt_count"
	AssertReceiptState = "receipt_state"
	AssertPending      = "pending"
	AssertErrorCode    = "error_code"
	AssertNativeCalls  = "native_calls"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch s.Backend {
	case backend.NameGooglePlay, backend.NameStoreKit:
	case "":
		return fmt.Errorf("backend is required")
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, o := range s.RestoreOffers {
		if o.ID == "" {
			return fmt.Errorf("restore_offers[%d]: id is required", i)
		}
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i], s.Backend); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], len(s.Steps)); err != nil {
			return err
		}
	}

	return nil
}

// stepKind returns the name of the single action a step performs.
func stepKind(step *Step) (string, error) {
	var kinds []string
	if step.Checkout != nil {
		kinds = append(kinds, "checkout")
	}
	if step.Complete != nil {
		kinds = append(kinds, "complete")
	}
	if step.Query != nil {
		if step.Query.Restore {
			kinds = append(kinds, "restore")
		} else {
			kinds = append(kinds, "query")
		}
	}
	if step.QueryComplete != nil {
		kinds = append(kinds, "query_complete")
	}
	if step.RestoreComplete != nil {
		kinds = append(kinds, "restore_complete")
	}
	if step.Finalize != nil {
		kinds = append(kinds, "finalize")
	}
	if step.Native != nil {
		kinds = append(kinds, "native")
	}
	switch len(kinds) {
	case 0:
		return "", fmt.Errorf("no action")
	case 1:
		return kinds[0], nil
	default:
		return "", fmt.Errorf("multiple actions %v", kinds)
	}
}

func validateStep(index int, step *Step, backendName string) error {
	kind, err := stepKind(step)
	if err != nil {
		return fmt.Errorf("steps[%d]: %w", index, err)
	}

	if step.Expect != nil && kind != "checkout" && kind != "query" && kind != "restore" {
		return fmt.Errorf("steps[%d]: expect is only valid on checkout and query steps", index)
	}
	if step.Expect != nil && step.Expect.State != "" {
		if kind != "checkout" {
			return fmt.Errorf("steps[%d].expect: state is only valid on checkout steps", index)
		}
		if _, err := purchase.ParseState(step.Expect.State); err != nil {
			return fmt.Errorf("steps[%d].expect: %w", index, err)
		}
	}

	if step.Complete != nil {
		c := step.Complete
		switch {
		case c.GooglePlay != nil && c.StoreKit != nil:
			return fmt.Errorf("steps[%d].complete: set one of googleplay or storekit", index)
		case c.GooglePlay != nil && backendName != backend.NameGooglePlay:
			return fmt.Errorf("steps[%d].complete: googleplay completion in a %s scenario", index, backendName)
		case c.StoreKit != nil && backendName != backend.NameStoreKit:
			return fmt.Errorf("steps[%d].complete: storekit completion in a %s scenario", index, backendName)
		case c.GooglePlay == nil && c.StoreKit == nil:
			return fmt.Errorf("steps[%d].complete: googleplay or storekit is required", index)
		}
	}

	if step.Finalize != nil && step.Finalize.TransactionID == "" {
		return fmt.Errorf("steps[%d].finalize: transaction_id is required", index)
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, steps int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Source {
	case "", purchase.SourceCompleted, purchase.SourceOffline:
	default:
		return fmt.Errorf("assertions[%d]: unknown source %q", index, a.Source)
	}

	switch a.Type {
	case AssertReceiptCount, AssertPending:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertReceiptState:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for receipt_state", index)
		}
		if _, err := purchase.ParseState(a.State); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertErrorCode:
		if a.Step < 0 || a.Step >= steps {
			return fmt.Errorf("assertions[%d]: step %d out of range", index, a.Step)
		}
	case AssertNativeCalls:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

package backend

import (
	"sync"

	"github.com/google/uuid"
)

// CommandKind names a native call queued for the device runtime.
type CommandKind string

const (
	CommandBeginPurchase    CommandKind = "begin_purchase"
	CommandConsumePurchase  CommandKind = "consume_purchase"
	CommandQueryPurchases   CommandKind = "query_purchases"
	CommandRestorePurchases CommandKind = "restore_purchases"
)

// Command is one queued native call. IDs are UUIDv7 so a device can drain
// and acknowledge them in order.
type Command struct {
	ID            string      `json:"id"`
	Kind          CommandKind `json:"kind"`
	OfferID       string      `json:"offer_id,omitempty"`
	TransactionID string      `json:"transaction_id,omitempty"`
	OfferIDs      []string    `json:"offer_ids,omitempty"`
	Consumable    []bool      `json:"consumable,omitempty"`
}

// DefaultOutboxCapacity bounds the queued commands.
const DefaultOutboxCapacity = 1024

// Outbox is a native SDK that queues commands instead of calling a vendor
// SDK in-process. The device runtime drains it over HTTP and reports
// completions back through the native bridge.
//
// A call is accepted while the outbox has room; a full outbox refuses
// purchases and queries so the engine fails the request instead of losing
// it. Consume calls are dropped when full.
//
// Thread-safety: safe for concurrent use.
type Outbox struct {
	mu       sync.Mutex
	commands []Command
	capacity int
	allowed  bool
}

// NewOutbox creates an outbox. allowed answers IsBillingSupported and
// CanMakePayments until the device reports otherwise.
func NewOutbox(allowed bool) *Outbox {
	return &Outbox{capacity: DefaultOutboxCapacity, allowed: allowed}
}

// SetCapacity changes the queue bound. Values below 1 are ignored.
func (o *Outbox) SetCapacity(n int) {
	if n < 1 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.capacity = n
}

// SetAllowed records whether the device can make payments.
func (o *Outbox) SetAllowed(allowed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.allowed = allowed
}

// Allowed reports whether the device can make payments.
func (o *Outbox) Allowed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.allowed
}

func (o *Outbox) push(c Command) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.commands) >= o.capacity {
		return false
	}
	c.ID = uuid.Must(uuid.NewV7()).String()
	o.commands = append(o.commands, c)
	return true
}

// Drain removes and returns up to max queued commands, oldest first.
// max <= 0 drains everything.
func (o *Outbox) Drain(max int) []Command {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.commands)
	if max > 0 && max < n {
		n = max
	}
	out := make([]Command, n)
	copy(out, o.commands[:n])
	rest := copy(o.commands, o.commands[n:])
	for i := rest; i < len(o.commands); i++ {
		o.commands[i] = Command{}
	}
	o.commands = o.commands[:rest]
	return out
}

// Len returns the number of queued commands.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.commands)
}

// GooglePlayBilling

func (o *Outbox) LaunchBillingFlow(productID string) bool {
	return o.push(Command{Kind: CommandBeginPurchase, OfferID: productID})
}

func (o *Outbox) ConsumePurchase(purchaseToken string) {
	o.push(Command{Kind: CommandConsumePurchase, TransactionID: purchaseToken})
}

func (o *Outbox) QueryPurchases() bool {
	return o.push(Command{Kind: CommandQueryPurchases})
}

func (o *Outbox) RestorePurchases(productIDs []string, consumable []bool) bool {
	return o.push(Command{
		Kind:       CommandRestorePurchases,
		OfferIDs:   append([]string{}, productIDs...),
		Consumable: append([]bool{}, consumable...),
	})
}

func (o *Outbox) IsBillingSupported() bool {
	return o.Allowed()
}

// StoreKitQueue

func (o *Outbox) AddPayment(productID string) bool {
	return o.LaunchBillingFlow(productID)
}

func (o *Outbox) FinishTransaction(transactionID string) {
	o.ConsumePurchase(transactionID)
}

func (o *Outbox) RefreshReceipt() bool {
	return o.QueryPurchases()
}

func (o *Outbox) RestoreCompletedTransactions(productIDs []string) bool {
	return o.push(Command{Kind: CommandRestorePurchases, OfferIDs: append([]string{}, productIDs...)})
}

func (o *Outbox) CanMakePayments() bool {
	return o.Allowed()
}

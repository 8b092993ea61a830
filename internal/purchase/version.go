package purchase

// Version constants for the receipt schema and engine.
const (
	// ReceiptVersion is the receipt schema version.
	ReceiptVersion = "1"

	// EngineVersion is the iapsync engine version.
	EngineVersion = "0.1.0"
)

package domain

// TransferCommand asks the engine to move Amount cents from the
// resolved source subscriber to the destination subscriber. Source is
// always the product of address resolution, never caller-supplied.
type TransferCommand struct {
	TransactionID string `json:"transaction_id"`
	Source        string `json:"source"`
	Destination   string `json:"destination"`
	Amount        Cents  `json:"amount"`
}

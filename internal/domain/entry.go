package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Journal entry kinds.
const (
	EntryKindAccountProvisioned = "AccountProvisioned"
	EntryKindFundsMoved         = "FundsMoved"
	EntryKindTransferRejected   = "TransferRejected"
)

// Entry is one record in the append-only transfer journal. Replaying
// all entries in order reproduces the exact balance state.
type Entry interface {
	Kind() string
	Transaction() string
}

// EntryEnvelope wraps an entry with its kind and timestamp for
// line-delimited JSON persistence.
type EntryEnvelope struct {
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// AccountProvisioned records the creation of a subscriber account with
// an opening balance. Provisioning happens outside the transfer path.
type AccountProvisioned struct {
	TransactionID  string `json:"transaction_id"`
	Subscriber     string `json:"subscriber"`
	OpeningBalance Cents  `json:"opening_balance"`
}

func (e AccountProvisioned) Kind() string        { return EntryKindAccountProvisioned }
func (e AccountProvisioned) Transaction() string { return e.TransactionID }

// FundsMoved records a committed transfer: the debit and the credit
// are one entry so a replayed journal can never contain half of a
// transfer.
type FundsMoved struct {
	TransactionID string `json:"transaction_id"`
	Source        string `json:"source"`
	Destination   string `json:"destination"`
	Amount        Cents  `json:"amount"`
}

func (e FundsMoved) Kind() string        { return EntryKindFundsMoved }
func (e FundsMoved) Transaction() string { return e.TransactionID }

// TransferRejected records a definitive business rejection. No balance
// changed; the entry exists so rejections are auditable and replay
// restores idempotency state.
type TransferRejected struct {
	TransactionID string      `json:"transaction_id"`
	Source        string      `json:"source"`
	Outcome       OutcomeCode `json:"outcome"`
	Reason        string      `json:"reason,omitempty"`
}

func (e TransferRejected) Kind() string        { return EntryKindTransferRejected }
func (e TransferRejected) Transaction() string { return e.TransactionID }

// MarshalEntry converts an entry to JSON bytes with envelope.
func MarshalEntry(entry Entry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	envelope := EntryEnvelope{
		Kind:      entry.Kind(),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	return json.Marshal(envelope)
}

// UnmarshalEntry converts envelope JSON bytes back to an Entry.
func UnmarshalEntry(data []byte) (Entry, error) {
	var envelope EntryEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}

	switch envelope.Kind {
	case EntryKindAccountProvisioned:
		var e AccountProvisioned
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EntryKindFundsMoved:
		var e FundsMoved
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EntryKindTransferRejected:
		var e TransferRejected
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown journal entry kind: %s", envelope.Kind)
	}
}

package cqrs

import (
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/nathanyu/subscriber-transfer/internal/domain"
)

// ReadModel is a projection of the journal: a read-only view of every
// balance, kept current by entry events. Queries here never touch the
// store's account locks, so operational reads cannot block transfers.
// A FundsMoved entry is applied as one step, so the view never shows
// half of a transfer and its total is always conserved.
type ReadModel struct {
	balances map[string]domain.Cents
	// FundsMoved transaction IDs already applied; an entry that
	// arrives twice (direct handler plus bus echo, or replay overlap)
	// must move funds once.
	applied map[string]bool
	mu      sync.RWMutex

	natsConn     *nats.Conn
	subscription *nats.Subscription
	stopOnce     sync.Once
}

// NewReadModel creates an empty read model. natsConn may be nil when
// entries are delivered directly via HandleEntry.
func NewReadModel(natsConn *nats.Conn) *ReadModel {
	return &ReadModel{
		balances: make(map[string]domain.Cents),
		applied:  make(map[string]bool),
		natsConn: natsConn,
	}
}

// Replay applies journal entries to rebuild the projection at boot.
func (r *ReadModel) Replay(entries []domain.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range entries {
		r.apply(entry)
	}

	slog.Info("read model replayed", "entries", len(entries), "accounts", len(r.balances))
}

// Start subscribes to the entry stream.
func (r *ReadModel) Start(entrySubject string) error {
	sub, err := r.natsConn.Subscribe(entrySubject, r.handleMessage)
	if err != nil {
		return err
	}

	r.subscription = sub
	slog.Info("read model started", "subject", entrySubject)
	return nil
}

// Stop unsubscribes from the entry stream.
func (r *ReadModel) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		if r.subscription != nil {
			err = r.subscription.Unsubscribe()
		}
	})
	return err
}

func (r *ReadModel) handleMessage(msg *nats.Msg) {
	entry, err := domain.UnmarshalEntry(msg.Data)
	if err != nil {
		slog.Error("failed to decode entry in read model", "error", err)
		return
	}
	r.HandleEntry(entry)
}

// HandleEntry applies one committed entry (direct engine integration).
func (r *ReadModel) HandleEntry(entry domain.Entry) {
	r.mu.Lock()
	r.apply(entry)
	r.mu.Unlock()
}

// apply updates the projection; caller must hold the lock.
func (r *ReadModel) apply(entry domain.Entry) {
	switch e := entry.(type) {
	case domain.AccountProvisioned:
		r.balances[e.Subscriber] = e.OpeningBalance
	case domain.FundsMoved:
		if r.applied[e.TransactionID] {
			return
		}
		r.applied[e.TransactionID] = true
		r.balances[e.Source] -= e.Amount
		r.balances[e.Destination] += e.Amount
	case domain.TransferRejected:
		// No balance change.
	}
}

// Balance returns the projected balance for a subscriber.
func (r *ReadModel) Balance(subscriber string) (domain.Cents, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	balance, exists := r.balances[subscriber]
	return balance, exists
}

// Balances returns a consistent copy of every projected balance.
func (r *ReadModel) Balances() map[string]domain.Cents {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]domain.Cents, len(r.balances))
	for subscriber, balance := range r.balances {
		result[subscriber] = balance
	}
	return result
}

// Total returns the sum of all projected balances. While only
// transfers occur this value is constant.
func (r *ReadModel) Total() domain.Cents {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total domain.Cents
	for _, balance := range r.balances {
		total += balance
	}
	return total
}

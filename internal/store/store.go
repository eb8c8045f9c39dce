package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nathanyu/subscriber-transfer/internal/domain"
	"github.com/nathanyu/subscriber-transfer/internal/journal"
	"github.com/nathanyu/subscriber-transfer/internal/telemetry"
)

var (
	// ErrUnknownAccount is returned when an identity has no account.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrInsufficientFunds is returned when the source balance is
	// below the requested amount. No balance is changed.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSameAccount is returned if a transfer names one account on
	// both sides. The engine short-circuits self-transfers before the
	// store; seeing this error means a caller bypassed it.
	ErrSameAccount = errors.New("source and destination are the same account")

	// ErrContention is returned when account access could not be
	// acquired within the configured wait. The transfer may be
	// retried; nothing was changed.
	ErrContention = errors.New("account contention timeout")

	// ErrUnavailable is returned when the journal rejected the write.
	// The transfer did not commit.
	ErrUnavailable = errors.New("journal unavailable")
)

// DefaultLockWait bounds how long a transfer waits for account access
// before failing with ErrContention.
const DefaultLockWait = 3 * time.Second

// account pairs a balance with a token lock. Sending on lock acquires,
// receiving releases; a channel rather than a mutex so acquisition can
// time out. The balance is atomic so reads never touch the lock.
type account struct {
	lock    chan struct{}
	balance atomic.Int64
}

func newAccount(opening domain.Cents) *account {
	acc := &account{lock: make(chan struct{}, 1)}
	acc.balance.Store(int64(opening))
	return acc
}

// Store owns every subscriber balance. All mutation goes through
// Transfer or Provision; no other component holds a mutable reference
// to a balance.
type Store struct {
	mu       sync.RWMutex // guards the accounts map, not the balances
	accounts map[string]*account

	journal  *journal.Journal // nil means no durability (tests)
	lockWait time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithJournal makes every committed mutation durable before it is
// acknowledged.
func WithJournal(j *journal.Journal) Option {
	return func(s *Store) { s.journal = j }
}

// WithLockWait overrides the bounded wait for account access.
func WithLockWait(d time.Duration) Option {
	return func(s *Store) { s.lockWait = d }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		accounts: make(map[string]*account),
		lockWait: DefaultLockWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the current balance for an identity. It reads the
// balance atomically and never blocks on transfer activity.
func (s *Store) Get(identity string) (domain.Cents, bool) {
	s.mu.RLock()
	acc, ok := s.accounts[identity]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return domain.Cents(acc.balance.Load()), true
}

// Exists reports whether an identity has an account.
func (s *Store) Exists(identity string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[identity]
	return ok
}

// Provision creates the account for an identity with an opening
// balance, journaling the event. Provisioning an existing identity
// resets its balance. The balance write and the journal append happen
// under the account's token, so a re-provision serializes with any
// in-flight transfer instead of interleaving between its funds check
// and its debit.
func (s *Store) Provision(txnID, identity string, opening domain.Cents) error {
	if opening < 0 {
		return domain.ErrInvalidAmount
	}

	s.mu.Lock()
	acc, ok := s.accounts[identity]
	if !ok {
		acc = newAccount(0)
		s.accounts[identity] = acc
	}
	s.mu.Unlock()

	if err := s.acquire(context.Background(), acc); err != nil {
		return err
	}
	defer s.release(acc)

	if s.journal != nil {
		entry := domain.AccountProvisioned{
			TransactionID:  txnID,
			Subscriber:     identity,
			OpeningBalance: opening,
		}
		if err := s.journal.Append(entry); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	acc.balance.Store(int64(opening))
	return nil
}

// Transfer atomically moves amount from source to destination. The
// debit and credit are indivisible with respect to every other call
// touching either account: both account locks are held, acquired in
// identity order so opposing transfers cannot deadlock. The journal
// entry is written inside the critical section, before the balances
// change, so no committed mutation is ever unjournaled.
func (s *Store) Transfer(ctx context.Context, txnID, source, destination string, amount domain.Cents) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if source == destination {
		return ErrSameAccount
	}

	s.mu.RLock()
	src, srcOK := s.accounts[source]
	dst, dstOK := s.accounts[destination]
	s.mu.RUnlock()
	if !srcOK || !dstOK {
		return ErrUnknownAccount
	}

	// One total order over identities keeps A->B and B->A transfers
	// from deadlocking each other.
	first, second := src, dst
	if destination < source {
		first, second = dst, src
	}

	if err := s.acquire(ctx, first); err != nil {
		return err
	}
	defer s.release(first)

	if err := s.acquire(ctx, second); err != nil {
		return err
	}
	defer s.release(second)

	balance := domain.Cents(src.balance.Load())
	if balance < amount {
		return ErrInsufficientFunds
	}

	if s.journal != nil {
		entry := domain.FundsMoved{
			TransactionID: txnID,
			Source:        source,
			Destination:   destination,
			Amount:        amount,
		}
		if err := s.journal.Append(entry); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	src.balance.Add(int64(-amount))
	dst.balance.Add(int64(amount))
	return nil
}

// acquire takes the account token, waiting at most lockWait.
func (s *Store) acquire(ctx context.Context, acc *account) error {
	select {
	case acc.lock <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()

	select {
	case acc.lock <- struct{}{}:
		return nil
	case <-timer.C:
		telemetry.LockContentionTotal.Inc()
		return ErrContention
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContention, ctx.Err())
	}
}

func (s *Store) release(acc *account) {
	<-acc.lock
}

// Balances returns a point-in-time copy of every balance. Individual
// reads are atomic; the snapshot as a whole is advisory (gauges,
// logging). The read model provides the transactionally consistent
// view.
func (s *Store) Balances() map[string]domain.Cents {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Cents, len(s.accounts))
	for identity, acc := range s.accounts {
		result[identity] = domain.Cents(acc.balance.Load())
	}
	return result
}

// Total returns the sum of all balances.
func (s *Store) Total() domain.Cents {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total domain.Cents
	for _, acc := range s.accounts {
		total += domain.Cents(acc.balance.Load())
	}
	return total
}

// Replay applies journal entries to rebuild balance state at boot.
// Entries are applied verbatim without re-journaling or funds checks;
// the journal only ever contains committed mutations.
func (s *Store) Replay(entries []domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		switch e := entry.(type) {
		case domain.AccountProvisioned:
			if acc, ok := s.accounts[e.Subscriber]; ok {
				acc.balance.Store(int64(e.OpeningBalance))
			} else {
				s.accounts[e.Subscriber] = newAccount(e.OpeningBalance)
			}
		case domain.FundsMoved:
			src, srcOK := s.accounts[e.Source]
			dst, dstOK := s.accounts[e.Destination]
			if !srcOK || !dstOK {
				return fmt.Errorf("journal references unknown account in transaction %s", e.TransactionID)
			}
			src.balance.Add(int64(-e.Amount))
			dst.balance.Add(int64(e.Amount))
		case domain.TransferRejected:
			// No balance change to replay.
		}
	}
	return nil
}

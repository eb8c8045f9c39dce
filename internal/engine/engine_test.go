package engine_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanyu/subscriber-transfer/internal/domain"
	"github.com/nathanyu/subscriber-transfer/internal/engine"
	"github.com/nathanyu/subscriber-transfer/internal/journal"
	"github.com/nathanyu/subscriber-transfer/internal/store"
)

func setupEngine(t *testing.T, balances map[string]domain.Cents) (*engine.Engine, *store.Store) {
	t.Helper()
	st := store.New()
	for identity, balance := range balances {
		require.NoError(t, st.Provision("seed-"+identity, identity, balance))
	}
	return engine.New(st, nil, nil), st
}

func cmd(txn, source, destination string, amount domain.Cents) domain.TransferCommand {
	return domain.TransferCommand{
		TransactionID: txn,
		Source:        source,
		Destination:   destination,
		Amount:        amount,
	}
}

func TestExecute_Completed(t *testing.T) {
	eng, st := setupEngine(t, map[string]domain.Cents{"1042": 250000, "1043": 0})

	outcome := eng.Execute(context.Background(), cmd("t1", "1042", "1043", 1000))
	assert.Equal(t, domain.OutcomeCompleted, outcome.Code)
	assert.True(t, outcome.Accepted())
	assert.False(t, outcome.NoOp)

	a, _ := st.Get("1042")
	b, _ := st.Get("1043")
	assert.Equal(t, "2490.00", a.String())
	assert.Equal(t, "10.00", b.String())
	assert.Equal(t, domain.Cents(250000), st.Total())
}

func TestExecute_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cmd     domain.TransferCommand
		outcome domain.OutcomeCode
	}{
		{
			name:    "negative amount",
			cmd:     cmd("t1", "alice", "bob", -100),
			outcome: domain.OutcomeInvalidAmount,
		},
		{
			name:    "zero amount",
			cmd:     cmd("t2", "alice", "bob", 0),
			outcome: domain.OutcomeInvalidAmount,
		},
		{
			name:    "unknown destination",
			cmd:     cmd("t3", "alice", "ghost", 100),
			outcome: domain.OutcomeUnknownDestination,
		},
		{
			name:    "insufficient funds",
			cmd:     cmd("t4", "alice", "bob", 10000),
			outcome: domain.OutcomeInsufficientFunds,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			eng, st := setupEngine(t, map[string]domain.Cents{"alice": 1000, "bob": 0})

			outcome := eng.Execute(context.Background(), tc.cmd)
			assert.Equal(t, tc.outcome, outcome.Code)
			assert.False(t, outcome.Accepted())
			assert.False(t, outcome.Retryable())

			// No rejection touches account state.
			alice, _ := st.Get("alice")
			bob, _ := st.Get("bob")
			assert.Equal(t, domain.Cents(1000), alice)
			assert.Equal(t, domain.Cents(0), bob)
		})
	}
}

// A caller bound to an identity without an account is its own rejection,
// never reported as an unknown destination.
func TestExecute_UnprovisionedSource(t *testing.T) {
	eng, st := setupEngine(t, map[string]domain.Cents{"bob": 500})

	outcome := eng.Execute(context.Background(), cmd("t1", "ghost", "bob", 100))
	assert.Equal(t, domain.OutcomeUnknownSource, outcome.Code)
	assert.False(t, outcome.Accepted())
	assert.False(t, outcome.Retryable())

	bob, _ := st.Get("bob")
	assert.Equal(t, domain.Cents(500), bob)
}

func TestExecute_SelfTransferIsNoOpSuccess(t *testing.T) {
	eng, st := setupEngine(t, map[string]domain.Cents{"alice": 1000})

	outcome := eng.Execute(context.Background(), cmd("t1", "alice", "alice", 100))
	assert.True(t, outcome.Accepted())
	assert.True(t, outcome.NoOp)

	alice, _ := st.Get("alice")
	assert.Equal(t, domain.Cents(1000), alice)
}

// A self-transfer skips the funds check entirely: it succeeds even
// when the amount exceeds the balance.
func TestExecute_SelfTransferAboveBalance(t *testing.T) {
	eng, st := setupEngine(t, map[string]domain.Cents{"alice": 100})

	outcome := eng.Execute(context.Background(), cmd("t1", "alice", "alice", 5000))
	assert.True(t, outcome.Accepted())
	assert.True(t, outcome.NoOp)

	alice, _ := st.Get("alice")
	assert.Equal(t, domain.Cents(100), alice)
}

func TestExecute_DuplicateTransactionIsNoOp(t *testing.T) {
	eng, st := setupEngine(t, map[string]domain.Cents{"alice": 1000, "bob": 0})

	first := eng.Execute(context.Background(), cmd("txn-123", "alice", "bob", 100))
	require.True(t, first.Accepted())

	second := eng.Execute(context.Background(), cmd("txn-123", "alice", "bob", 100))
	assert.True(t, second.Accepted())
	assert.True(t, second.NoOp)

	alice, _ := st.Get("alice")
	bob, _ := st.Get("bob")
	assert.Equal(t, domain.Cents(900), alice)
	assert.Equal(t, domain.Cents(100), bob)
}

// An account with 100 making ten transfers of 20 each lands on exactly
// five completions and five insufficient-funds rejections, never a
// negative balance.
func TestExecute_DrainsToZeroNotNegative(t *testing.T) {
	eng, st := setupEngine(t, map[string]domain.Cents{"sender": 100, "receiver": 0})

	var completed, rejected int
	for i := 0; i < 10; i++ {
		outcome := eng.Execute(context.Background(), cmd(fmt.Sprintf("t%d", i), "sender", "receiver", 20))
		switch outcome.Code {
		case domain.OutcomeCompleted:
			completed++
		case domain.OutcomeInsufficientFunds:
			rejected++
		default:
			t.Fatalf("unexpected outcome %s", outcome.Code)
		}
	}

	assert.Equal(t, 5, completed)
	assert.Equal(t, 5, rejected)

	sender, _ := st.Get("sender")
	receiver, _ := st.Get("receiver")
	assert.Equal(t, domain.Cents(0), sender)
	assert.Equal(t, domain.Cents(100), receiver)
}

// 100 concurrent transfers from one account drain it to exactly zero.
func TestExecute_ConcurrentBurst(t *testing.T) {
	const workers = 100
	eng, st := setupEngine(t, map[string]domain.Cents{"x": workers * 50, "y": 0})

	var wg sync.WaitGroup
	outcomes := make(chan domain.Outcome, workers)
	for i := 0; i < workers; i++ {
		txn := fmt.Sprintf("burst-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- eng.Execute(context.Background(), cmd(txn, "x", "y", 50))
		}()
	}
	wg.Wait()
	close(outcomes)

	for outcome := range outcomes {
		assert.Equal(t, domain.OutcomeCompleted, outcome.Code)
	}

	x, _ := st.Get("x")
	y, _ := st.Get("y")
	assert.Equal(t, domain.Cents(0), x)
	assert.Equal(t, domain.Cents(workers*50), y)
}

func TestExecute_ConservationAcrossMixedTransfers(t *testing.T) {
	eng, st := setupEngine(t, map[string]domain.Cents{"a": 1000, "b": 2000, "c": 3000})
	accounts := []string{"a", "b", "c"}

	for i := 0; i < 100; i++ {
		source := accounts[i%3]
		destination := accounts[(i+1)%3]
		outcome := eng.Execute(context.Background(), cmd(fmt.Sprintf("mix-%d", i), source, destination, domain.Cents(10+i%50)))
		require.NotEqual(t, domain.OutcomeTransient, outcome.Code)
	}

	assert.Equal(t, domain.Cents(6000), st.Total())
}

// Rejections and completions are journaled; a restarted engine rebuilt
// from the journal reproduces balances and idempotency state.
func TestJournalRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	jnl, err := journal.Open(path)
	require.NoError(t, err)

	st := store.New(store.WithJournal(jnl))
	require.NoError(t, st.Provision("seed-a", "alice", 1000))
	require.NoError(t, st.Provision("seed-b", "bob", 0))

	eng := engine.New(st, jnl, nil)
	require.True(t, eng.Execute(context.Background(), cmd("t1", "alice", "bob", 300)).Accepted())
	require.Equal(t, domain.OutcomeInsufficientFunds,
		eng.Execute(context.Background(), cmd("t2", "alice", "bob", 5000)).Code)
	require.NoError(t, jnl.Close())

	reopened, err := journal.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.LoadAll()
	require.NoError(t, err)

	st2 := store.New()
	require.NoError(t, st2.Replay(entries))
	eng2 := engine.New(st2, nil, nil)
	eng2.Restore(entries)

	alice, _ := st2.Get("alice")
	bob, _ := st2.Get("bob")
	assert.Equal(t, domain.Cents(700), alice)
	assert.Equal(t, domain.Cents(300), bob)

	// Both transactions are known to the restored engine.
	replay1 := eng2.Execute(context.Background(), cmd("t1", "alice", "bob", 300))
	assert.True(t, replay1.Accepted())
	assert.True(t, replay1.NoOp)

	replay2 := eng2.Execute(context.Background(), cmd("t2", "alice", "bob", 5000))
	assert.True(t, replay2.Accepted())
	assert.True(t, replay2.NoOp)

	assert.Equal(t, domain.Cents(700), aliceBalance(st2))
}

func aliceBalance(st *store.Store) domain.Cents {
	balance, _ := st.Get("alice")
	return balance
}

// Committed entries reach registered handlers exactly once.
func TestEntryHandlerDispatch(t *testing.T) {
	eng, _ := setupEngine(t, map[string]domain.Cents{"alice": 1000, "bob": 0})

	var mu sync.Mutex
	var seen []domain.Entry
	eng.RegisterEntryHandler(func(entry domain.Entry) {
		mu.Lock()
		seen = append(seen, entry)
		mu.Unlock()
	})

	eng.Execute(context.Background(), cmd("t1", "alice", "bob", 100))
	eng.Execute(context.Background(), cmd("t2", "alice", "ghost", 100))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, domain.FundsMoved{TransactionID: "t1", Source: "alice", Destination: "bob", Amount: 100}, seen[0])
	rejected, ok := seen[1].(domain.TransferRejected)
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeUnknownDestination, rejected.Outcome)
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nathanyu/subscriber-transfer/internal/domain"
	"github.com/nathanyu/subscriber-transfer/internal/journal"
	"github.com/nathanyu/subscriber-transfer/internal/store"
	"github.com/nathanyu/subscriber-transfer/internal/telemetry"
)

// NATS subjects for the command/entry streams.
const (
	CommandSubject = "transfer.commands"
	EntrySubject   = "transfer.entries"
)

// EntryHandler receives journal entries as they are committed, for
// read-model projection.
type EntryHandler func(entry domain.Entry)

// Engine validates and executes transfer commands against the account
// store. It holds no balance state of its own; all shared mutable
// state lives in the store, and the engine only orchestrates.
type Engine struct {
	store   *store.Store
	journal *journal.Journal // nil means rejections are not journaled

	natsConn      *nats.Conn
	subscription  *nats.Subscription
	entryHandlers []EntryHandler

	// processed transaction IDs, for idempotent retries
	processed map[string]bool

	mu       sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New creates a transfer engine. natsConn may be nil when commands are
// executed directly (tests, single-process deployments).
func New(st *store.Store, jnl *journal.Journal, natsConn *nats.Conn) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:     st,
		journal:   jnl,
		natsConn:  natsConn,
		processed: make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// RegisterEntryHandler registers a handler to receive committed
// journal entries.
func (e *Engine) RegisterEntryHandler(handler EntryHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entryHandlers = append(e.entryHandlers, handler)
}

// Restore rebuilds idempotency state from replayed journal entries.
// Balance state is restored separately by the store.
func (e *Engine) Restore(entries []domain.Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, entry := range entries {
		switch entry.(type) {
		case domain.FundsMoved, domain.TransferRejected:
			e.processed[entry.Transaction()] = true
		}
	}

	slog.Info("engine restored", "entries", len(entries), "transactions", len(e.processed))
}

// Start begins consuming commands from NATS.
func (e *Engine) Start() error {
	if e.natsConn == nil {
		return errors.New("engine started without a NATS connection")
	}

	sub, err := e.natsConn.Subscribe(CommandSubject, e.handleCommand)
	if err != nil {
		return fmt.Errorf("failed to subscribe to commands: %w", err)
	}

	e.subscription = sub
	slog.Info("transfer engine started", "subject", CommandSubject)
	return nil
}

// Stop gracefully stops the engine.
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		e.cancel()

		if e.subscription != nil {
			err = e.subscription.Unsubscribe()
		}

		e.wg.Wait()
	})
	return err
}

// CommandReply is the response to a transfer command on the bus.
type CommandReply struct {
	Outcome domain.Outcome `json:"outcome"`
	Error   string         `json:"error,omitempty"`
}

// handleCommand processes a single command from NATS.
func (e *Engine) handleCommand(msg *nats.Msg) {
	e.wg.Add(1)
	defer e.wg.Done()

	ctx := e.ctx
	if telemetry.Tracer != nil {
		var span trace.Span
		ctx, span = telemetry.Tracer.Start(ctx, "engine.handleCommand",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "nats"),
				attribute.String("messaging.destination", CommandSubject),
			),
		)
		defer span.End()
	}

	telemetry.NATSMessagesReceived.WithLabelValues(CommandSubject).Inc()

	var cmd domain.TransferCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		slog.Error("failed to unmarshal command", "error", err)
		e.reply(msg, CommandReply{Error: "invalid command format"})
		return
	}

	outcome := e.Execute(ctx, cmd)
	e.reply(msg, CommandReply{Outcome: outcome})
}

// Execute validates and runs one transfer command, returning a typed
// outcome. Nothing here is fatal; every failure path resolves to an
// outcome the gateway can render.
//
// Order of checks: duplicate transaction, amount, self-transfer,
// destination existence, then the atomic sufficiency-and-move in the
// store. Self-transfer is an accepted no-op and skips the funds check
// entirely.
func (e *Engine) Execute(ctx context.Context, cmd domain.TransferCommand) domain.Outcome {
	start := time.Now()

	if telemetry.Tracer != nil {
		var span trace.Span
		ctx, span = telemetry.Tracer.Start(ctx, "engine.Execute",
			trace.WithAttributes(
				attribute.String("transaction_id", cmd.TransactionID),
				attribute.String("source", cmd.Source),
				attribute.String("destination", cmd.Destination),
				attribute.Int64("amount_cents", int64(cmd.Amount)),
			),
		)
		defer span.End()
	}

	outcome := e.execute(ctx, cmd)

	telemetry.TransferProcessingDuration.Observe(time.Since(start).Seconds())
	telemetry.TransfersTotal.WithLabelValues(string(outcome.Code)).Inc()
	telemetry.TransferAmount.WithLabelValues(string(outcome.Code)).Observe(float64(cmd.Amount))

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("outcome", string(outcome.Code)),
			attribute.Bool("no_op", outcome.NoOp),
		)
		if outcome.Code == domain.OutcomeTransient {
			span.SetStatus(codes.Error, outcome.Reason)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	return outcome
}

func (e *Engine) execute(ctx context.Context, cmd domain.TransferCommand) domain.Outcome {
	if e.alreadyProcessed(cmd.TransactionID) {
		slog.Info("duplicate transaction skipped", "transaction_id", cmd.TransactionID)
		telemetry.DuplicateTransactionsTotal.Inc()
		return domain.Outcome{
			TransactionID: cmd.TransactionID,
			Code:          domain.OutcomeCompleted,
			NoOp:          true,
			Reason:        "transaction already processed",
		}
	}

	if cmd.Amount <= 0 {
		return e.reject(cmd, domain.OutcomeInvalidAmount, "amount must be positive")
	}

	if cmd.Source == cmd.Destination {
		// Accepted no-op: the caller observes the same success signal
		// as a real transfer and no balance changes.
		e.markProcessed(cmd.TransactionID)
		return domain.Outcome{
			TransactionID: cmd.TransactionID,
			Code:          domain.OutcomeCompleted,
			NoOp:          true,
			Reason:        "self transfer",
		}
	}

	if !e.store.Exists(cmd.Destination) {
		return e.reject(cmd, domain.OutcomeUnknownDestination, "unknown destination subscriber")
	}
	if !e.store.Exists(cmd.Source) {
		return e.reject(cmd, domain.OutcomeUnknownSource, "source subscriber not provisioned")
	}

	err := e.store.Transfer(ctx, cmd.TransactionID, cmd.Source, cmd.Destination, cmd.Amount)
	switch {
	case err == nil:
		e.markProcessed(cmd.TransactionID)
		e.dispatch(domain.FundsMoved{
			TransactionID: cmd.TransactionID,
			Source:        cmd.Source,
			Destination:   cmd.Destination,
			Amount:        cmd.Amount,
		})
		e.updateBalanceMetrics()
		return domain.Outcome{TransactionID: cmd.TransactionID, Code: domain.OutcomeCompleted}

	case errors.Is(err, store.ErrInsufficientFunds):
		return e.reject(cmd, domain.OutcomeInsufficientFunds, "insufficient funds")

	case errors.Is(err, store.ErrUnknownAccount):
		// Both accounts were checked above, so this only fires on a
		// store whose contents changed under us.
		return e.reject(cmd, domain.OutcomeUnknownSource, "unknown account")

	case errors.Is(err, domain.ErrInvalidAmount):
		return e.reject(cmd, domain.OutcomeInvalidAmount, "amount must be positive")

	default:
		// Contention timeouts and journal faults are retryable and
		// must never look like a definitive rejection. The transaction
		// is not marked processed so a retry can succeed.
		slog.Warn("transfer failed transiently",
			"transaction_id", cmd.TransactionID, "error", err)
		return domain.Outcome{
			TransactionID: cmd.TransactionID,
			Code:          domain.OutcomeTransient,
			Reason:        err.Error(),
		}
	}
}

// reject records a definitive business rejection. Rejections are
// journaled and marked processed: re-running the same transaction
// yields the same answer without re-touching account state.
func (e *Engine) reject(cmd domain.TransferCommand, code domain.OutcomeCode, reason string) domain.Outcome {
	entry := domain.TransferRejected{
		TransactionID: cmd.TransactionID,
		Source:        cmd.Source,
		Outcome:       code,
		Reason:        reason,
	}

	if e.journal != nil {
		start := time.Now()
		if err := e.journal.Append(entry); err != nil {
			slog.Error("failed to journal rejection",
				"transaction_id", cmd.TransactionID, "error", err)
			return domain.Outcome{
				TransactionID: cmd.TransactionID,
				Code:          domain.OutcomeTransient,
				Reason:        "journal unavailable",
			}
		}
		telemetry.JournalWriteDuration.Observe(time.Since(start).Seconds())
	}

	e.markProcessed(cmd.TransactionID)
	e.dispatch(entry)

	return domain.Outcome{
		TransactionID: cmd.TransactionID,
		Code:          code,
		Reason:        reason,
	}
}

func (e *Engine) alreadyProcessed(txnID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.processed[txnID]
}

func (e *Engine) markProcessed(txnID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processed[txnID] = true
}

// dispatch fans a committed entry out to registered handlers and the
// NATS entry stream.
func (e *Engine) dispatch(entry domain.Entry) {
	telemetry.JournalEntriesTotal.WithLabelValues(entry.Kind()).Inc()

	e.mu.RLock()
	handlers := make([]EntryHandler, len(e.entryHandlers))
	copy(handlers, e.entryHandlers)
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(entry)
	}

	if e.natsConn == nil {
		return
	}

	data, err := domain.MarshalEntry(entry)
	if err != nil {
		slog.Error("failed to serialize entry for publishing", "error", err)
		return
	}
	if err := e.natsConn.Publish(EntrySubject, data); err != nil {
		slog.Error("failed to publish entry", "error", err)
		return
	}
	telemetry.NATSMessagesPublished.WithLabelValues(EntrySubject).Inc()
}

func (e *Engine) updateBalanceMetrics() {
	balances := e.store.Balances()

	var total domain.Cents
	for subscriber, balance := range balances {
		telemetry.AccountBalanceGauge.WithLabelValues(subscriber).Set(float64(balance))
		total += balance
	}
	telemetry.TotalBalanceGauge.Set(float64(total))
	telemetry.AccountCount.Set(float64(len(balances)))
}

func (e *Engine) reply(msg *nats.Msg, r CommandReply) {
	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(r)
	msg.Respond(data)
}

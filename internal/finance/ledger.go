package finance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hongminglow/vip-ledger/internal/models"
	"github.com/hongminglow/vip-ledger/internal/storage"
)

// MaxReferenceLength bounds the caller-supplied payment reference.
const MaxReferenceLength = 128

// Clock yields the current time in nanoseconds since the Unix epoch.
type Clock interface {
	Now() int64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

// Now implements Clock.
func (f ClockFunc) Now() int64 { return f() }

// SystemClock reads the wall clock.
func SystemClock() Clock {
	return ClockFunc(func() int64 { return time.Now().UnixNano() })
}

// IDGenerator produces transaction identifiers.
type IDGenerator func() (string, error)

// NewTransactionID returns a time-ordered UUIDv7 string.
func NewTransactionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Ledger is the append-only record of deposits and withdrawals.
type Ledger struct {
	store storage.LedgerStore
	clock Clock
	newID IDGenerator
}

// NewLedger builds a ledger over store.
func NewLedger(store storage.LedgerStore, clock Clock, newID IDGenerator) *Ledger {
	if newID == nil {
		newID = NewTransactionID
	}
	return &Ledger{store: store, clock: clock, newID: newID}
}

// Record appends a pending transaction and returns it.
func (l *Ledger) Record(ctx context.Context, user string, txnType models.TransactionType, amount int64, reference string) (models.Transaction, error) {
	txn, err := l.draft(user, txnType, amount, reference, models.StatusPending)
	if err != nil {
		return models.Transaction{}, err
	}
	if err := l.store.AppendTransaction(ctx, txn, nil); err != nil {
		return models.Transaction{}, fmt.Errorf("record transaction: %w", err)
	}
	return txn, nil
}

// Settle records a completed transaction and applies its balance delta in one
// atomic step. If the delta cannot be applied nothing is recorded.
func (l *Ledger) Settle(ctx context.Context, user string, txnType models.TransactionType, amount int64, reference string) (models.Transaction, error) {
	txn, err := l.draft(user, txnType, amount, reference, models.StatusCompleted)
	if err != nil {
		return models.Transaction{}, err
	}
	if err := l.store.AppendTransaction(ctx, txn, settle(txn.Timestamp)); err != nil {
		return models.Transaction{}, wrapLedgerErr(err, txn.ID)
	}
	return txn, nil
}

// Finalize moves a pending transaction to a terminal status. Completing a
// transaction applies its balance delta atomically with the status change.
func (l *Ledger) Finalize(ctx context.Context, id string, outcome models.TransactionStatus) (models.Transaction, error) {
	if !outcome.Terminal() {
		return models.Transaction{}, fmt.Errorf("%w: cannot finalize to %q", ErrInvalidTransition, outcome)
	}
	var fn storage.SettlementFunc
	if outcome == models.StatusCompleted {
		fn = settle(l.clock.Now())
	}
	txn, err := l.store.FinalizeTransaction(ctx, id, outcome, fn)
	if err != nil {
		return models.Transaction{}, wrapLedgerErr(err, id)
	}
	return txn, nil
}

// Get returns a single transaction.
func (l *Ledger) Get(ctx context.Context, id string) (models.Transaction, error) {
	txn, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return models.Transaction{}, wrapLedgerErr(err, id)
	}
	return txn, nil
}

// List returns up to limit transactions, most recent first.
func (l *Ledger) List(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 {
		return []models.Transaction{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	txns, err := l.store.ListTransactions(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

func (l *Ledger) draft(user string, txnType models.TransactionType, amount int64, reference string, status models.TransactionStatus) (models.Transaction, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return models.Transaction{}, ErrUnauthenticated
	}
	if !txnType.Valid() {
		return models.Transaction{}, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidTransition, txnType)
	}
	if amount <= 0 {
		return models.Transaction{}, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidAmount, amount)
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return models.Transaction{}, fmt.Errorf("%w: reference is required", ErrInvalidReference)
	}
	if utf8.RuneCountInString(reference) > MaxReferenceLength || !utf8.ValidString(reference) {
		return models.Transaction{}, fmt.Errorf("%w: reference must be valid text of at most %d characters", ErrInvalidReference, MaxReferenceLength)
	}
	id, err := l.newID()
	if err != nil {
		return models.Transaction{}, fmt.Errorf("generate transaction id: %w", err)
	}
	return models.Transaction{
		ID:        id,
		User:      user,
		Type:      txnType,
		Amount:    amount,
		Reference: reference,
		Status:    status,
		Timestamp: l.clock.Now(),
	}, nil
}

func wrapLedgerErr(err error, id string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	case errors.Is(err, storage.ErrNotPending):
		return fmt.Errorf("%w: transaction %s is already terminal", ErrInvalidTransition, id)
	default:
		return err
	}
}

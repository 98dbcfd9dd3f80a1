package finance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hongminglow/vip-ledger/internal/models"
	"github.com/hongminglow/vip-ledger/internal/storage/memory"
)

// testEpoch is an arbitrary fixed instant so accrual windows are predictable.
var testEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano()

type testClock struct {
	mu  sync.Mutex
	now int64
}

func newTestClock() *testClock { return &testClock{now: testEpoch} }

func (c *testClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += int64(d)
}

func sequentialIDs() IDGenerator {
	var n atomic.Int64
	return func() (string, error) {
		return fmt.Sprintf("txn-%06d", n.Add(1)), nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type serviceFixture struct {
	svc    *Service
	store  *memory.Store
	clock  *testClock
	events *recordingPublisher
}

const testAdmin = "admin-0001"

func newServiceFixture(t *testing.T, autoConfirm bool) serviceFixture {
	t.Helper()
	store := memory.NewStore()
	clock := newTestClock()
	events := &recordingPublisher{}
	svc := NewService(store, events, discardLogger(), Options{
		AccrualWindow:       DefaultAccrualWindow,
		AutoConfirmDeposits: autoConfirm,
		Clock:               clock,
		NewID:               sequentialIDs(),
	})
	ctx := context.Background()
	if err := svc.SeedPlans(ctx); err != nil {
		t.Fatalf("seed plans: %v", err)
	}
	if err := svc.BootstrapAdmins(ctx, []string{testAdmin}); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	return serviceFixture{svc: svc, store: store, clock: clock, events: events}
}

// addPlan installs a plan with round numbers used by the scenario tests.
func (f serviceFixture) addPlan(t *testing.T, level, price, dailyIncome int64) {
	t.Helper()
	_, err := f.svc.UpsertPlan(context.Background(), testAdmin, models.InvestmentPlan{
		VIPLevel:    level,
		Title:       fmt.Sprintf("Test plan %d", level),
		Price:       price,
		DailyIncome: dailyIncome,
	})
	if err != nil {
		t.Fatalf("upsert plan %d: %v", level, err)
	}
}

func (f serviceFixture) mustDeposit(t *testing.T, user string, amount int64) models.Transaction {
	t.Helper()
	txn, err := f.svc.Deposit(context.Background(), user, amount, "esewa-ref")
	if err != nil {
		t.Fatalf("deposit %d for %s: %v", amount, user, err)
	}
	return txn
}

func (f serviceFixture) mustPortfolio(t *testing.T, user string) models.Portfolio {
	t.Helper()
	p, err := f.svc.Portfolio(context.Background(), user)
	if err != nil {
		t.Fatalf("portfolio of %s: %v", user, err)
	}
	return p
}

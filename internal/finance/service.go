package finance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hongminglow/vip-ledger/internal/models"
	"github.com/hongminglow/vip-ledger/internal/storage"
)

// Routing keys of the events published after a committed change.
const (
	EventTransactionRecorded  = "ledger.transaction.recorded"
	EventTransactionFinalized = "ledger.transaction.finalized"
	EventPlanJoined           = "portfolio.plan.joined"
	EventAccrualCompleted     = "portfolio.accrual.completed"
)

const maxProfileNameLength = 64

// Store is the persistence the service needs.
type Store interface {
	storage.PortfolioStore
	storage.LedgerStore
	storage.RoleStore
	storage.ProfileStore
	storage.PlanStore
}

// Publisher delivers events after the change they describe is committed.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
}

// AccrualEvent is the body of EventAccrualCompleted.
type AccrualEvent struct {
	Credited int   `json:"credited"`
	RunAt    int64 `json:"run_at"`
	Failed   bool  `json:"failed"`
}

// PlanJoinedEvent is the body of EventPlanJoined.
type PlanJoinedEvent struct {
	User     string `json:"user"`
	VIPLevel int64  `json:"vip_level"`
	At       int64  `json:"at"`
}

// Options tune the service.
type Options struct {
	AccrualWindow       time.Duration
	AutoConfirmDeposits bool
	Clock               Clock
	NewID               IDGenerator
}

// Service is the operation surface consumed by the transport layer. Every
// mutating method resolves the caller's role before touching state.
type Service struct {
	access     *AccessControl
	ledger     *Ledger
	portfolios *Portfolios
	catalog    *Catalog
	accrual    *AccrualEngine
	profiles   storage.ProfileStore
	events     Publisher
	logger     *slog.Logger
	clock      Clock

	autoConfirmDeposits bool
}

// NewService wires the finance core over store.
func NewService(store Store, events Publisher, logger *slog.Logger, opts Options) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	catalog := NewCatalog(store)
	return &Service{
		access:              NewAccessControl(store),
		ledger:              NewLedger(store, clock, opts.NewID),
		portfolios:          NewPortfolios(store, catalog, clock),
		catalog:             catalog,
		accrual:             NewAccrualEngine(store, opts.AccrualWindow, logger),
		profiles:            store,
		events:              events,
		logger:              logger,
		clock:               clock,
		autoConfirmDeposits: opts.AutoConfirmDeposits,
	}
}

// SeedPlans fills an empty catalog with DefaultPlans.
func (s *Service) SeedPlans(ctx context.Context) error {
	seeded, err := s.catalog.Seed(ctx, DefaultPlans())
	if err != nil {
		return err
	}
	if seeded {
		s.logger.Info("seeded default plan catalog", "plans", len(DefaultPlans()))
	}
	return nil
}

// BootstrapAdmins grants admin to each identity without an authorization
// check. It is meant for process start-up and operator tooling only.
func (s *Service) BootstrapAdmins(ctx context.Context, users []string) error {
	for _, user := range users {
		if err := s.access.Grant(ctx, user, models.RoleAdmin); err != nil {
			return fmt.Errorf("bootstrap admin %s: %w", user, err)
		}
		s.logger.Info("bootstrap admin granted", "user", user)
	}
	return nil
}

// CallerProfile returns the caller's own profile.
func (s *Service) CallerProfile(ctx context.Context, caller string) (models.UserProfile, error) {
	caller, err := requireIdentity(caller)
	if err != nil {
		return models.UserProfile{}, err
	}
	return s.loadProfile(ctx, caller)
}

// SaveCallerProfile replaces the caller's own profile.
func (s *Service) SaveCallerProfile(ctx context.Context, caller string, profile models.UserProfile) error {
	caller, err := s.authorize(ctx, caller, models.RoleUser, models.RoleAdmin)
	if err != nil {
		return err
	}
	profile.Name = strings.TrimSpace(profile.Name)
	if profile.Name == "" || utf8.RuneCountInString(profile.Name) > maxProfileNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidProfile, maxProfileNameLength)
	}
	if err := s.profiles.SaveProfile(ctx, caller, profile); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// UserProfile returns another user's profile. Callers may read their own
// profile; admins may read anyone's.
func (s *Service) UserProfile(ctx context.Context, caller, user string) (models.UserProfile, error) {
	caller, err := requireIdentity(caller)
	if err != nil {
		return models.UserProfile{}, err
	}
	user = strings.TrimSpace(user)
	if caller != user {
		if _, err := s.authorize(ctx, caller, models.RoleAdmin); err != nil {
			return models.UserProfile{}, err
		}
	}
	return s.loadProfile(ctx, user)
}

func (s *Service) loadProfile(ctx context.Context, user string) (models.UserProfile, error) {
	profile, err := s.profiles.GetProfile(ctx, user)
	if errors.Is(err, storage.ErrNotFound) {
		return models.UserProfile{}, fmt.Errorf("%w: profile of %s", ErrNotFound, user)
	}
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("load profile: %w", err)
	}
	return profile, nil
}

// CallerRole returns the caller's role.
func (s *Service) CallerRole(ctx context.Context, caller string) (models.Role, error) {
	caller, err := requireIdentity(caller)
	if err != nil {
		return "", err
	}
	return s.access.RoleOf(ctx, caller)
}

// IsCallerAdmin reports whether the caller holds the admin role.
func (s *Service) IsCallerAdmin(ctx context.Context, caller string) (bool, error) {
	role, err := s.CallerRole(ctx, caller)
	if err != nil {
		return false, err
	}
	return role == models.RoleAdmin, nil
}

// AssignRole sets target's role. Admin only.
func (s *Service) AssignRole(ctx context.Context, caller, target string, role models.Role) error {
	caller, err := requireIdentity(caller)
	if err != nil {
		return err
	}
	if err := s.access.AssignRole(ctx, caller, target, role); err != nil {
		return err
	}
	s.logger.Info("role assigned", "caller", caller, "target", target, "role", role)
	return nil
}

// Deposit records a deposit against an external payment reference. With
// auto-confirmation on, the deposit is completed and credited in the same
// step; otherwise it stays pending until an admin finalizes it. The
// reference is not verified against the payment rail.
func (s *Service) Deposit(ctx context.Context, caller string, amount int64, reference string) (models.Transaction, error) {
	caller, err := s.authorize(ctx, caller, models.RoleUser, models.RoleAdmin)
	if err != nil {
		return models.Transaction{}, err
	}
	if s.autoConfirmDeposits {
		txn, err := s.ledger.Settle(ctx, caller, models.Deposit, amount, reference)
		if err != nil {
			return models.Transaction{}, err
		}
		s.publish(ctx, EventTransactionFinalized, txn)
		return txn, nil
	}

	txn, err := s.ledger.Record(ctx, caller, models.Deposit, amount, reference)
	if err != nil {
		return models.Transaction{}, err
	}
	s.publish(ctx, EventTransactionRecorded, txn)
	return txn, nil
}

// Withdraw debits the caller's balance and records a completed withdrawal.
// A withdrawal above the balance fails with ErrInsufficientFunds and
// records nothing.
func (s *Service) Withdraw(ctx context.Context, caller string, amount int64, reference string) (models.Transaction, error) {
	caller, err := s.authorize(ctx, caller, models.RoleUser, models.RoleAdmin)
	if err != nil {
		return models.Transaction{}, err
	}
	txn, err := s.ledger.Settle(ctx, caller, models.Withdrawal, amount, reference)
	if err != nil {
		return models.Transaction{}, err
	}
	s.publish(ctx, EventTransactionFinalized, txn)
	return txn, nil
}

// FinalizeTransaction settles a pending transaction. Admin only.
func (s *Service) FinalizeTransaction(ctx context.Context, caller, id string, outcome models.TransactionStatus) (models.Transaction, error) {
	caller, err := s.authorize(ctx, caller, models.RoleAdmin)
	if err != nil {
		return models.Transaction{}, err
	}
	txn, err := s.ledger.Finalize(ctx, id, outcome)
	if err != nil {
		return models.Transaction{}, err
	}
	s.logger.Info("transaction finalized", "caller", caller, "transaction_id", id, "status", txn.Status)
	s.publish(ctx, EventTransactionFinalized, txn)
	return txn, nil
}

// Transaction returns a single ledger entry. Admin only.
func (s *Service) Transaction(ctx context.Context, caller, id string) (models.Transaction, error) {
	if _, err := s.authorize(ctx, caller, models.RoleAdmin); err != nil {
		return models.Transaction{}, err
	}
	return s.ledger.Get(ctx, id)
}

// JoinPlan enrolls the caller in the plan at vipLevel.
func (s *Service) JoinPlan(ctx context.Context, caller string, vipLevel int64) (models.Portfolio, error) {
	caller, err := s.authorize(ctx, caller, models.RoleUser, models.RoleAdmin)
	if err != nil {
		return models.Portfolio{}, err
	}
	portfolio, err := s.portfolios.JoinPlan(ctx, caller, vipLevel)
	if err != nil {
		return models.Portfolio{}, err
	}
	s.publish(ctx, EventPlanJoined, PlanJoinedEvent{User: caller, VIPLevel: vipLevel, At: portfolio.LastUpdated})
	return portfolio, nil
}

// ListPlans returns the catalog. Open to any caller.
func (s *Service) ListPlans(ctx context.Context) ([]models.InvestmentPlan, error) {
	return s.catalog.List(ctx)
}

// UpsertPlan creates or replaces a catalog entry. Admin only.
func (s *Service) UpsertPlan(ctx context.Context, caller string, plan models.InvestmentPlan) (models.InvestmentPlan, error) {
	if _, err := s.authorize(ctx, caller, models.RoleAdmin); err != nil {
		return models.InvestmentPlan{}, err
	}
	return s.catalog.Upsert(ctx, plan)
}

// Portfolio returns any user's portfolio. It carries no access check.
func (s *Service) Portfolio(ctx context.Context, user string) (models.Portfolio, error) {
	return s.portfolios.Get(ctx, user)
}

// LiveTransactions returns the newest ledger entries first.
func (s *Service) LiveTransactions(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	return s.ledger.List(ctx, limit, offset)
}

// RunDailyAccrual sweeps enrolled portfolios on behalf of an admin caller.
func (s *Service) RunDailyAccrual(ctx context.Context, caller string) (int, error) {
	caller, err := s.authorize(ctx, caller, models.RoleAdmin)
	if err != nil {
		return 0, err
	}
	s.logger.Info("accrual triggered", "caller", caller)
	return s.runAccrual(ctx)
}

// RunScheduledAccrual sweeps enrolled portfolios for an in-process
// scheduler. It is never exposed over the network.
func (s *Service) RunScheduledAccrual(ctx context.Context) (int, error) {
	return s.runAccrual(ctx)
}

func (s *Service) runAccrual(ctx context.Context) (int, error) {
	now := s.clock.Now()
	credited, err := s.accrual.Run(ctx, now)
	s.logger.Info("accrual sweep finished", "credited", credited, "failed", err != nil)
	s.publish(ctx, EventAccrualCompleted, AccrualEvent{Credited: credited, RunAt: now, Failed: err != nil})
	return credited, err
}

func (s *Service) publish(ctx context.Context, routingKey string, body any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, routingKey, body); err != nil {
		s.logger.Warn("event publish failed", "routing_key", routingKey, "error", err)
	}
}

// authorize normalizes caller and checks it holds one of allowed. Callers
// continue with the returned identity.
func (s *Service) authorize(ctx context.Context, caller string, allowed ...models.Role) (string, error) {
	caller, err := requireIdentity(caller)
	if err != nil {
		return "", err
	}
	return caller, s.access.Require(ctx, caller, allowed...)
}

// requireIdentity returns caller without surrounding whitespace, or
// ErrUnauthenticated when nothing is left.
func requireIdentity(caller string) (string, error) {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return "", ErrUnauthenticated
	}
	return caller, nil
}

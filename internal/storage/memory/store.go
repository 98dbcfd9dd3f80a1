package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hongminglow/vip-ledger/internal/models"
	"github.com/hongminglow/vip-ledger/internal/storage"
)

// Ensure Store satisfies the storage.Store interface at compile time.
var _ storage.Store = (*Store)(nil)

// Store keeps all state in process memory. Portfolio writes are serialized
// per user; there is no lock spanning every portfolio.
type Store struct {
	entriesMu  sync.Mutex
	portfolios map[string]*portfolioEntry

	ledgerMu sync.RWMutex
	txns     []models.Transaction
	txnIndex map[string]int

	rolesMu sync.RWMutex
	roles   map[string]models.Role

	profilesMu sync.RWMutex
	profiles   map[string]models.UserProfile

	plansMu sync.RWMutex
	plans   map[int64]models.InvestmentPlan

	accountsMu sync.RWMutex
	accounts   []models.Account
}

type portfolioEntry struct {
	mu      sync.RWMutex
	present bool
	value   models.Portfolio

	// refs counts writers holding the entry. Guarded by Store.entriesMu.
	refs int
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		portfolios: make(map[string]*portfolioEntry),
		txnIndex:   make(map[string]int),
		roles:      make(map[string]models.Role),
		profiles:   make(map[string]models.UserProfile),
		plans:      make(map[int64]models.InvestmentPlan),
	}
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() {}

// lookup returns the entry for user without inserting one.
func (s *Store) lookup(user string) *portfolioEntry {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	return s.portfolios[user]
}

// acquire pins the entry for a writer. Without create it returns nil for an
// unknown user instead of inserting. Every non-nil result must be released.
func (s *Store) acquire(user string, create bool) *portfolioEntry {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	e, ok := s.portfolios[user]
	if !ok {
		if !create {
			return nil
		}
		e = &portfolioEntry{}
		s.portfolios[user] = e
	}
	e.refs++
	return e
}

// release unpins e and drops it when no writer holds it and no portfolio was
// ever committed to it. Callers must not hold e.mu.
func (s *Store) release(user string, e *portfolioEntry) {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	e.refs--
	if e.refs == 0 && !e.present && s.portfolios[user] == e {
		delete(s.portfolios, user)
	}
}

// working returns the copy a mutation operates on. Callers hold e.mu.
func (e *portfolioEntry) working(user string, create bool) (models.Portfolio, error) {
	if e.present {
		return e.value, nil
	}
	if !create {
		return models.Portfolio{}, storage.ErrNotFound
	}
	return models.Portfolio{User: user}, nil
}

// GetPortfolio returns a snapshot of the user's portfolio.
func (s *Store) GetPortfolio(_ context.Context, user string) (models.Portfolio, error) {
	e := s.lookup(user)
	if e == nil {
		return models.Portfolio{}, storage.ErrNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.present {
		return models.Portfolio{}, storage.ErrNotFound
	}
	return e.value, nil
}

// UpdatePortfolio applies fn under the user's write lock.
func (s *Store) UpdatePortfolio(_ context.Context, user string, create bool, fn storage.PortfolioMutation) (models.Portfolio, error) {
	e := s.acquire(user, create)
	if e == nil {
		return models.Portfolio{}, storage.ErrNotFound
	}
	defer s.release(user, e)
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := e.working(user, create)
	if err != nil {
		return models.Portfolio{}, err
	}
	if err := fn(&next); err != nil {
		return models.Portfolio{}, err
	}
	e.value = next
	e.present = true
	return next, nil
}

// ListEnrolled returns users with an active plan in a stable order.
func (s *Store) ListEnrolled(_ context.Context) ([]string, error) {
	s.entriesMu.Lock()
	entries := make(map[string]*portfolioEntry, len(s.portfolios))
	for user, e := range s.portfolios {
		entries[user] = e
	}
	s.entriesMu.Unlock()

	var users []string
	for user, e := range entries {
		e.mu.RLock()
		if e.present && e.value.Enrolled() {
			users = append(users, user)
		}
		e.mu.RUnlock()
	}
	sort.Strings(users)
	return users, nil
}

// AppendTransaction inserts txn and, when fn is set, applies it to the owner's
// portfolio before either change becomes visible.
func (s *Store) AppendTransaction(_ context.Context, txn models.Transaction, fn storage.SettlementFunc) error {
	if fn == nil {
		s.ledgerMu.Lock()
		defer s.ledgerMu.Unlock()
		return s.insertLocked(txn)
	}

	e := s.acquire(txn.User, true)
	defer s.release(txn.User, e)
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := e.working(txn.User, true)
	if err != nil {
		return err
	}
	if err := fn(txn, &next); err != nil {
		return err
	}

	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	if err := s.insertLocked(txn); err != nil {
		return err
	}
	e.value = next
	e.present = true
	return nil
}

func (s *Store) insertLocked(txn models.Transaction) error {
	if _, exists := s.txnIndex[txn.ID]; exists {
		return fmt.Errorf("transaction %s: %w", txn.ID, storage.ErrAlreadyExists)
	}
	s.txnIndex[txn.ID] = len(s.txns)
	s.txns = append(s.txns, txn)
	return nil
}

// FinalizeTransaction transitions a pending transaction. Every status change
// of a transaction happens under its owner's portfolio lock, so the status
// read here cannot change before the commit below.
func (s *Store) FinalizeTransaction(_ context.Context, id string, status models.TransactionStatus, fn storage.SettlementFunc) (models.Transaction, error) {
	s.ledgerMu.RLock()
	idx, ok := s.txnIndex[id]
	var owner string
	if ok {
		owner = s.txns[idx].User
	}
	s.ledgerMu.RUnlock()
	if !ok {
		return models.Transaction{}, storage.ErrNotFound
	}

	e := s.acquire(owner, true)
	defer s.release(owner, e)
	e.mu.Lock()
	defer e.mu.Unlock()

	s.ledgerMu.RLock()
	txn := s.txns[idx]
	s.ledgerMu.RUnlock()
	if txn.Status != models.StatusPending {
		return txn, storage.ErrNotPending
	}

	var next models.Portfolio
	apply := fn != nil
	if apply {
		working, err := e.working(owner, true)
		if err != nil {
			return models.Transaction{}, err
		}
		if err := fn(txn, &working); err != nil {
			return models.Transaction{}, err
		}
		next = working
	}

	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	s.txns[idx].Status = status
	if apply {
		e.value = next
		e.present = true
	}
	return s.txns[idx], nil
}

// GetTransaction returns the transaction with the given id.
func (s *Store) GetTransaction(_ context.Context, id string) (models.Transaction, error) {
	s.ledgerMu.RLock()
	defer s.ledgerMu.RUnlock()
	idx, ok := s.txnIndex[id]
	if !ok {
		return models.Transaction{}, storage.ErrNotFound
	}
	return s.txns[idx], nil
}

// ListTransactions pages through the ledger newest first.
func (s *Store) ListTransactions(_ context.Context, limit, offset int) ([]models.Transaction, error) {
	s.ledgerMu.RLock()
	defer s.ledgerMu.RUnlock()

	if limit <= 0 {
		return []models.Transaction{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	out := make([]models.Transaction, 0, min(limit, len(s.txns)))
	for i := len(s.txns) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.txns[i])
	}
	return out, nil
}

// GetRole returns the explicit role of user.
func (s *Store) GetRole(_ context.Context, user string) (models.Role, error) {
	s.rolesMu.RLock()
	defer s.rolesMu.RUnlock()
	role, ok := s.roles[user]
	if !ok {
		return "", storage.ErrNotFound
	}
	return role, nil
}

// SetRole records an explicit role for user.
func (s *Store) SetRole(_ context.Context, user string, role models.Role) error {
	s.rolesMu.Lock()
	defer s.rolesMu.Unlock()
	s.roles[user] = role
	return nil
}

// GetProfile returns the stored profile of user.
func (s *Store) GetProfile(_ context.Context, user string) (models.UserProfile, error) {
	s.profilesMu.RLock()
	defer s.profilesMu.RUnlock()
	profile, ok := s.profiles[user]
	if !ok {
		return models.UserProfile{}, storage.ErrNotFound
	}
	return profile, nil
}

// SaveProfile replaces the profile of user.
func (s *Store) SaveProfile(_ context.Context, user string, profile models.UserProfile) error {
	s.profilesMu.Lock()
	defer s.profilesMu.Unlock()
	s.profiles[user] = profile
	return nil
}

// ListPlans returns the catalog ordered by VIP level.
func (s *Store) ListPlans(_ context.Context) ([]models.InvestmentPlan, error) {
	s.plansMu.RLock()
	defer s.plansMu.RUnlock()
	plans := make([]models.InvestmentPlan, 0, len(s.plans))
	for _, plan := range s.plans {
		plans = append(plans, plan.Clone())
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].VIPLevel < plans[j].VIPLevel })
	return plans, nil
}

// GetPlan returns a single catalog entry.
func (s *Store) GetPlan(_ context.Context, vipLevel int64) (models.InvestmentPlan, error) {
	s.plansMu.RLock()
	defer s.plansMu.RUnlock()
	plan, ok := s.plans[vipLevel]
	if !ok {
		return models.InvestmentPlan{}, storage.ErrNotFound
	}
	return plan.Clone(), nil
}

// UpsertPlan creates or replaces a catalog entry.
func (s *Store) UpsertPlan(_ context.Context, plan models.InvestmentPlan) error {
	s.plansMu.Lock()
	defer s.plansMu.Unlock()
	s.plans[plan.VIPLevel] = plan.Clone()
	return nil
}

// CreateAccount stores a new account, enforcing unique username and email.
func (s *Store) CreateAccount(_ context.Context, account models.Account) (models.Account, error) {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()
	for _, existing := range s.accounts {
		if strings.EqualFold(existing.Username, account.Username) || strings.EqualFold(existing.Email, account.Email) {
			return models.Account{}, storage.ErrAlreadyExists
		}
	}
	account.ID = int64(len(s.accounts) + 1)
	account.CreatedAt = time.Now().UTC()
	s.accounts = append(s.accounts, account)
	return account, nil
}

// FindByUsernameOrEmail fetches the first account matching identifier.
func (s *Store) FindByUsernameOrEmail(_ context.Context, identifier string) (models.Account, error) {
	s.accountsMu.RLock()
	defer s.accountsMu.RUnlock()
	for _, account := range s.accounts {
		if account.Username == identifier || account.Email == identifier {
			return account, nil
		}
	}
	return models.Account{}, storage.ErrNotFound
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/hongminglow/vip-ledger/internal/models"
	"github.com/hongminglow/vip-ledger/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ensure Store satisfies the storage.Store interface at compile time.
var _ storage.Store = (*Store)(nil)

// Store provides Postgres-backed persistence. Per-user serialization comes
// from row locks on the portfolios table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store and runs migrations.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases database resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id BIGSERIAL PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			email TEXT UNIQUE NOT NULL,
			phone TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS portfolios (
			user_id TEXT PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			vip_level BIGINT NOT NULL DEFAULT 0,
			daily_profit BIGINT NOT NULL DEFAULT 0,
			profits BIGINT NOT NULL DEFAULT 0,
			total_deposits BIGINT NOT NULL DEFAULT 0,
			total_withdrawals BIGINT NOT NULL DEFAULT 0,
			last_updated BIGINT NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS portfolios_enrolled_idx ON portfolios (user_id) WHERE vip_level > 0;`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			txn_type TEXT NOT NULL CHECK (txn_type IN ('deposit', 'withdrawal')),
			amount BIGINT NOT NULL CHECK (amount > 0),
			reference TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed')),
			created_ns BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS transactions_recent_idx ON transactions (created_ns DESC, id DESC);`,
		`CREATE TABLE IF NOT EXISTS role_assignments (
			user_id TEXT PRIMARY KEY,
			role TEXT NOT NULL CHECK (role IN ('admin', 'user', 'guest'))
		);`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id TEXT PRIMARY KEY,
			name TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS investment_plans (
			vip_level BIGINT PRIMARY KEY CHECK (vip_level > 0),
			title TEXT NOT NULL,
			price BIGINT NOT NULL CHECK (price >= 0),
			daily_income BIGINT NOT NULL CHECK (daily_income >= 0),
			features TEXT[] NOT NULL DEFAULT '{}'
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

const portfolioColumns = `user_id, balance, vip_level, daily_profit, profits, total_deposits, total_withdrawals, last_updated`

// GetPortfolio returns the committed portfolio of user.
func (s *Store) GetPortfolio(ctx context.Context, user string) (models.Portfolio, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+portfolioColumns+` FROM portfolios WHERE user_id = $1`, user)
	return scanPortfolio(row)
}

// UpdatePortfolio runs fn against the locked portfolio row inside a transaction.
func (s *Store) UpdatePortfolio(ctx context.Context, user string, create bool, fn storage.PortfolioMutation) (models.Portfolio, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Portfolio{}, err
	}
	defer tx.Rollback(ctx)

	updated, err := mutatePortfolio(ctx, tx, user, create, fn)
	if err != nil {
		return models.Portfolio{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Portfolio{}, fmt.Errorf("commit portfolio update: %w", err)
	}
	return updated, nil
}

// mutatePortfolio locks the user's row, applies fn and writes the result back
// within tx. A row created here vanishes with the rollback if fn fails.
func mutatePortfolio(ctx context.Context, tx pgx.Tx, user string, create bool, fn storage.PortfolioMutation) (models.Portfolio, error) {
	if create {
		if _, err := tx.Exec(ctx, `INSERT INTO portfolios (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, user); err != nil {
			return models.Portfolio{}, fmt.Errorf("ensure portfolio: %w", err)
		}
	}
	row := tx.QueryRow(ctx, `SELECT `+portfolioColumns+` FROM portfolios WHERE user_id = $1 FOR UPDATE`, user)
	current, err := scanPortfolio(row)
	if err != nil {
		return models.Portfolio{}, err
	}
	if err := fn(&current); err != nil {
		return models.Portfolio{}, err
	}

	const update = `
		UPDATE portfolios
		SET balance = $2, vip_level = $3, daily_profit = $4, profits = $5,
		    total_deposits = $6, total_withdrawals = $7, last_updated = $8
		WHERE user_id = $1`
	if _, err := tx.Exec(ctx, update, user, current.Balance, current.VIPLevel, current.DailyProfit, current.Profits,
		current.TotalDeposits, current.TotalWithdrawals, current.LastUpdated); err != nil {
		return models.Portfolio{}, fmt.Errorf("write portfolio: %w", err)
	}
	return current, nil
}

// ListEnrolled returns users with an active plan.
func (s *Store) ListEnrolled(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM portfolios WHERE vip_level > 0 ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect enrolled users: %w", err)
	}
	return users, nil
}

const transactionColumns = `id, user_id, txn_type, amount, reference, status, created_ns`

// AppendTransaction inserts txn, applying fn to the owner's portfolio first
// when set. Lock order is portfolio row then transaction row.
func (s *Store) AppendTransaction(ctx context.Context, txn models.Transaction, fn storage.SettlementFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if fn != nil {
		if _, err := mutatePortfolio(ctx, tx, txn.User, true, func(p *models.Portfolio) error {
			return fn(txn, p)
		}); err != nil {
			return err
		}
	}

	const insert = `INSERT INTO transactions (` + transactionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.Exec(ctx, insert, txn.ID, txn.User, string(txn.Type), txn.Amount, txn.Reference, string(txn.Status), txn.Timestamp); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("transaction %s: %w", txn.ID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return tx.Commit(ctx)
}

// FinalizeTransaction locks the transaction row, checks it is still pending,
// applies fn to the owner's portfolio and records the new status.
func (s *Store) FinalizeTransaction(ctx context.Context, id string, status models.TransactionStatus, fn storage.SettlementFunc) (models.Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Transaction{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	txn, err := scanTransaction(row)
	if err != nil {
		return models.Transaction{}, err
	}
	if txn.Status != models.StatusPending {
		return txn, storage.ErrNotPending
	}

	if fn != nil {
		if _, err := mutatePortfolio(ctx, tx, txn.User, true, func(p *models.Portfolio) error {
			return fn(txn, p)
		}); err != nil {
			return models.Transaction{}, err
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE transactions SET status = $2 WHERE id = $1`, id, string(status)); err != nil {
		return models.Transaction{}, fmt.Errorf("update transaction status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Transaction{}, fmt.Errorf("commit finalize: %w", err)
	}
	txn.Status = status
	return txn, nil
}

// GetTransaction fetches a transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// ListTransactions pages through the ledger newest first.
func (s *Store) ListTransactions(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 {
		return []models.Transaction{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `SELECT `+transactionColumns+` FROM transactions ORDER BY created_ns DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Transaction, 0, limit)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

// GetRole returns the explicit role of user.
func (s *Store) GetRole(ctx context.Context, user string) (models.Role, error) {
	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM role_assignments WHERE user_id = $1`, user).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", err
	}
	return models.Role(role), nil
}

// SetRole records an explicit role for user.
func (s *Store) SetRole(ctx context.Context, user string, role models.Role) error {
	const query = `
		INSERT INTO role_assignments (user_id, role) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role`
	_, err := s.pool.Exec(ctx, query, user, string(role))
	return err
}

// GetProfile returns the stored profile of user.
func (s *Store) GetProfile(ctx context.Context, user string) (models.UserProfile, error) {
	var profile models.UserProfile
	err := s.pool.QueryRow(ctx, `SELECT name FROM profiles WHERE user_id = $1`, user).Scan(&profile.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.UserProfile{}, storage.ErrNotFound
		}
		return models.UserProfile{}, err
	}
	return profile, nil
}

// SaveProfile replaces the profile of user.
func (s *Store) SaveProfile(ctx context.Context, user string, profile models.UserProfile) error {
	const query = `
		INSERT INTO profiles (user_id, name) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET name = EXCLUDED.name`
	_, err := s.pool.Exec(ctx, query, user, profile.Name)
	return err
}

const planColumns = `vip_level, title, price, daily_income, features`

// ListPlans returns the catalog ordered by VIP level.
func (s *Store) ListPlans(ctx context.Context) ([]models.InvestmentPlan, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+planColumns+` FROM investment_plans ORDER BY vip_level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []models.InvestmentPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// GetPlan returns a single catalog entry.
func (s *Store) GetPlan(ctx context.Context, vipLevel int64) (models.InvestmentPlan, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM investment_plans WHERE vip_level = $1`, vipLevel)
	return scanPlan(row)
}

// UpsertPlan creates or replaces a catalog entry.
func (s *Store) UpsertPlan(ctx context.Context, plan models.InvestmentPlan) error {
	features := plan.Features
	if features == nil {
		features = []string{}
	}
	const query = `
		INSERT INTO investment_plans (` + planColumns + `) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (vip_level) DO UPDATE
		SET title = EXCLUDED.title, price = EXCLUDED.price,
		    daily_income = EXCLUDED.daily_income, features = EXCLUDED.features`
	_, err := s.pool.Exec(ctx, query, plan.VIPLevel, plan.Title, plan.Price, plan.DailyIncome, features)
	return err
}

// CreateAccount inserts a new account row.
func (s *Store) CreateAccount(ctx context.Context, account models.Account) (models.Account, error) {
	const query = `
		INSERT INTO accounts (username, email, phone, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, username, email, phone, password_hash, created_at`
	row := s.pool.QueryRow(ctx, query, account.Username, account.Email, account.Phone, account.PasswordHash)
	created, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Account{}, storage.ErrAlreadyExists
		}
		return models.Account{}, err
	}
	return created, nil
}

// FindByUsernameOrEmail fetches the first account matching the identifier as username or email.
func (s *Store) FindByUsernameOrEmail(ctx context.Context, identifier string) (models.Account, error) {
	const query = `
		SELECT id, username, email, phone, password_hash, created_at
		FROM accounts
		WHERE username = $1 OR email = $1
		LIMIT 1`
	row := s.pool.QueryRow(ctx, query, identifier)
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (models.Account, error) {
	var account models.Account
	if err := row.Scan(&account.ID, &account.Username, &account.Email, &account.Phone, &account.PasswordHash, &account.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, storage.ErrNotFound
		}
		return models.Account{}, err
	}
	return account, nil
}

func scanPortfolio(row pgx.Row) (models.Portfolio, error) {
	var p models.Portfolio
	if err := row.Scan(&p.User, &p.Balance, &p.VIPLevel, &p.DailyProfit, &p.Profits, &p.TotalDeposits, &p.TotalWithdrawals, &p.LastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Portfolio{}, storage.ErrNotFound
		}
		return models.Portfolio{}, err
	}
	return p, nil
}

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var txn models.Transaction
	var txnType, status string
	if err := row.Scan(&txn.ID, &txn.User, &txnType, &txn.Amount, &txn.Reference, &status, &txn.Timestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Transaction{}, storage.ErrNotFound
		}
		return models.Transaction{}, err
	}
	txn.Type = models.TransactionType(txnType)
	txn.Status = models.TransactionStatus(status)
	return txn, nil
}

func scanPlan(row pgx.Row) (models.InvestmentPlan, error) {
	var plan models.InvestmentPlan
	if err := row.Scan(&plan.VIPLevel, &plan.Title, &plan.Price, &plan.DailyIncome, &plan.Features); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.InvestmentPlan{}, storage.ErrNotFound
		}
		return models.InvestmentPlan{}, err
	}
	return plan, nil
}

package models

// TransactionType distinguishes money entering and leaving a portfolio.
type TransactionType string

const (
	Deposit    TransactionType = "deposit"
	Withdrawal TransactionType = "withdrawal"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	return t == Deposit || t == Withdrawal
}

// TransactionStatus is the ledger state of a transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transaction is a ledger entry. Amounts are minor currency units and
// Timestamp is nanoseconds since the Unix epoch.
type Transaction struct {
	ID        string            `json:"id"`
	User      string            `json:"user"`
	Type      TransactionType   `json:"txnType"`
	Amount    int64             `json:"amount"`
	Reference string            `json:"reference"`
	Status    TransactionStatus `json:"status"`
	Timestamp int64             `json:"timestamp"`
}

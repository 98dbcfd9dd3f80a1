package models

// Portfolio is the per-user financial aggregate derived from the ledger.
// All amounts are minor currency units; LastUpdated anchors accrual
// eligibility and is expressed in nanoseconds since the Unix epoch.
type Portfolio struct {
	User             string `json:"user"`
	Balance          int64  `json:"balance"`
	VIPLevel         int64  `json:"vipLevel"`
	DailyProfit      int64  `json:"dailyProfit"`
	Profits          int64  `json:"profits"`
	TotalDeposits    int64  `json:"totalDeposits"`
	TotalWithdrawals int64  `json:"totalWithdrawals"`
	LastUpdated      int64  `json:"lastUpdated"`
}

// Enrolled reports whether the portfolio currently accrues profit.
func (p Portfolio) Enrolled() bool {
	return p.VIPLevel > 0
}

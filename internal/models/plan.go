package models

// InvestmentPlan is a VIP tier in the plan catalog.
type InvestmentPlan struct {
	VIPLevel    int64    `json:"vipLevel"`
	Title       string   `json:"title"`
	Price       int64    `json:"price"`
	DailyIncome int64    `json:"dailyIncome"`
	Features    []string `json:"features"`
}

// Clone returns a copy that shares no backing array with p.
func (p InvestmentPlan) Clone() InvestmentPlan {
	if p.Features != nil {
		p.Features = append([]string(nil), p.Features...)
	}
	return p
}

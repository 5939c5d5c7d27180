package domain

import "github.com/shopspring/decimal"

type RiskTier string

const (
	TierLow    RiskTier = "LOW"
	TierMedium RiskTier = "MEDIUM"
	TierHigh   RiskTier = "HIGH"
)

type RiskFactors struct {
	LTV         float64 `json:"ltv"`
	CreditScore int     `json:"credit_score"`
	IncomeRatio float64 `json:"income_ratio"`
	Employment  float64 `json:"employment"`
}

type RiskAssessment struct {
	Score           float64         `json:"score"`
	Tier            RiskTier        `json:"tier"`
	RecommendedRate float64         `json:"recommended_rate"`
	MaxLoanAmount   decimal.Decimal `json:"max_loan_amount"`
	Factors         RiskFactors     `json:"factors"`
}

// Package risk scores a borrower and collateral pair. Every input beyond the
// loan and collateral amounts is optional; unknown values fall back to a
// neutral median risk so an assessment is always produced.
package risk

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wakala/loanengine/internal/domain"
	"github.com/wakala/loanengine/internal/money"
	"github.com/wakala/loanengine/internal/terms"
)

const (
	BaseRate        = 6.0
	RatePerScore    = 0.15
	neutralRisk     = 50.0
	neutralDTI      = 50.0
	estimateRate    = 8.0
	estimateMonths  = 12
	maxCreditScore  = 850.0
	creditScoreStep = 8.5
)

type EmploymentStatus string

const (
	EmploymentFullTime     EmploymentStatus = "full-time"
	EmploymentPartTime     EmploymentStatus = "part-time"
	EmploymentFreelance    EmploymentStatus = "freelance"
	EmploymentSelfEmployed EmploymentStatus = "self-employed"
	EmploymentUnemployed   EmploymentStatus = "unemployed"
	EmploymentStudent      EmploymentStatus = "student"
	EmploymentRetired      EmploymentStatus = "retired"
)

var employmentRisk = map[EmploymentStatus]float64{
	EmploymentFullTime:     10,
	EmploymentPartTime:     30,
	EmploymentFreelance:    40,
	EmploymentSelfEmployed: 35,
	EmploymentUnemployed:   80,
	EmploymentStudent:      60,
	EmploymentRetired:      25,
}

var maxLTV = map[domain.RiskTier]decimal.Decimal{
	domain.TierLow:    decimal.RequireFromString("0.8"),
	domain.TierMedium: decimal.RequireFromString("0.6"),
	domain.TierHigh:   decimal.RequireFromString("0.4"),
}

type Input struct {
	LoanAmount          decimal.Decimal
	CollateralAmount    decimal.Decimal
	MonthlyIncome       Optional[decimal.Decimal]
	CreditScore         Optional[int]
	Employment          Optional[EmploymentStatus]
	ExistingMonthlyDebt Optional[decimal.Decimal]
}

// Assess scores in. It has no failure mode: negative amounts are treated as
// zero and unknown inputs take their documented neutral defaults.
func Assess(in Input) domain.RiskAssessment {
	loan := money.NonNegative(in.LoanAmount)
	collateral := money.NonNegative(in.CollateralAmount)

	ltv := LTV(loan, collateral)
	ltvRisk := math.Min(100, ltv*1.25)

	creditRisk := neutralRisk
	creditScore := 0
	if score, ok := in.CreditScore.Get(); ok {
		creditScore = score
		creditRisk = clamp((maxCreditScore-float64(score))/creditScoreStep, 0, 100)
	}

	dti := neutralDTI
	incomeRisk := neutralRisk
	if income, ok := in.MonthlyIncome.Get(); ok {
		debts, _ := in.ExistingMonthlyDebt.Get()
		newPayment := terms.MonthlyPayment(loan, estimateRate, estimateMonths)
		dti = DTI(money.Float(money.NonNegative(debts))+newPayment, money.Float(income))
		incomeRisk = math.Min(100, dti*2)
	}

	empRisk := EmploymentRisk(in.Employment)

	raw := clamp((ltvRisk+creditRisk+incomeRisk+empRisk)/4, 0, 100)
	tier := TierFor(raw)

	return domain.RiskAssessment{
		Score:           round(raw, 1),
		Tier:            tier,
		RecommendedRate: round(BaseRate+raw*RatePerScore, 2),
		MaxLoanAmount:   money.Round(collateral.Mul(maxLTV[tier])),
		Factors: domain.RiskFactors{
			LTV:         round(ltv, 1),
			CreditScore: creditScore,
			IncomeRatio: round(dti, 1),
			Employment:  empRisk,
		},
	}
}

// LTV returns loan/collateral as a percentage. A zero collateral value is
// maximum risk, not an error.
func LTV(loan, collateral decimal.Decimal) float64 {
	if !collateral.IsPositive() {
		return 100
	}
	return money.Float(loan) / money.Float(collateral) * 100
}

// DTI returns monthly debt over monthly income as a percentage. A known
// income of zero is reported as 100.
func DTI(monthlyDebts, monthlyIncome float64) float64 {
	if monthlyIncome <= 0 {
		return 100
	}
	return monthlyDebts / monthlyIncome * 100
}

func EmploymentRisk(status Optional[EmploymentStatus]) float64 {
	s, ok := status.Get()
	if !ok {
		return neutralRisk
	}
	if r, found := employmentRisk[EmploymentStatus(strings.ToLower(strings.TrimSpace(string(s))))]; found {
		return r
	}
	return neutralRisk
}

func TierFor(score float64) domain.RiskTier {
	switch {
	case score <= 30:
		return domain.TierLow
	case score <= 60:
		return domain.TierMedium
	default:
		return domain.TierHigh
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

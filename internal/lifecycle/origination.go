package lifecycle

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wakala/loanengine/internal/domain"
	"github.com/wakala/loanengine/internal/money"
	"github.com/wakala/loanengine/internal/terms"
)

var (
	// MinMarketCap is the smallest market cap accepted as collateral.
	MinMarketCap    = decimal.NewFromInt(10_000)
	CollateralRatio = decimal.RequireFromString("0.20")
	LoanToValue     = decimal.RequireFromString("0.10")
)

// Origination carries everything needed to open a loan. Collateral is the
// oracle snapshot read at application time and is kept by value.
type Origination struct {
	LoanID         string
	BorrowerID     string
	BorrowerWallet string
	Principal      decimal.Decimal
	DurationMonths int
	Collateral     domain.CollateralSnapshot
	Assessment     domain.RiskAssessment
	Now            time.Time
}

// RequiredCollateral is the value the borrower must deposit.
func RequiredCollateral(snap domain.CollateralSnapshot) decimal.Decimal {
	return money.Round(snap.MarketCap.Mul(CollateralRatio))
}

// MaxPrincipal caps a loan at both the asset's loan-to-value and the
// assessment's tier limit.
func MaxPrincipal(snap domain.CollateralSnapshot, a domain.RiskAssessment) decimal.Decimal {
	return money.Min(money.Round(snap.MarketCap.Mul(LoanToValue)), a.MaxLoanAmount)
}

// Eligible reports whether an asset can back a loan at all.
func Eligible(snap domain.CollateralSnapshot) bool {
	return snap.MarketCap.GreaterThanOrEqual(MinMarketCap)
}

// CollateralPremium adds rate points for thin collateral markets and large
// loans. It is never negative.
func CollateralPremium(principal, marketCap decimal.Decimal) float64 {
	premium := 0.0
	switch {
	case marketCap.LessThan(decimal.NewFromInt(25_000)):
		premium += 2
	case marketCap.LessThan(decimal.NewFromInt(50_000)):
		premium += 1
	case marketCap.GreaterThan(decimal.NewFromInt(100_000)):
		premium -= 0.5
	}
	switch {
	case principal.GreaterThan(decimal.NewFromInt(10_000)):
		premium += 1
	case principal.GreaterThan(decimal.NewFromInt(5_000)):
		premium += 0.5
	}
	return math.Max(0, premium)
}

// OriginationRate is the annual rate offered for a loan.
func OriginationRate(a domain.RiskAssessment, principal, marketCap decimal.Decimal) float64 {
	return math.Round((a.RecommendedRate+CollateralPremium(principal, marketCap))*100) / 100
}

// Originate opens a loan in PENDING_COLLATERAL. Collateral ratio and
// loan-to-value are fixed here for the life of the loan.
func Originate(o Origination) (domain.Loan, error) {
	if strings.TrimSpace(o.LoanID) == "" || strings.TrimSpace(o.BorrowerID) == "" {
		return domain.Loan{}, domain.Invalid("loan id and borrower id are required")
	}
	if strings.TrimSpace(o.Collateral.Asset) == "" {
		return domain.Loan{}, domain.Invalid("collateral asset is required")
	}
	if !Eligible(o.Collateral) {
		return domain.Loan{}, fmt.Errorf("%w: %s market cap %s is below %s", domain.ErrIneligibleCollateral,
			o.Collateral.Asset, o.Collateral.MarketCap.StringFixed(2), MinMarketCap.StringFixed(2))
	}

	principal := money.Round(o.Principal)
	if limit := MaxPrincipal(o.Collateral, o.Assessment); principal.GreaterThan(limit) {
		return domain.Loan{}, domain.Invalid("requested %s exceeds maximum %s for %s",
			principal.StringFixed(2), limit.StringFixed(2), o.Collateral.Asset)
	}

	rate := OriginationRate(o.Assessment, principal, o.Collateral.MarketCap)
	t, err := terms.Calculate(principal, rate, o.DurationMonths)
	if err != nil {
		return domain.Loan{}, err
	}

	next := domain.AddMonths(o.Now, 1)
	return domain.Loan{
		ID:               o.LoanID,
		BorrowerID:       o.BorrowerID,
		BorrowerWallet:   o.BorrowerWallet,
		CollateralAsset:  o.Collateral.Asset,
		PrincipalAmount:  t.Principal,
		InterestRate:     t.AnnualRate,
		DurationMonths:   t.DurationMonths,
		MonthlyPayment:   t.MonthlyPayment,
		TotalAmount:      t.TotalAmount,
		CollateralAmount: RequiredCollateral(o.Collateral),
		CollateralRatio:  CollateralRatio,
		LoanToValue:      LoanToValue,
		RemainingBalance: t.Principal,
		InterestAccrued:  money.Zero,
		LateFees:         money.Zero,
		Status:           domain.StatusPendingCollateral,
		StartDate:        o.Now,
		NextPaymentDate:  &next,
		EndDate:          domain.AddMonths(o.Now, t.DurationMonths),
		Collateral:       o.Collateral,
		Version:          1,
		CreatedAt:        o.Now,
		UpdatedAt:        o.Now,
	}, nil
}

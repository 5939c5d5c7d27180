// Package servicing runs loan operations against storage: origination,
// collateral confirmation, repayments and default handling.
package servicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wakala/loanengine/internal/custody"
	"github.com/wakala/loanengine/internal/domain"
	"github.com/wakala/loanengine/internal/lifecycle"
	"github.com/wakala/loanengine/internal/logging"
	"github.com/wakala/loanengine/internal/metrics"
	"github.com/wakala/loanengine/internal/oracle"
	"github.com/wakala/loanengine/internal/payment"
	"github.com/wakala/loanengine/internal/repository"
	"github.com/wakala/loanengine/internal/risk"
	"github.com/wakala/loanengine/internal/terms"
)

const DefaultAfterDays = 90

type LoanStore interface {
	Insert(ctx context.Context, l domain.Loan) error
	Get(ctx context.Context, id string) (domain.Loan, error)
	List(ctx context.Context, f repository.LoanFilter) ([]domain.Loan, int, error)
	ListOverdue(ctx context.Context, asOf time.Time) ([]domain.Loan, error)
	CommitPayment(ctx context.Context, next domain.Loan, expectedVersion int64, rec domain.RepaymentRecord, intents []domain.CustodyIntent) error
	CommitTransition(ctx context.Context, next domain.Loan, expectedVersion int64, intents []domain.CustodyIntent) error
}

type RepaymentStore interface {
	ListByLoan(ctx context.Context, loanID string) ([]domain.RepaymentRecord, error)
}

type IntentStore interface {
	ListByLoan(ctx context.Context, loanID string) ([]domain.CustodyIntent, error)
}

type Options struct {
	// Treasury receives seized collateral.
	Treasury         string
	DefaultAfterDays int
	Logger           *slog.Logger
	Metrics          *metrics.EngineMetrics
}

// Service owns every write to a loan. Writes to the same loan are serialized
// in-process and committed with a version check, so a stale snapshot can
// never overwrite a newer one.
type Service struct {
	loans      LoanStore
	repayments RepaymentStore
	intents    IntentStore
	oracle     oracle.Oracle

	treasury         string
	defaultAfterDays int
	log              *slog.Logger
	metrics          *metrics.EngineMetrics
	locks            *loanLocks
	now              func() time.Time
	newID            func() string
}

func NewService(loans LoanStore, repayments RepaymentStore, intents IntentStore, o oracle.Oracle, opts Options) *Service {
	if opts.DefaultAfterDays <= 0 {
		opts.DefaultAfterDays = DefaultAfterDays
	}
	return &Service{
		loans:            loans,
		repayments:       repayments,
		intents:          intents,
		oracle:           o,
		treasury:         opts.Treasury,
		defaultAfterDays: opts.DefaultAfterDays,
		log:              logging.Component(opts.Logger, "servicing"),
		metrics:          opts.Metrics,
		locks:            newLoanLocks(),
		now:              func() time.Time { return time.Now().UTC() },
		newID:            uuid.NewString,
	}
}

// Application is a borrower's request for a loan. The pointer fields are
// optional; nil means unknown, which the risk model treats differently from
// zero.
type Application struct {
	BorrowerID          string           `json:"borrower_id"`
	BorrowerWallet      string           `json:"borrower_wallet"`
	CollateralAsset     string           `json:"collateral_asset"`
	RequestedAmount     decimal.Decimal  `json:"requested_amount"`
	DurationMonths      int              `json:"duration_months"`
	MonthlyIncome       *decimal.Decimal `json:"monthly_income,omitempty"`
	CreditScore         *int             `json:"credit_score,omitempty"`
	EmploymentStatus    *string          `json:"employment_status,omitempty"`
	ExistingMonthlyDebt *decimal.Decimal `json:"existing_monthly_debt,omitempty"`
}

func (a Application) validate() error {
	switch {
	case strings.TrimSpace(a.BorrowerID) == "":
		return domain.Invalid("borrower_id is required")
	case strings.TrimSpace(a.CollateralAsset) == "":
		return domain.Invalid("collateral_asset is required")
	case !a.RequestedAmount.IsPositive():
		return domain.Invalid("requested_amount must be positive")
	case a.DurationMonths < 1 || a.DurationMonths > terms.MaxDurationMonths:
		return domain.Invalid("duration_months must be between 1 and %d", terms.MaxDurationMonths)
	case a.CreditScore != nil && (*a.CreditScore < 300 || *a.CreditScore > 850):
		return domain.Invalid("credit_score must be between 300 and 850")
	case a.MonthlyIncome != nil && a.MonthlyIncome.IsNegative():
		return domain.Invalid("monthly_income must not be negative")
	case a.ExistingMonthlyDebt != nil && a.ExistingMonthlyDebt.IsNegative():
		return domain.Invalid("existing_monthly_debt must not be negative")
	}
	return nil
}

func (a Application) riskInput(collateral decimal.Decimal) risk.Input {
	in := risk.Input{
		LoanAmount:          a.RequestedAmount,
		CollateralAmount:    collateral,
		MonthlyIncome:       risk.FromPtr(a.MonthlyIncome),
		CreditScore:         risk.FromPtr(a.CreditScore),
		ExistingMonthlyDebt: risk.FromPtr(a.ExistingMonthlyDebt),
	}
	if a.EmploymentStatus != nil {
		in.Employment = risk.Known(risk.EmploymentStatus(*a.EmploymentStatus))
	}
	return in
}

type ApplicationResult struct {
	Loan               domain.Loan           `json:"loan"`
	Assessment         domain.RiskAssessment `json:"assessment"`
	RequiredCollateral decimal.Decimal       `json:"required_collateral"`
}

// Apply scores an application against the current collateral snapshot and
// opens a loan awaiting its collateral deposit.
func (s *Service) Apply(ctx context.Context, app Application) (*ApplicationResult, error) {
	if err := app.validate(); err != nil {
		s.metrics.ObserveOrigination("rejected", "")
		return nil, err
	}

	snap, err := s.oracle.Snapshot(ctx, app.CollateralAsset)
	if err != nil {
		s.metrics.ObserveOrigination("rejected", "")
		return nil, err
	}

	required := lifecycle.RequiredCollateral(snap)
	assessment := risk.Assess(app.riskInput(required))

	loan, err := lifecycle.Originate(lifecycle.Origination{
		LoanID:         "LOAN-" + s.newID(),
		BorrowerID:     app.BorrowerID,
		BorrowerWallet: app.BorrowerWallet,
		Principal:      app.RequestedAmount,
		DurationMonths: app.DurationMonths,
		Collateral:     snap,
		Assessment:     assessment,
		Now:            s.now(),
	})
	if err != nil {
		s.metrics.ObserveOrigination("rejected", string(assessment.Tier))
		return nil, err
	}

	if err := s.loans.Insert(ctx, loan); err != nil {
		return nil, fmt.Errorf("store loan: %w", err)
	}
	s.metrics.ObserveOrigination("originated", string(assessment.Tier))

	s.log.Info("loan originated",
		slog.String("loan_id", loan.ID),
		slog.String("borrower_id", loan.BorrowerID),
		logging.Wallet("asset", loan.CollateralAsset),
		slog.String("principal", loan.PrincipalAmount.StringFixed(2)),
		slog.Float64("rate", loan.InterestRate),
		slog.String("tier", string(assessment.Tier)),
	)

	return &ApplicationResult{Loan: loan, Assessment: assessment, RequiredCollateral: required}, nil
}

// ConfirmDeposit activates a pending loan once custody reports the deposit.
func (s *Service) ConfirmDeposit(ctx context.Context, c domain.EscrowConfirmation) (domain.Loan, error) {
	unlock := s.locks.lock(c.LoanID)
	defer unlock()

	loan, err := s.loans.Get(ctx, c.LoanID)
	if err != nil {
		return domain.Loan{}, err
	}
	next, err := lifecycle.ConfirmCollateral(loan, c, s.now())
	if err != nil {
		return domain.Loan{}, err
	}
	if err := s.loans.CommitTransition(ctx, next, loan.Version, nil); err != nil {
		s.observeConflict("confirm", err)
		return domain.Loan{}, err
	}
	s.metrics.ObserveConfirmation()

	s.log.Info("collateral confirmed",
		slog.String("loan_id", next.ID),
		slog.String("deposited", next.CollateralAmount.StringFixed(2)),
		slog.String("tx_ref", next.CollateralTxRef),
	)
	return next, nil
}

type PaymentResult struct {
	Record  domain.RepaymentRecord `json:"record"`
	Loan    domain.Loan            `json:"loan"`
	Intents []domain.CustodyIntent `json:"intents,omitempty"`
}

// SubmitPayment applies a repayment. A zero Date means now.
func (s *Service) SubmitPayment(ctx context.Context, loanID string, p payment.Payment) (*PaymentResult, error) {
	unlock := s.locks.lock(loanID)
	defer unlock()

	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if p.Date.IsZero() {
		p.Date = now
	}
	rec, next, err := lifecycle.ApplyPayment(loan, p)
	if err != nil {
		return nil, err
	}
	rec.ID = "RP-" + s.newID()
	intents := s.intentsFor(loan, next, now)

	if err := s.loans.CommitPayment(ctx, next, loan.Version, rec, intents); err != nil {
		s.observeConflict("payment", err)
		return nil, err
	}
	s.metrics.ObserveRepayment(string(rec.Status), rec.Amount.InexactFloat64())

	s.log.Info("repayment applied",
		slog.String("loan_id", loanID),
		slog.String("amount", rec.Amount.StringFixed(2)),
		slog.String("late_fee", rec.LateFeeComponent.StringFixed(2)),
		slog.String("interest", rec.InterestComponent.StringFixed(2)),
		slog.String("principal", rec.PrincipalComponent.StringFixed(2)),
		slog.String("unapplied", rec.Unapplied.StringFixed(2)),
		slog.String("balance", next.RemainingBalance.StringFixed(2)),
		slog.String("status", string(next.Status)),
	)
	if next.Status == domain.StatusPaid {
		s.log.Info("loan paid off", slog.String("loan_id", loanID), slog.Int("intents", len(intents)))
	}

	return &PaymentResult{Record: rec, Loan: next, Intents: intents}, nil
}

// Default moves an active loan to DEFAULTED and queues the seizure of its
// collateral.
func (s *Service) Default(ctx context.Context, loanID string) (domain.Loan, error) {
	unlock := s.locks.lock(loanID)
	defer unlock()

	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return domain.Loan{}, err
	}
	return s.defaultLocked(ctx, loan)
}

func (s *Service) defaultLocked(ctx context.Context, loan domain.Loan) (domain.Loan, error) {
	now := s.now()
	next, err := lifecycle.MarkDefaulted(loan, now)
	if err != nil {
		return domain.Loan{}, err
	}
	intents := s.intentsFor(loan, next, now)
	if err := s.loans.CommitTransition(ctx, next, loan.Version, intents); err != nil {
		s.observeConflict("default", err)
		return domain.Loan{}, err
	}
	s.metrics.ObserveDefault()

	s.log.Warn("loan defaulted",
		slog.String("loan_id", loan.ID),
		slog.Int("days_past_due", lifecycle.DaysPastDue(loan, now)),
		slog.String("balance", loan.RemainingBalance.StringFixed(2)),
	)
	return next, nil
}

func (s *Service) intentsFor(prev, next domain.Loan, at time.Time) []domain.CustodyIntent {
	intents := custody.IntentsFor(prev, next, s.treasury, at)
	for i := range intents {
		intents[i].ID = "CI-" + s.newID()
	}
	return intents
}

func (s *Service) observeConflict(op string, err error) {
	if errors.Is(err, domain.ErrVersionConflict) {
		s.metrics.ObserveConflict(op)
		s.log.Warn("version conflict", slog.String("operation", op), slog.String("error", err.Error()))
	}
}

func (s *Service) Get(ctx context.Context, id string) (domain.Loan, error) {
	return s.loans.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f repository.LoanFilter) ([]domain.Loan, int, error) {
	return s.loans.List(ctx, f)
}

func (s *Service) Repayments(ctx context.Context, loanID string) ([]domain.RepaymentRecord, error) {
	if _, err := s.loans.Get(ctx, loanID); err != nil {
		return nil, err
	}
	return s.repayments.ListByLoan(ctx, loanID)
}

func (s *Service) Intents(ctx context.Context, loanID string) ([]domain.CustodyIntent, error) {
	if _, err := s.loans.Get(ctx, loanID); err != nil {
		return nil, err
	}
	return s.intents.ListByLoan(ctx, loanID)
}

// Schedule is the loan's original amortization table.
func (s *Service) Schedule(ctx context.Context, loanID string) ([]domain.ScheduleRow, error) {
	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return nil, err
	}
	return terms.Schedule(loan.PrincipalAmount, loan.InterestRate, loan.DurationMonths, loan.StartDate)
}

// Payoff quotes settling the loan at payoffDate. A zero payoffDate means now.
func (s *Service) Payoff(ctx context.Context, loanID string, payoffDate time.Time) (domain.PayoffQuote, error) {
	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return domain.PayoffQuote{}, err
	}
	if loan.Status != domain.StatusActive {
		return domain.PayoffQuote{}, fmt.Errorf("%w: loan %s is %s", domain.ErrInvalidState, loan.ID, loan.Status)
	}
	now := s.now()
	if payoffDate.IsZero() {
		payoffDate = now
	}
	return terms.EarlyPayoff(loan.RemainingBalance, loan.InterestRate, remainingInstallments(loan), now, payoffDate), nil
}

// remainingInstallments counts scheduled due dates from the next unpaid one
// through the end of the term.
func remainingInstallments(loan domain.Loan) int {
	if loan.NextPaymentDate == nil {
		return 0
	}
	n := 0
	for k := 1; k <= loan.DurationMonths; k++ {
		if !domain.AddMonths(loan.StartDate, k).Before(*loan.NextPaymentDate) {
			n++
		}
	}
	return n
}

type Delinquency struct {
	LoanID          string     `json:"loan_id"`
	Status          string     `json:"status"`
	Delinquent      bool       `json:"delinquent"`
	DaysPastDue     int        `json:"days_past_due"`
	NextPaymentDate *time.Time `json:"next_payment_date,omitempty"`
	DefaultAfter    int        `json:"default_after_days"`
}

func (s *Service) Delinquency(ctx context.Context, loanID string) (Delinquency, error) {
	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return Delinquency{}, err
	}
	now := s.now()
	return Delinquency{
		LoanID:          loan.ID,
		Status:          string(loan.Status),
		Delinquent:      lifecycle.IsDelinquent(loan, now),
		DaysPastDue:     lifecycle.DaysPastDue(loan, now),
		NextPaymentDate: loan.NextPaymentDate,
		DefaultAfter:    s.defaultAfterDays,
	}, nil
}

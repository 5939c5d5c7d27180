package servicing

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakala/loanengine/internal/domain"
	"github.com/wakala/loanengine/internal/oracle"
	"github.com/wakala/loanengine/internal/payment"
	"github.com/wakala/loanengine/internal/repository"
)

var start = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fixture struct {
	svc        *Service
	clock      *clock
	loans      *repository.LoanRepo
	repayments *repository.RepaymentRepo
	intents    *repository.IntentRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := repository.InitDB(filepath.Join(t.TempDir(), "loans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		clock:      &clock{t: start},
		loans:      repository.NewLoanRepo(db),
		repayments: repository.NewRepaymentRepo(db),
		intents:    repository.NewIntentRepo(db),
	}
	f.svc = f.service()
	return f
}

func (f *fixture) service() *Service {
	feed := oracle.Static{
		"0xcoin": {Asset: "0xcoin", MarketCap: d("200000"), UnitPrice: d("0.02"), TotalSupply: d("10000000"), HolderCount: 420, ObservedAt: start.Add(-time.Hour)},
		"0xtiny": {Asset: "0xtiny", MarketCap: d("8000"), UnitPrice: d("0.0008"), TotalSupply: d("10000000"), HolderCount: 9, ObservedAt: start.Add(-time.Hour)},
	}
	svc := NewService(f.loans, f.repayments, f.intents, feed, Options{Treasury: "0xtreasury"})
	svc.now = f.clock.now
	return svc
}

func application() Application {
	return Application{
		BorrowerID:      "borrower-1",
		BorrowerWallet:  "0xborrowerwallet",
		CollateralAsset: "0xcoin",
		RequestedAmount: d("5000"),
		DurationMonths:  12,
	}
}

func (f *fixture) activeLoan(t *testing.T) domain.Loan {
	t.Helper()
	ctx := context.Background()
	res, err := f.svc.Apply(ctx, application())
	require.NoError(t, err)

	loan, err := f.svc.ConfirmDeposit(ctx, domain.EscrowConfirmation{
		LoanID: res.Loan.ID, DepositedAmount: res.RequiredCollateral, TxReference: "0xdeposit",
	})
	require.NoError(t, err)
	return loan
}

func TestApply(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Apply(context.Background(), application())
	require.NoError(t, err)

	assert.Equal(t, "40000.00", res.RequiredCollateral.StringFixed(2))
	assert.Equal(t, 41.4, res.Assessment.Score)
	assert.Equal(t, domain.TierMedium, res.Assessment.Tier)
	assert.Equal(t, 12.21, res.Assessment.RecommendedRate)

	loan := res.Loan
	assert.Equal(t, domain.StatusPendingCollateral, loan.Status)
	assert.Equal(t, 12.21, loan.InterestRate)
	assert.Equal(t, "444.74", loan.MonthlyPayment.StringFixed(2))
	assert.Equal(t, "5336.82", loan.TotalAmount.StringFixed(2))
	assert.Contains(t, loan.ID, "LOAN-")

	stored, err := f.loans.Get(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.Version, stored.Version)
	assert.True(t, stored.MonthlyPayment.Equal(loan.MonthlyPayment))
}

func TestApply_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("ineligible collateral", func(t *testing.T) {
		app := application()
		app.CollateralAsset = "0xtiny"
		_, err := f.svc.Apply(ctx, app)
		assert.ErrorIs(t, err, domain.ErrIneligibleCollateral)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
	t.Run("unknown asset", func(t *testing.T) {
		app := application()
		app.CollateralAsset = "0xnothing"
		_, err := f.svc.Apply(ctx, app)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
	t.Run("over the limit", func(t *testing.T) {
		app := application()
		app.RequestedAmount = d("25000")
		_, err := f.svc.Apply(ctx, app)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
	t.Run("missing fields", func(t *testing.T) {
		for _, mutate := range []func(*Application){
			func(a *Application) { a.BorrowerID = " " },
			func(a *Application) { a.CollateralAsset = "" },
			func(a *Application) { a.RequestedAmount = decimal.Zero },
			func(a *Application) { a.DurationMonths = 0 },
			func(a *Application) { a.DurationMonths = 601 },
			func(a *Application) { score := 900; a.CreditScore = &score },
		} {
			app := application()
			mutate(&app)
			_, err := f.svc.Apply(ctx, app)
			assert.ErrorIs(t, err, domain.ErrValidation)
		}
	})

	loans, total, err := f.svc.List(ctx, repository.LoanFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, loans)
}

func TestApply_OptionalInputsChangeTheOffer(t *testing.T) {
	f := newFixture(t)
	app := application()
	income := d("4000")
	score := 780
	employment := "Full-Time"
	app.MonthlyIncome = &income
	app.CreditScore = &score
	app.EmploymentStatus = &employment

	res, err := f.svc.Apply(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, domain.TierLow, res.Assessment.Tier)
	assert.Less(t, res.Loan.InterestRate, 12.21)
}

func TestConfirmDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Apply(ctx, application())
	require.NoError(t, err)

	_, err = f.svc.ConfirmDeposit(ctx, domain.EscrowConfirmation{
		LoanID: res.Loan.ID, DepositedAmount: d("39999.99"), TxReference: "0xshort",
	})
	require.ErrorIs(t, err, domain.ErrInsufficientCollateral)

	loan, err := f.svc.ConfirmDeposit(ctx, domain.EscrowConfirmation{
		LoanID: res.Loan.ID, DepositedAmount: d("41000"), TxReference: "0xdeposit",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, loan.Status)
	assert.Equal(t, res.Loan.Version+1, loan.Version)

	stored, err := f.svc.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, stored.Status)
	assert.Equal(t, "0xdeposit", stored.CollateralTxRef)
	assert.True(t, stored.CollateralAmount.Equal(d("41000")))

	_, err = f.svc.ConfirmDeposit(ctx, domain.EscrowConfirmation{
		LoanID: res.Loan.ID, DepositedAmount: d("41000"), TxReference: "0xagain",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.svc.ConfirmDeposit(ctx, domain.EscrowConfirmation{
		LoanID: "LOAN-missing", DepositedAmount: d("1"), TxReference: "0x",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmitPayment_OnTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loan := f.activeLoan(t)

	due := *loan.NextPaymentDate
	res, err := f.svc.SubmitPayment(ctx, loan.ID, payment.Payment{Amount: d("444.74"), PayerID: "borrower-1", Date: due})
	require.NoError(t, err)

	assert.Equal(t, "50.88", res.Record.InterestComponent.StringFixed(2))
	assert.Equal(t, "393.86", res.Record.PrincipalComponent.StringFixed(2))
	assert.True(t, res.Record.LateFeeComponent.IsZero())
	assert.Equal(t, domain.RepaymentOnTime, res.Record.Status)
	assert.Equal(t, "4606.14", res.Loan.RemainingBalance.StringFixed(2))
	assert.Equal(t, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), *res.Loan.NextPaymentDate)
	assert.Empty(t, res.Intents)

	ledger, err := f.svc.Repayments(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, res.Record.ID, ledger[0].ID)
}

func TestSubmitPayment_DefaultsDateToNow(t *testing.T) {
	f := newFixture(t)
	loan := f.activeLoan(t)

	late := loan.NextPaymentDate.Add(15 * 24 * time.Hour)
	f.clock.set(late)

	res, err := f.svc.SubmitPayment(context.Background(), loan.ID, payment.Payment{Amount: d("444.74"), PayerID: "borrower-1"})
	require.NoError(t, err)
	assert.Equal(t, 15, res.Record.DaysLate)
	assert.Equal(t, domain.RepaymentLate, res.Record.Status)
	assert.Equal(t, "11.12", res.Record.LateFeeComponent.StringFixed(2))
	assert.True(t, res.Record.PaymentDate.Equal(late))
}

func TestSubmitPayment_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loan := f.activeLoan(t)

	_, err := f.svc.SubmitPayment(ctx, loan.ID, payment.Payment{Amount: d("100"), PayerID: "someone-else"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.SubmitPayment(ctx, loan.ID, payment.Payment{Amount: d("0"), PayerID: "borrower-1"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.SubmitPayment(ctx, "LOAN-missing", payment.Payment{Amount: d("1"), PayerID: "borrower-1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ledger, err := f.svc.Repayments(ctx, loan.ID)
	require.NoError(t, err)
	assert.Empty(t, ledger)

	stored, err := f.svc.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.Version, stored.Version)
}

func TestSubmitPayment_PayoffReleasesCollateral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loan := f.activeLoan(t)

	res, err := f.svc.SubmitPayment(ctx, loan.ID, payment.Payment{Amount: d("6000"), PayerID: "borrower-1", Date: start.Add(24 * time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPaid, res.Loan.Status)
	assert.Nil(t, res.Loan.NextPaymentDate)
	assert.Equal(t, "5050.88", res.Record.Amount.StringFixed(2))
	assert.Equal(t, "949.12", res.Record.Unapplied.StringFixed(2))
	require.Len(t, res.Intents, 1)
	assert.Equal(t, domain.IntentReleaseCollateral, res.Intents[0].Kind)
	assert.Equal(t, "0xborrowerwallet", res.Intents[0].ToAddress)
	assert.True(t, res.Intents[0].Amount.Equal(d("40000")))
	assert.Contains(t, res.Intents[0].ID, "CI-")

	stored, err := f.svc.Intents(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, res.Intents[0].ID, stored[0].ID)

	_, err = f.svc.SubmitPayment(ctx, loan.ID, payment.Payment{Amount: d("1"), PayerID: "borrower-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSubmitPayment_ConcurrentSameLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loan := f.activeLoan(t)

	const payers = 20
	var wg sync.WaitGroup
	errs := make(chan error, payers)
	for i := 0; i < payers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitPayment(ctx, loan.ID, payment.Payment{Amount: d("100"), PayerID: "borrower-1", Date: start.Add(time.Hour)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := f.svc.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.Version+payers, stored.Version)

	ledger, err := f.svc.Repayments(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, ledger, payers)

	principal := decimal.Zero
	for _, rec := range ledger {
		principal = principal.Add(rec.PrincipalComponent)
		assert.True(t, rec.Amount.Equal(rec.PrincipalComponent.Add(rec.InterestComponent).Add(rec.LateFeeComponent)))
	}
	assert.True(t, principal.Add(stored.RemainingBalance).Equal(d("5000")),
		"principal paid %s + balance %s", principal, stored.RemainingBalance)
	assert.Zero(t, f.svc.locks.size())
}

// Two services over one database stand in for two processes: the in-process
// lock does not span them, so only the version check prevents lost updates.
func TestSubmitPayment_CrossProcessConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loan := f.activeLoan(t)
	other := f.service()

	const rounds = 10
	var ok, conflicts atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		for _, svc := range []*Service{f.svc, other} {
			wg.Add(1)
			go func(svc *Service) {
				defer wg.Done()
				_, err := svc.SubmitPayment(ctx, loan.ID, payment.Payment{Amount: d("50"), PayerID: "borrower-1", Date: start.Add(time.Hour)})
				switch {
				case err == nil:
					ok.Add(1)
				default:
					assert.ErrorIs(t, err, domain.ErrVersionConflict)
					conflicts.Add(1)
				}
			}(svc)
		}
	}
	wg.Wait()

	assert.Equal(t, int64(2*rounds), ok.Load()+conflicts.Load())

	stored, err := f.svc.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.Version+ok.Load(), stored.Version)

	ledger, err := f.svc.Repayments(ctx, loan.ID)
	require.NoError(t, err)
	assert.Len(t, ledger, int(ok.Load()))
}

func TestSweepDelinquent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	overdue := f.activeLoan(t)
	recent := f.activeLoan(t)

	// Keep the second loan current by paying its first installment.
	_, err := f.svc.SubmitPayment(ctx, recent.ID, payment.Payment{Amount: d("444.74"), PayerID: "borrower-1", Date: *recent.NextPaymentDate})
	require.NoError(t, err)

	f.clock.set(overdue.NextPaymentDate.Add(91 * 24 * time.Hour))

	res, err := f.svc.SweepDelinquent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Overdue)
	assert.Equal(t, 1, res.Defaulted)

	got, err := f.svc.Get(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDefaulted, got.Status)

	intents, err := f.svc.Intents(ctx, overdue.ID)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, domain.IntentSeizeCollateral, intents[0].Kind)
	assert.Equal(t, "0xtreasury", intents[0].ToAddress)

	got, err = f.svc.Get(ctx, recent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)

	res, err = f.svc.SweepDelinquent(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Defaulted, "defaulted loans are not swept twice")
}

func TestSweepDelinquent_LateActivationIsNotOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Apply(ctx, application())
	require.NoError(t, err)

	activated := start.AddDate(0, 0, 130)
	f.clock.set(activated)
	loan, err := f.svc.ConfirmDeposit(ctx, domain.EscrowConfirmation{
		LoanID: res.Loan.ID, DepositedAmount: res.RequiredCollateral, TxReference: "0xlate",
	})
	require.NoError(t, err)
	assert.True(t, loan.StartDate.Equal(activated))
	assert.True(t, loan.NextPaymentDate.Equal(activated.AddDate(0, 1, 0)))

	swept, err := f.svc.SweepDelinquent(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept.Overdue)
	assert.Zero(t, swept.Defaulted)

	status, err := f.svc.Delinquency(ctx, loan.ID)
	require.NoError(t, err)
	assert.False(t, status.Delinquent)

	intents, err := f.svc.Intents(ctx, loan.ID)
	require.NoError(t, err)
	assert.Empty(t, intents)

	f.clock.set(activated.Add(time.Minute))
	paid, err := f.svc.SubmitPayment(ctx, loan.ID, payment.Payment{Amount: d("444.74"), PayerID: "borrower-1"})
	require.NoError(t, err)
	assert.Zero(t, paid.Record.DaysLate)
	assert.True(t, paid.Record.LateFeeComponent.IsZero())

	rows, err := f.svc.Schedule(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, rows[0].PaymentDate.Equal(activated.AddDate(0, 1, 0)))
}

func TestDefault_RequiresActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Apply(ctx, application())
	require.NoError(t, err)

	_, err = f.svc.Default(ctx, res.Loan.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.svc.RunSweeper(ctx, time.Millisecond) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestDelinquency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loan := f.activeLoan(t)

	status, err := f.svc.Delinquency(ctx, loan.ID)
	require.NoError(t, err)
	assert.False(t, status.Delinquent)
	assert.Equal(t, DefaultAfterDays, status.DefaultAfter)

	f.clock.set(loan.NextPaymentDate.Add(31 * 24 * time.Hour))
	status, err = f.svc.Delinquency(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, status.Delinquent)
	assert.Equal(t, 31, status.DaysPastDue)
}

func TestScheduleAndPayoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loan := f.activeLoan(t)

	rows, err := f.svc.Schedule(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, rows, 12)
	assert.True(t, rows[11].Balance.IsZero())
	assert.True(t, rows[0].PaymentDate.Equal(*loan.NextPaymentDate))

	quote, err := f.svc.Payoff(ctx, loan.ID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "5000.00", quote.PayoffAmount.StringFixed(2))
	assert.Equal(t, 12, quote.MonthsSaved)
	assert.Equal(t, "336.82", quote.InterestSaved.StringFixed(2))

	_, err = f.svc.SubmitPayment(ctx, loan.ID, payment.Payment{Amount: d("444.74"), PayerID: "borrower-1", Date: *loan.NextPaymentDate})
	require.NoError(t, err)
	assert.Equal(t, 11, remainingInstallmentsOf(t, f, loan.ID))
}

func remainingInstallmentsOf(t *testing.T, f *fixture, id string) int {
	t.Helper()
	loan, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	return remainingInstallments(loan)
}

func TestLoanLocksSerializeSameKey(t *testing.T) {
	locks := newLoanLocks()
	var inside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("loan")
			defer unlock()
			assert.Equal(t, int32(1), inside.Add(1))
			time.Sleep(100 * time.Microsecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()
	assert.Zero(t, locks.size())
}

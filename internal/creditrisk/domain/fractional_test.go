package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	assert.Equal(t, date(2024, time.February, 29), AddMonths(date(2024, time.January, 31), 1))
	assert.Equal(t, date(2023, time.February, 28), AddMonths(date(2023, time.January, 31), 1))
	assert.Equal(t, date(2025, time.January, 15), AddMonths(date(2024, time.November, 15), 2))
	assert.Equal(t, date(2024, time.April, 30), AddMonths(date(2024, time.May, 31), -1))
}

func TestYearFractionActAct(t *testing.T) {
	assert.InDelta(t, 1.0, YearFractionActAct(date(2023, time.January, 1), date(2024, time.January, 1)), 1e-12)
	assert.InDelta(t, 1.0, YearFractionActAct(date(2024, time.January, 1), date(2025, time.January, 1)), 1e-12)
	// 2023-12-01 .. 2024-02-01: 31/365 + 31/366
	assert.InDelta(t, 31.0/365+31.0/366, YearFractionActAct(date(2023, time.December, 1), date(2024, time.February, 1)), 1e-12)
	assert.Zero(t, YearFractionActAct(date(2024, time.March, 1), date(2024, time.February, 1)))
}

func TestNextInvoiceDate(t *testing.T) {
	assert.Equal(t, date(2024, time.March, 20), NextInvoiceDate(date(2024, time.March, 10), 20))
	assert.Equal(t, date(2024, time.March, 10), NextInvoiceDate(date(2024, time.March, 10), 10))
	assert.Equal(t, date(2024, time.April, 5), NextInvoiceDate(date(2024, time.March, 10), 5))
	assert.Equal(t, date(2024, time.February, 29), NextInvoiceDate(date(2024, time.February, 2), 31))
	assert.Equal(t, date(2025, time.January, 1), NextInvoiceDate(date(2024, time.December, 31), 1))
}

func TestElapsedPeriods(t *testing.T) {
	whole, frac := ElapsedPeriods(date(2024, time.January, 15), date(2024, time.March, 15))
	assert.Equal(t, 2, whole)
	assert.Zero(t, frac)

	whole, frac = ElapsedPeriods(date(2024, time.January, 15), date(2024, time.March, 30))
	assert.Equal(t, 2, whole)
	assert.InDelta(t, 15.0/31, frac, 1e-12)

	whole, _ = ElapsedPeriods(date(2024, time.January, 31), date(2024, time.February, 28))
	assert.Equal(t, 0, whole)
}

func fractionalTerms() LoanTerms {
	return LoanTerms{Principal: 120_000, AnnualRate: 4.8, TenorMonths: 60, InterestOnlyMonths: 6, Redemption: RedemptionAnnuity}
}

func TestFractionalPeriodOnBoundaryEqualsScheduleEntry(t *testing.T) {
	terms := fractionalTerms()
	entries, err := GenerateSchedule(terms)
	require.NoError(t, err)

	res, err := CalculateFractionalPeriod(FractionalInput{
		Terms:      terms,
		StartDate:  date(2024, time.January, 15),
		InvoiceDay: 15,
		AsOf:       date(2024, time.November, 10),
	})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.November, 15), res.NextInvoiceDate)
	assert.Equal(t, 10.0, res.ElapsedPeriods)
	assert.InDelta(t, entries[9].RemainingBalance, res.RemainingBalance, 1e-9)
	assert.InDelta(t, entries[9].Payment, res.Payment, 1e-9)
	assert.False(t, res.InterestOnly)
	assert.False(t, res.Completed)
}

func TestFractionalPeriodConvergesToBoundary(t *testing.T) {
	terms := fractionalTerms()
	entries, err := GenerateSchedule(terms)
	require.NoError(t, err)
	boundary := entries[9].RemainingBalance

	prevGap := math.Inf(1)
	for _, day := range []int{1, 8, 12, 14} {
		res, err := CalculateFractionalPeriod(FractionalInput{
			Terms:      terms,
			StartDate:  date(2024, time.January, 15),
			InvoiceDay: day,
			AsOf:       date(2024, time.November, 1),
		})
		require.NoError(t, err)
		gap := math.Abs(res.RemainingBalance - boundary)
		assert.Less(t, gap, prevGap, "invoice day %d", day)
		prevGap = gap
	}
	step := entries[8].RemainingBalance - entries[9].RemainingBalance
	assert.Less(t, prevGap, step/30+1e-9)
}

func TestFractionalPeriodInterestOnlyAndCompleted(t *testing.T) {
	terms := fractionalTerms()

	res, err := CalculateFractionalPeriod(FractionalInput{
		Terms: terms, StartDate: date(2024, time.January, 15), InvoiceDay: 1, AsOf: date(2024, time.March, 1),
	})
	require.NoError(t, err)
	assert.True(t, res.InterestOnly)
	assert.InDelta(t, terms.Principal, res.RemainingBalance, 1e-9)
	assert.Zero(t, res.Principal)

	res, err = CalculateFractionalPeriod(FractionalInput{
		Terms: terms, StartDate: date(2018, time.January, 15), InvoiceDay: 15, AsOf: date(2024, time.March, 1),
	})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Zero(t, res.Payment)
}

func TestFractionalPeriodRejectsInvalidInvoiceDay(t *testing.T) {
	for _, day := range []int{0, 32, -3} {
		_, err := CalculateFractionalPeriod(FractionalInput{
			Terms: fractionalTerms(), StartDate: date(2024, time.January, 15), InvoiceDay: day, AsOf: date(2024, time.March, 1),
		})
		assert.ErrorIs(t, err, ErrInvalidLoanTerms)
	}
}

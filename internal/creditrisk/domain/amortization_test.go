package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestAnnuityScheduleMatchesReferenceMortgage(t *testing.T) {
	entries, err := GenerateSchedule(LoanTerms{
		Principal:   100_000,
		AnnualRate:  6,
		TenorMonths: 360,
		Redemption:  RedemptionAnnuity,
	})
	require.NoError(t, err)
	require.Len(t, entries, 360)

	first := entries[0]
	assert.Equal(t, 1, first.Month)
	assert.InDelta(t, 500.00, first.Interest, 0.005)
	assert.InDelta(t, 99.55, first.Principal, 0.01)
	assert.InDelta(t, 99_900.45, first.RemainingBalance, 0.01)
	assert.InDelta(t, 0, entries[359].RemainingBalance, 0.01)
	assert.Equal(t, 360, entries[359].Month)
}

func TestAnnuityPaymentConstantAfterInterestOnly(t *testing.T) {
	entries, err := GenerateSchedule(LoanTerms{
		Principal:          250_000,
		AnnualRate:         4.5,
		TenorMonths:        120,
		InterestOnlyMonths: 12,
		Redemption:         RedemptionAnnuity,
	})
	require.NoError(t, err)

	for _, e := range entries[:12] {
		assert.Zero(t, e.Principal)
		assert.InDelta(t, 250_000*0.045/12, e.Interest, 1e-9)
	}
	payment := entries[12].Payment
	for _, e := range entries[12:119] {
		assert.InDelta(t, payment, e.Payment, 1e-6, "month %d", e.Month)
	}
	assert.InDelta(t, payment, entries[119].Payment, 0.01)
	assert.Zero(t, entries[119].RemainingBalance)
}

func TestPrincipalSumsToBasis(t *testing.T) {
	cases := []struct {
		name  string
		terms LoanTerms
		basis float64
	}{
		{"annuity", LoanTerms{Principal: 80_000, AnnualRate: 3.2, TenorMonths: 84, InterestOnlyMonths: 6, Redemption: RedemptionAnnuity}, 80_000},
		{"annuity zero rate", LoanTerms{Principal: 12_000, TenorMonths: 24, Redemption: RedemptionAnnuity}, 12_000},
		{"linear", LoanTerms{Principal: 60_000, AnnualRate: 5, TenorMonths: 48, InterestOnlyMonths: 3, Redemption: RedemptionLinear}, 60_000},
		{"bullet", LoanTerms{Principal: 50_000, AnnualRate: 5, TenorMonths: 24, Redemption: RedemptionBullet}, 50_000},
		{"building depot", LoanTerms{Principal: 200_000, AnnualRate: 2.5, TenorMonths: 36, Redemption: RedemptionBuildingDepot, AmountDrawn: ptr(75_000.0)}, 75_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entries, err := GenerateSchedule(tc.terms)
			require.NoError(t, err)
			require.Len(t, entries, tc.terms.TenorMonths)

			summary := Summarize(entries)
			assert.InDelta(t, tc.basis, summary.TotalPrincipal, 0.01)
			assert.Zero(t, entries[len(entries)-1].RemainingBalance)

			prev := tc.basis
			for _, e := range entries {
				assert.LessOrEqual(t, e.RemainingBalance, prev+1e-9)
				assert.InDelta(t, e.Interest+e.Principal, e.Payment, 1e-9)
				prev = e.RemainingBalance
			}
		})
	}
}

func TestLinearSchedule(t *testing.T) {
	entries, err := GenerateSchedule(LoanTerms{
		Principal:          36_000,
		AnnualRate:         6,
		TenorMonths:        36,
		InterestOnlyMonths: 6,
		Redemption:         RedemptionLinear,
	})
	require.NoError(t, err)

	for _, e := range entries[:6] {
		assert.Zero(t, e.Principal)
	}
	for _, e := range entries[6:] {
		assert.InDelta(t, 1200, e.Principal, 1e-6, "month %d", e.Month)
	}
	for i := 7; i < len(entries); i++ {
		assert.Less(t, entries[i].Interest, entries[i-1].Interest)
	}
}

func TestBulletScheduleMatchesReference(t *testing.T) {
	entries, err := GenerateSchedule(LoanTerms{
		Principal:   50_000,
		AnnualRate:  5,
		TenorMonths: 24,
		Redemption:  RedemptionBullet,
	})
	require.NoError(t, err)
	require.Len(t, entries, 24)

	for _, e := range entries {
		assert.InDelta(t, 208.33, e.Interest, 0.005)
	}
	for _, e := range entries[:23] {
		assert.Zero(t, e.Principal)
		assert.Equal(t, 50_000.0, e.RemainingBalance)
	}
	assert.Equal(t, 50_000.0, entries[23].Principal)
	assert.Zero(t, entries[23].RemainingBalance)
}

func TestBuildingDepotUsesAmountDrawn(t *testing.T) {
	entries, err := GenerateSchedule(LoanTerms{
		Principal:   500_000,
		AnnualRate:  3,
		TenorMonths: 12,
		Redemption:  RedemptionBuildingDepot,
		AmountDrawn: ptr(120_000.0),
	})
	require.NoError(t, err)
	assert.InDelta(t, 300, entries[0].Interest, 1e-9)
	assert.Equal(t, 120_000.0, entries[11].Principal)
}

func TestGenerateScheduleRejectsInvalidTerms(t *testing.T) {
	cases := map[string]LoanTerms{
		"zero tenor":              {Principal: 1000, AnnualRate: 5, TenorMonths: 0, Redemption: RedemptionAnnuity},
		"negative tenor":          {Principal: 1000, AnnualRate: 5, TenorMonths: -12, Redemption: RedemptionAnnuity},
		"interest only = tenor":   {Principal: 1000, AnnualRate: 5, TenorMonths: 12, InterestOnlyMonths: 12, Redemption: RedemptionLinear},
		"negative rate":           {Principal: 1000, AnnualRate: -1, TenorMonths: 12, Redemption: RedemptionAnnuity},
		"zero principal":          {Principal: 0, AnnualRate: 5, TenorMonths: 12, Redemption: RedemptionBullet},
		"depot without drawn":     {Principal: 1000, AnnualRate: 5, TenorMonths: 12, Redemption: RedemptionBuildingDepot},
		"depot with zero drawn":   {Principal: 1000, AnnualRate: 5, TenorMonths: 12, Redemption: RedemptionBuildingDepot, AmountDrawn: ptr(0.0)},
		"unknown redemption type": {Principal: 1000, AnnualRate: 5, TenorMonths: 12, Redemption: "BALLOON"},
	}
	for name, terms := range cases {
		t.Run(name, func(t *testing.T) {
			entries, err := GenerateSchedule(terms)
			assert.ErrorIs(t, err, ErrInvalidLoanTerms)
			assert.Nil(t, entries)
		})
	}
}

func TestAnnuityPaymentZeroRate(t *testing.T) {
	assert.Equal(t, 100.0, AnnuityPayment(1200, 0, 12))
	assert.Equal(t, 1200.0, AnnuityPayment(1200, 0.01, 0))
}

func TestAggregateByYear(t *testing.T) {
	terms := LoanTerms{Principal: 24_000, AnnualRate: 0, TenorMonths: 24, Redemption: RedemptionLinear}
	entries, err := GenerateSchedule(terms)
	require.NoError(t, err)

	t.Run("existing loan", func(t *testing.T) {
		years := AggregateByYear(entries, terms.Basis(), 0, 3)
		assert.InDelta(t, 12_000, years[0].Principal, 1e-9)
		assert.InDelta(t, 12_000, years[1].Principal, 1e-9)
		assert.Zero(t, years[2].Principal)
		assert.Equal(t, 24_000.0, years[0].OpeningBalance)
		assert.InDelta(t, 0, years[1].ClosingBalance, 1e-9)
		assert.Zero(t, years[0].Drawdown)
	})

	t.Run("drawn mid horizon", func(t *testing.T) {
		years := AggregateByYear(entries, terms.Basis(), 18, 4)
		assert.Zero(t, years[0].Principal)
		assert.Equal(t, 24_000.0, years[1].Drawdown)
		assert.InDelta(t, 6_000, years[1].Principal, 1e-9)
		assert.InDelta(t, 12_000, years[2].Principal, 1e-9)
		assert.InDelta(t, 6_000, years[3].Principal, 1e-9)
		assert.Zero(t, years[0].ClosingBalance)
	})

	t.Run("seasoned loan", func(t *testing.T) {
		years := AggregateByYear(entries, terms.Basis(), -12, 2)
		assert.InDelta(t, 12_000, years[0].OpeningBalance, 1e-9)
		assert.InDelta(t, 12_000, years[0].Principal, 1e-9)
		assert.Zero(t, years[1].Principal)
	})
}

package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams(t *testing.T, paths, workers int) ModelParameters {
	t.Helper()
	m, err := BuildCorrelationMatrix(CorrelationInput{
		Sectors:                 []SectorCode{"AGRI", "RETAIL", "MINING"},
		Collateral:              []CollateralType{CollateralResidential},
		SectorSector:            [][]float64{{1, 0.5, 0.2}, {0.5, 1, 0.3}, {0.2, 0.3, 1}},
		DefaultSectorCollateral: 0.3,
	})
	require.NoError(t, err)
	f, err := m.Factorize()
	require.NoError(t, err)
	return ModelParameters{
		Projection: ProjectionParams{
			Years: 5, RevenueGrowth: 0.02, CostGrowth: 0.02,
			CostVolatility: 0.05, RevenueCostCorrelation: 0.5, TaxRate: 0.25,
		},
		Solvency:    SolvencyParams{CollateralShortfallThreshold: 0.1},
		Simulation:  SimulationParams{Paths: paths, Seed: 99, Workers: workers, SamplePaths: 3, BatchSize: 37},
		Correlation: f,
		SectorVolatility: map[SectorCode]float64{
			"AGRI": 0.25, "RETAIL": 0.15,
		},
		DefaultSectorVolatility: 0.2,
		CollateralMarkets: map[CollateralType]CollateralMarket{
			CollateralResidential: {ExpectedReturn: 0.02, Volatility: 0.1, Haircut: 0.2},
		},
		DefaultCollateralMarket: CollateralMarket{ExpectedReturn: 0.01, Volatility: 0.15, Haircut: 0.3},
		PortfolioLossThreshold:  0.05,
	}
}

func farmEntity(id string) Entity {
	return Entity{
		ID: id,
		Snapshot: FinancialSnapshot{
			Revenue: 1_000_000, OperatingCosts: 820_000, Equity: 300_000,
			TotalAssets: 1_500_000, LiquidAssets: 120_000,
		},
		Exposure: SectorExposure{"AGRI": 0.6, "RETAIL": 0.4},
		Loans: []LoanPosition{{
			ID:         id + "-L1",
			Terms:      LoanTerms{Principal: 600_000, AnnualRate: 5, TenorMonths: 120, Redemption: RedemptionAnnuity},
			StartMonth: -24,
			Collateral: []CollateralPledge{{
				ID: id + "-C1", Type: CollateralResidential, AppraisalValue: 650_000, IndexedValue: ptr(700_000.0),
			}},
		}},
	}
}

func TestSimulationReproducibleAcrossWorkerCounts(t *testing.T) {
	ctx := context.Background()
	entities := []Entity{farmEntity("E1"), farmEntity("E2")}
	entities[1].Exposure = SectorExposure{"RETAIL": 1}

	var results []*PortfolioSimulationResult
	for _, workers := range []int{1, 3, 16} {
		agg, err := NewPortfolioAggregator(testParams(t, 1500, workers))
		require.NoError(t, err)
		res, err := agg.Run(ctx, entities)
		require.NoError(t, err)
		results = append(results, res)
	}
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, results[0], results[2])
}

func TestSimulationResultShape(t *testing.T) {
	agg, err := NewPortfolioAggregator(testParams(t, 2000, 4))
	require.NoError(t, err)
	res, err := agg.RunEntity(context.Background(), farmEntity("E1"))
	require.NoError(t, err)

	assert.Equal(t, "E1", res.EntityID)
	assert.Equal(t, 2000, res.PathCount)
	assert.GreaterOrEqual(t, res.ProbabilityOfDefault, 0.0)
	assert.LessOrEqual(t, res.ProbabilityOfDefault, 1.0)
	require.Len(t, res.CumulativePD, 5)
	for y := 1; y < 5; y++ {
		assert.GreaterOrEqual(t, res.CumulativePD[y], res.CumulativePD[y-1])
	}
	assert.InDelta(t, res.ProbabilityOfDefault, res.CumulativePD[4], 1e-12)

	var reasons int
	for _, n := range res.DefaultReasons {
		reasons += n
	}
	assert.InDelta(t, res.ProbabilityOfDefault*2000, float64(reasons), 1e-9)

	assert.LessOrEqual(t, res.EndingEquity.P5, res.EndingEquity.P50)
	assert.LessOrEqual(t, res.EndingEquity.P50, res.EndingEquity.P95)
	assert.Greater(t, res.OpeningDebt, 0.0)
	assert.Less(t, res.OpeningDebt, 600_000.0)
	assert.False(t, res.CorrelationRepaired)

	require.Len(t, res.SamplePaths, 3)
	for i, p := range res.SamplePaths {
		assert.Equal(t, i, p.Path)
		assert.Len(t, p.Years, 5)
	}
	assert.Empty(t, res.DegradedInputs)
}

func deterministicParams(t *testing.T) ModelParameters {
	t.Helper()
	m, err := BuildCorrelationMatrix(CorrelationInput{
		Sectors:    []SectorCode{"AGRI"},
		Collateral: []CollateralType{CollateralResidential},
	})
	require.NoError(t, err)
	f, err := m.Factorize()
	require.NoError(t, err)
	return ModelParameters{
		Projection:  ProjectionParams{Years: 3, TaxRate: 0.25},
		Solvency:    SolvencyParams{CollateralShortfallThreshold: 0.1},
		Simulation:  SimulationParams{Paths: 50, Seed: 1, SamplePaths: 1},
		Correlation: f,
		CollateralMarkets: map[CollateralType]CollateralMarket{
			CollateralResidential: {Haircut: 0.2},
		},
	}
}

func TestSolvencyReasonsThroughProjection(t *testing.T) {
	cases := []struct {
		name    string
		entity  Entity
		reason  DefaultReason
		year    int
		expLoss float64
	}{
		{
			name: "negative equity",
			entity: Entity{
				ID:       "NEG",
				Snapshot: FinancialSnapshot{Revenue: 100, OperatingCosts: 1000, Equity: 100, TotalAssets: 1000, LiquidAssets: 5000},
				Loans: []LoanPosition{{
					ID:    "L",
					Terms: LoanTerms{Principal: 1000, AnnualRate: 5, TenorMonths: 60, Redemption: RedemptionBullet},
				}},
			},
			reason:  ReasonNegativeEquity,
			year:    1,
			expLoss: 1000,
		},
		{
			name: "liquidity shortfall",
			entity: Entity{
				ID:       "LIQ",
				Snapshot: FinancialSnapshot{Equity: 10_000_000, TotalAssets: 10_000_000},
				Loans: []LoanPosition{{
					ID:    "L",
					Terms: LoanTerms{Principal: 100_000, AnnualRate: 6, TenorMonths: 60, Redemption: RedemptionAnnuity},
				}},
			},
			reason: ReasonLiquidityShortfall,
			year:   1,
		},
		{
			name: "collateral shortfall",
			entity: Entity{
				ID:       "COL",
				Snapshot: FinancialSnapshot{Revenue: 1_000_000, Equity: 10_000_000, TotalAssets: 20_000_000, LiquidAssets: 10_000_000},
				Loans: []LoanPosition{{
					ID:         "L",
					Terms:      LoanTerms{Principal: 600_000, AnnualRate: 5, TenorMonths: 60, Redemption: RedemptionBullet},
					Collateral: []CollateralPledge{{ID: "C", Type: CollateralResidential, AppraisalValue: 100_000, IndexedValue: ptr(100_000.0)}},
				}},
			},
			reason:  ReasonCollateralShortfall,
			year:    1,
			expLoss: 600_000 - 80_000,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			agg, err := NewPortfolioAggregator(deterministicParams(t))
			require.NoError(t, err)
			res, err := agg.RunEntity(context.Background(), tc.entity)
			require.NoError(t, err)

			assert.Equal(t, 1.0, res.ProbabilityOfDefault)
			assert.Equal(t, 1.0, res.CumulativePD[tc.year-1])
			assert.Equal(t, 50, res.DefaultReasons[tc.reason])
			if tc.expLoss > 0 {
				assert.InDelta(t, tc.expLoss, res.ExpectedLoss, 1e-6)
			}

			require.Len(t, res.SamplePaths, 1)
			path := res.SamplePaths[0]
			assert.Equal(t, tc.reason, path.Outcome.Reason)
			assert.Equal(t, tc.year, path.Outcome.DefaultYear)
			assert.True(t, path.Years[0].Defaulted)
			// 违约后不再偿债
			assert.Zero(t, path.Years[1].Interest)
			assert.Zero(t, path.Years[1].Principal)
			assert.Equal(t, path.Years[0].OutstandingDebt, path.Years[2].OutstandingDebt)
		})
	}
}

func TestHealthyEntityNeverDefaults(t *testing.T) {
	agg, err := NewPortfolioAggregator(deterministicParams(t))
	require.NoError(t, err)
	res, err := agg.RunEntity(context.Background(), Entity{
		ID:       "OK",
		Snapshot: FinancialSnapshot{Revenue: 1_000_000, OperatingCosts: 500_000, Equity: 2_000_000, TotalAssets: 3_000_000, LiquidAssets: 400_000},
		Loans: []LoanPosition{{
			ID:         "L",
			Terms:      LoanTerms{Principal: 500_000, AnnualRate: 4, TenorMonths: 120, Redemption: RedemptionLinear},
			StartMonth: 6,
			Collateral: []CollateralPledge{{ID: "C", Type: CollateralResidential, AppraisalValue: 900_000, IndexedValue: ptr(900_000.0)}},
		}},
	})
	require.NoError(t, err)
	assert.Zero(t, res.ProbabilityOfDefault)
	assert.Zero(t, res.ExpectedLoss)
	assert.Zero(t, res.OpeningDebt)
	assert.Equal(t, 500_000.0, res.PeakDebt)

	first := res.SamplePaths[0].Years[0]
	assert.Equal(t, 500_000.0, first.Drawdown)
	assert.Greater(t, first.OutstandingDebt, 0.0)
	// EBITDA 500k，利息后税率 25%
	assert.InDelta(t, 500_000-first.Interest, first.NetIncome+first.Tax, 1e-6)
	assert.InDelta(t, 0.25*(500_000-first.Interest), first.Tax, 1e-6)
	assert.InDelta(t, 2_000_000+first.NetIncome-first.Principal, first.Equity, 1e-6)
}

func TestPortfolioAggregation(t *testing.T) {
	entities := []Entity{farmEntity("E1"), farmEntity("E2"), farmEntity("E3")}
	entities[1].Snapshot.OperatingCosts = 900_000
	entities[2].Exposure = SectorExposure{"AGRI": 1}

	agg, err := NewPortfolioAggregator(testParams(t, 3000, 0))
	require.NoError(t, err)
	res, err := agg.Run(context.Background(), entities)
	require.NoError(t, err)

	require.Len(t, res.Entities, 3)
	var sumPD float64
	for _, e := range res.Entities {
		sumPD += e.ProbabilityOfDefault
		assert.Len(t, e.SamplePaths, 3)
	}
	assert.InDelta(t, sumPD, res.ExpectedDefaults, 1e-9)
	// 联合违约路径至少有两个主体违约
	assert.LessOrEqual(t, 2*res.JointDefaultRate, sumPD+1e-12)

	var paths int
	for _, n := range res.DefaultCountDistribution {
		paths += n
	}
	assert.Equal(t, 3000, paths)
	assert.Len(t, res.DefaultCountDistribution, 4)

	assert.LessOrEqual(t, res.VaR95, res.VaR99)
	assert.GreaterOrEqual(t, res.ES95, res.VaR95)
	assert.GreaterOrEqual(t, res.ES99, res.VaR99)
	assert.GreaterOrEqual(t, res.PortfolioDefaultRate, 0.0)
	assert.LessOrEqual(t, res.PortfolioDefaultRate, 1.0)
	assert.InDelta(t, res.Entities[0].PeakDebt*3, res.TotalExposure, 1e-6)
}

func TestDegradedInputsAreRecorded(t *testing.T) {
	e := farmEntity("E1")
	e.Exposure = SectorExposure{"AGRI": 0.5, "MINING": 0.5}
	e.Loans[0].Collateral = append(e.Loans[0].Collateral, CollateralPledge{ID: "C2", Type: CollateralOffice, AppraisalValue: 50_000})

	agg, err := NewPortfolioAggregator(testParams(t, 10, 1))
	require.NoError(t, err)
	res, err := agg.RunEntity(context.Background(), e)
	require.NoError(t, err)

	kinds := map[DegradedKind]string{}
	for _, d := range res.DegradedInputs {
		kinds[d.Kind] = d.Subject
	}
	assert.Equal(t, "MINING", kinds[DegradedSectorVolatility])
	assert.Equal(t, string(CollateralOffice), kinds[DegradedCollateralParams])
	assert.Equal(t, string(CollateralOffice), kinds[DegradedCorrelation])
	assert.Equal(t, "E1/E1-L1/C2", kinds[DegradedAppraisalValue])

	noBreakdown := farmEntity("E2")
	noBreakdown.Exposure = nil
	noBreakdown.AggregateVolatility = 0.2
	res, err = agg.RunEntity(context.Background(), noBreakdown)
	require.NoError(t, err)
	require.Len(t, res.DegradedInputs, 1)
	assert.Equal(t, DegradedNoSectorBreakdown, res.DegradedInputs[0].Kind)
}

func TestNoSectorBreakdownFallsBackToDefaultVolatility(t *testing.T) {
	e := farmEntity("E1")
	e.Exposure = nil

	agg, err := NewPortfolioAggregator(testParams(t, 20, 1))
	require.NoError(t, err)
	res, err := agg.RunEntity(context.Background(), e)
	require.NoError(t, err)

	require.Len(t, res.DegradedInputs, 1)
	assert.Equal(t, DegradedNoSectorBreakdown, res.DegradedInputs[0].Kind)
	assert.Contains(t, res.DegradedInputs[0].Detail, "0.2000")

	var shocked int
	for _, p := range res.SamplePaths {
		for _, y := range p.Years {
			if y.RevenueShock != 0 {
				shocked++
			}
		}
	}
	assert.Positive(t, shocked)
}

func TestPortfolioEntitiesShareSystemicShocks(t *testing.T) {
	ctx := context.Background()
	twin := func(id string) Entity {
		e := farmEntity(id)
		e.Exposure = SectorExposure{"AGRI": 1}
		e.ResidualVolatility = ptr(0.0)
		return e
	}

	agg, err := NewPortfolioAggregator(testParams(t, 4000, 4))
	require.NoError(t, err)
	single, err := agg.RunEntity(ctx, twin("A"))
	require.NoError(t, err)
	pair, err := agg.Run(ctx, []Entity{twin("A"), twin("B")})
	require.NoError(t, err)

	// 追加主体不改变已有主体的随机流
	assert.Equal(t, *single, pair.Entities[0])

	pdA := pair.Entities[0].ProbabilityOfDefault
	pdB := pair.Entities[1].ProbabilityOfDefault
	require.Greater(t, pdA, 0.02)
	require.Less(t, pdA, 0.98)
	require.Greater(t, pdB, 0.02)
	assert.LessOrEqual(t, pair.JointDefaultRate, min(pdA, pdB))
	assert.Greater(t, pair.JointDefaultRate, 1.25*pdA*pdB)
}

func TestSimulationRejectsInvalidInput(t *testing.T) {
	params := testParams(t, 0, 1)
	_, err := NewPortfolioAggregator(params)
	assert.ErrorIs(t, err, ErrInvalidSimulationInput)

	agg, err := NewPortfolioAggregator(testParams(t, 10, 1))
	require.NoError(t, err)
	_, err = agg.Run(context.Background(), []Entity{farmEntity("E1"), farmEntity("E1")})
	assert.ErrorIs(t, err, ErrInvalidSimulationInput)

	_, err = agg.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidSimulationInput)

	bad := farmEntity("E1")
	bad.Exposure = SectorExposure{"AGRI": 0.5}
	_, err = agg.RunEntity(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidSimulationInput)

	bad = farmEntity("E1")
	bad.Loans[0].Terms.TenorMonths = 0
	_, err = agg.RunEntity(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidLoanTerms)
}

func TestSimulationHonoursCancellation(t *testing.T) {
	agg, err := NewPortfolioAggregator(testParams(t, 5000, 2))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = agg.RunEntity(ctx, farmEntity("E1"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParallelMapPreservesOrder(t *testing.T) {
	for _, workers := range []int{1, 2, 7} {
		out, err := ParallelMap(context.Background(), 101, 10, workers, func(i int) int { return i * i })
		require.NoError(t, err)
		require.Len(t, out, 101)
		for i, v := range out {
			assert.Equal(t, i*i, v)
		}
	}
	out, err := ParallelMap(context.Background(), 0, 10, 2, func(i int) int { return i })
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSolvencyEvaluatorPriority(t *testing.T) {
	s := NewSolvencyEvaluator(SolvencyParams{CollateralShortfallThreshold: 0.1})

	ok, reason := s.Evaluate(SolvencySnapshot{Equity: -1, OutstandingDebt: 100, HasCollateral: true, DebtService: 10})
	assert.True(t, ok)
	assert.Equal(t, ReasonNegativeEquity, reason)

	ok, reason = s.Evaluate(SolvencySnapshot{Equity: 1, OutstandingDebt: 111, EffectiveCollateral: 100, HasCollateral: true, DebtService: 10})
	assert.True(t, ok)
	assert.Equal(t, ReasonCollateralShortfall, reason)

	ok, _ = s.Evaluate(SolvencySnapshot{Equity: 1, OutstandingDebt: 109, EffectiveCollateral: 100, HasCollateral: true, CashAvailable: 10, DebtService: 10})
	assert.False(t, ok)

	ok, reason = s.Evaluate(SolvencySnapshot{Equity: 1, OutstandingDebt: 1000, CashAvailable: 5, DebtService: 10})
	assert.True(t, ok)
	assert.Equal(t, ReasonLiquidityShortfall, reason)

	ok, reason = s.Evaluate(SolvencySnapshot{Equity: 0})
	assert.False(t, ok)
	assert.Equal(t, ReasonNone, reason)
}

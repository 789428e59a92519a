package domain

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// YearState 路径上单个模拟年度的投影结果
type YearState struct {
	Year                int           `json:"year"`
	FactorShocks        []float64     `json:"factor_shocks"`
	RevenueShock        float64       `json:"revenue_shock"`
	Revenue             float64       `json:"revenue"`
	OperatingCosts      float64       `json:"operating_costs"`
	EBITDA              float64       `json:"ebitda"`
	Interest            float64       `json:"interest"`
	Principal           float64       `json:"principal"`
	Drawdown            float64       `json:"drawdown"`
	Tax                 float64       `json:"tax"`
	NetIncome           float64       `json:"net_income"`
	Equity              float64       `json:"equity"`
	TotalAssets         float64       `json:"total_assets"`
	LiquidAssets        float64       `json:"liquid_assets"`
	OutstandingDebt     float64       `json:"outstanding_debt"`
	CollateralValue     float64       `json:"collateral_value"`
	EffectiveCollateral float64       `json:"effective_collateral"`
	Defaulted           bool          `json:"defaulted"`
	Reason              DefaultReason `json:"reason,omitempty"`
}

// SimulationPath 一次蒙特卡洛抽样的逐年明细
type SimulationPath struct {
	Path    int         `json:"path"`
	Years   []YearState `json:"years"`
	Outcome PathOutcome `json:"outcome"`
}

// PathOutcome 单条路径的汇总结果，聚合只依赖它
type PathOutcome struct {
	Defaulted    bool          `json:"defaulted"`
	DefaultYear  int           `json:"default_year,omitempty"` // 从 1 开始，未违约为 0
	Reason       DefaultReason `json:"reason,omitempty"`
	EndingEquity float64       `json:"ending_equity"`
	// Exposure 违约当年的未偿余额（违约风险暴露）
	Exposure float64 `json:"exposure"`
	Loss     float64 `json:"loss"`
}

type resolvedCollateral struct {
	value   float64
	haircut float64
	prior   float64
	factor  int // 因子索引，-1 表示无相关数据，使用特质冲击
	market  CollateralMarket
}

// effective 折扣与优先受偿后的有效抵押价值
func (c resolvedCollateral) effective(value float64) float64 {
	return math.Max(0, value*(1-c.haircut)-c.prior)
}

// PreparedEntity 路径循环前完全解析的主体输入，循环内只读
type PreparedEntity struct {
	ID          string
	Index       int
	OpeningDebt float64
	// PeakDebt 投影期内计划未偿余额的最大值，作为组合损失率的权重
	PeakDebt float64
	Degraded []DegradedInput

	snapshot   FinancialSnapshot
	revenue    RevenueShockModel
	debt       []YearDebtService
	collateral []resolvedCollateral
}

// PrepareEntity 校验主体并解析行业波动率、抵押参数与逐年偿债计划。缺失的市场数据回退默认值并记录降级
func PrepareEntity(e *Entity, index int, p *ModelParameters) (*PreparedEntity, error) {
	fs := p.Correlation.Matrix.Factors()
	if err := e.Validate(fs); err != nil {
		return nil, err
	}
	pe := &PreparedEntity{ID: e.ID, Index: index, snapshot: e.Snapshot}

	aggregateVol := e.AggregateVolatility
	if len(e.Exposure) == 0 {
		detail := fmt.Sprintf("aggregate volatility %.4f used", aggregateVol)
		if aggregateVol == 0 {
			aggregateVol = p.DefaultSectorVolatility
			detail = fmt.Sprintf("default sector volatility %.4f used", aggregateVol)
		}
		pe.degrade(DegradedNoSectorBreakdown, e.ID, detail)
	}
	sectorVol := func(code SectorCode) float64 {
		v, ok := p.sectorVolatility(code)
		if !ok {
			pe.degrade(DegradedSectorVolatility, string(code), fmt.Sprintf("default volatility %.4f used", v))
		}
		return v
	}
	pe.revenue = NewRevenueShockModel(e.Exposure, sectorVol, p.Correlation.Matrix, aggregateVol, e.ResidualVolatility)

	years := p.Projection.Years
	pe.debt = make([]YearDebtService, years)
	for _, l := range e.Loans {
		entries, err := GenerateSchedule(l.Terms)
		if err != nil {
			return nil, fmt.Errorf("entity %s loan %s: %w", e.ID, l.ID, err)
		}
		basis := l.Terms.Basis()
		pe.OpeningDebt += balanceAfter(entries, basis, l.StartMonth, 0)
		for y, ys := range AggregateByYear(entries, basis, l.StartMonth, years) {
			d := &pe.debt[y]
			d.Interest += ys.Interest
			d.Principal += ys.Principal
			d.Drawdown += ys.Drawdown
			d.OpeningBalance += ys.OpeningBalance
			d.ClosingBalance += ys.ClosingBalance
		}
		for _, c := range l.Collateral {
			pe.collateral = append(pe.collateral, pe.resolveCollateral(l.ID, c, p))
		}
	}

	pe.PeakDebt = pe.OpeningDebt
	for _, d := range pe.debt {
		pe.PeakDebt = math.Max(pe.PeakDebt, math.Max(d.OpeningBalance+d.Drawdown, d.ClosingBalance))
	}
	return pe, nil
}

func (pe *PreparedEntity) resolveCollateral(loanID string, c CollateralPledge, p *ModelParameters) resolvedCollateral {
	subject := pe.ID + "/" + loanID + "/" + c.ID
	rc := resolvedCollateral{value: c.AppraisalValue, prior: c.PriorRanking, factor: -1}
	if c.IndexedValue != nil && isFinite(*c.IndexedValue) && *c.IndexedValue >= 0 {
		rc.value = *c.IndexedValue
	} else {
		pe.degrade(DegradedAppraisalValue, subject, "no indexed value, appraisal value used")
	}

	market, ok := p.collateralMarket(c.Type)
	if !ok {
		pe.degrade(DegradedCollateralParams, string(c.Type), "portfolio default return/volatility used")
	}
	rc.market = market
	rc.haircut = market.Haircut
	if c.Haircut != nil {
		rc.haircut = *c.Haircut
	}

	if idx, ok := p.Correlation.Matrix.Factors().CollateralIndex(c.Type); ok {
		rc.factor = idx
	} else {
		pe.degrade(DegradedCorrelation, string(c.Type), "collateral class not in correlation matrix, independent shock used")
	}
	return rc
}

// degrade 记录降级输入，同一 (类型, 对象) 只记录一次
func (pe *PreparedEntity) degrade(kind DegradedKind, subject, detail string) {
	for _, d := range pe.Degraded {
		if d.Kind == kind && d.Subject == subject {
			return
		}
	}
	pe.Degraded = append(pe.Degraded, DegradedInput{Kind: kind, Subject: subject, Detail: detail})
}

// HasCollateral 是否有抵押物
func (pe *PreparedEntity) HasCollateral() bool { return len(pe.collateral) > 0 }

// EntityProjector 主体财务投影器：按年推进资产负债表与损益，并交给偿付能力判定
type EntityProjector struct {
	params   ProjectionParams
	solvency SolvencyEvaluator
}

// NewEntityProjector 创建投影器
func NewEntityProjector(params ProjectionParams, solvency SolvencyEvaluator) EntityProjector {
	return EntityProjector{params: params, solvency: solvency}
}

// Project 在一条路径上投影主体。r 为该主体在该路径上的独立随机流；detail 为 true 时返回逐年明细
func (p EntityProjector) Project(pe *PreparedEntity, shocks PathShocks, r *rand.Rand, detail bool) (PathOutcome, *SimulationPath) {
	var (
		revenue = pe.snapshot.Revenue
		costs   = pe.snapshot.OperatingCosts
		equity  = pe.snapshot.Equity
		assets  = pe.snapshot.TotalAssets
		liquid  = pe.snapshot.LiquidAssets
		debt    = pe.OpeningDebt
		out     PathOutcome
		path    *SimulationPath
	)
	values := make([]float64, len(pe.collateral))
	for i, c := range pe.collateral {
		values[i] = c.value
	}
	if detail {
		path = &SimulationPath{Path: shocks.Path, Years: make([]YearState, 0, p.params.Years)}
	}

	rho := p.params.RevenueCostCorrelation
	for y := range p.params.Years {
		factors := shocks.Factors[y]

		// 1. 营收与成本
		revShock := pe.revenue.Shock(factors, drawNormal(r))
		costZ := drawNormal(r)
		if tv := pe.revenue.TotalVolatility(); tv > 0 {
			costZ = rho*(revShock/tv) + math.Sqrt(1-rho*rho)*costZ
		}
		revenue = math.Max(0, revenue*(1+p.params.RevenueGrowth+revShock))
		costs = math.Max(0, costs*(1+p.params.CostGrowth+p.params.CostVolatility*costZ))
		ebitda := revenue - costs

		// 2. 偿债，违约后不再偿付
		var ds YearDebtService
		if !out.Defaulted {
			ds = pe.debt[y]
		}

		// 3. 税与净利润
		preTax := ebitda - ds.Interest
		tax := math.Max(0, preTax) * p.params.TaxRate
		net := preTax - tax

		// 4. 权益与流动性
		cashAvailable := liquid + ebitda - tax + ds.Drawdown
		equity += net - ds.Principal
		newLiquid := cashAvailable - ds.Interest - ds.Principal
		assets += newLiquid - liquid
		liquid = newLiquid
		if !out.Defaulted {
			debt = ds.ClosingBalance
		}

		// 5. 抵押物
		var collValue, effColl float64
		for i, c := range pe.collateral {
			z := drawNormal(r)
			if c.factor >= 0 {
				z = factors[c.factor]
			}
			values[i] = CollateralStep(values[i], c.market.ExpectedReturn, c.market.Volatility, z)
			collValue += values[i]
			effColl += c.effective(values[i])
		}

		// 6. 偿付能力
		var reason DefaultReason
		if !out.Defaulted {
			var defaulted bool
			defaulted, reason = p.solvency.Evaluate(SolvencySnapshot{
				Equity:              equity,
				OutstandingDebt:     debt,
				EffectiveCollateral: effColl,
				HasCollateral:       len(pe.collateral) > 0,
				CashAvailable:       cashAvailable,
				DebtService:         ds.DebtService(),
			})
			if defaulted {
				out.Defaulted = true
				out.DefaultYear = y + 1
				out.Reason = reason
				out.Exposure = debt
				out.Loss = math.Max(0, debt-effColl)
			}
		}

		if path != nil {
			path.Years = append(path.Years, YearState{
				Year:                y + 1,
				FactorShocks:        factors,
				RevenueShock:        revShock,
				Revenue:             revenue,
				OperatingCosts:      costs,
				EBITDA:              ebitda,
				Interest:            ds.Interest,
				Principal:           ds.Principal,
				Drawdown:            ds.Drawdown,
				Tax:                 tax,
				NetIncome:           net,
				Equity:              equity,
				TotalAssets:         assets,
				LiquidAssets:        liquid,
				OutstandingDebt:     debt,
				CollateralValue:     collValue,
				EffectiveCollateral: effColl,
				Defaulted:           out.Defaulted,
				Reason:              reason,
			})
		}
	}
	out.EndingEquity = equity
	if path != nil {
		path.Outcome = out
	}
	return out, path
}

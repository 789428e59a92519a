package domain

import (
	"context"
	"fmt"
)

// SimulationResult 单个主体在全部路径上的汇总结果
type SimulationResult struct {
	EntityID             string                `json:"entity_id"`
	PathCount            int                   `json:"path_count"`
	Years                int                   `json:"years"`
	ProbabilityOfDefault float64               `json:"probability_of_default"`
	StandardError        float64               `json:"standard_error"`
	CumulativePD         []float64             `json:"cumulative_pd"` // 第 y 年末累计违约概率
	DefaultReasons       map[DefaultReason]int `json:"default_reasons"`
	EndingEquity         PercentileBands       `json:"ending_equity"`
	MeanEndingEquity     float64               `json:"mean_ending_equity"`
	StdEndingEquity      float64               `json:"std_ending_equity"`
	Loss                 PercentileBands       `json:"loss"`
	ExpectedLoss         float64               `json:"expected_loss"`
	OpeningDebt          float64               `json:"opening_debt"`
	PeakDebt             float64               `json:"peak_debt"`
	CorrelationRepaired  bool                  `json:"correlation_repaired"`
	DegradedInputs       []DegradedInput       `json:"degraded_inputs,omitempty"`
	SamplePaths          []SimulationPath      `json:"sample_paths,omitempty"`
	Duration             *DurationReport       `json:"duration,omitempty"`
}

// PortfolioSimulationResult 共享系统性因子的组合模拟结果
type PortfolioSimulationResult struct {
	PathCount int                `json:"path_count"`
	Years     int                `json:"years"`
	Entities  []SimulationResult `json:"entities"`
	// PortfolioDefaultRate 债务加权损失率超过阈值的路径占比
	PortfolioDefaultRate float64 `json:"portfolio_default_rate"`
	// JointDefaultRate 至少两个主体同时违约的路径占比
	JointDefaultRate         float64         `json:"joint_default_rate"`
	ExpectedDefaults         float64         `json:"expected_defaults"`
	TotalExposure            float64         `json:"total_exposure"`
	Loss                     PercentileBands `json:"loss"`
	LossRatio                PercentileBands `json:"loss_ratio"`
	ExpectedLoss             float64         `json:"expected_loss"`
	VaR95                    float64         `json:"var_95"`
	VaR99                    float64         `json:"var_99"`
	ES95                     float64         `json:"es_95"`
	ES99                     float64         `json:"es_99"`
	DefaultCountDistribution []int           `json:"default_count_distribution"`
	CorrelationRepaired      bool            `json:"correlation_repaired"`
	DegradedInputs           []DegradedInput `json:"degraded_inputs,omitempty"`
}

// pathResult 单条路径上所有主体的结果
type pathResult struct {
	outcomes []PathOutcome
	details  []*SimulationPath
}

// PortfolioAggregator 组合模拟：每条路径上所有主体共享同一系统性因子实现，特质冲击各自独立
type PortfolioAggregator struct {
	params    ModelParameters
	generator *ScenarioGenerator
	projector EntityProjector
}

// NewPortfolioAggregator 校验参数并创建聚合器
func NewPortfolioAggregator(params ModelParameters) (*PortfolioAggregator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &PortfolioAggregator{
		params:    params,
		generator: NewScenarioGenerator(params.Correlation, params.Simulation.Seed, params.Projection.Years),
		projector: NewEntityProjector(params.Projection, NewSolvencyEvaluator(params.Solvency)),
	}, nil
}

// Run 运行组合模拟。所有输入在路径循环前解析完毕，循环内无 I/O
func (a *PortfolioAggregator) Run(ctx context.Context, entities []Entity) (*PortfolioSimulationResult, error) {
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: at least one entity is required", ErrInvalidSimulationInput)
	}
	seen := make(map[string]struct{}, len(entities))
	prepared := make([]*PreparedEntity, len(entities))
	for i := range entities {
		if _, dup := seen[entities[i].ID]; dup {
			return nil, fmt.Errorf("%w: duplicate entity id %q", ErrInvalidSimulationInput, entities[i].ID)
		}
		seen[entities[i].ID] = struct{}{}
		pe, err := PrepareEntity(&entities[i], i, &a.params)
		if err != nil {
			return nil, err
		}
		prepared[i] = pe
	}

	sim := a.params.Simulation
	results, err := ParallelMap(ctx, sim.Paths, sim.BatchSize, sim.Workers, func(path int) pathResult {
		return a.runPath(prepared, path, path < sim.SamplePaths)
	})
	if err != nil {
		return nil, err
	}
	return a.aggregate(prepared, results), nil
}

// RunEntity 单主体模拟，即只含一个主体的组合模拟
func (a *PortfolioAggregator) RunEntity(ctx context.Context, entity Entity) (*SimulationResult, error) {
	res, err := a.Run(ctx, []Entity{entity})
	if err != nil {
		return nil, err
	}
	return &res.Entities[0], nil
}

func (a *PortfolioAggregator) runPath(prepared []*PreparedEntity, path int, detail bool) pathResult {
	shocks := a.generator.SystemicShocks(path)
	res := pathResult{outcomes: make([]PathOutcome, len(prepared))}
	if detail {
		res.details = make([]*SimulationPath, len(prepared))
	}
	for i, pe := range prepared {
		out, p := a.projector.Project(pe, shocks, a.generator.IdiosyncraticStream(pe.Index, path), detail)
		res.outcomes[i] = out
		if detail {
			res.details[i] = p
		}
	}
	return res
}

// aggregate 按路径顺序归约，结果与并发度无关
func (a *PortfolioAggregator) aggregate(prepared []*PreparedEntity, results []pathResult) *PortfolioSimulationResult {
	paths := len(results)
	years := a.params.Projection.Years
	repaired := a.params.Correlation.Repaired

	out := &PortfolioSimulationResult{
		PathCount:                paths,
		Years:                    years,
		Entities:                 make([]SimulationResult, len(prepared)),
		DefaultCountDistribution: make([]int, len(prepared)+1),
		CorrelationRepaired:      repaired,
	}
	for _, pe := range prepared {
		out.TotalExposure += pe.PeakDebt
		out.DegradedInputs = append(out.DegradedInputs, pe.Degraded...)
	}

	for i, pe := range prepared {
		out.Entities[i] = a.entityStats(pe, i, results)
	}

	losses := make([]float64, paths)
	ratios := make([]float64, paths)
	var portfolioDefaults, jointDefaults, totalDefaults int
	for p, r := range results {
		var loss float64
		var defaults int
		for _, o := range r.outcomes {
			loss += o.Loss
			if o.Defaulted {
				defaults++
			}
		}
		losses[p] = loss
		if out.TotalExposure > 0 {
			ratios[p] = loss / out.TotalExposure
		}
		if ratios[p] > a.params.PortfolioLossThreshold {
			portfolioDefaults++
		}
		if defaults >= 2 {
			jointDefaults++
		}
		totalDefaults += defaults
		out.DefaultCountDistribution[defaults]++
	}

	out.PortfolioDefaultRate = float64(portfolioDefaults) / float64(paths)
	out.JointDefaultRate = float64(jointDefaults) / float64(paths)
	out.ExpectedDefaults = float64(totalDefaults) / float64(paths)
	out.Loss = NewPercentileBands(losses)
	out.LossRatio = NewPercentileBands(ratios)
	out.ExpectedLoss, _ = meanStd(losses)
	out.VaR95, out.ES95 = TailRisk(losses, 0.95)
	out.VaR99, out.ES99 = TailRisk(losses, 0.99)
	return out
}

func (a *PortfolioAggregator) entityStats(pe *PreparedEntity, i int, results []pathResult) SimulationResult {
	paths := len(results)
	years := a.params.Projection.Years
	res := SimulationResult{
		EntityID:            pe.ID,
		PathCount:           paths,
		Years:               years,
		CumulativePD:        make([]float64, years),
		DefaultReasons:      make(map[DefaultReason]int, len(DefaultReasons)),
		OpeningDebt:         pe.OpeningDebt,
		PeakDebt:            pe.PeakDebt,
		CorrelationRepaired: a.params.Correlation.Repaired,
		DegradedInputs:      pe.Degraded,
	}
	for _, reason := range DefaultReasons {
		res.DefaultReasons[reason] = 0
	}

	equity := make([]float64, paths)
	losses := make([]float64, paths)
	defaultsByYear := make([]int, years)
	var defaults int
	for p, r := range results {
		o := r.outcomes[i]
		equity[p] = o.EndingEquity
		losses[p] = o.Loss
		if o.Defaulted {
			defaults++
			defaultsByYear[o.DefaultYear-1]++
			res.DefaultReasons[o.Reason]++
		}
		if r.details != nil {
			res.SamplePaths = append(res.SamplePaths, *r.details[i])
		}
	}

	var cumulative int
	for y, n := range defaultsByYear {
		cumulative += n
		res.CumulativePD[y] = float64(cumulative) / float64(paths)
	}
	res.ProbabilityOfDefault = float64(defaults) / float64(paths)
	res.StandardError = bernoulliStdErr(res.ProbabilityOfDefault, paths)
	res.EndingEquity = NewPercentileBands(equity)
	res.MeanEndingEquity, res.StdEndingEquity = meanStd(equity)
	res.Loss = NewPercentileBands(losses)
	res.ExpectedLoss, _ = meanStd(losses)
	return res
}

// DurationPositions 主体已放款贷款的久期分析输入，尚未放款的贷款不参与
func (e *Entity) DurationPositions() []DurationPosition {
	out := make([]DurationPosition, 0, len(e.Loans))
	for _, l := range e.Loans {
		if l.StartMonth > 0 {
			continue
		}
		out = append(out, DurationPosition{ID: l.ID, Terms: l.Terms, ElapsedMonths: -l.StartMonth})
	}
	return out
}

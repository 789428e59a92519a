package domain

import (
	"fmt"
	"runtime"
)

// ProjectionParams 财务投影参数
type ProjectionParams struct {
	Years                  int     // 投影年数
	RevenueGrowth          float64 // 营收年增长率
	CostGrowth             float64 // 经营成本年增长率
	CostVolatility         float64 // 成本冲击波动率
	RevenueCostCorrelation float64 // 营收与成本冲击的相关系数
	TaxRate                float64 // 企业所得税率
}

// SolvencyParams 违约判定阈值
type SolvencyParams struct {
	// CollateralShortfallThreshold 未偿余额超过有效抵押价值的比例阈值（0.1 表示超出 10% 判违约）
	CollateralShortfallThreshold float64
}

// CollateralMarket 某类抵押物的市场参数
type CollateralMarket struct {
	ExpectedReturn float64
	Volatility     float64
	Haircut        float64
}

// SimulationParams 蒙特卡洛执行参数
type SimulationParams struct {
	Paths       int
	Seed        uint64
	Workers     int
	SamplePaths int // 保留完整逐年明细的路径数
	BatchSize   int // 每个任务处理的路径数，任务之间检查取消
}

// ModelParameters 一次模拟的全部不可变参数，在进入路径循环前完全解析
type ModelParameters struct {
	Projection  ProjectionParams
	Solvency    SolvencyParams
	Simulation  SimulationParams
	Correlation *Factorization

	SectorVolatility        map[SectorCode]float64
	DefaultSectorVolatility float64
	CollateralMarkets       map[CollateralType]CollateralMarket
	DefaultCollateralMarket CollateralMarket

	// PortfolioLossThreshold 组合违约判定：债务加权损失率超过该值
	PortfolioLossThreshold float64
}

// Validate 校验参数，并补全执行参数的默认值
func (p *ModelParameters) Validate() error {
	if p.Correlation == nil {
		return fmt.Errorf("%w: correlation factorization is required", ErrInvalidCorrelation)
	}
	if p.Projection.Years <= 0 {
		return fmt.Errorf("%w: years must be positive, got %d", ErrInvalidSimulationInput, p.Projection.Years)
	}
	if p.Simulation.Paths <= 0 {
		return fmt.Errorf("%w: paths must be positive, got %d", ErrInvalidSimulationInput, p.Simulation.Paths)
	}
	if p.Projection.TaxRate < 0 || p.Projection.TaxRate >= 1 {
		return fmt.Errorf("%w: tax rate must be in [0,1), got %v", ErrInvalidSimulationInput, p.Projection.TaxRate)
	}
	if p.Projection.RevenueCostCorrelation < -1 || p.Projection.RevenueCostCorrelation > 1 {
		return fmt.Errorf("%w: revenue/cost correlation must be in [-1,1]", ErrInvalidSimulationInput)
	}
	if p.Projection.CostVolatility < 0 || p.DefaultSectorVolatility < 0 || p.DefaultCollateralMarket.Volatility < 0 {
		return fmt.Errorf("%w: volatilities must be non-negative", ErrInvalidSimulationInput)
	}
	if p.DefaultCollateralMarket.Haircut < 0 || p.DefaultCollateralMarket.Haircut >= 1 {
		return fmt.Errorf("%w: default haircut must be in [0,1)", ErrInvalidSimulationInput)
	}
	if p.Simulation.Workers <= 0 {
		p.Simulation.Workers = runtime.GOMAXPROCS(0)
	}
	if p.Simulation.BatchSize <= 0 {
		p.Simulation.BatchSize = 64
	}
	if p.Simulation.SamplePaths < 0 {
		p.Simulation.SamplePaths = 0
	}
	return nil
}

// sectorVolatility 行业波动率，缺失时回退默认值
func (p *ModelParameters) sectorVolatility(code SectorCode) (float64, bool) {
	if v, ok := p.SectorVolatility[code]; ok {
		return v, true
	}
	return p.DefaultSectorVolatility, false
}

// collateralMarket 抵押物市场参数，缺失时回退组合默认值
func (p *ModelParameters) collateralMarket(t CollateralType) (CollateralMarket, bool) {
	if m, ok := p.CollateralMarkets[t]; ok {
		return m, true
	}
	return p.DefaultCollateralMarket, false
}

package domain

import (
	"fmt"
)

// FinancialSnapshot 最近一个账务年度的期初财务数据
type FinancialSnapshot struct {
	Revenue        float64 `json:"revenue"`
	OperatingCosts float64 `json:"operating_costs"`
	Equity         float64 `json:"equity"`
	TotalAssets    float64 `json:"total_assets"`
	LiquidAssets   float64 `json:"liquid_assets"`
}

// CollateralPledge 贷款的抵押物
type CollateralPledge struct {
	ID             string         `json:"id"`
	Type           CollateralType `json:"type"`
	AppraisalValue float64        `json:"appraisal_value"`
	// IndexedValue 按指数重估的当前价值，缺失时使用评估值
	IndexedValue *float64 `json:"indexed_value,omitempty"`
	// Haircut 流动性折扣，缺失时取该类别的市场默认值
	Haircut *float64 `json:"haircut,omitempty"`
	// PriorRanking 优先受偿金额（次级抵押时）
	PriorRanking float64 `json:"prior_ranking"`
}

// LoanPosition 主体的一笔贷款
type LoanPosition struct {
	ID    string    `json:"id"`
	Terms LoanTerms `json:"terms"`
	// StartMonth 贷款第 1 期对应模拟第 StartMonth+1 个月。
	// <= 0 表示投影开始前已放款（已计入期初快照），> 0 表示在模拟期内放款
	StartMonth int                `json:"start_month"`
	Collateral []CollateralPledge `json:"collateral"`
}

// Entity 被模拟的借款主体
type Entity struct {
	ID       string            `json:"id"`
	Snapshot FinancialSnapshot `json:"snapshot"`
	Exposure SectorExposure    `json:"exposure"`
	// AggregateVolatility 无行业拆分时的营收总体波动率
	AggregateVolatility float64 `json:"aggregate_volatility"`
	// ResidualVolatility 主体指定的特质残差波动率，为空时按行业波动率推导
	ResidualVolatility *float64       `json:"residual_volatility,omitempty"`
	Loans              []LoanPosition `json:"loans"`
}

// Validate 校验主体输入
func (e *Entity) Validate(fs *FactorSet) error {
	if e.ID == "" {
		return fmt.Errorf("%w: entity id is required", ErrInvalidSimulationInput)
	}
	s := e.Snapshot
	for name, v := range map[string]float64{
		"revenue": s.Revenue, "operating_costs": s.OperatingCosts, "equity": s.Equity,
		"total_assets": s.TotalAssets, "liquid_assets": s.LiquidAssets,
	} {
		if !isFinite(v) {
			return fmt.Errorf("%w: entity %s snapshot %s is not finite", ErrInvalidSimulationInput, e.ID, name)
		}
	}
	if s.Revenue < 0 || s.OperatingCosts < 0 {
		return fmt.Errorf("%w: entity %s revenue and costs must be non-negative", ErrInvalidSimulationInput, e.ID)
	}
	if e.AggregateVolatility < 0 || (e.ResidualVolatility != nil && *e.ResidualVolatility < 0) {
		return fmt.Errorf("%w: entity %s volatilities must be non-negative", ErrInvalidSimulationInput, e.ID)
	}
	if err := e.Exposure.Validate(fs); err != nil {
		return fmt.Errorf("entity %s: %w", e.ID, err)
	}
	for _, l := range e.Loans {
		if err := l.Terms.Validate(); err != nil {
			return fmt.Errorf("entity %s loan %s: %w", e.ID, l.ID, err)
		}
		for _, c := range l.Collateral {
			if _, err := ParseCollateralType(string(c.Type)); err != nil {
				return fmt.Errorf("entity %s loan %s: %w", e.ID, l.ID, err)
			}
			if !isFinite(c.AppraisalValue) || c.AppraisalValue < 0 || c.PriorRanking < 0 {
				return fmt.Errorf("%w: entity %s collateral %s has invalid values", ErrInvalidSimulationInput, e.ID, c.ID)
			}
			if c.Haircut != nil && (*c.Haircut < 0 || *c.Haircut >= 1) {
				return fmt.Errorf("%w: entity %s collateral %s haircut must be in [0,1)", ErrInvalidSimulationInput, e.ID, c.ID)
			}
		}
	}
	return nil
}

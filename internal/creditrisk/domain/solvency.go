package domain

// DefaultReason 违约触发原因
type DefaultReason string

const (
	ReasonNone                DefaultReason = ""
	ReasonNegativeEquity      DefaultReason = "NEGATIVE_EQUITY"
	ReasonCollateralShortfall DefaultReason = "COLLATERAL_SHORTFALL"
	ReasonLiquidityShortfall  DefaultReason = "LIQUIDITY_SHORTFALL"
)

// DefaultReasons 所有违约原因，按判定优先级排列
var DefaultReasons = []DefaultReason{ReasonNegativeEquity, ReasonCollateralShortfall, ReasonLiquidityShortfall}

// SolvencySnapshot 偿付能力判定所需的年度快照
type SolvencySnapshot struct {
	Equity              float64
	OutstandingDebt     float64
	EffectiveCollateral float64
	HasCollateral       bool
	// CashAvailable 偿债前可用现金（期初流动资产 + EBITDA − 税 + 当年放款）
	CashAvailable float64
	DebtService   float64
}

// SolvencyEvaluator 违约判定器，确定性、无状态
type SolvencyEvaluator struct {
	params SolvencyParams
}

// NewSolvencyEvaluator 创建判定器
func NewSolvencyEvaluator(p SolvencyParams) SolvencyEvaluator {
	return SolvencyEvaluator{params: p}
}

// Evaluate 判定一个路径年度是否违约，返回是否违约及触发原因
func (s SolvencyEvaluator) Evaluate(snap SolvencySnapshot) (bool, DefaultReason) {
	if snap.Equity < 0 {
		return true, ReasonNegativeEquity
	}
	if snap.HasCollateral && snap.OutstandingDebt > snap.EffectiveCollateral*(1+s.params.CollateralShortfallThreshold) {
		return true, ReasonCollateralShortfall
	}
	if snap.DebtService > 0 && snap.CashAvailable < snap.DebtService {
		return true, ReasonLiquidityShortfall
	}
	return false, ReasonNone
}

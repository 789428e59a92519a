// Package domain 信用风险引擎的领域模型：摊还计划、相关性情景、财务投影、偿付能力与久期分析
package domain

import "errors"

var (
	// ErrInvalidLoanTerms 贷款条款非法（期限、利率、只付息期、提款额等）
	ErrInvalidLoanTerms = errors.New("invalid loan terms")
	// ErrInvalidCorrelation 相关系数矩阵非法或无法修复
	ErrInvalidCorrelation = errors.New("invalid correlation input")
	// ErrMissingMarketData 仓储中没有任何请求因子的数据，调用方应回退到默认参数
	ErrMissingMarketData = errors.New("missing market data")
	// ErrInvalidSimulationInput 模拟参数非法（路径数、年数、主体快照等）
	ErrInvalidSimulationInput = errors.New("invalid simulation input")
	// ErrNonFiniteResult 计算结果溢出或出现 NaN，不以数值形式返回
	ErrNonFiniteResult = errors.New("non-finite result")
)

// DegradedKind 降级输入类型
type DegradedKind string

const (
	DegradedSectorVolatility  DegradedKind = "SECTOR_VOLATILITY_DEFAULT"
	DegradedCollateralParams  DegradedKind = "COLLATERAL_PARAMS_DEFAULT"
	DegradedCorrelation       DegradedKind = "CORRELATION_DEFAULT"
	DegradedNoSectorBreakdown DegradedKind = "NO_SECTOR_BREAKDOWN"
	DegradedAppraisalValue    DegradedKind = "APPRAISAL_VALUE_USED"
)

// DegradedInput 记录一次缺失数据的本地恢复，结果中显式暴露而不是静默替换
type DegradedInput struct {
	Kind    DegradedKind `json:"kind"`
	Subject string       `json:"subject"`
	Detail  string       `json:"detail"`
}

package domain

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// SectorCode 经济行业代码（如 SBI/NACE 大类），由外部行业定义表提供
type SectorCode string

// Validate 行业代码只允许大写字母、数字、下划线和点
func (c SectorCode) Validate() error {
	if c == "" || len(c) > 32 {
		return fmt.Errorf("%w: invalid sector code %q", ErrInvalidSimulationInput, string(c))
	}
	for _, r := range string(c) {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '.') {
			return fmt.Errorf("%w: invalid sector code %q", ErrInvalidSimulationInput, string(c))
		}
	}
	return nil
}

// CollateralType 抵押物类别
type CollateralType string

const (
	CollateralResidential  CollateralType = "RESIDENTIAL"
	CollateralOffice       CollateralType = "OFFICE"
	CollateralRetail       CollateralType = "RETAIL"
	CollateralIndustrial   CollateralType = "INDUSTRIAL"
	CollateralAgricultural CollateralType = "AGRICULTURAL"
	CollateralLand         CollateralType = "LAND"
)

// CollateralTypes 全部抵押物类别，顺序固定
var CollateralTypes = []CollateralType{
	CollateralResidential,
	CollateralOffice,
	CollateralRetail,
	CollateralIndustrial,
	CollateralAgricultural,
	CollateralLand,
}

// ParseCollateralType 解析抵押物类别
func ParseCollateralType(s string) (CollateralType, error) {
	t := CollateralType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case CollateralResidential, CollateralOffice, CollateralRetail,
		CollateralIndustrial, CollateralAgricultural, CollateralLand:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown collateral type %q", ErrInvalidSimulationInput, s)
	}
}

// FactorKind 风险因子类别
type FactorKind int

const (
	FactorSector FactorKind = iota
	FactorCollateral
)

// Factor 单个风险因子
type Factor struct {
	Kind FactorKind
	Code string
}

func (f Factor) String() string {
	if f.Kind == FactorSector {
		return "sector:" + f.Code
	}
	return "collateral:" + f.Code
}

// FactorSet 有序的因子集合：先行业后抵押物类别，索引即相关矩阵的行列号
type FactorSet struct {
	factors         []Factor
	sectorIndex     map[SectorCode]int
	collateralIndex map[CollateralType]int
}

// NewFactorSet 创建因子集合，拒绝重复或非法的代码
func NewFactorSet(sectors []SectorCode, collateral []CollateralType) (*FactorSet, error) {
	fs := &FactorSet{
		factors:         make([]Factor, 0, len(sectors)+len(collateral)),
		sectorIndex:     make(map[SectorCode]int, len(sectors)),
		collateralIndex: make(map[CollateralType]int, len(collateral)),
	}
	for _, s := range sectors {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := fs.sectorIndex[s]; dup {
			return nil, fmt.Errorf("%w: duplicate sector %q", ErrInvalidCorrelation, string(s))
		}
		fs.sectorIndex[s] = len(fs.factors)
		fs.factors = append(fs.factors, Factor{Kind: FactorSector, Code: string(s)})
	}
	for _, c := range collateral {
		if _, err := ParseCollateralType(string(c)); err != nil {
			return nil, err
		}
		if _, dup := fs.collateralIndex[c]; dup {
			return nil, fmt.Errorf("%w: duplicate collateral type %q", ErrInvalidCorrelation, string(c))
		}
		fs.collateralIndex[c] = len(fs.factors)
		fs.factors = append(fs.factors, Factor{Kind: FactorCollateral, Code: string(c)})
	}
	if len(fs.factors) == 0 {
		return nil, fmt.Errorf("%w: at least one risk factor is required", ErrInvalidCorrelation)
	}
	return fs, nil
}

// Len 因子数量
func (fs *FactorSet) Len() int { return len(fs.factors) }

// Factors 因子列表副本
func (fs *FactorSet) Factors() []Factor { return slices.Clone(fs.factors) }

// SectorIndex 行业因子索引
func (fs *FactorSet) SectorIndex(code SectorCode) (int, bool) {
	i, ok := fs.sectorIndex[code]
	return i, ok
}

// CollateralIndex 抵押物因子索引
func (fs *FactorSet) CollateralIndex(t CollateralType) (int, bool) {
	i, ok := fs.collateralIndex[t]
	return i, ok
}

// Sectors 行业代码，按因子顺序
func (fs *FactorSet) Sectors() []SectorCode {
	out := make([]SectorCode, 0, len(fs.sectorIndex))
	for _, f := range fs.factors {
		if f.Kind == FactorSector {
			out = append(out, SectorCode(f.Code))
		}
	}
	return out
}

// SectorExposure 营收的行业归属比例，权重之和为 1
type SectorExposure map[SectorCode]float64

const exposureTolerance = 1e-6

// Validate 校验权重非负、总和为 1，且行业均在因子集合中
func (e SectorExposure) Validate(fs *FactorSet) error {
	var sum float64
	for code, w := range e {
		if !isFinite(w) || w < 0 {
			return fmt.Errorf("%w: sector %q weight must be non-negative, got %v", ErrInvalidSimulationInput, string(code), w)
		}
		if _, ok := fs.SectorIndex(code); !ok {
			return fmt.Errorf("%w: sector %q is not a configured risk factor", ErrInvalidSimulationInput, string(code))
		}
		sum += w
	}
	if len(e) > 0 && math.Abs(sum-1) > exposureTolerance {
		return fmt.Errorf("%w: sector weights must sum to 1, got %v", ErrInvalidSimulationInput, sum)
	}
	return nil
}

// sectorWeight 已解析到因子索引的行业权重
type sectorWeight struct {
	code   SectorCode
	index  int
	weight float64
}

// resolve 按因子索引排序，保证浮点累加顺序确定
func (e SectorExposure) resolve(fs *FactorSet) []sectorWeight {
	out := make([]sectorWeight, 0, len(e))
	for code, w := range e {
		if w == 0 {
			continue
		}
		idx, _ := fs.SectorIndex(code)
		out = append(out, sectorWeight{code: code, index: idx, weight: w})
	}
	slices.SortFunc(out, func(a, b sectorWeight) int { return a.index - b.index })
	return out
}

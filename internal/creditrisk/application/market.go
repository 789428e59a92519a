package application

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/wyfcoding/creditrisk/internal/creditrisk/domain"
	"github.com/wyfcoding/creditrisk/pkg/config"
	"github.com/wyfcoding/creditrisk/pkg/logger"
)

// marketFactor 无任何行业拆分与抵押物时使用的占位因子，保证因子集合非空
const marketFactor domain.SectorCode = "MARKET"

// resolvedMarket 一次请求解析出的市场参数
type resolvedMarket struct {
	params   domain.ModelParameters
	degraded []domain.DegradedInput
}

// riskFactors 收集主体涉及的行业与抵押物类别，顺序确定
func riskFactors(entities []domain.Entity) ([]domain.SectorCode, []domain.CollateralType) {
	sectorSet := make(map[domain.SectorCode]struct{})
	collateralSet := make(map[domain.CollateralType]struct{})
	for _, e := range entities {
		for code := range e.Exposure {
			sectorSet[code] = struct{}{}
		}
		for _, l := range e.Loans {
			for _, c := range l.Collateral {
				collateralSet[c.Type] = struct{}{}
			}
		}
	}
	sectors := slices.Sorted(maps.Keys(sectorSet))
	collateral := make([]domain.CollateralType, 0, len(collateralSet))
	for _, t := range domain.CollateralTypes {
		if _, ok := collateralSet[t]; ok {
			collateral = append(collateral, t)
		}
	}
	if len(sectors) == 0 && len(collateral) == 0 {
		sectors = []domain.SectorCode{marketFactor}
	}
	return sectors, collateral
}

// loadMarketData 从仓储加载市场数据；未配置仓储时全部使用默认值
func (s *CreditRiskService) loadMarketData(ctx context.Context, sectors []domain.SectorCode, collateral []domain.CollateralType) (*domain.MarketData, error) {
	if s.repo == nil {
		return &domain.MarketData{}, nil
	}
	md, err := s.repo.Load(ctx, sectors, collateral)
	if errors.Is(err, domain.ErrMissingMarketData) {
		logger.FromContext(ctx, s.logger).WarnContext(ctx, "no stored market data for requested factors, defaults used",
			"sectors", sectors, "collateral", collateral)
		return &domain.MarketData{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load market data: %w", err)
	}
	if md == nil {
		md = &domain.MarketData{}
	}
	return md, nil
}

// buildCorrelationInput 将仓储中的相关系数对填入分块矩阵，缺失的对使用默认值并记录降级
func buildCorrelationInput(md *domain.MarketData, sectors []domain.SectorCode, collateral []domain.CollateralType, cfg config.SimulationConfig) (domain.CorrelationInput, []domain.DegradedInput) {
	si := make(map[domain.SectorCode]int, len(sectors))
	for i, c := range sectors {
		si[c] = i
	}
	ci := make(map[domain.CollateralType]int, len(collateral))
	for i, c := range collateral {
		ci[c] = i
	}

	ss := newBlock(len(sectors), len(sectors), true)
	sc := newBlock(len(sectors), len(collateral), false)
	cc := newBlock(len(collateral), len(collateral), true)
	for _, p := range md.SectorCorrelations {
		i, okA := si[p.SectorA]
		j, okB := si[p.SectorB]
		if okA && okB && i != j {
			ss.set(i, j, p.Correlation)
			ss.set(j, i, p.Correlation)
		}
	}
	for _, p := range md.SectorCollateral {
		i, okA := si[p.Sector]
		j, okB := ci[p.Collateral]
		if okA && okB {
			sc.set(i, j, p.Correlation)
		}
	}
	for _, p := range md.CollateralCorrelations {
		i, okA := ci[p.CollateralA]
		j, okB := ci[p.CollateralB]
		if okA && okB && i != j {
			cc.set(i, j, p.Correlation)
			cc.set(j, i, p.Correlation)
		}
	}

	var degraded []domain.DegradedInput
	fill := func(b *block, symmetric bool, def float64, subject func(i, j int) string) {
		for i := range b.values {
			for j := range b.values[i] {
				if symmetric && j <= i || b.known[i][j] {
					continue
				}
				b.values[i][j] = def
				if symmetric {
					b.values[j][i] = def
				}
				degraded = append(degraded, domain.DegradedInput{
					Kind:    domain.DegradedCorrelation,
					Subject: subject(i, j),
					Detail:  fmt.Sprintf("default correlation %.4f used", def),
				})
			}
		}
	}
	fill(ss, true, cfg.DefaultSectorCorrelation, func(i, j int) string {
		return string(sectors[i]) + "|" + string(sectors[j])
	})
	fill(sc, false, cfg.DefaultSectorCollateralCorr, func(i, j int) string {
		return string(sectors[i]) + "|" + string(collateral[j])
	})
	fill(cc, true, cfg.DefaultCollateralCorrelation, func(i, j int) string {
		return string(collateral[i]) + "|" + string(collateral[j])
	})

	return domain.CorrelationInput{
		Sectors:                     sectors,
		Collateral:                  collateral,
		SectorSector:                ss.values,
		SectorCollateral:            sc.values,
		CollateralCollateral:        cc.values,
		DefaultSectorSector:         cfg.DefaultSectorCorrelation,
		DefaultSectorCollateral:     cfg.DefaultSectorCollateralCorr,
		DefaultCollateralCollateral: cfg.DefaultCollateralCorrelation,
	}, degraded
}

type block struct {
	values [][]float64
	known  [][]bool
}

func newBlock(rows, cols int, diagonal bool) *block {
	b := &block{values: make([][]float64, rows), known: make([][]bool, rows)}
	for i := range rows {
		b.values[i] = make([]float64, cols)
		b.known[i] = make([]bool, cols)
		if diagonal {
			b.values[i][i] = 1
			b.known[i][i] = true
		}
	}
	return b
}

func (b *block) set(i, j int, v float64) {
	b.values[i][j] = v
	b.known[i][j] = true
}

// callerInput 调用方提供的数据不合法时按客户端错误处理，原始错误仍可用 errors.Is 判断
func callerInput(err error) error {
	if err == nil || errors.Is(err, domain.ErrInvalidSimulationInput) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidSimulationInput, err)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// toDomain 校验调用方提供的市场数据
func (r MarketDataRequest) toDomain() (*domain.MarketData, error) {
	md := &domain.MarketData{
		SectorVolatility:  make(map[domain.SectorCode]float64, len(r.SectorVolatility)),
		CollateralMarkets: make(map[domain.CollateralType]domain.CollateralMarket, len(r.CollateralMarkets)),
	}
	for code, v := range r.SectorVolatility {
		if err := code.Validate(); err != nil {
			return nil, err
		}
		if !finite(v) || v < 0 {
			return nil, invalidInput("sector %s volatility must be non-negative, got %v", code, v)
		}
		md.SectorVolatility[code] = v
	}
	for t, m := range r.CollateralMarkets {
		if parsed, err := domain.ParseCollateralType(string(t)); err != nil || parsed != t {
			return nil, invalidInput("unknown collateral type %q", t)
		}
		if !finite(m.ExpectedReturn) || !finite(m.Volatility) || m.Volatility < 0 || !(m.Haircut >= 0 && m.Haircut < 1) {
			return nil, invalidInput("collateral %s needs finite return, non-negative volatility and haircut in [0,1)", t)
		}
		md.CollateralMarkets[t] = domain.CollateralMarket{ExpectedReturn: m.ExpectedReturn, Volatility: m.Volatility, Haircut: m.Haircut}
	}
	if r.Correlation != nil {
		if err := r.Correlation.appendPairs(md); err != nil {
			return nil, err
		}
	}
	return md, nil
}

// appendPairs 校验分块矩阵（形状、取值范围、单位对角线、对称性）并展开为相关系数对
func (b *CorrelationBlocksRequest) appendPairs(md *domain.MarketData) error {
	if _, err := domain.BuildCorrelationMatrix(domain.CorrelationInput{
		Sectors:              b.Sectors,
		Collateral:           b.Collateral,
		SectorSector:         b.SectorSector,
		SectorCollateral:     b.SectorCollateral,
		CollateralCollateral: b.CollateralCollateral,
	}); err != nil {
		return err
	}
	for i := range b.SectorSector {
		for j := i + 1; j < len(b.Sectors); j++ {
			md.SectorCorrelations = append(md.SectorCorrelations, domain.SectorCorrelation{
				SectorA: b.Sectors[i], SectorB: b.Sectors[j], Correlation: b.SectorSector[i][j],
			})
		}
	}
	for i, row := range b.SectorCollateral {
		for j, v := range row {
			md.SectorCollateral = append(md.SectorCollateral, domain.SectorCollateralCorrelation{
				Sector: b.Sectors[i], Collateral: b.Collateral[j], Correlation: v,
			})
		}
	}
	for i := range b.CollateralCollateral {
		for j := i + 1; j < len(b.Collateral); j++ {
			md.CollateralCorrelations = append(md.CollateralCorrelations, domain.CollateralCorrelation{
				CollateralA: b.Collateral[i], CollateralB: b.Collateral[j], Correlation: b.CollateralCollateral[i][j],
			})
		}
	}
	return nil
}

func importSummary(md *domain.MarketData) *MarketDataImportDTO {
	return &MarketDataImportDTO{
		Sectors:      len(md.SectorVolatility),
		Collateral:   len(md.CollateralMarkets),
		Correlations: len(md.SectorCorrelations) + len(md.SectorCollateral) + len(md.CollateralCorrelations),
	}
}

// overlay 请求数据覆盖仓储数据：映射按 key 覆盖，相关系数对追加在后，构造矩阵时后写入的生效
func overlay(base, over *domain.MarketData) *domain.MarketData {
	out := &domain.MarketData{
		SectorVolatility:       make(map[domain.SectorCode]float64, len(base.SectorVolatility)+len(over.SectorVolatility)),
		CollateralMarkets:      make(map[domain.CollateralType]domain.CollateralMarket, len(base.CollateralMarkets)+len(over.CollateralMarkets)),
		SectorCorrelations:     slices.Concat(base.SectorCorrelations, over.SectorCorrelations),
		SectorCollateral:       slices.Concat(base.SectorCollateral, over.SectorCollateral),
		CollateralCorrelations: slices.Concat(base.CollateralCorrelations, over.CollateralCorrelations),
	}
	maps.Copy(out.SectorVolatility, base.SectorVolatility)
	maps.Copy(out.SectorVolatility, over.SectorVolatility)
	maps.Copy(out.CollateralMarkets, base.CollateralMarkets)
	maps.Copy(out.CollateralMarkets, over.CollateralMarkets)
	return out
}

func pick(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

// resolveMarket 按 请求 → 仓储 → 配置 的优先级构造不可变的模型参数。路径循环开始前完成，循环内不再访问仓储
func (s *CreditRiskService) resolveMarket(ctx context.Context, entities []domain.Entity, sim domain.SimulationParams, years int, model *ModelOverrides) (*resolvedMarket, error) {
	if model == nil {
		model = &ModelOverrides{}
	}
	supplied, err := model.MarketDataRequest.toDomain()
	if err != nil {
		return nil, callerInput(err)
	}

	sectors, collateral := riskFactors(entities)
	md, err := s.loadMarketData(ctx, sectors, collateral)
	if err != nil {
		return nil, err
	}
	md = overlay(md, supplied)

	// 矩阵由仓储数据构成时无法分解属于服务端数据问题；包含调用方给出的块时按客户端错误返回
	correlationErr := func(err error) error {
		if model.Correlation != nil {
			return callerInput(err)
		}
		return fmt.Errorf("stored correlation data unusable: %w", err)
	}
	input, degraded := buildCorrelationInput(md, sectors, collateral, s.cfg)
	matrix, err := domain.BuildCorrelationMatrix(input)
	if err != nil {
		return nil, correlationErr(err)
	}
	factorization, err := matrix.Factorize()
	if err != nil {
		return nil, correlationErr(err)
	}
	if factorization.Repaired {
		s.logger.WarnContext(ctx, "correlation matrix repaired to nearest PSD",
			"factors", matrix.Size(), "min_eigenvalue", factorization.MinEigenvalue)
	}

	c := s.cfg
	params := domain.ModelParameters{
		Projection: domain.ProjectionParams{
			Years:                  years,
			RevenueGrowth:          pick(model.RevenueGrowth, c.RevenueGrowth),
			CostGrowth:             pick(model.CostGrowth, c.CostGrowth),
			CostVolatility:         pick(model.CostVolatility, c.CostVolatility),
			RevenueCostCorrelation: pick(model.RevenueCostCorrelation, c.RevenueCostCorrelation),
			TaxRate:                pick(model.TaxRate, c.TaxRate),
		},
		Solvency:                domain.SolvencyParams{CollateralShortfallThreshold: c.CollateralShortfallThreshold},
		Simulation:              sim,
		Correlation:             factorization,
		SectorVolatility:        md.SectorVolatility,
		DefaultSectorVolatility: c.DefaultSectorVolatility,
		CollateralMarkets:       md.CollateralMarkets,
		DefaultCollateralMarket: domain.CollateralMarket{
			ExpectedReturn: c.DefaultCollateralReturn,
			Volatility:     c.DefaultCollateralVolatility,
			Haircut:        c.DefaultCollateralHaircut,
		},
		PortfolioLossThreshold: c.PortfolioLossThreshold,
	}
	return &resolvedMarket{params: params, degraded: degraded}, nil
}

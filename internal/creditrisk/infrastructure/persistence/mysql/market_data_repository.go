package mysql

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/creditrisk/internal/creditrisk/domain"
)

// MarketDataRepository 基于 GORM 的市场数据仓储，兼容 mysql/postgres/sqlite
type MarketDataRepository struct {
	db *gorm.DB
}

// NewMarketDataRepository 创建市场数据仓储
func NewMarketDataRepository(db *gorm.DB) *MarketDataRepository {
	return &MarketDataRepository{db: db}
}

var _ domain.MarketDataRepository = (*MarketDataRepository)(nil)

// Load 一次性加载给定行业与抵押物类别的波动率与相关系数，缺失条目由调用方回退默认值。
// 请求的因子在库中一条记录都没有时返回 domain.ErrMissingMarketData
func (r *MarketDataRepository) Load(ctx context.Context, sectors []domain.SectorCode, collateral []domain.CollateralType) (*domain.MarketData, error) {
	db := r.db.WithContext(ctx)
	sectorKeys := toStrings(sectors)
	collateralKeys := toStrings(collateral)
	md := &domain.MarketData{
		SectorVolatility:  make(map[domain.SectorCode]float64, len(sectors)),
		CollateralMarkets: make(map[domain.CollateralType]domain.CollateralMarket, len(collateral)),
	}

	if len(sectorKeys) > 0 {
		var vols []SectorVolatilityModel
		if err := db.Where("sector IN ?", sectorKeys).Find(&vols).Error; err != nil {
			return nil, fmt.Errorf("query sector volatilities: %w", err)
		}
		for _, v := range vols {
			md.SectorVolatility[domain.SectorCode(v.Sector)] = v.Volatility.InexactFloat64()
		}

		var pairs []SectorCorrelationModel
		if err := db.Where("sector_a IN ? AND sector_b IN ?", sectorKeys, sectorKeys).
			Order("sector_a, sector_b").Find(&pairs).Error; err != nil {
			return nil, fmt.Errorf("query sector correlations: %w", err)
		}
		for _, p := range pairs {
			md.SectorCorrelations = append(md.SectorCorrelations, domain.SectorCorrelation{
				SectorA: domain.SectorCode(p.SectorA), SectorB: domain.SectorCode(p.SectorB), Correlation: p.Correlation.InexactFloat64(),
			})
		}
	}

	if len(collateralKeys) > 0 {
		var markets []CollateralMarketModel
		if err := db.Where("collateral_type IN ?", collateralKeys).Find(&markets).Error; err != nil {
			return nil, fmt.Errorf("query collateral markets: %w", err)
		}
		for _, m := range markets {
			md.CollateralMarkets[domain.CollateralType(m.CollateralType)] = toCollateralMarket(m)
		}

		var pairs []CollateralCorrelationModel
		if err := db.Where("collateral_a IN ? AND collateral_b IN ?", collateralKeys, collateralKeys).
			Order("collateral_a, collateral_b").Find(&pairs).Error; err != nil {
			return nil, fmt.Errorf("query collateral correlations: %w", err)
		}
		for _, p := range pairs {
			md.CollateralCorrelations = append(md.CollateralCorrelations, domain.CollateralCorrelation{
				CollateralA: domain.CollateralType(p.CollateralA), CollateralB: domain.CollateralType(p.CollateralB), Correlation: p.Correlation.InexactFloat64(),
			})
		}
	}

	if len(sectorKeys) > 0 && len(collateralKeys) > 0 {
		var cross []SectorCollateralCorrelationModel
		if err := db.Where("sector IN ? AND collateral_type IN ?", sectorKeys, collateralKeys).
			Order("sector, collateral_type").Find(&cross).Error; err != nil {
			return nil, fmt.Errorf("query sector collateral correlations: %w", err)
		}
		for _, c := range cross {
			md.SectorCollateral = append(md.SectorCollateral, domain.SectorCollateralCorrelation{
				Sector: domain.SectorCode(c.Sector), Collateral: domain.CollateralType(c.CollateralType), Correlation: c.Correlation.InexactFloat64(),
			})
		}
	}
	if (len(sectorKeys) > 0 || len(collateralKeys) > 0) && isEmpty(md) {
		return nil, fmt.Errorf("%w: sectors=%v collateral=%v", domain.ErrMissingMarketData, sectorKeys, collateralKeys)
	}
	return md, nil
}

// Save 在一个事务内写入（覆盖）市场数据，用于导入与初始化
func (r *MarketDataRepository) Save(ctx context.Context, md *domain.MarketData) error {
	if md == nil {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for code, v := range md.SectorVolatility {
			m := SectorVolatilityModel{Sector: string(code), Volatility: decimal.NewFromFloat(v)}
			if err := upsert(tx, &m, []string{"sector"}, "volatility"); err != nil {
				return err
			}
		}
		for t, cm := range md.CollateralMarkets {
			m := CollateralMarketModel{
				CollateralType: string(t),
				ExpectedReturn: decimal.NewFromFloat(cm.ExpectedReturn),
				Volatility:     decimal.NewFromFloat(cm.Volatility),
				Haircut:        decimal.NewFromFloat(cm.Haircut),
			}
			if err := upsert(tx, &m, []string{"collateral_type"}, "expected_return", "volatility", "haircut"); err != nil {
				return err
			}
		}
		for _, c := range md.SectorCorrelations {
			m := toSectorCorrelationModel(c)
			if err := upsert(tx, &m, []string{"sector_a", "sector_b"}, "correlation"); err != nil {
				return err
			}
		}
		for _, c := range md.SectorCollateral {
			m := SectorCollateralCorrelationModel{
				Sector:         string(c.Sector),
				CollateralType: string(c.Collateral),
				Correlation:    decimal.NewFromFloat(c.Correlation),
			}
			if err := upsert(tx, &m, []string{"sector", "collateral_type"}, "correlation"); err != nil {
				return err
			}
		}
		for _, c := range md.CollateralCorrelations {
			m := toCollateralCorrelationModel(c)
			if err := upsert(tx, &m, []string{"collateral_a", "collateral_b"}, "correlation"); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsert(tx *gorm.DB, model any, keys []string, updates ...string) error {
	columns := make([]clause.Column, len(keys))
	for i, k := range keys {
		columns[i] = clause.Column{Name: k}
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   columns,
		DoUpdates: clause.AssignmentColumns(append(updates, "updated_at")),
	}).Create(model).Error
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func isEmpty(md *domain.MarketData) bool {
	return len(md.SectorVolatility) == 0 && len(md.CollateralMarkets) == 0 &&
		len(md.SectorCorrelations) == 0 && len(md.SectorCollateral) == 0 && len(md.CollateralCorrelations) == 0
}

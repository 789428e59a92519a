package mysql

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/wyfcoding/creditrisk/internal/creditrisk/domain"
)

// SectorVolatilityModel 行业营收年化波动率
type SectorVolatilityModel struct {
	gorm.Model
	Sector     string          `gorm:"column:sector;type:varchar(32);uniqueIndex;not null"`
	Volatility decimal.Decimal `gorm:"column:volatility;type:decimal(10,6);not null"`
}

func (SectorVolatilityModel) TableName() string { return "credit_sector_volatilities" }

// CollateralMarketModel 抵押物类别的市场参数
type CollateralMarketModel struct {
	gorm.Model
	CollateralType string          `gorm:"column:collateral_type;type:varchar(20);uniqueIndex;not null"`
	ExpectedReturn decimal.Decimal `gorm:"column:expected_return;type:decimal(10,6);not null"`
	Volatility     decimal.Decimal `gorm:"column:volatility;type:decimal(10,6);not null"`
	Haircut        decimal.Decimal `gorm:"column:haircut;type:decimal(10,6);not null"`
}

func (CollateralMarketModel) TableName() string { return "credit_collateral_markets" }

// SectorCorrelationModel 行业对相关系数，(sector_a, sector_b) 按字典序存储
type SectorCorrelationModel struct {
	gorm.Model
	SectorA     string          `gorm:"column:sector_a;type:varchar(32);uniqueIndex:idx_sector_pair;not null"`
	SectorB     string          `gorm:"column:sector_b;type:varchar(32);uniqueIndex:idx_sector_pair;not null"`
	Correlation decimal.Decimal `gorm:"column:correlation;type:decimal(8,6);not null"`
}

func (SectorCorrelationModel) TableName() string { return "credit_sector_correlations" }

// SectorCollateralCorrelationModel 行业与抵押物类别相关系数
type SectorCollateralCorrelationModel struct {
	gorm.Model
	Sector         string          `gorm:"column:sector;type:varchar(32);uniqueIndex:idx_sector_collateral;not null"`
	CollateralType string          `gorm:"column:collateral_type;type:varchar(20);uniqueIndex:idx_sector_collateral;not null"`
	Correlation    decimal.Decimal `gorm:"column:correlation;type:decimal(8,6);not null"`
}

func (SectorCollateralCorrelationModel) TableName() string {
	return "credit_sector_collateral_correlations"
}

// CollateralCorrelationModel 抵押物类别对相关系数，按字典序存储
type CollateralCorrelationModel struct {
	gorm.Model
	CollateralA string          `gorm:"column:collateral_a;type:varchar(20);uniqueIndex:idx_collateral_pair;not null"`
	CollateralB string          `gorm:"column:collateral_b;type:varchar(20);uniqueIndex:idx_collateral_pair;not null"`
	Correlation decimal.Decimal `gorm:"column:correlation;type:decimal(8,6);not null"`
}

func (CollateralCorrelationModel) TableName() string { return "credit_collateral_correlations" }

// Models 需要迁移的全部表
func Models() []any {
	return []any{
		&SectorVolatilityModel{},
		&CollateralMarketModel{},
		&SectorCorrelationModel{},
		&SectorCollateralCorrelationModel{},
		&CollateralCorrelationModel{},
	}
}

// AutoMigrate 创建或更新市场数据表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// --- mapping helpers ---

func orderedPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

func toSectorCorrelationModel(c domain.SectorCorrelation) SectorCorrelationModel {
	a, b := orderedPair(string(c.SectorA), string(c.SectorB))
	return SectorCorrelationModel{SectorA: a, SectorB: b, Correlation: decimal.NewFromFloat(c.Correlation)}
}

func toCollateralCorrelationModel(c domain.CollateralCorrelation) CollateralCorrelationModel {
	a, b := orderedPair(string(c.CollateralA), string(c.CollateralB))
	return CollateralCorrelationModel{CollateralA: a, CollateralB: b, Correlation: decimal.NewFromFloat(c.Correlation)}
}

func toCollateralMarket(m CollateralMarketModel) domain.CollateralMarket {
	return domain.CollateralMarket{
		ExpectedReturn: m.ExpectedReturn.InexactFloat64(),
		Volatility:     m.Volatility.InexactFloat64(),
		Haircut:        m.Haircut.InexactFloat64(),
	}
}

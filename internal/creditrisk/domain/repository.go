package domain

import (
	"context"
)

// SectorCorrelation 行业对之间的相关系数
type SectorCorrelation struct {
	SectorA     SectorCode
	SectorB     SectorCode
	Correlation float64
}

// SectorCollateralCorrelation 行业与抵押物类别之间的相关系数
type SectorCollateralCorrelation struct {
	Sector      SectorCode
	Collateral  CollateralType
	Correlation float64
}

// CollateralCorrelation 抵押物类别之间的相关系数
type CollateralCorrelation struct {
	CollateralA CollateralType
	CollateralB CollateralType
	Correlation float64
}

// MarketData 一次模拟所需的全部市场数据，在路径循环前一次性加载
type MarketData struct {
	SectorVolatility       map[SectorCode]float64
	CollateralMarkets      map[CollateralType]CollateralMarket
	SectorCorrelations     []SectorCorrelation
	SectorCollateral       []SectorCollateralCorrelation
	CollateralCorrelations []CollateralCorrelation
}

// MarketDataRepository 行业与抵押物市场数据仓储
type MarketDataRepository interface {
	// Load 加载给定行业与抵押物类别的市场数据。部分缺失不返回错误，全部缺失返回 ErrMissingMarketData
	Load(ctx context.Context, sectors []SectorCode, collateral []CollateralType) (*MarketData, error)

	// Save 写入（覆盖）市场数据
	Save(ctx context.Context, md *MarketData) error
}

// EventPublisher 事件发布者接口
type EventPublisher interface {
	// PublishSimulationCompleted 发布单主体模拟完成事件
	PublishSimulationCompleted(ctx context.Context, event SimulationCompletedEvent) error

	// PublishPortfolioSimulationCompleted 发布组合模拟完成事件
	PublishPortfolioSimulationCompleted(ctx context.Context, event PortfolioSimulationCompletedEvent) error
}

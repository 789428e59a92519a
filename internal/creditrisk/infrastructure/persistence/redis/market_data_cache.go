package redis

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/wyfcoding/creditrisk/internal/creditrisk/domain"
	"github.com/wyfcoding/creditrisk/pkg/cache"
	"github.com/wyfcoding/creditrisk/pkg/metrics"
)

const keyPrefix = "creditrisk:market:"

// CachedMarketDataRepository 市场数据读穿缓存，缓存不可用时直接回源
type CachedMarketDataRepository struct {
	next    domain.MarketDataRepository
	cache   *cache.RedisCache
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewCachedMarketDataRepository 包装底层仓储
func NewCachedMarketDataRepository(next domain.MarketDataRepository, c *cache.RedisCache, ttl time.Duration, m *metrics.Metrics, log *slog.Logger) *CachedMarketDataRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedMarketDataRepository{next: next, cache: c, ttl: ttl, metrics: m, logger: log}
}

var _ domain.MarketDataRepository = (*CachedMarketDataRepository)(nil)

func (r *CachedMarketDataRepository) Load(ctx context.Context, sectors []domain.SectorCode, collateral []domain.CollateralType) (*domain.MarketData, error) {
	key := cacheKey(sectors, collateral)

	var md domain.MarketData
	hit, err := r.cache.GetJSON(ctx, key, &md)
	if err != nil {
		r.logger.WarnContext(ctx, "market data cache read failed, falling back to store", "key", key, "error", err)
	}
	r.record(hit)
	if hit {
		return &md, nil
	}

	loaded, err := r.next.Load(ctx, sectors, collateral)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetJSON(ctx, key, loaded, r.ttl); err != nil {
		r.logger.WarnContext(ctx, "market data cache write failed", "key", key, "error", err)
	}
	return loaded, nil
}

// Save 写入底层仓储后清除全部市场数据缓存。缓存按因子组合分 key，无法只删受影响的条目
func (r *CachedMarketDataRepository) Save(ctx context.Context, md *domain.MarketData) error {
	if err := r.next.Save(ctx, md); err != nil {
		return err
	}
	if err := r.Invalidate(ctx); err != nil {
		r.logger.WarnContext(ctx, "market data cache invalidation failed, entries expire with ttl", "ttl", r.ttl, "error", err)
	}
	return nil
}

// Invalidate 清除全部市场数据缓存
func (r *CachedMarketDataRepository) Invalidate(ctx context.Context) error {
	n, err := r.cache.DeleteByPrefix(ctx, keyPrefix)
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "market data cache invalidated", "keys", n)
	return nil
}

func (r *CachedMarketDataRepository) record(hit bool) {
	if r.metrics != nil {
		r.metrics.RecordCache(hit)
	}
}

// cacheKey 与入参顺序无关
func cacheKey(sectors []domain.SectorCode, collateral []domain.CollateralType) string {
	s := make([]string, len(sectors))
	for i, v := range sectors {
		s[i] = string(v)
	}
	c := make([]string, len(collateral))
	for i, v := range collateral {
		c[i] = string(v)
	}
	slices.Sort(s)
	slices.Sort(c)
	return keyPrefix + strings.Join(s, ",") + ":" + strings.Join(c, ",")
}

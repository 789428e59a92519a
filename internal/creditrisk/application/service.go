package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/wyfcoding/creditrisk/internal/creditrisk/domain"
	"github.com/wyfcoding/creditrisk/pkg/config"
	"github.com/wyfcoding/creditrisk/pkg/logger"
	"github.com/wyfcoding/creditrisk/pkg/metrics"
)

const (
	kindEntity    = "entity"
	kindPortfolio = "portfolio"
)

// ErrMarketDataStoreUnavailable 未配置数据库时无法导入市场数据
var ErrMarketDataStoreUnavailable = errors.New("market data store not configured")

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidSimulationInput, fmt.Sprintf(format, args...))
}

// CreditRiskService 信用风险应用服务：摊还计划、非整期账单、相关性蒙特卡洛模拟与久期分析
type CreditRiskService struct {
	repo      domain.MarketDataRepository
	publisher domain.EventPublisher
	metrics   *metrics.Metrics
	cfg       config.SimulationConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewCreditRiskService 创建应用服务。repo、publisher、metrics 均可为空
func NewCreditRiskService(
	repo domain.MarketDataRepository,
	publisher domain.EventPublisher,
	m *metrics.Metrics,
	cfg config.SimulationConfig,
	log *slog.Logger,
) *CreditRiskService {
	if log == nil {
		log = slog.Default()
	}
	return &CreditRiskService{
		repo:      repo,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		logger:    log.With("module", "credit_risk_service"),
		now:       time.Now,
	}
}

// GenerateSchedule 生成完整摊还计划
func (s *CreditRiskService) GenerateSchedule(ctx context.Context, req ScheduleRequest) (*ScheduleDTO, error) {
	terms := req.Loan.toDomain()
	entries, err := domain.GenerateSchedule(terms)
	if err == nil {
		sum := domain.Summarize(entries)
		err = ensureFinite("schedule", sum.RegularPayment, sum.TotalInterest, sum.TotalPaid)
	}
	s.recordCalculation("schedule", err)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx, s.logger).DebugContext(ctx, "schedule generated", "redemption", terms.Redemption, "months", len(entries))
	return toScheduleDTO(terms, entries), nil
}

// CalculateFractionalPayment 计算账单日的插值应付
func (s *CreditRiskService) CalculateFractionalPayment(ctx context.Context, req FractionalRequest) (*FractionalDTO, error) {
	result, err := s.calculateFractional(req)
	if err == nil {
		err = ensureFinite("fractional payment", result.Interest, result.Principal, result.Payment, result.RemainingBalance)
	}
	s.recordCalculation("fractional", err)
	if err != nil {
		return nil, err
	}
	return toFractionalDTO(result), nil
}

func (s *CreditRiskService) calculateFractional(req FractionalRequest) (*domain.FractionalPeriod, error) {
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		return nil, err
	}
	asOf := domain.DateOnly(s.now())
	if req.AsOf != "" {
		if asOf, err = parseDate("as_of", req.AsOf); err != nil {
			return nil, err
		}
	}
	return domain.CalculateFractionalPeriod(domain.FractionalInput{
		Terms:      req.Loan.toDomain(),
		StartDate:  start,
		InvoiceDay: req.InvoiceDay,
		AsOf:       asOf,
	})
}

// AnalyzeDuration 贷款组合久期与利率敏感性
func (s *CreditRiskService) AnalyzeDuration(ctx context.Context, req DurationRequest) (*DurationDTO, error) {
	positions := make([]domain.DurationPosition, len(req.Positions))
	for i, p := range req.Positions {
		positions[i] = domain.DurationPosition{ID: p.ID, Terms: p.Loan.toDomain(), ElapsedMonths: p.ElapsedMonths}
	}
	report, err := domain.AnalyzeDuration(positions)
	if err == nil {
		err = ensureFinite("duration", report.TotalValue, report.WeightedMacaulay, report.WeightedModified, report.WeightedConvexity)
	}
	s.recordCalculation("duration", err)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx, s.logger).DebugContext(ctx, "duration analyzed",
		"positions", len(positions), "total_value", report.TotalValue, "weighted_modified", report.WeightedModified)
	return toDurationDTO(report), nil
}

// SimulateEntity 单主体相关性蒙特卡洛模拟，可选附带久期分析
func (s *CreditRiskService) SimulateEntity(ctx context.Context, req EntitySimulationRequest) (*SimulationResultDTO, error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx, s.logger)

	sim, years, err := s.simulationParams(req.Options)
	if err != nil {
		s.recordSimulation(kindEntity, 0, false, start, err)
		return nil, err
	}
	entities := []domain.Entity{req.Entity}
	market, err := s.resolveMarket(ctx, entities, sim, years, req.Model)
	if err != nil {
		s.recordSimulation(kindEntity, 0, false, start, err)
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	aggregator, err := domain.NewPortfolioAggregator(market.params)
	if err != nil {
		s.recordSimulation(kindEntity, 0, false, start, err)
		return nil, err
	}
	result, err := aggregator.RunEntity(ctx, req.Entity)
	if err != nil {
		s.recordSimulation(kindEntity, sim.Paths, market.params.Correlation.Repaired, start, err)
		return nil, s.wrapRunError(err)
	}

	if req.IncludeDuration {
		report, err := domain.AnalyzeDuration(req.Entity.DurationPositions())
		if err != nil {
			return nil, err
		}
		result.Duration = report
	}

	if err := checkSimulationResult(result); err != nil {
		s.recordSimulation(kindEntity, result.PathCount, result.CorrelationRepaired, start, err)
		return nil, err
	}
	result.DegradedInputs = slices.Concat(market.degraded, result.DegradedInputs)
	s.recordSimulation(kindEntity, result.PathCount, result.CorrelationRepaired, start, nil)
	s.reportDegraded(ctx, result.DegradedInputs)

	dto := toSimulationResultDTO(result, sim.Seed)
	dto.RunID = runID
	dto.ElapsedMs = time.Since(start).Milliseconds()

	log.InfoContext(ctx, "entity simulation completed",
		"entity_id", result.EntityID,
		"paths", result.PathCount,
		"years", result.Years,
		"pd", result.ProbabilityOfDefault,
		"expected_loss", result.ExpectedLoss,
		"correlation_repaired", result.CorrelationRepaired,
		"degraded_inputs", len(result.DegradedInputs),
		"elapsed_ms", dto.ElapsedMs,
	)

	s.publishEntity(ctx, domain.SimulationCompletedEvent{
		RunID:                runID,
		EntityID:             result.EntityID,
		PathCount:            result.PathCount,
		Years:                result.Years,
		ProbabilityOfDefault: result.ProbabilityOfDefault,
		ExpectedLoss:         result.ExpectedLoss,
		CorrelationRepaired:  result.CorrelationRepaired,
		DegradedInputs:       len(result.DegradedInputs),
		OccurredOn:           s.now(),
	})
	return &dto, nil
}

// SimulatePortfolio 组合模拟：所有主体共享系统性因子
func (s *CreditRiskService) SimulatePortfolio(ctx context.Context, req PortfolioSimulationRequest) (*PortfolioResultDTO, error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx, s.logger)

	if len(req.Entities) == 0 {
		err := invalidInput("at least one entity is required")
		s.recordSimulation(kindPortfolio, 0, false, start, err)
		return nil, err
	}
	sim, years, err := s.simulationParams(req.Options)
	if err != nil {
		s.recordSimulation(kindPortfolio, 0, false, start, err)
		return nil, err
	}
	market, err := s.resolveMarket(ctx, req.Entities, sim, years, req.Model)
	if err != nil {
		s.recordSimulation(kindPortfolio, 0, false, start, err)
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	aggregator, err := domain.NewPortfolioAggregator(market.params)
	if err != nil {
		s.recordSimulation(kindPortfolio, 0, false, start, err)
		return nil, err
	}
	result, err := aggregator.Run(ctx, req.Entities)
	if err != nil {
		s.recordSimulation(kindPortfolio, sim.Paths, market.params.Correlation.Repaired, start, err)
		return nil, s.wrapRunError(err)
	}

	if err := checkPortfolioResult(result); err != nil {
		s.recordSimulation(kindPortfolio, result.PathCount, result.CorrelationRepaired, start, err)
		return nil, err
	}
	result.DegradedInputs = slices.Concat(market.degraded, result.DegradedInputs)
	s.recordSimulation(kindPortfolio, result.PathCount, result.CorrelationRepaired, start, nil)
	s.reportDegraded(ctx, result.DegradedInputs)

	dto := toPortfolioResultDTO(result, sim.Seed)
	dto.RunID = runID
	dto.ElapsedMs = time.Since(start).Milliseconds()

	log.InfoContext(ctx, "portfolio simulation completed",
		"entities", len(result.Entities),
		"paths", result.PathCount,
		"years", result.Years,
		"portfolio_default_rate", result.PortfolioDefaultRate,
		"joint_default_rate", result.JointDefaultRate,
		"var_99", result.VaR99,
		"correlation_repaired", result.CorrelationRepaired,
		"degraded_inputs", len(result.DegradedInputs),
		"elapsed_ms", dto.ElapsedMs,
	)

	s.publishPortfolio(ctx, domain.PortfolioSimulationCompletedEvent{
		RunID:                runID,
		EntityCount:          len(result.Entities),
		PathCount:            result.PathCount,
		Years:                result.Years,
		PortfolioDefaultRate: result.PortfolioDefaultRate,
		JointDefaultRate:     result.JointDefaultRate,
		ExpectedLoss:         result.ExpectedLoss,
		VaR99:                result.VaR99,
		CorrelationRepaired:  result.CorrelationRepaired,
		DegradedInputs:       len(result.DegradedInputs),
		OccurredOn:           s.now(),
	})
	return dto, nil
}

// simulationParams 合并请求选项与服务配置，并检查上限
func (s *CreditRiskService) simulationParams(opts SimulationOptions) (domain.SimulationParams, int, error) {
	c := s.cfg
	sim := domain.SimulationParams{
		Paths:       c.DefaultPaths,
		Seed:        c.DefaultSeed,
		Workers:     c.Workers,
		SamplePaths: c.SamplePaths,
		BatchSize:   c.BatchSize,
	}
	years := c.DefaultYears
	if opts.Paths > 0 {
		sim.Paths = opts.Paths
	}
	if opts.Years > 0 {
		years = opts.Years
	}
	if opts.Seed != nil {
		sim.Seed = *opts.Seed
	}
	if opts.SamplePaths != nil {
		sim.SamplePaths = *opts.SamplePaths
	}
	if sim.Paths <= 0 || c.MaxPaths > 0 && sim.Paths > c.MaxPaths {
		return sim, 0, invalidInput("paths must be in [1, %d], got %d", c.MaxPaths, sim.Paths)
	}
	if years <= 0 || c.MaxYears > 0 && years > c.MaxYears {
		return sim, 0, invalidInput("years must be in [1, %d], got %d", c.MaxYears, years)
	}
	if sim.SamplePaths < 0 || c.MaxSamplePaths > 0 && sim.SamplePaths > c.MaxSamplePaths {
		return sim, 0, invalidInput("sample_paths must be in [0, %d], got %d", c.MaxSamplePaths, sim.SamplePaths)
	}
	if sim.SamplePaths > sim.Paths {
		sim.SamplePaths = sim.Paths
	}
	return sim, years, nil
}

// ImportMarketData 校验并写入（覆盖）市场数据；带缓存的仓储在写入后清除缓存
func (s *CreditRiskService) ImportMarketData(ctx context.Context, req MarketDataRequest) (*MarketDataImportDTO, error) {
	dto, err := s.importMarketData(ctx, req)
	s.recordCalculation("market_data_import", err)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx, s.logger).InfoContext(ctx, "market data imported",
		"sectors", dto.Sectors, "collateral", dto.Collateral, "correlations", dto.Correlations)
	return dto, nil
}

func (s *CreditRiskService) importMarketData(ctx context.Context, req MarketDataRequest) (*MarketDataImportDTO, error) {
	md, err := req.toDomain()
	if err != nil {
		return nil, callerInput(err)
	}
	dto := importSummary(md)
	if *dto == (MarketDataImportDTO{}) {
		return nil, invalidInput("market data is empty")
	}
	if s.repo == nil {
		return nil, ErrMarketDataStoreUnavailable
	}
	if err := s.repo.Save(ctx, md); err != nil {
		return nil, fmt.Errorf("failed to save market data: %w", err)
	}
	return dto, nil
}

// ensureFinite 溢出或 NaN 的结果整体拒绝，不以 0.00 呈现
func ensureFinite(what string, values ...float64) error {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s", domain.ErrNonFiniteResult, what)
		}
	}
	return nil
}

func bandValues(b domain.PercentileBands) []float64 {
	return []float64{b.P1, b.P5, b.P25, b.P50, b.P75, b.P95, b.P99}
}

func checkSimulationResult(r *domain.SimulationResult) error {
	values := slices.Concat(bandValues(r.EndingEquity), bandValues(r.Loss), []float64{
		r.ProbabilityOfDefault, r.StandardError, r.MeanEndingEquity, r.StdEndingEquity,
		r.ExpectedLoss, r.OpeningDebt, r.PeakDebt,
	})
	for _, p := range r.SamplePaths {
		for _, y := range p.Years {
			values = append(values, y.Revenue, y.OperatingCosts, y.EBITDA, y.Interest, y.Principal, y.Drawdown,
				y.Tax, y.NetIncome, y.Equity, y.TotalAssets, y.LiquidAssets, y.OutstandingDebt,
				y.CollateralValue, y.EffectiveCollateral)
		}
		values = append(values, p.Outcome.EndingEquity, p.Outcome.Exposure, p.Outcome.Loss)
	}
	return ensureFinite("entity "+r.EntityID+" simulation", values...)
}

func checkPortfolioResult(r *domain.PortfolioSimulationResult) error {
	for i := range r.Entities {
		if err := checkSimulationResult(&r.Entities[i]); err != nil {
			return err
		}
	}
	values := slices.Concat(bandValues(r.Loss), bandValues(r.LossRatio), []float64{
		r.TotalExposure, r.ExpectedLoss, r.VaR95, r.VaR99, r.ES95, r.ES99,
	})
	return ensureFinite("portfolio simulation", values...)
}

func (s *CreditRiskService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.TimeoutSeconds <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutSeconds)*time.Second)
}

// wrapRunError 超时与取消保留原始错误供接口层映射
func (s *CreditRiskService) wrapRunError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("simulation aborted: %w", err)
	}
	return err
}

func (s *CreditRiskService) reportDegraded(ctx context.Context, degraded []domain.DegradedInput) {
	if len(degraded) == 0 {
		return
	}
	counts := make(map[domain.DegradedKind]int)
	for _, d := range degraded {
		counts[d.Kind]++
		if s.metrics != nil {
			s.metrics.RecordDegraded(string(d.Kind))
		}
	}
	logger.FromContext(ctx, s.logger).WarnContext(ctx, "simulation ran with degraded inputs", "count", len(degraded), "kinds", counts)
}

func (s *CreditRiskService) publishEntity(ctx context.Context, ev domain.SimulationCompletedEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishSimulationCompleted(ctx, ev); err != nil {
		logger.FromContext(ctx, s.logger).ErrorContext(ctx, "failed to publish simulation completed event", "entity_id", ev.EntityID, "error", err)
	}
}

func (s *CreditRiskService) publishPortfolio(ctx context.Context, ev domain.PortfolioSimulationCompletedEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishPortfolioSimulationCompleted(ctx, ev); err != nil {
		logger.FromContext(ctx, s.logger).ErrorContext(ctx, "failed to publish portfolio simulation completed event", "error", err)
	}
}

func (s *CreditRiskService) recordSimulation(kind string, paths int, repaired bool, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordSimulation(kind, paths, repaired, time.Since(start), err)
	}
}

func (s *CreditRiskService) recordCalculation(kind string, err error) {
	if s.metrics != nil {
		s.metrics.RecordCalculation(kind, err)
	}
}

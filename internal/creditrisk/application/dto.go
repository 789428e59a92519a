package application

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/creditrisk/internal/creditrisk/domain"
	"github.com/wyfcoding/creditrisk/pkg/utils"
)

const dateLayout = "2006-01-02"

// LoanTermsRequest 贷款条款请求 DTO
type LoanTermsRequest struct {
	Principal          float64  `json:"principal" binding:"gte=0"`
	AnnualRate         float64  `json:"annual_rate" binding:"gte=0"` // 年利率（百分比）
	TenorMonths        int      `json:"tenor_months" binding:"required,gt=0"`
	InterestOnlyMonths int      `json:"interest_only_months" binding:"gte=0"`
	Redemption         string   `json:"redemption" binding:"required"`
	AmountDrawn        *float64 `json:"amount_drawn,omitempty"`
}

func (r LoanTermsRequest) toDomain() domain.LoanTerms {
	return domain.LoanTerms{
		Principal:          r.Principal,
		AnnualRate:         r.AnnualRate,
		TenorMonths:        r.TenorMonths,
		InterestOnlyMonths: r.InterestOnlyMonths,
		Redemption:         domain.RedemptionType(r.Redemption),
		AmountDrawn:        r.AmountDrawn,
	}
}

// ScheduleRequest 摊还计划请求 DTO
type ScheduleRequest struct {
	Loan LoanTermsRequest `json:"loan" binding:"required"`
}

// ScheduleEntryDTO 单期明细 DTO
type ScheduleEntryDTO struct {
	Month            int    `json:"month"`
	Interest         string `json:"interest"`
	Principal        string `json:"principal"`
	Payment          string `json:"payment"`
	RemainingBalance string `json:"remaining_balance"`
}

// ScheduleDTO 摊还计划 DTO
type ScheduleDTO struct {
	Redemption     string             `json:"redemption"`
	Months         int                `json:"months"`
	RegularPayment string             `json:"regular_payment"`
	TotalInterest  string             `json:"total_interest"`
	TotalPrincipal string             `json:"total_principal"`
	TotalPaid      string             `json:"total_paid"`
	Entries        []ScheduleEntryDTO `json:"entries"`
}

// FractionalRequest 非整期账单请求 DTO，日期格式 YYYY-MM-DD
type FractionalRequest struct {
	Loan       LoanTermsRequest `json:"loan" binding:"required"`
	StartDate  string           `json:"start_date" binding:"required"`
	InvoiceDay int              `json:"invoice_day" binding:"required,min=1,max=31"`
	AsOf       string           `json:"as_of,omitempty"` // 为空时取当天
}

// FractionalDTO 非整期账单 DTO
type FractionalDTO struct {
	NextInvoiceDate  string  `json:"next_invoice_date"`
	ElapsedPeriods   float64 `json:"elapsed_periods"`
	PeriodIndex      int     `json:"period_index"`
	PeriodFraction   float64 `json:"period_fraction"`
	Interest         string  `json:"interest"`
	Principal        string  `json:"principal"`
	Payment          string  `json:"payment"`
	RemainingBalance string  `json:"remaining_balance"`
	InterestOnly     bool    `json:"interest_only"`
	Completed        bool    `json:"completed"`
}

// SimulationOptions 模拟执行选项，未填写的字段使用服务配置
type SimulationOptions struct {
	Paths       int     `json:"paths,omitempty" binding:"gte=0"`
	Years       int     `json:"years,omitempty" binding:"gte=0"`
	Seed        *uint64 `json:"seed,omitempty"`
	SamplePaths *int    `json:"sample_paths,omitempty"`
}

// CollateralMarketRequest 抵押物类别的市场参数
type CollateralMarketRequest struct {
	ExpectedReturn float64 `json:"expected_return"`
	Volatility     float64 `json:"volatility"`
	Haircut        float64 `json:"haircut"`
}

// CorrelationBlocksRequest 按标签给出的分块相关系数矩阵，未给出的块不覆盖
type CorrelationBlocksRequest struct {
	Sectors              []domain.SectorCode     `json:"sectors"`
	Collateral           []domain.CollateralType `json:"collateral"`
	SectorSector         [][]float64             `json:"sector_sector,omitempty"`
	SectorCollateral     [][]float64             `json:"sector_collateral,omitempty"`
	CollateralCollateral [][]float64             `json:"collateral_collateral,omitempty"`
}

// MarketDataRequest 行业波动率、抵押物市场参数与相关系数
type MarketDataRequest struct {
	SectorVolatility  map[domain.SectorCode]float64                     `json:"sector_volatility,omitempty"`
	CollateralMarkets map[domain.CollateralType]CollateralMarketRequest `json:"collateral_markets,omitempty"`
	Correlation       *CorrelationBlocksRequest                         `json:"correlation,omitempty"`
}

// ModelOverrides 单次调用的模型参数，优先于仓储数据与服务配置
type ModelOverrides struct {
	MarketDataRequest
	RevenueGrowth          *float64 `json:"revenue_growth,omitempty"`
	CostGrowth             *float64 `json:"cost_growth,omitempty"`
	CostVolatility         *float64 `json:"cost_volatility,omitempty"`
	RevenueCostCorrelation *float64 `json:"revenue_cost_correlation,omitempty"`
	TaxRate                *float64 `json:"tax_rate,omitempty"`
}

// EntitySimulationRequest 单主体模拟请求 DTO
type EntitySimulationRequest struct {
	Entity          domain.Entity     `json:"entity" binding:"required"`
	Options         SimulationOptions `json:"options"`
	Model           *ModelOverrides   `json:"model,omitempty"`
	IncludeDuration bool              `json:"include_duration"`
}

// PortfolioSimulationRequest 组合模拟请求 DTO
type PortfolioSimulationRequest struct {
	Entities []domain.Entity   `json:"entities" binding:"required,min=1"`
	Options  SimulationOptions `json:"options"`
	Model    *ModelOverrides   `json:"model,omitempty"`
}

// MarketDataImportDTO 市场数据导入结果
type MarketDataImportDTO struct {
	Sectors      int `json:"sectors"`
	Collateral   int `json:"collateral"`
	Correlations int `json:"correlations"`
}

// DurationPositionRequest 久期分析的一笔贷款
type DurationPositionRequest struct {
	ID            string           `json:"id" binding:"required"`
	Loan          LoanTermsRequest `json:"loan" binding:"required"`
	ElapsedMonths int              `json:"elapsed_months" binding:"gte=0"`
}

// DurationRequest 久期分析请求 DTO
type DurationRequest struct {
	Positions []DurationPositionRequest `json:"positions"`
}

// PercentileBandsDTO 金额分位数 DTO
type PercentileBandsDTO struct {
	P1  string `json:"p1"`
	P5  string `json:"p5"`
	P25 string `json:"p25"`
	P50 string `json:"p50"`
	P75 string `json:"p75"`
	P95 string `json:"p95"`
	P99 string `json:"p99"`
}

// RatioBandsDTO 比率分位数 DTO
type RatioBandsDTO struct {
	P1  float64 `json:"p1"`
	P5  float64 `json:"p5"`
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// SimulationResultDTO 单主体模拟结果 DTO
type SimulationResultDTO struct {
	RunID                string                  `json:"run_id,omitempty"`
	EntityID             string                  `json:"entity_id"`
	PathCount            int                     `json:"path_count"`
	Years                int                     `json:"years"`
	Seed                 uint64                  `json:"seed"`
	ProbabilityOfDefault float64                 `json:"probability_of_default"`
	StandardError        float64                 `json:"standard_error"`
	CumulativePD         []float64               `json:"cumulative_pd"`
	DefaultReasons       map[string]int          `json:"default_reasons"`
	EndingEquity         PercentileBandsDTO      `json:"ending_equity"`
	MeanEndingEquity     string                  `json:"mean_ending_equity"`
	StdEndingEquity      string                  `json:"std_ending_equity"`
	Loss                 PercentileBandsDTO      `json:"loss"`
	ExpectedLoss         string                  `json:"expected_loss"`
	OpeningDebt          string                  `json:"opening_debt"`
	PeakDebt             string                  `json:"peak_debt"`
	CorrelationRepaired  bool                    `json:"correlation_repaired"`
	DegradedInputs       []domain.DegradedInput  `json:"degraded_inputs"`
	SamplePaths          []domain.SimulationPath `json:"sample_paths,omitempty"`
	Duration             *DurationDTO            `json:"duration,omitempty"`
	ElapsedMs            int64                   `json:"elapsed_ms,omitempty"`
}

// PortfolioResultDTO 组合模拟结果 DTO
type PortfolioResultDTO struct {
	RunID                    string                 `json:"run_id"`
	PathCount                int                    `json:"path_count"`
	Years                    int                    `json:"years"`
	Seed                     uint64                 `json:"seed"`
	Entities                 []SimulationResultDTO  `json:"entities"`
	PortfolioDefaultRate     float64                `json:"portfolio_default_rate"`
	JointDefaultRate         float64                `json:"joint_default_rate"`
	ExpectedDefaults         float64                `json:"expected_defaults"`
	TotalExposure            string                 `json:"total_exposure"`
	Loss                     PercentileBandsDTO     `json:"loss"`
	LossRatio                RatioBandsDTO          `json:"loss_ratio"`
	ExpectedLoss             string                 `json:"expected_loss"`
	VaR95                    string                 `json:"var_95"`
	VaR99                    string                 `json:"var_99"`
	ES95                     string                 `json:"es_95"`
	ES99                     string                 `json:"es_99"`
	DefaultCountDistribution []int                  `json:"default_count_distribution"`
	CorrelationRepaired      bool                   `json:"correlation_repaired"`
	DegradedInputs           []domain.DegradedInput `json:"degraded_inputs"`
	ElapsedMs                int64                  `json:"elapsed_ms"`
}

// LoanDurationDTO 单笔贷款久期 DTO
type LoanDurationDTO struct {
	ID              string  `json:"id"`
	RemainingMonths int     `json:"remaining_months"`
	PresentValue    string  `json:"present_value"`
	Macaulay        float64 `json:"macaulay"`
	Modified        float64 `json:"modified"`
	Convexity       float64 `json:"convexity"`
}

// RateSensitivityDTO 利率敏感性 DTO
type RateSensitivityDTO struct {
	ShockPercent     float64 `json:"shock_percent"`
	DeltaPV          string  `json:"delta_pv"`
	DeltaPVConvexity string  `json:"delta_pv_convexity"`
}

// DurationBucketDTO 久期分布桶 DTO，开口桶的上界为 null
type DurationBucketDTO struct {
	LowerYears float64  `json:"lower_years"`
	UpperYears *float64 `json:"upper_years"`
	Count      int      `json:"count"`
	Value      string   `json:"value"`
}

// DurationDTO 久期分析 DTO
type DurationDTO struct {
	Loans             []LoanDurationDTO    `json:"loans"`
	TotalValue        string               `json:"total_value"`
	WeightedMacaulay  float64              `json:"weighted_macaulay"`
	WeightedModified  float64              `json:"weighted_modified"`
	WeightedConvexity float64              `json:"weighted_convexity"`
	Sensitivities     []RateSensitivityDTO `json:"sensitivities"`
	Histogram         []DurationBucketDTO  `json:"histogram"`
}

func money(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0.00"
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}

func ratio(v float64) float64 { return utils.Round(v, 6) }

// roundSamplePaths 逐年明细按展示精度舍入：金额两位小数，冲击六位小数
func roundSamplePaths(paths []domain.SimulationPath) []domain.SimulationPath {
	if len(paths) == 0 {
		return nil
	}
	out := make([]domain.SimulationPath, len(paths))
	for i, p := range paths {
		years := make([]domain.YearState, len(p.Years))
		for y, ys := range p.Years {
			shocks := make([]float64, len(ys.FactorShocks))
			for k, v := range ys.FactorShocks {
				shocks[k] = ratio(v)
			}
			ys.FactorShocks = shocks
			ys.RevenueShock = ratio(ys.RevenueShock)
			ys.Revenue = utils.Money(ys.Revenue)
			ys.OperatingCosts = utils.Money(ys.OperatingCosts)
			ys.EBITDA = utils.Money(ys.EBITDA)
			ys.Interest = utils.Money(ys.Interest)
			ys.Principal = utils.Money(ys.Principal)
			ys.Drawdown = utils.Money(ys.Drawdown)
			ys.Tax = utils.Money(ys.Tax)
			ys.NetIncome = utils.Money(ys.NetIncome)
			ys.Equity = utils.Money(ys.Equity)
			ys.TotalAssets = utils.Money(ys.TotalAssets)
			ys.LiquidAssets = utils.Money(ys.LiquidAssets)
			ys.OutstandingDebt = utils.Money(ys.OutstandingDebt)
			ys.CollateralValue = utils.Money(ys.CollateralValue)
			ys.EffectiveCollateral = utils.Money(ys.EffectiveCollateral)
			years[y] = ys
		}
		o := p.Outcome
		o.EndingEquity = utils.Money(o.EndingEquity)
		o.Exposure = utils.Money(o.Exposure)
		o.Loss = utils.Money(o.Loss)
		out[i] = domain.SimulationPath{Path: p.Path, Years: years, Outcome: o}
	}
	return out
}

func toScheduleDTO(t domain.LoanTerms, entries []domain.ScheduleEntry) *ScheduleDTO {
	s := domain.Summarize(entries)
	dto := &ScheduleDTO{
		Redemption:     string(t.Redemption),
		Months:         s.Months,
		RegularPayment: money(s.RegularPayment),
		TotalInterest:  money(s.TotalInterest),
		TotalPrincipal: money(s.TotalPrincipal),
		TotalPaid:      money(s.TotalPaid),
		Entries:        make([]ScheduleEntryDTO, len(entries)),
	}
	for i, e := range entries {
		dto.Entries[i] = ScheduleEntryDTO{
			Month:            e.Month,
			Interest:         money(e.Interest),
			Principal:        money(e.Principal),
			Payment:          money(e.Payment),
			RemainingBalance: money(e.RemainingBalance),
		}
	}
	return dto
}

func toFractionalDTO(p *domain.FractionalPeriod) *FractionalDTO {
	return &FractionalDTO{
		NextInvoiceDate:  p.NextInvoiceDate.Format(dateLayout),
		ElapsedPeriods:   ratio(p.ElapsedPeriods),
		PeriodIndex:      p.PeriodIndex,
		PeriodFraction:   ratio(p.PeriodFraction),
		Interest:         money(p.Interest),
		Principal:        money(p.Principal),
		Payment:          money(p.Payment),
		RemainingBalance: money(p.RemainingBalance),
		InterestOnly:     p.InterestOnly,
		Completed:        p.Completed,
	}
}

func toMoneyBands(b domain.PercentileBands) PercentileBandsDTO {
	return PercentileBandsDTO{
		P1: money(b.P1), P5: money(b.P5), P25: money(b.P25), P50: money(b.P50),
		P75: money(b.P75), P95: money(b.P95), P99: money(b.P99),
	}
}

func toRatioBands(b domain.PercentileBands) RatioBandsDTO {
	return RatioBandsDTO{
		P1: ratio(b.P1), P5: ratio(b.P5), P25: ratio(b.P25), P50: ratio(b.P50),
		P75: ratio(b.P75), P95: ratio(b.P95), P99: ratio(b.P99),
	}
}

func toSimulationResultDTO(r *domain.SimulationResult, seed uint64) SimulationResultDTO {
	reasons := make(map[string]int, len(r.DefaultReasons))
	for k, v := range r.DefaultReasons {
		reasons[string(k)] = v
	}
	cumulative := make([]float64, len(r.CumulativePD))
	for i, v := range r.CumulativePD {
		cumulative[i] = ratio(v)
	}
	degraded := r.DegradedInputs
	if degraded == nil {
		degraded = []domain.DegradedInput{}
	}
	dto := SimulationResultDTO{
		EntityID:             r.EntityID,
		PathCount:            r.PathCount,
		Years:                r.Years,
		Seed:                 seed,
		ProbabilityOfDefault: ratio(r.ProbabilityOfDefault),
		StandardError:        ratio(r.StandardError),
		CumulativePD:         cumulative,
		DefaultReasons:       reasons,
		EndingEquity:         toMoneyBands(r.EndingEquity),
		MeanEndingEquity:     money(r.MeanEndingEquity),
		StdEndingEquity:      money(r.StdEndingEquity),
		Loss:                 toMoneyBands(r.Loss),
		ExpectedLoss:         money(r.ExpectedLoss),
		OpeningDebt:          money(r.OpeningDebt),
		PeakDebt:             money(r.PeakDebt),
		CorrelationRepaired:  r.CorrelationRepaired,
		DegradedInputs:       degraded,
		SamplePaths:          roundSamplePaths(r.SamplePaths),
	}
	if r.Duration != nil {
		dto.Duration = toDurationDTO(r.Duration)
	}
	return dto
}

func toPortfolioResultDTO(r *domain.PortfolioSimulationResult, seed uint64) *PortfolioResultDTO {
	dto := &PortfolioResultDTO{
		PathCount:                r.PathCount,
		Years:                    r.Years,
		Seed:                     seed,
		Entities:                 make([]SimulationResultDTO, len(r.Entities)),
		PortfolioDefaultRate:     ratio(r.PortfolioDefaultRate),
		JointDefaultRate:         ratio(r.JointDefaultRate),
		ExpectedDefaults:         ratio(r.ExpectedDefaults),
		TotalExposure:            money(r.TotalExposure),
		Loss:                     toMoneyBands(r.Loss),
		LossRatio:                toRatioBands(r.LossRatio),
		ExpectedLoss:             money(r.ExpectedLoss),
		VaR95:                    money(r.VaR95),
		VaR99:                    money(r.VaR99),
		ES95:                     money(r.ES95),
		ES99:                     money(r.ES99),
		DefaultCountDistribution: r.DefaultCountDistribution,
		CorrelationRepaired:      r.CorrelationRepaired,
		DegradedInputs:           r.DegradedInputs,
	}
	if dto.DegradedInputs == nil {
		dto.DegradedInputs = []domain.DegradedInput{}
	}
	for i := range r.Entities {
		dto.Entities[i] = toSimulationResultDTO(&r.Entities[i], seed)
	}
	return dto
}

func toDurationDTO(r *domain.DurationReport) *DurationDTO {
	dto := &DurationDTO{
		Loans:             make([]LoanDurationDTO, len(r.Loans)),
		TotalValue:        money(r.TotalValue),
		WeightedMacaulay:  ratio(r.WeightedMacaulay),
		WeightedModified:  ratio(r.WeightedModified),
		WeightedConvexity: ratio(r.WeightedConvexity),
		Sensitivities:     make([]RateSensitivityDTO, len(r.Sensitivities)),
		Histogram:         make([]DurationBucketDTO, len(r.Histogram)),
	}
	for i, l := range r.Loans {
		dto.Loans[i] = LoanDurationDTO{
			ID:              l.ID,
			RemainingMonths: l.RemainingMonths,
			PresentValue:    money(l.PresentValue),
			Macaulay:        ratio(l.Macaulay),
			Modified:        ratio(l.Modified),
			Convexity:       ratio(l.Convexity),
		}
	}
	for i, s := range r.Sensitivities {
		dto.Sensitivities[i] = RateSensitivityDTO{
			ShockPercent:     s.ShockPercent,
			DeltaPV:          money(s.DeltaPV),
			DeltaPVConvexity: money(s.DeltaPVConvexity),
		}
	}
	for i, b := range r.Histogram {
		bucket := DurationBucketDTO{LowerYears: b.LowerYears, Count: b.Count, Value: money(b.Value)}
		if !math.IsInf(b.UpperYears, 1) {
			upper := b.UpperYears
			bucket.UpperYears = &upper
		}
		dto.Histogram[i] = bucket
	}
	return dto
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, invalidInput("%s must be YYYY-MM-DD, got %q", field, s)
	}
	return t, nil
}

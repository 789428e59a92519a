package domain

import (
	"fmt"
	"math"
)

// RateShocks 利率敏感性分析的平行冲击（百分点）
var RateShocks = []float64{1, 2, 5}

// DurationBucket 久期分布桶（年），上界为 +Inf 表示开口
type DurationBucket struct {
	LowerYears float64 `json:"lower_years"`
	UpperYears float64 `json:"upper_years"`
	Count      int     `json:"count"`
	Value      float64 `json:"value"`
}

var bucketBounds = []float64{0, 1, 3, 5, 10, math.Inf(1)}

// DurationPosition 参与久期分析的一笔贷款
type DurationPosition struct {
	ID            string    `json:"id"`
	Terms         LoanTerms `json:"terms"`
	ElapsedMonths int       `json:"elapsed_months"` // 已支付期数
}

// LoanDuration 单笔贷款的久期指标
type LoanDuration struct {
	ID              string  `json:"id"`
	RemainingMonths int     `json:"remaining_months"`
	PresentValue    float64 `json:"present_value"`
	Macaulay        float64 `json:"macaulay"` // 年
	Modified        float64 `json:"modified"` // 年
	Convexity       float64 `json:"convexity"`
}

// RateSensitivity 单个利率冲击下的组合价值变化
type RateSensitivity struct {
	ShockPercent float64 `json:"shock_percent"`
	// DeltaPV 一阶近似 −D_mod·Δr·PV
	DeltaPV float64 `json:"delta_pv"`
	// DeltaPVConvexity 加入二阶凸性修正后的变化
	DeltaPVConvexity float64 `json:"delta_pv_convexity"`
}

// DurationReport 贷款组合的久期分析结果
type DurationReport struct {
	Loans             []LoanDuration    `json:"loans"`
	TotalValue        float64           `json:"total_value"`
	WeightedMacaulay  float64           `json:"weighted_macaulay"`
	WeightedModified  float64           `json:"weighted_modified"`
	WeightedConvexity float64           `json:"weighted_convexity"`
	Sensitivities     []RateSensitivity `json:"sensitivities"`
	Histogram         []DurationBucket  `json:"histogram"`
}

// AnalyzeDuration 计算每笔存续贷款的久期并按现值加权汇总。已结清的贷款不参与
func AnalyzeDuration(positions []DurationPosition) (*DurationReport, error) {
	report := &DurationReport{Loans: make([]LoanDuration, 0, len(positions))}
	for _, p := range positions {
		if p.ElapsedMonths < 0 {
			return nil, fmt.Errorf("%w: loan %s elapsed months must be non-negative", ErrInvalidLoanTerms, p.ID)
		}
		entries, err := GenerateSchedule(p.Terms)
		if err != nil {
			return nil, fmt.Errorf("loan %s: %w", p.ID, err)
		}
		if p.ElapsedMonths >= len(entries) {
			continue
		}
		d := loanDuration(p.Terms, entries[p.ElapsedMonths:])
		d.ID = p.ID
		report.Loans = append(report.Loans, d)
	}

	for _, d := range report.Loans {
		report.TotalValue += d.PresentValue
	}
	if report.TotalValue > 0 {
		for _, d := range report.Loans {
			w := d.PresentValue / report.TotalValue
			report.WeightedMacaulay += w * d.Macaulay
			report.WeightedModified += w * d.Modified
			report.WeightedConvexity += w * d.Convexity
		}
	}
	for _, shock := range RateShocks {
		dr := shock / 100
		first := -report.WeightedModified * dr * report.TotalValue
		report.Sensitivities = append(report.Sensitivities, RateSensitivity{
			ShockPercent:     shock,
			DeltaPV:          first,
			DeltaPVConvexity: first + 0.5*report.WeightedConvexity*dr*dr*report.TotalValue,
		})
	}
	report.Histogram = durationHistogram(report.Loans)
	return report, nil
}

func loanDuration(t LoanTerms, remaining []ScheduleEntry) LoanDuration {
	r := t.MonthlyRate()
	d := LoanDuration{
		RemainingMonths: len(remaining),
		PresentValue:    presentValue(remaining, r),
	}
	if r == 0 {
		// 零利率：久期取剩余期限
		d.Macaulay = float64(len(remaining)) / 12
		d.Modified = d.Macaulay
		d.Convexity = discountedConvexity(remaining, r, d.PresentValue)
		return d
	}
	d.Macaulay = conventions[t.Redemption].macaulayMonths(t, remaining) / 12
	d.Modified = d.Macaulay / (1 + r)
	d.Convexity = discountedConvexity(remaining, r, d.PresentValue)
	return d
}

func presentValue(remaining []ScheduleEntry, r float64) float64 {
	var pv float64
	for k, e := range remaining {
		pv += e.Payment * math.Pow(1+r, -float64(k+1))
	}
	return pv
}

// annuityMacaulayMonths 等额本息闭式解 (1+r)/r − n/((1+r)^n − 1)；仍处只付息期时回退现金流折现
func annuityMacaulayMonths(t LoanTerms, remaining []ScheduleEntry) float64 {
	r := t.MonthlyRate()
	n := len(remaining)
	if n == 0 {
		return 0
	}
	if r == 0 || remaining[0].Month <= t.InterestOnlyMonths {
		return discountedMacaulayMonths(t, remaining)
	}
	return (1+r)/r - float64(n)/(math.Pow(1+r, float64(n))-1)
}

// discountedMacaulayMonths 按贷款自身月利率逐期折现求加权平均期限
func discountedMacaulayMonths(t LoanTerms, remaining []ScheduleEntry) float64 {
	r := t.MonthlyRate()
	var pv, weighted float64
	for k, e := range remaining {
		v := e.Payment * math.Pow(1+r, -float64(k+1))
		pv += v
		weighted += float64(k+1) * v
	}
	if pv == 0 {
		return float64(len(remaining))
	}
	return weighted / pv
}

// discountedConvexity 凸性（年²）：Σ CF·k(k+1)·v^(k+2) / PV / 144
func discountedConvexity(remaining []ScheduleEntry, r, pv float64) float64 {
	if pv == 0 {
		return 0
	}
	var c float64
	for k, e := range remaining {
		n := float64(k + 1)
		c += e.Payment * n * (n + 1) * math.Pow(1+r, -(n+2))
	}
	return c / pv / 144
}

func durationHistogram(loans []LoanDuration) []DurationBucket {
	buckets := make([]DurationBucket, len(bucketBounds)-1)
	for i := range buckets {
		buckets[i] = DurationBucket{LowerYears: bucketBounds[i], UpperYears: bucketBounds[i+1]}
	}
	for _, d := range loans {
		for i := range buckets {
			if d.Macaulay >= buckets[i].LowerYears && d.Macaulay < buckets[i].UpperYears {
				buckets[i].Count++
				buckets[i].Value += d.PresentValue
				break
			}
		}
	}
	return buckets
}

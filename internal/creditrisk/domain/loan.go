package domain

import (
	"fmt"
	"math"
)

// RedemptionType 还款方式
type RedemptionType string

const (
	RedemptionAnnuity       RedemptionType = "ANNUITY"        // 等额本息
	RedemptionLinear        RedemptionType = "LINEAR"         // 等额本金
	RedemptionBullet        RedemptionType = "BULLET"         // 到期一次还本
	RedemptionBuildingDepot RedemptionType = "BUILDING_DEPOT" // 循环/提款额度，按已提款额计息
)

// LoanTerms 贷款条款，请求计划后不可变
type LoanTerms struct {
	Principal          float64        `json:"principal"`
	AnnualRate         float64        `json:"annual_rate"` // 年名义利率（百分比）
	TenorMonths        int            `json:"tenor_months"`
	InterestOnlyMonths int            `json:"interest_only_months"`
	Redemption         RedemptionType `json:"redemption"`
	AmountDrawn        *float64       `json:"amount_drawn,omitempty"` // 仅 BUILDING_DEPOT 使用
}

// MonthlyRate 月利率 = 年利率 / 12 / 100
func (t LoanTerms) MonthlyRate() float64 {
	return t.AnnualRate / 12 / 100
}

// Basis 计息与还本基数。BUILDING_DEPOT 使用已提款额，其余使用本金
func (t LoanTerms) Basis() float64 {
	if t.Redemption == RedemptionBuildingDepot && t.AmountDrawn != nil {
		return *t.AmountDrawn
	}
	return t.Principal
}

// InterestOnlyWindow 只付息窗口长度（月）。到期还本类方式除末期外均为只付息
func (t LoanTerms) InterestOnlyWindow() int {
	c, ok := conventions[t.Redemption]
	if !ok {
		return t.InterestOnlyMonths
	}
	return c.interestOnlyMonths(t)
}

// Validate 校验贷款条款
func (t LoanTerms) Validate() error {
	if t.TenorMonths <= 0 {
		return fmt.Errorf("%w: tenor must be positive, got %d", ErrInvalidLoanTerms, t.TenorMonths)
	}
	if t.InterestOnlyMonths < 0 || t.InterestOnlyMonths >= t.TenorMonths {
		return fmt.Errorf("%w: interest-only months %d must be in [0, %d)", ErrInvalidLoanTerms, t.InterestOnlyMonths, t.TenorMonths)
	}
	if !isFinite(t.AnnualRate) || t.AnnualRate < 0 {
		return fmt.Errorf("%w: annual rate must be non-negative, got %v", ErrInvalidLoanTerms, t.AnnualRate)
	}
	if _, ok := conventions[t.Redemption]; !ok {
		return fmt.Errorf("%w: unsupported redemption type %q", ErrInvalidLoanTerms, t.Redemption)
	}
	if t.Redemption == RedemptionBuildingDepot {
		if t.AmountDrawn == nil || !isFinite(*t.AmountDrawn) || *t.AmountDrawn <= 0 {
			return fmt.Errorf("%w: building depot requires a positive amount drawn", ErrInvalidLoanTerms)
		}
		return nil
	}
	if !isFinite(t.Principal) || t.Principal <= 0 {
		return fmt.Errorf("%w: principal must be positive, got %v", ErrInvalidLoanTerms, t.Principal)
	}
	return nil
}

// ScheduleEntry 单期摊还明细
type ScheduleEntry struct {
	Month            int     `json:"month"`
	Interest         float64 `json:"interest"`
	Principal        float64 `json:"principal"`
	Payment          float64 `json:"payment"`
	RemainingBalance float64 `json:"remaining_balance"`
}

func newEntry(month int, interest, principal, balance float64) ScheduleEntry {
	return ScheduleEntry{
		Month:            month,
		Interest:         interest,
		Principal:        principal,
		Payment:          interest + principal,
		RemainingBalance: balance,
	}
}

// ScheduleSummary 摊还计划汇总
type ScheduleSummary struct {
	Months         int     `json:"months"`
	TotalInterest  float64 `json:"total_interest"`
	TotalPrincipal float64 `json:"total_principal"`
	TotalPaid      float64 `json:"total_paid"`
	// RegularPayment 首个还本期的应付金额（等额本息下为固定月供）
	RegularPayment float64 `json:"regular_payment"`
}

// Summarize 汇总计划
func Summarize(entries []ScheduleEntry) ScheduleSummary {
	s := ScheduleSummary{Months: len(entries)}
	for _, e := range entries {
		s.TotalInterest += e.Interest
		s.TotalPrincipal += e.Principal
		if s.RegularPayment == 0 && e.Principal > 0 {
			s.RegularPayment = e.Payment
		}
	}
	s.TotalPaid = s.TotalInterest + s.TotalPrincipal
	return s
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

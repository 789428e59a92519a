package domain

import (
	"fmt"
	"time"
)

// FractionalInput 非整期账单计算输入
type FractionalInput struct {
	Terms      LoanTerms
	StartDate  time.Time // 放款日
	InvoiceDay int       // 每月账单日 1-31
	AsOf       time.Time // 计算基准日（今天）
}

// FractionalPeriod 账单日对应的插值结果
type FractionalPeriod struct {
	NextInvoiceDate  time.Time `json:"next_invoice_date"`
	ElapsedPeriods   float64   `json:"elapsed_periods"`
	PeriodIndex      int       `json:"period_index"` // 当前所处期次，从 1 开始
	PeriodFraction   float64   `json:"period_fraction"`
	Interest         float64   `json:"interest"`
	Principal        float64   `json:"principal"`
	Payment          float64   `json:"payment"`
	RemainingBalance float64   `json:"remaining_balance"`
	InterestOnly     bool      `json:"interest_only"`
	Completed        bool      `json:"completed"`
}

// NextInvoiceDate 不早于 asOf 的下一个账单日，月末自动截断（如 31 日在二月取月末）
func NextInvoiceDate(asOf time.Time, invoiceDay int) time.Time {
	asOf = DateOnly(asOf)
	candidate := ClampedDate(asOf.Year(), asOf.Month(), invoiceDay)
	if candidate.Before(asOf) {
		candidate = ClampedDate(asOf.Year(), asOf.Month()+1, invoiceDay)
	}
	return candidate
}

// ElapsedPeriods 自放款日起经过的整月数，以及当前期内按实际天数计的比例
func ElapsedPeriods(start, at time.Time) (whole int, fraction float64) {
	start, at = DateOnly(start), DateOnly(at)
	if !at.After(start) {
		return 0, 0
	}
	whole = (at.Year()-start.Year())*12 + int(at.Month()) - int(start.Month())
	for whole > 0 && AddMonths(start, whole).After(at) {
		whole--
	}
	lower := AddMonths(start, whole)
	upper := AddMonths(start, whole+1)
	return whole, float64(DaysBetween(lower, at)) / float64(DaysBetween(lower, upper))
}

// CalculateFractionalPeriod 计算账单日与贷款周年日不一致时的插值应付
// 在两个相邻整期计划条目之间按当期已过天数线性插值；已过期数达到期限后返回零应付与完成标记
func CalculateFractionalPeriod(in FractionalInput) (*FractionalPeriod, error) {
	if in.InvoiceDay < 1 || in.InvoiceDay > 31 {
		return nil, fmt.Errorf("%w: invoice day must be in [1, 31], got %d", ErrInvalidLoanTerms, in.InvoiceDay)
	}
	if in.StartDate.IsZero() {
		return nil, fmt.Errorf("%w: start date is required", ErrInvalidLoanTerms)
	}
	entries, err := GenerateSchedule(in.Terms)
	if err != nil {
		return nil, err
	}

	next := NextInvoiceDate(in.AsOf, in.InvoiceDay)
	whole, fraction := ElapsedPeriods(in.StartDate, next)
	res := &FractionalPeriod{
		NextInvoiceDate: next,
		ElapsedPeriods:  float64(whole) + fraction,
		PeriodIndex:     whole + 1,
		PeriodFraction:  fraction,
	}
	tenor := in.Terms.TenorMonths
	if res.ElapsedPeriods >= float64(tenor) {
		res.PeriodIndex = tenor
		res.Completed = true
		return res, nil
	}

	// 首期之前没有已支付条目，以首期的付款结构和全额基数作为下界
	lower := entries[0]
	lower.RemainingBalance = in.Terms.Basis()
	if whole > 0 {
		lower = entries[whole-1]
	}
	upper := entries[whole]

	res.Interest = lerp(lower.Interest, upper.Interest, fraction)
	res.Principal = lerp(lower.Principal, upper.Principal, fraction)
	res.Payment = res.Interest + res.Principal
	res.RemainingBalance = lerp(lower.RemainingBalance, upper.RemainingBalance, fraction)
	res.InterestOnly = res.PeriodIndex <= in.Terms.InterestOnlyWindow()
	return res, nil
}

func lerp(a, b, f float64) float64 {
	return a + (b-a)*f
}

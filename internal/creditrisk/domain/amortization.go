package domain

import (
	"math"
)

// convention 单一还款方式的全部行为，入参均已通过校验
type convention struct {
	// schedule 生成完整逐月计划
	schedule func(t LoanTerms) []ScheduleEntry
	// interestOnlyMonths 只付息窗口长度（月）
	interestOnlyMonths func(t LoanTerms) int
	// macaulayMonths 剩余现金流的麦考利久期（月），remaining 为尚未支付的计划条目
	macaulayMonths func(t LoanTerms, remaining []ScheduleEntry) float64
}

// conventions 还款方式的唯一分派点，新增方式只需在此注册
var conventions = map[RedemptionType]convention{
	RedemptionAnnuity: {
		schedule:           annuitySchedule,
		interestOnlyMonths: declaredInterestOnly,
		macaulayMonths:     annuityMacaulayMonths,
	},
	RedemptionLinear: {
		schedule:           linearSchedule,
		interestOnlyMonths: declaredInterestOnly,
		macaulayMonths:     discountedMacaulayMonths,
	},
	RedemptionBullet: {
		schedule:           bulletSchedule,
		interestOnlyMonths: allButLastMonth,
		macaulayMonths:     discountedMacaulayMonths,
	},
	RedemptionBuildingDepot: {
		schedule:           buildingDepotSchedule,
		interestOnlyMonths: allButLastMonth,
		macaulayMonths:     discountedMacaulayMonths,
	},
}

func declaredInterestOnly(t LoanTerms) int { return t.InterestOnlyMonths }

func allButLastMonth(t LoanTerms) int { return t.TenorMonths - 1 }

// GenerateSchedule 根据贷款条款生成逐月摊还计划，长度等于期限
// 内部计算不做中间舍入，末期吸收残差使剩余本金恰好为 0
func GenerateSchedule(t LoanTerms) ([]ScheduleEntry, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return conventions[t.Redemption].schedule(t), nil
}

// AnnuityPayment 等额本息月供。零利率时退化为 本金/剩余期数
func AnnuityPayment(balance, monthlyRate float64, periods int) float64 {
	if periods <= 0 {
		return balance
	}
	if monthlyRate == 0 {
		return balance / float64(periods)
	}
	return balance * monthlyRate / (1 - math.Pow(1+monthlyRate, -float64(periods)))
}

func annuitySchedule(t LoanTerms) []ScheduleEntry {
	r := t.MonthlyRate()
	balance := t.Basis()
	entries := make([]ScheduleEntry, 0, t.TenorMonths)

	var payment float64
	for m := 1; m <= t.TenorMonths; m++ {
		interest := balance * r
		var principal float64
		switch {
		case m <= t.InterestOnlyMonths:
			// 只付息期
		case m == t.TenorMonths:
			principal = balance
		default:
			// 只付息期结束后按剩余期限重新计算固定月供
			if m == t.InterestOnlyMonths+1 {
				payment = AnnuityPayment(balance, r, t.TenorMonths-t.InterestOnlyMonths)
			}
			principal = payment - interest
		}
		balance -= principal
		entries = append(entries, newEntry(m, interest, principal, balance))
	}
	return entries
}

func linearSchedule(t LoanTerms) []ScheduleEntry {
	r := t.MonthlyRate()
	balance := t.Basis()
	perPeriod := balance / float64(t.TenorMonths-t.InterestOnlyMonths)
	entries := make([]ScheduleEntry, 0, t.TenorMonths)

	for m := 1; m <= t.TenorMonths; m++ {
		interest := balance * r
		var principal float64
		switch {
		case m <= t.InterestOnlyMonths:
		case m == t.TenorMonths:
			principal = balance
		default:
			principal = perPeriod
		}
		balance -= principal
		entries = append(entries, newEntry(m, interest, principal, balance))
	}
	return entries
}

func bulletSchedule(t LoanTerms) []ScheduleEntry {
	return interestOnlyUntilMaturity(t.Basis(), t.MonthlyRate(), t.TenorMonths)
}

// buildingDepotSchedule 按已提款额计息，到期偿还已提款额
func buildingDepotSchedule(t LoanTerms) []ScheduleEntry {
	return interestOnlyUntilMaturity(*t.AmountDrawn, t.MonthlyRate(), t.TenorMonths)
}

func interestOnlyUntilMaturity(basis, r float64, tenor int) []ScheduleEntry {
	entries := make([]ScheduleEntry, 0, tenor)
	interest := basis * r
	for m := 1; m < tenor; m++ {
		entries = append(entries, newEntry(m, interest, 0, basis))
	}
	return append(entries, newEntry(tenor, interest, basis, 0))
}

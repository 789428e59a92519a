package domain

// YearDebtService 某一模拟年度的偿债现金流
type YearDebtService struct {
	Interest       float64
	Principal      float64
	Drawdown       float64 // 本年度放款金额
	OpeningBalance float64
	ClosingBalance float64
}

// DebtService 本年应付本息
func (y YearDebtService) DebtService() float64 { return y.Interest + y.Principal }

// AggregateByYear 将逐月计划按模拟年度汇总。期中放款或到期的贷款只贡献部分年度
func AggregateByYear(entries []ScheduleEntry, basis float64, startMonth, years int) []YearDebtService {
	out := make([]YearDebtService, years)
	for y := range years {
		first, last := y*12+1, (y+1)*12
		ys := YearDebtService{
			OpeningBalance: balanceAfter(entries, basis, startMonth, first-1),
			ClosingBalance: balanceAfter(entries, basis, startMonth, last),
		}
		// 放款发生在第 startMonth+1 个月初
		if startMonth > 0 && startMonth/12 == y {
			ys.Drawdown = basis
		}
		for m := first; m <= last; m++ {
			loanMonth := m - startMonth
			if loanMonth < 1 || loanMonth > len(entries) {
				continue
			}
			e := entries[loanMonth-1]
			ys.Interest += e.Interest
			ys.Principal += e.Principal
		}
		out[y] = ys
	}
	return out
}

// balanceAfter 模拟第 simMonth 个月末的未偿余额
func balanceAfter(entries []ScheduleEntry, basis float64, startMonth, simMonth int) float64 {
	if simMonth < startMonth {
		return 0
	}
	loanMonth := simMonth - startMonth
	switch {
	case loanMonth <= 0:
		return basis
	case loanMonth >= len(entries):
		return 0
	default:
		return entries[loanMonth-1].RemainingBalance
	}
}

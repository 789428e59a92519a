package domain

import (
	"math"
	"time"
)

// DateOnly 截断到 UTC 日期
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysInMonth 指定月份的天数
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampedDate 构造日期，day 超过当月天数时取月末。month 可越界，按年进位
func ClampedDate(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 0, min(day, DaysInMonth(first.Year(), first.Month()))-1)
}

// AddMonths 与 Excel EDATE 一致：目标月没有该日时取月末，避免 time.AddDate 的溢出归一化
func AddMonths(t time.Time, months int) time.Time {
	return ClampedDate(t.Year(), t.Month()+time.Month(months), t.Day())
}

// DaysBetween 两个日期之间的实际天数
func DaysBetween(start, end time.Time) int {
	return int(math.Round(DateOnly(end).Sub(DateOnly(start)).Hours() / 24))
}

// YearFractionActAct ACT/ACT (ISDA) 年化比例：按自然年拆分，分别除以 365 或 366
func YearFractionActAct(start, end time.Time) float64 {
	start, end = DateOnly(start), DateOnly(end)
	if !end.After(start) {
		return 0
	}
	var yf float64
	for cursor := start; cursor.Before(end); {
		nextYear := time.Date(cursor.Year()+1, time.January, 1, 0, 0, 0, 0, time.UTC)
		if nextYear.After(end) {
			nextYear = end
		}
		yf += float64(DaysBetween(cursor, nextYear)) / float64(daysInYear(cursor.Year()))
		cursor = nextYear
	}
	return yf
}

func daysInYear(year int) int {
	return DaysBetween(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC))
}

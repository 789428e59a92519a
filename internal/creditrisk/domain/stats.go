package domain

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// PercentileBands 分位数带
type PercentileBands struct {
	P1  float64 `json:"p1"`
	P5  float64 `json:"p5"`
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// NewPercentileBands 计算经验分位数，不修改输入
func NewPercentileBands(values []float64) PercentileBands {
	if len(values) == 0 {
		return PercentileBands{}
	}
	sorted := sortedCopy(values)
	q := func(p float64) float64 { return stat.Quantile(p, stat.Empirical, sorted, nil) }
	return PercentileBands{
		P1: q(0.01), P5: q(0.05), P25: q(0.25), P50: q(0.50),
		P75: q(0.75), P95: q(0.95), P99: q(0.99),
	}
}

// TailRisk 给定置信水平的风险价值与期望损失（损失为正）
func TailRisk(losses []float64, level float64) (valueAtRisk, expectedShortfall float64) {
	if len(losses) == 0 {
		return 0, 0
	}
	sorted := sortedCopy(losses)
	valueAtRisk = stat.Quantile(level, stat.Empirical, sorted, nil)
	idx, _ := slices.BinarySearch(sorted, valueAtRisk)
	expectedShortfall = stat.Mean(sorted[idx:], nil)
	return valueAtRisk, expectedShortfall
}

// meanStd 均值与样本标准差，单个样本时标准差为 0
func meanStd(values []float64) (float64, float64) {
	switch len(values) {
	case 0:
		return 0, 0
	case 1:
		return values[0], 0
	}
	return stat.MeanStdDev(values, nil)
}

// bernoulliStdErr 违约概率估计的标准误 sqrt(p(1−p)/n)
func bernoulliStdErr(p float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return math.Sqrt(p * (1 - p) / float64(n))
}

func sortedCopy(values []float64) []float64 {
	out := slices.Clone(values)
	slices.Sort(out)
	return out
}

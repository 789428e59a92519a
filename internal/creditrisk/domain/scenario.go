package domain

import (
	"math"
	"math/rand/v2"
)

const (
	// maxShockSigma 单个标准正态冲击的截断幅度
	maxShockSigma = 8.0
	// maxResample 非有限抽样的重抽次数，超过后取 0
	maxResample = 4
	// systemicStream 系统性因子使用的随机流编号，主体特质冲击从 1 开始
	systemicStream uint64 = 0
)

// ScenarioGenerator 相关情景生成器
// 每条路径、每个随机流都由 (主种子, 流编号, 路径号) 确定性派生，结果与并发度无关
type ScenarioGenerator struct {
	factorization *Factorization
	seed          uint64
	years         int
}

// NewScenarioGenerator 创建情景生成器
func NewScenarioGenerator(f *Factorization, seed uint64, years int) *ScenarioGenerator {
	return &ScenarioGenerator{factorization: f, seed: seed, years: years}
}

// PathShocks 一条路径上各年的相关因子冲击，Factors[year][factor]
type PathShocks struct {
	Path    int
	Factors [][]float64
}

// SystemicShocks 生成路径 path 的相关标准正态冲击，组合内所有主体共享
func (g *ScenarioGenerator) SystemicShocks(path int) PathShocks {
	r := g.stream(systemicStream, path)
	n := g.factorization.Size()
	z := make([]float64, n)
	out := PathShocks{Path: path, Factors: make([][]float64, g.years)}
	for y := range g.years {
		for i := range z {
			z[i] = drawNormal(r)
		}
		x := make([]float64, n)
		g.factorization.Correlate(z, x)
		for i := range x {
			x[i] = sanitizeShock(x[i])
		}
		out.Factors[y] = x
	}
	return out
}

// IdiosyncraticStream 主体 entityIndex 在路径 path 上的独立随机流
func (g *ScenarioGenerator) IdiosyncraticStream(entityIndex, path int) *rand.Rand {
	return g.stream(uint64(entityIndex)+1, path)
}

func (g *ScenarioGenerator) stream(id uint64, path int) *rand.Rand {
	return rand.New(rand.NewPCG(splitmix64(g.seed^splitmix64(id)), uint64(path)))
}

// splitmix64 种子混合函数
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// drawNormal 抽取标准正态数；非有限值重抽，超限值截断
func drawNormal(r *rand.Rand) float64 {
	for range maxResample {
		if z := r.NormFloat64(); isFinite(z) {
			return sanitizeShock(z)
		}
	}
	return 0
}

func sanitizeShock(x float64) float64 {
	if !isFinite(x) {
		return 0
	}
	return math.Max(-maxShockSigma, math.Min(maxShockSigma, x))
}

// RevenueShockModel 主体营收冲击：行业因子加权（权重×行业波动率）加特质残差
// 残差波动率使总方差等于按权重加总的行业波动率的平方
type RevenueShockModel struct {
	loadings    []sectorWeight // weight 字段为 权重×行业波动率
	residualVol float64
	totalVol    float64
}

// NewRevenueShockModel 构造营收冲击模型
// 无行业拆分时退化为单一总体波动率的纯特质冲击；residualOverride 非空时使用主体指定的残差波动率
func NewRevenueShockModel(exposure SectorExposure, sectorVol func(SectorCode) float64, corr *CorrelationMatrix, aggregateVol float64, residualOverride *float64) RevenueShockModel {
	if len(exposure) == 0 {
		return RevenueShockModel{residualVol: aggregateVol, totalVol: aggregateVol}
	}

	loadings := exposure.resolve(corr.Factors())
	var target float64
	for i := range loadings {
		loadings[i].weight *= sectorVol(loadings[i].code)
		target += loadings[i].weight
	}
	var systematicVar float64
	for _, a := range loadings {
		for _, b := range loadings {
			systematicVar += a.weight * b.weight * corr.At(a.index, b.index)
		}
	}
	systematicVar = math.Max(0, systematicVar)

	residual := math.Sqrt(math.Max(0, target*target-systematicVar))
	if residualOverride != nil {
		residual = *residualOverride
		target = math.Sqrt(systematicVar + residual*residual)
	}
	return RevenueShockModel{loadings: loadings, residualVol: residual, totalVol: target}
}

// Shock 给定当年相关因子冲击与特质标准正态数，返回营收冲击（已含波动率）
func (m RevenueShockModel) Shock(factors []float64, eps float64) float64 {
	s := m.residualVol * eps
	for _, l := range m.loadings {
		s += l.weight * factors[l.index]
	}
	return s
}

// TotalVolatility 营收冲击的总波动率
func (m RevenueShockModel) TotalVolatility() float64 { return m.totalVol }

// CollateralStep 几何布朗运动一年步进：V·exp((μ − ½σ²) + σ·z)
func CollateralStep(value, expectedReturn, volatility, shock float64) float64 {
	return value * math.Exp(expectedReturn-0.5*volatility*volatility+volatility*shock)
}

package domain

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	correlationTolerance = 1e-9
	// minEigenvalue 修复时特征值的下限，使修复后的矩阵严格正定可做 Cholesky
	minEigenvalue = 1e-8
)

// CorrelationMatrix 行业与抵押物类别上的相关系数矩阵
// 对称、对角为 1、非对角在 [-1,1] 内；构造后不可变
type CorrelationMatrix struct {
	factors *FactorSet
	values  [][]float64
}

// NewCorrelationMatrix 校验并复制输入矩阵
func NewCorrelationMatrix(factors *FactorSet, values [][]float64) (*CorrelationMatrix, error) {
	n := factors.Len()
	if len(values) != n {
		return nil, fmt.Errorf("%w: expected %d rows, got %d", ErrInvalidCorrelation, n, len(values))
	}
	cp := make([][]float64, n)
	for i, row := range values {
		if len(row) != n {
			return nil, fmt.Errorf("%w: matrix is not square (row %d has %d columns)", ErrInvalidCorrelation, i, len(row))
		}
		cp[i] = make([]float64, n)
		for j, v := range row {
			if !isFinite(v) || math.Abs(v) > 1+correlationTolerance {
				return nil, fmt.Errorf("%w: entry (%d,%d)=%v outside [-1,1]", ErrInvalidCorrelation, i, j, v)
			}
			cp[i][j] = v
		}
		if math.Abs(row[i]-1) > correlationTolerance {
			return nil, fmt.Errorf("%w: diagonal (%d,%d)=%v must be 1", ErrInvalidCorrelation, i, i, row[i])
		}
	}
	for i := range n {
		for j := i + 1; j < n; j++ {
			if math.Abs(cp[i][j]-cp[j][i]) > correlationTolerance {
				return nil, fmt.Errorf("%w: matrix is not symmetric at (%d,%d)", ErrInvalidCorrelation, i, j)
			}
		}
	}
	return &CorrelationMatrix{factors: factors, values: cp}, nil
}

// Factors 矩阵对应的因子集合
func (m *CorrelationMatrix) Factors() *FactorSet { return m.factors }

// Size 维度
func (m *CorrelationMatrix) Size() int { return len(m.values) }

// At 读取 (i,j)
func (m *CorrelationMatrix) At(i, j int) float64 { return m.values[i][j] }

func (m *CorrelationMatrix) sym() *mat.SymDense {
	n := len(m.values)
	data := make([]float64, 0, n*n)
	for _, row := range m.values {
		data = append(data, row...)
	}
	return mat.NewSymDense(n, data)
}

// CorrelationInput 分块描述的相关性输入；缺省的块用默认常数填充
type CorrelationInput struct {
	Sectors              []SectorCode
	Collateral           []CollateralType
	SectorSector         [][]float64 // len(Sectors) x len(Sectors)
	SectorCollateral     [][]float64 // len(Sectors) x len(Collateral)
	CollateralCollateral [][]float64 // len(Collateral) x len(Collateral)

	DefaultSectorSector         float64
	DefaultSectorCollateral     float64
	DefaultCollateralCollateral float64
}

// BuildCorrelationMatrix 将行业-行业、行业-抵押物、抵押物-抵押物三个块拼成完整矩阵
func BuildCorrelationMatrix(in CorrelationInput) (*CorrelationMatrix, error) {
	fs, err := NewFactorSet(in.Sectors, in.Collateral)
	if err != nil {
		return nil, err
	}
	ns, nc := len(in.Sectors), len(in.Collateral)
	if err := checkBlock("sector-sector", in.SectorSector, ns, ns, true); err != nil {
		return nil, err
	}
	if err := checkBlock("sector-collateral", in.SectorCollateral, ns, nc, false); err != nil {
		return nil, err
	}
	if err := checkBlock("collateral-collateral", in.CollateralCollateral, nc, nc, true); err != nil {
		return nil, err
	}

	n := ns + nc
	values := make([][]float64, n)
	for i := range values {
		values[i] = make([]float64, n)
	}
	for i := range n {
		for j := range n {
			switch {
			case i == j:
				values[i][j] = 1
			case i < ns && j < ns:
				values[i][j] = blockOr(in.SectorSector, i, j, in.DefaultSectorSector)
			case i < ns:
				values[i][j] = blockOr(in.SectorCollateral, i, j-ns, in.DefaultSectorCollateral)
			case j < ns:
				values[i][j] = blockOr(in.SectorCollateral, j, i-ns, in.DefaultSectorCollateral)
			default:
				values[i][j] = blockOr(in.CollateralCollateral, i-ns, j-ns, in.DefaultCollateralCollateral)
			}
		}
	}
	return NewCorrelationMatrix(fs, values)
}

func checkBlock(name string, block [][]float64, rows, cols int, unitDiagonal bool) error {
	if block == nil {
		return nil
	}
	if len(block) != rows {
		return fmt.Errorf("%w: %s block expects %d rows, got %d", ErrInvalidCorrelation, name, rows, len(block))
	}
	for i, row := range block {
		if len(row) != cols {
			return fmt.Errorf("%w: %s block row %d expects %d columns, got %d", ErrInvalidCorrelation, name, i, cols, len(row))
		}
		if unitDiagonal && math.Abs(row[i]-1) > correlationTolerance {
			return fmt.Errorf("%w: %s block diagonal (%d,%d)=%v must be 1", ErrInvalidCorrelation, name, i, i, row[i])
		}
	}
	return nil
}

func blockOr(block [][]float64, i, j int, def float64) float64 {
	if block == nil {
		return def
	}
	return block[i][j]
}

// Factorization Cholesky 分解结果，Matrix 为实际使用（可能已修复）的矩阵
type Factorization struct {
	Matrix   *CorrelationMatrix
	Repaired bool
	// MinEigenvalue 修复前的最小特征值，未修复时为 NaN
	MinEigenvalue float64
	lower         [][]float64
}

// Factorize 做 Cholesky 分解；矩阵非正定时先按特征值截断修复到最近的半正定矩阵
// 修复后仍无法分解则返回 ErrInvalidCorrelation，整个模拟不应开始
func (m *CorrelationMatrix) Factorize() (*Factorization, error) {
	var chol mat.Cholesky
	if chol.Factorize(m.sym()) {
		return newFactorization(m, &chol, false, math.NaN()), nil
	}

	repairedValues, minEig, err := nearestPSD(m.sym())
	if err != nil {
		return nil, err
	}
	repaired := &CorrelationMatrix{factors: m.factors, values: repairedValues}
	if !chol.Factorize(repaired.sym()) {
		return nil, fmt.Errorf("%w: matrix could not be repaired to positive semi-definite", ErrInvalidCorrelation)
	}
	return newFactorization(repaired, &chol, true, minEig), nil
}

func newFactorization(m *CorrelationMatrix, chol *mat.Cholesky, repaired bool, minEig float64) *Factorization {
	var l mat.TriDense
	chol.LTo(&l)
	n := m.Size()
	lower := make([][]float64, n)
	for i := range n {
		lower[i] = make([]float64, i+1)
		for j := 0; j <= i; j++ {
			lower[i][j] = l.At(i, j)
		}
	}
	return &Factorization{Matrix: m, Repaired: repaired, MinEigenvalue: minEig, lower: lower}
}

// nearestPSD 特征值截断：A = V diag(max(λ, ε)) Vᵀ，再缩放回单位对角
func nearestPSD(a *mat.SymDense) ([][]float64, float64, error) {
	var es mat.EigenSym
	if !es.Factorize(a, true) {
		return nil, 0, fmt.Errorf("%w: eigen decomposition failed", ErrInvalidCorrelation)
	}
	lambda := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	minEig := math.Inf(1)
	for k, v := range lambda {
		minEig = math.Min(minEig, v)
		lambda[k] = math.Max(v, minEigenvalue)
	}

	n := len(lambda)
	out := make([][]float64, n)
	for i := range n {
		out[i] = make([]float64, n)
		for j := range n {
			var s float64
			for k := range n {
				s += vecs.At(i, k) * lambda[k] * vecs.At(j, k)
			}
			out[i][j] = s
		}
	}
	for i := range n {
		for j := range n {
			if i == j {
				continue
			}
			v := out[i][j] / math.Sqrt(out[i][i]*out[j][j])
			out[i][j] = math.Max(-1, math.Min(1, v))
		}
	}
	for i := range n {
		out[i][i] = 1
		for j := i + 1; j < n; j++ {
			avg := (out[i][j] + out[j][i]) / 2
			out[i][j], out[j][i] = avg, avg
		}
	}
	return out, minEig, nil
}

// Size 因子数量
func (f *Factorization) Size() int { return len(f.lower) }

// Correlate dst = L·z，z 为独立标准正态向量
func (f *Factorization) Correlate(z, dst []float64) {
	for i, row := range f.lower {
		var s float64
		for j, l := range row {
			s += l * z[j]
		}
		dst[i] = s
	}
}

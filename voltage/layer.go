package voltage

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/timzifer/voltseq/program"
)

// DeterminantTolerance is the smallest determinant magnitude accepted for a
// layer matrix.
const DeterminantTolerance = 1e-10

// Layer is one linear transformation between virtual source names and target
// names. Target levels follow V_target = M · V_source; resolution applies the
// cached inverse.
type Layer struct {
	source  []string
	target  []string
	matrix  [][]float64
	inverse [][]float64
	det     float64
}

// NewLayer validates the matrix and caches its inverse.
func NewLayer(source, target []string, matrix [][]float64) (*Layer, error) {
	n := len(source)
	copied := copyMatrix(matrix)
	if n == 0 || len(target) != n || len(matrix) != n {
		return nil, &MatrixError{Matrix: copied, Determinant: math.NaN(), Reason: "matrix must be square with one row per source and target channel"}
	}
	data := make([]float64, 0, n*n)
	for _, row := range matrix {
		if len(row) != n {
			return nil, &MatrixError{Matrix: copied, Determinant: math.NaN(), Reason: "matrix is not square"}
		}
		data = append(data, row...)
	}
	m := mat.NewDense(n, n, data)
	det := mat.Det(m)
	if math.Abs(det) < DeterminantTolerance {
		return nil, &MatrixError{Matrix: copied, Determinant: det, Reason: "matrix is not invertible"}
	}
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return nil, &MatrixError{Matrix: copied, Determinant: det, Reason: "matrix inversion failed: " + err.Error()}
	}
	inverse := make([][]float64, n)
	for i := range inverse {
		inverse[i] = mat.Row(nil, i, &inv)
	}
	return &Layer{
		source:  append([]string(nil), source...),
		target:  append([]string(nil), target...),
		matrix:  copied,
		inverse: inverse,
		det:     det,
	}, nil
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Source returns the virtual names this layer introduces.
func (l *Layer) Source() []string { return append([]string(nil), l.source...) }

// Target returns the names this layer resolves into.
func (l *Layer) Target() []string { return append([]string(nil), l.target...) }

// Matrix returns a copy of the forward matrix.
func (l *Layer) Matrix() [][]float64 { return copyMatrix(l.matrix) }

// Inverse returns a copy of the cached inverse.
func (l *Layer) Inverse() [][]float64 { return copyMatrix(l.inverse) }

// Determinant returns the determinant of the forward matrix.
func (l *Layer) Determinant() float64 { return l.det }

// flatten removes this layer's source names from acc and adds their
// contribution to the target names.
func (l *Layer) flatten(acc Levels) {
	vec := make([]program.Value, len(l.source))
	for j, src := range l.source {
		vec[j] = acc[src].Or(program.Const(0))
		delete(acc, src)
	}
	for i, tgt := range l.target {
		sum := acc[tgt].Or(program.Const(0))
		for j, coeff := range l.inverse[i] {
			if coeff == 0 {
				continue
			}
			sum = program.Add(sum, program.Scale(vec[j], coeff))
		}
		acc[tgt] = sum
	}
}

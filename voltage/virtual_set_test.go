package voltage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/voltseq/program"
)

func newVirtualSet(t *testing.T, names ...string) (*program.Program, *VirtualChannelSet) {
	t.Helper()
	p := program.New()
	set, err := NewVirtualChannelSet("device", outputs(p, names...))
	require.NoError(t, err)
	return p, set
}

func level(t *testing.T, levels Levels, name string) float64 {
	t.Helper()
	f, ok := levels[name].Float()
	require.True(t, ok, "level of %s is not constant: %s", name, levels[name])
	return f
}

func TestAddLayerRejectsNonSquareMatrix(t *testing.T) {
	_, set := newVirtualSet(t, "A", "B")

	_, err := set.AddLayer([]string{"x"}, []string{"A", "B"}, [][]float64{{1}})
	require.ErrorIs(t, err, ErrSingularMatrix)

	_, err = set.AddLayer([]string{"x", "y"}, []string{"A", "B"}, [][]float64{{1, 0}, {0}})
	require.ErrorIs(t, err, ErrSingularMatrix)
	assert.Empty(t, set.Layers())
}

func TestAddLayerRejectsSingularMatrix(t *testing.T) {
	_, set := newVirtualSet(t, "A", "B")

	_, err := set.AddLayer([]string{"x", "y"}, []string{"A", "B"}, [][]float64{{1, 1}, {1, 1}})
	require.ErrorIs(t, err, ErrSingularMatrix)

	var matrixErr *MatrixError
	require.True(t, errors.As(err, &matrixErr))
	assert.Equal(t, [][]float64{{1, 1}, {1, 1}}, matrixErr.Matrix)
	assert.InDelta(t, 0, matrixErr.Determinant, 1e-12)
	assert.Contains(t, err.Error(), "determinant")
}

func TestAddLayerNameRules(t *testing.T) {
	_, set := newVirtualSet(t, "A", "B", "C")
	identity := [][]float64{{1, 0}, {0, 1}}

	_, err := set.AddLayer([]string{"x", "y"}, []string{"A", "B"}, identity)
	require.NoError(t, err)

	tests := []struct {
		name   string
		source []string
		target []string
		want   error
	}{
		{"unknown target", []string{"u", "v"}, []string{"C", "Q"}, ErrUnknownChannel},
		{"target already targeted", []string{"u", "v"}, []string{"A", "C"}, ErrUnknownChannel},
		{"source collides with physical", []string{"C", "v"}, []string{"x", "y"}, ErrUnknownChannel},
		{"source repeats earlier source", []string{"x", "v"}, []string{"x", "y"}, ErrUnknownChannel},
		{"duplicate source", []string{"u", "u"}, []string{"x", "y"}, ErrUnknownChannel},
		{"duplicate target", []string{"u", "v"}, []string{"x", "x"}, ErrUnknownChannel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := set.AddLayer(tt.source, tt.target, identity)
			require.ErrorIs(t, err, tt.want)
		})
	}
	require.Len(t, set.Layers(), 1)

	_, err = set.AddLayer([]string{"u", "v"}, []string{"x", "y"}, identity)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "x", "y", "u", "v"}, set.Namespace())
}

func TestLayerCachesInverse(t *testing.T) {
	layer, err := NewLayer([]string{"x", "y"}, []string{"A", "B"}, [][]float64{{2, 0}, {0, 4}})
	require.NoError(t, err)
	assert.InDelta(t, 8, layer.Determinant(), 1e-12)
	inv := layer.Inverse()
	assert.InDelta(t, 0.5, inv[0][0], 1e-12)
	assert.InDelta(t, 0.25, inv[1][1], 1e-12)
	assert.InDelta(t, 0, inv[0][1], 1e-12)
}

func TestLayerAcceptsPermutationMatrix(t *testing.T) {
	_, err := NewLayer([]string{"x", "y"}, []string{"A", "B"}, [][]float64{{0, 1}, {1, 0}})
	require.NoError(t, err)
}

func TestResolveAdditiveLayering(t *testing.T) {
	_, set := newVirtualSet(t, "A", "B")
	layer, err := set.AddLayer([]string{"x", "y"}, []string{"A", "B"}, [][]float64{{1, 0.5}, {0.5, 1}})
	require.NoError(t, err)
	inv := layer.Inverse()

	resolved, err := set.ResolveVoltages(Volts(map[string]float64{"x": 0.2, "B": 0.1}))
	require.NoError(t, err)
	require.Len(t, resolved, 2)

	assert.InDelta(t, inv[0][0]*0.2, level(t, resolved, "A"), 1e-12)
	assert.InDelta(t, 0.1+inv[1][0]*0.2, level(t, resolved, "B"), 1e-12)
	assert.InDelta(t, 0.2666666666666667, level(t, resolved, "A"), 1e-9)
	assert.InDelta(t, -0.0333333333333333, level(t, resolved, "B"), 1e-9)
}

func TestResolveThroughStackedLayers(t *testing.T) {
	_, set := newVirtualSet(t, "A", "B")
	_, err := set.AddLayer([]string{"x", "y"}, []string{"A", "B"}, [][]float64{{2, 0}, {0, 2}})
	require.NoError(t, err)
	_, err = set.AddLayer([]string{"u"}, []string{"x"}, [][]float64{{0.5}})
	require.NoError(t, err)

	resolved, err := set.ResolveVoltages(Volts(map[string]float64{"u": 0.1, "x": 0.2, "A": 0.05}))
	require.NoError(t, err)
	// u contributes 0.2 to x; x = 0.4 contributes 0.2 to A.
	assert.InDelta(t, 0.25, level(t, resolved, "A"), 1e-12)
	assert.InDelta(t, 0, level(t, resolved, "B"), 1e-12)
}

func TestResolveVirtualSymbolicLevel(t *testing.T) {
	_, set := newVirtualSet(t, "A", "B")
	_, err := set.AddLayer([]string{"x", "y"}, []string{"A", "B"}, [][]float64{{2, 0}, {0, 1}})
	require.NoError(t, err)

	resolved, err := set.ResolveVoltages(Levels{"x": program.Expr("amp")})
	require.NoError(t, err)
	assert.Equal(t, "(amp * 0.5)", resolved["A"].String())
	assert.Equal(t, program.Const(0), resolved["B"])
}

func TestVirtualSetPointsUseVirtualNames(t *testing.T) {
	_, set := newVirtualSet(t, "A", "B")
	_, err := set.AddLayer([]string{"x", "y"}, []string{"A", "B"}, [][]float64{{1, 0}, {0, 1}})
	require.NoError(t, err)
	require.NoError(t, set.AddPoint("detuned", map[string]float64{"x": 0.1}, 100, false))
	require.ErrorIs(t, set.AddPoint("bad", map[string]float64{"z": 0.1}, 100, false), ErrUnknownChannel)
}

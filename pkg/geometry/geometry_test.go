package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shapegroom/pkg/failure"
)

func TestPlaneNormal(t *testing.T) {
	plane := PlanePoints{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}

	n, err := plane.UnitNormal()
	require.NoError(t, err)
	assert.True(t, n.ApproxEqual(Point3D{Z: 1}, 1e-12), "normal %v", n)

	d, err := plane.SignedDistance(Point3D{X: 5, Y: 5, Z: -2})
	require.NoError(t, err)
	assert.InDelta(t, -2, d, 1e-12)
}

func TestPlaneDegenerate(t *testing.T) {
	tests := []struct {
		name  string
		plane PlanePoints
	}{
		{"coincident", PlanePoints{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}}},
		{"collinear", PlanePoints{{0, 0, 0}, {1, 1, 1}, {2, 2, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.plane.Normal()
			assert.ErrorIs(t, err, failure.ErrDegenerateGeometry)
		})
	}
}

func TestPlaneFromSlice(t *testing.T) {
	p, err := PlaneFromSlice([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	require.NoError(t, err)
	assert.Equal(t, Point3D{4, 5, 6}, p[1])
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, p.Flatten())

	_, err = PlaneFromSlice([]float64{1, 2})
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestPlaneIsValueType(t *testing.T) {
	a := PlanePoints{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}
	b := a
	b[0].X = 42
	assert.Equal(t, 0.0, a[0].X)
}

func TestBoundingBoxUnion(t *testing.T) {
	var empty BoundingBox
	assert.True(t, empty.Empty())

	a := NewBoundingBox(Point3D{0, 0, 0}, Point3D{1, 1, 1})
	b := NewBoundingBox(Point3D{2, -1, 0}, Point3D{3, 0, 4})
	u := a.Union(b)

	assert.Equal(t, Point3D{0, -1, 0}, u.Min)
	assert.Equal(t, Point3D{3, 1, 4}, u.Max)
	assert.True(t, u.ContainsBox(a, 0))
	assert.True(t, u.ContainsBox(b, 0))
	assert.Equal(t, a, empty.Union(a))
	assert.Equal(t, a, a.Union(empty))
}

func TestTreeNearest(t *testing.T) {
	var pts []Point3D
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			pts = append(pts, Point3D{X: float64(i), Y: float64(j)})
		}
	}
	tree := NewTree(pts)
	require.Equal(t, 100, tree.Len())

	p, d2, ok := tree.Nearest(Point3D{X: 3.2, Y: 6.9, Z: 0.5})
	require.True(t, ok)
	assert.Equal(t, Point3D{X: 3, Y: 7}, p)
	assert.InDelta(t, 0.04+0.01+0.25, d2, 1e-12)

	_, _, ok = NewTree(nil).Nearest(Point3D{})
	assert.False(t, ok)
}

func TestPointOps(t *testing.T) {
	a := Point3D{1, 2, 3}
	b := Point3D{4, 5, 6}
	assert.Equal(t, Point3D{-3, 6, -3}, a.Cross(b))
	assert.Equal(t, 32.0, a.Dot(b))
	assert.InDelta(t, math.Sqrt(27), a.Distance(b), 1e-12)
	assert.Equal(t, Point3D{1, 9, 3}, a.WithCoord(1, 9))
	assert.Equal(t, Point3D{2.5, 3.5, 4.5}, Points3D{a, b}.Centroid())
}

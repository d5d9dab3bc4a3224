package registration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"shapegroom/pkg/failure"
	"shapegroom/pkg/geometry"
	"shapegroom/pkg/volume"
)

// ellipsoidSurface samples points on an axis-aligned ellipsoid
func ellipsoidSurface(a, b, c float64, n int) []geometry.Point3D {
	var pts []geometry.Point3D
	for i := 1; i < n; i++ {
		theta := math.Pi * float64(i) / float64(n)
		for j := 0; j < 2*n; j++ {
			phi := math.Pi * float64(j) / float64(n)
			pts = append(pts, geometry.Point3D{
				X: a * math.Sin(theta) * math.Cos(phi),
				Y: b * math.Sin(theta) * math.Sin(phi),
				Z: c * math.Cos(theta),
			})
		}
	}
	return pts
}

func rotationZ(deg float64, t geometry.Point3D) *mat.Dense {
	r := deg * math.Pi / 180
	return mat.NewDense(4, 4, []float64{
		math.Cos(r), -math.Sin(r), 0, t.X,
		math.Sin(r), math.Cos(r), 0, t.Y,
		0, 0, 1, t.Z,
		0, 0, 0, 1,
	})
}

func ellipsoidVolume(n int, radii geometry.Point3D) *volume.Volume {
	v := volume.New([3]int{n, n, n}, [3]float64{1, 1, 1}, geometry.Point3D{})
	c := v.Center()
	for k := 0; k < n; k++ {
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				d := v.Physical(i, j, k).Sub(c)
				if (d.X*d.X)/(radii.X*radii.X)+(d.Y*d.Y)/(radii.Y*radii.Y)+(d.Z*d.Z)/(radii.Z*radii.Z) <= 1 {
					v.Set(i, j, k, 1)
				}
			}
		}
	}
	return v
}

func TestKabschRecoversRigidMotion(t *testing.T) {
	src := ellipsoidSurface(10, 6, 3, 12)
	m := rotationZ(30, geometry.Point3D{X: 4, Y: -2, Z: 1})
	dst := make([]geometry.Point3D, len(src))
	for i, p := range src {
		dst[i] = applyMatrix(m, p)
	}

	got, err := Kabsch(src, dst)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(got, m, 1e-9), "kabsch matrix\n%v", mat.Formatted(got))
	assert.InDelta(t, 1, mat.Det(got.Slice(0, 3, 0, 3)), 1e-9)
}

func TestKabschRejectsMismatchedPairs(t *testing.T) {
	_, err := Kabsch(make([]geometry.Point3D, 3), make([]geometry.Point3D, 4))
	assert.Error(t, err)
	_, err = Kabsch(nil, nil)
	assert.ErrorIs(t, err, failure.ErrDegenerateGeometry)
}

func TestAlignPoints(t *testing.T) {
	moving := ellipsoidSurface(10, 6, 3, 16)
	want := rotationZ(5, geometry.Point3D{X: 0.5, Y: -0.3, Z: 0.2})
	fixed := make([]geometry.Point3D, len(moving))
	for i, p := range moving {
		fixed[i] = applyMatrix(want, p)
	}

	res, err := AlignPoints(moving, fixed, DefaultConfig())
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Less(t, res.RMS, 1e-6)

	for _, p := range moving[:20] {
		assert.True(t, applyMatrix(res.Matrix, p).ApproxEqual(applyMatrix(want, p), 1e-4))
	}
}

func TestAlignPointsIdentity(t *testing.T) {
	pts := ellipsoidSurface(5, 4, 3, 8)
	res, err := AlignPoints(pts, pts, DefaultConfig())
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(res.Matrix, mat.NewDiagDense(4, []float64{1, 1, 1, 1}), 1e-12))
	assert.Equal(t, 1, res.Iterations)
}

func TestAlignPointsValidation(t *testing.T) {
	pts := ellipsoidSurface(5, 4, 3, 8)
	_, err := AlignPoints(pts, pts, Config{MaxIterations: 0, MaxPoints: 10})
	assert.ErrorIs(t, err, failure.ErrConfiguration)
	_, err = AlignPoints(pts[:2], pts, DefaultConfig())
	assert.ErrorIs(t, err, failure.ErrDegenerateGeometry)
}

func TestSubsample(t *testing.T) {
	pts := make([]geometry.Point3D, 10)
	for i := range pts {
		pts[i].X = float64(i)
	}
	sub := Subsample(pts, 4)
	assert.Equal(t, []float64{0, 3, 6, 9}, []float64{sub[0].X, sub[1].X, sub[2].X, sub[3].X})
	assert.Len(t, Subsample(pts, 20), 10)
}

func TestDescribe(t *testing.T) {
	v := ellipsoidVolume(25, geometry.Point3D{X: 10, Y: 5, Z: 3})
	d, err := Describe(v)
	require.NoError(t, err)
	assert.Equal(t, float64(v.ForegroundCount()), d.Volume)
	assert.Greater(t, d.Eigenvalues[0], d.Eigenvalues[1])
	assert.Greater(t, d.Eigenvalues[1], d.Eigenvalues[2])

	_, err = Describe(volume.New([3]int{3, 3, 3}, [3]float64{1, 1, 1}, geometry.Point3D{}))
	assert.ErrorIs(t, err, failure.ErrDegenerateGeometry)
}

func TestSelectReference(t *testing.T) {
	tests := []struct {
		name  string
		ids   []string
		descs []Descriptor
		want  int
	}{
		{
			name: "median volume wins",
			ids:  []string{"a", "b", "c"},
			descs: []Descriptor{
				{Volume: 100, Eigenvalues: [3]float64{3, 2, 1}},
				{Volume: 300, Eigenvalues: [3]float64{9, 6, 3}},
				{Volume: 200, Eigenvalues: [3]float64{6, 4, 2}},
			},
			want: 2,
		},
		{
			name: "ties go to the smallest id",
			ids:  []string{"z", "y"},
			descs: []Descriptor{
				{Volume: 10, Eigenvalues: [3]float64{1, 1, 1}},
				{Volume: 10, Eigenvalues: [3]float64{1, 1, 1}},
			},
			want: 1,
		},
		{
			name:  "single sample",
			ids:   []string{"only"},
			descs: []Descriptor{{Volume: 1}},
			want:  0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectReference(tt.ids, tt.descs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := SelectReference(nil, nil)
	assert.ErrorIs(t, err, failure.ErrMissingArtifact)
}

func TestCompareMasks(t *testing.T) {
	a := ellipsoidVolume(15, geometry.Point3D{X: 5, Y: 4, Z: 3})
	o, err := CompareMasks(a, a)
	require.NoError(t, err)
	assert.InDelta(t, 1, o.Dice, 1e-12)
	assert.InDelta(t, 1, o.Jaccard, 1e-12)

	// Two 4-voxel masks sharing 2 voxels.
	left := volume.New([3]int{6, 1, 1}, [3]float64{1, 1, 1}, geometry.Point3D{})
	right := volume.New([3]int{6, 1, 1}, [3]float64{1, 1, 1}, geometry.Point3D{})
	for i := 0; i < 4; i++ {
		left.Set(i, 0, 0, 1)
		right.Set(i+2, 0, 0, 1)
	}
	o, err = CompareMasks(left, right)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, o.Dice, 1e-12)
	assert.InDelta(t, 2.0/6, o.Jaccard, 1e-12)
	assert.Equal(t, Overlap{Dice: o.Dice, Jaccard: o.Jaccard}, o)

	b := volume.New(a.Dims, a.Spacing, a.Origin)
	o, err = CompareMasks(a, b)
	require.NoError(t, err)
	assert.Equal(t, 0.0, o.Dice)

	_, err = CompareMasks(a, volume.New([3]int{2, 2, 2}, a.Spacing, a.Origin))
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{0.9, 0.8, 1.0})
	assert.InDelta(t, 0.9, s.Mean, 1e-12)
	assert.InDelta(t, 0.8, s.Min, 1e-12)
	assert.InDelta(t, 0.1, s.StdDev, 1e-12)

	assert.Equal(t, Summary{Mean: 0.7, Min: 0.7}, Summarize([]float64{0.7}))
}

package volume

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shapegroom/pkg/failure"
	"shapegroom/pkg/geometry"
	"shapegroom/pkg/interpolation"
)

// createSphere creates a binary sphere of the given radius (in voxels)
// centered at voxel c
func createSphere(n int, c geometry.Point3D, radius float64) *Volume {
	v := New([3]int{n, n, n}, [3]float64{1, 1, 1}, geometry.Point3D{})
	for k := 0; k < n; k++ {
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				if v.Physical(i, j, k).Distance(c) <= radius {
					v.Set(i, j, k, 1)
				}
			}
		}
	}
	return v
}

func TestIndexingAndPhysical(t *testing.T) {
	v := New([3]int{4, 3, 2}, [3]float64{0.5, 1, 2}, geometry.Point3D{X: 10, Y: -1, Z: 3})
	require.NoError(t, v.Validate())

	v.Set(3, 2, 1, 7)
	assert.Equal(t, 7.0, v.Data[v.Len()-1])
	assert.Equal(t, geometry.Point3D{X: 11.5, Y: 1, Z: 5}, v.Physical(3, 2, 1))

	x, y, z := v.ContinuousIndex(geometry.Point3D{X: 11.5, Y: 1, Z: 5})
	assert.Equal(t, [3]float64{3, 2, 1}, [3]float64{x, y, z})
	assert.Equal(t, geometry.Point3D{X: 10.75, Y: 0, Z: 4}, v.Center())
}

func TestReflect(t *testing.T) {
	v := New([3]int{4, 1, 1}, [3]float64{1, 1, 1}, geometry.Point3D{})
	v.Data = []float64{1, 2, 3, 4}

	out, center, err := Reflect(v, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 3, 2, 1}, out.Data)
	assert.Equal(t, 1.5, center)

	// Content at physical x moves to 2*center - x.
	assert.Equal(t, v.At(0, 0, 0), out.Sample(interpolation.Nearest, geometry.Point3D{X: 2*center - 0}, 0))

	_, _, err = Reflect(v, 5)
	assert.Error(t, err)
}

func TestResampleKeepsPhysicalExtent(t *testing.T) {
	v := New([3]int{11, 11, 6}, [3]float64{0.5, 0.5, 1}, geometry.Point3D{X: 2, Y: 3, Z: 4})
	for i := range v.Data {
		v.Data[i] = 1
	}
	out, err := Resample(v, 1, interpolation.Trilinear, 0)
	require.NoError(t, err)

	assert.Equal(t, [3]int{6, 6, 6}, out.Dims)
	assert.Equal(t, [3]float64{1, 1, 1}, out.Spacing)
	assert.Equal(t, v.Origin, out.Origin)
	for _, x := range out.Data {
		assert.InDelta(t, 1, x, 1e-12)
	}

	_, err = Resample(v, 0, interpolation.Trilinear, 0)
	assert.Error(t, err)
}

func TestPadPreservesPhysicalPositions(t *testing.T) {
	v := createSphere(8, geometry.Point3D{X: 4, Y: 4, Z: 4}, 2)
	out := Pad(v, 3, 0)

	assert.Equal(t, [3]int{14, 14, 14}, out.Dims)
	assert.Equal(t, geometry.Point3D{X: -3, Y: -3, Z: -3}, out.Origin)
	assert.Equal(t, v.ForegroundCount(), out.ForegroundCount())

	a, _ := CenterOfMass(v)
	b, _ := CenterOfMass(out)
	assert.True(t, a.ApproxEqual(b, 1e-12))
}

func TestCenterOfMassAndTranslate(t *testing.T) {
	v := createSphere(21, geometry.Point3D{X: 6, Y: 7, Z: 8}, 3)
	com, ok := CenterOfMass(v)
	require.True(t, ok)
	assert.True(t, com.ApproxEqual(geometry.Point3D{X: 6, Y: 7, Z: 8}, 1e-9), "com %v", com)

	offset := com.Sub(v.Center())
	moved := Translate(v, offset, interpolation.Nearest, 0)
	newCOM, ok := CenterOfMass(moved)
	require.True(t, ok)
	assert.True(t, newCOM.ApproxEqual(v.Center(), 1e-9), "com after translation %v", newCOM)

	_, ok = CenterOfMass(New([3]int{2, 2, 2}, [3]float64{1, 1, 1}, geometry.Point3D{}))
	assert.False(t, ok)
}

func TestShiftOrigin(t *testing.T) {
	v := createSphere(10, geometry.Point3D{X: 5, Y: 5, Z: 5}, 2)
	out := ShiftOrigin(v, v.Center())
	assert.True(t, out.Center().ApproxEqual(geometry.Point3D{}, 1e-12))
	assert.Equal(t, v.Data, out.Data)
}

func TestCropPadsOutside(t *testing.T) {
	v := New([3]int{3, 3, 3}, [3]float64{1, 1, 1}, geometry.Point3D{})
	for i := range v.Data {
		v.Data[i] = 1
	}
	out := Crop(v, [3]int{-1, 1, 1}, [3]int{3, 2, 2}, 0)
	assert.Equal(t, [3]int{3, 2, 2}, out.Dims)
	assert.Equal(t, geometry.Point3D{X: -1, Y: 1, Z: 1}, out.Origin)
	assert.Equal(t, 0.0, out.At(0, 0, 0))
	assert.Equal(t, 1.0, out.At(1, 0, 0))
}

func TestForegroundBounds(t *testing.T) {
	v := New([3]int{10, 10, 10}, [3]float64{2, 2, 2}, geometry.Point3D{X: 1})
	_, ok := v.ForegroundBounds()
	assert.False(t, ok)

	v.Set(2, 3, 4, 1)
	v.Set(5, 1, 6, 1)
	box, ok := v.ForegroundBounds()
	require.True(t, ok)
	assert.Equal(t, geometry.Point3D{X: 5, Y: 2, Z: 8}, box.Min)
	assert.Equal(t, geometry.Point3D{X: 11, Y: 6, Z: 12}, box.Max)
	assert.Len(t, v.BoundaryPoints(), 2)
}

func TestBoundaryPointsOfSolidBlock(t *testing.T) {
	v := New([3]int{5, 5, 5}, [3]float64{1, 1, 1}, geometry.Point3D{})
	for k := 1; k < 4; k++ {
		for j := 1; j < 4; j++ {
			for i := 1; i < 4; i++ {
				v.Set(i, j, k, 1)
			}
		}
	}
	// 27 voxels, only the center one is interior
	assert.Len(t, v.BoundaryPoints(), 26)
	assert.Len(t, v.ForegroundPoints(), 27)
}

func TestNRRDRoundTrip(t *testing.T) {
	v := createSphere(9, geometry.Point3D{X: 4, Y: 4, Z: 4}, 3)
	v.Spacing = [3]float64{0.5, 0.75, 1.25}
	v.Origin = geometry.Point3D{X: -10, Y: 2.5, Z: 100}

	for _, opts := range []WriteOptions{
		{Type: Uint8, Gzip: true},
		{Type: Float32, Gzip: false},
		{Type: Float64, Gzip: true},
		{Type: Int16, Gzip: false},
	} {
		t.Run(string(opts.Type), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteNRRD(&buf, v, opts))
			got, err := ReadNRRD(&buf)
			require.NoError(t, err)
			assert.True(t, got.SameGrid(v, 1e-12))
			assert.Equal(t, v.Data, got.Data)
		})
	}
}

func TestNRRDHeaderVariants(t *testing.T) {
	header := "NRRD0005\n" +
		"type: unsigned char\n" +
		"dimension: 3\n" +
		"sizes: 2 1 1\n" +
		"space directions: (2, 0, 0) (0, 3, 0) (0, 0, 4)\n" +
		"endian: big\n" +
		"encoding: raw\n" +
		"space origin: (1, 2, 3)\n" +
		"units:=mm\n\n"
	data := append([]byte(header), 5, 9)

	v, err := ReadNRRD(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, [3]float64{2, 3, 4}, v.Spacing)
	assert.Equal(t, geometry.Point3D{X: 1, Y: 2, Z: 3}, v.Origin)
	assert.Equal(t, []float64{5, 9}, v.Data)
}

func TestNRRDRejectsUnrepresentableDirections(t *testing.T) {
	for name, dirs := range map[string]string{
		"flipped":  "(-0.5,0,0) (0,2,0) (0,0,3)",
		"permuted": "(0.5,0,0) (0,0,2) (0,3,0)",
		"oblique":  "(1,1,0) (0,1,0) (0,0,1)",
		"empty":    "(0,0,0) (0,1,0) (0,0,1)",
	} {
		t.Run(name, func(t *testing.T) {
			header := "NRRD0004\ntype: uchar\ndimension: 3\nsizes: 1 1 1\n" +
				"space directions: " + dirs + "\nencoding: raw\n\n"
			_, err := ReadNRRD(bytes.NewReader(append([]byte(header), 1)))
			assert.ErrorIs(t, err, failure.ErrConfiguration)
		})
	}
}

func TestReadDetachedHeader(t *testing.T) {
	dir := t.TempDir()
	header := "NRRD0004\n" +
		"type: uchar\n" +
		"dimension: 3\n" +
		"sizes: 2 2 1\n" +
		"space directions: (0.5,0,0) (0,2,0) (0,0,3)\n" +
		"encoding: raw\n" +
		"byte skip: 1\n" +
		"data file: a.raw\n\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "N01_L_seg.nhdr"), []byte(header), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.raw"), []byte{99, 0, 1, 1, 0}, 0644))

	v, err := ReadFile(filepath.Join(dir, "N01_L_seg.nhdr"))
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0.5, 2, 3}, v.Spacing)
	assert.Equal(t, []float64{0, 1, 1, 0}, v.Data)
	assert.Equal(t, geometry.Point3D{X: 0.5, Y: 2}, v.Physical(1, 1, 0))

	_, err = ReadNRRD(bytes.NewReader([]byte(header)))
	assert.ErrorIs(t, err, failure.ErrConfiguration)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.raw")))
	_, err = ReadFile(filepath.Join(dir, "N01_L_seg.nhdr"))
	assert.ErrorIs(t, err, failure.ErrMissingArtifact)
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "absent.nrrd"))
	assert.ErrorIs(t, err, failure.ErrMissingArtifact)
}

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.nrrd")
	v := createSphere(6, geometry.Point3D{X: 3, Y: 3, Z: 3}, 2)
	require.NoError(t, WriteFile(path, v, MaskWriteOptions()))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, v.ForegroundCount(), got.ForegroundCount())
}

func TestWarpIdentity(t *testing.T) {
	v := createSphere(8, geometry.Point3D{X: 3.5, Y: 3.5, Z: 3.5}, 2.5)
	out := Warp(v, func(q geometry.Point3D) geometry.Point3D { return q }, v, interpolation.Nearest, 0)
	assert.Equal(t, v.Data, out.Data)

	lo, hi := v.MinMax()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 1.0, hi)
	assert.False(t, math.IsNaN(out.Data[0]))
}

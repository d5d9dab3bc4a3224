package volume

import (
	"fmt"
	"math"

	"shapegroom/pkg/geometry"
	"shapegroom/pkg/interpolation"
)

// Reflect mirrors the volume along axis about its grid center. It returns the
// mirrored volume and the physical coordinate of the mirror plane along axis,
// so a point p maps to 2*center - p[axis].
func Reflect(v *Volume, axis int) (*Volume, float64, error) {
	if axis < 0 || axis > 2 {
		return nil, 0, fmt.Errorf("invalid reflection axis %d", axis)
	}
	out := v.Clone()
	n := v.Dims[axis]
	for k := 0; k < v.Dims[2]; k++ {
		for j := 0; j < v.Dims[1]; j++ {
			for i := 0; i < v.Dims[0]; i++ {
				src := [3]int{i, j, k}
				src[axis] = n - 1 - src[axis]
				out.Set(i, j, k, v.At(src[0], src[1], src[2]))
			}
		}
	}
	return out, v.Center().Coord(axis), nil
}

// ReflectAbout mirrors the volume along axis about an arbitrary plane
// coordinate, resampling onto the same grid.
func ReflectAbout(v *Volume, axis int, center float64, m interpolation.Method, background float64) *Volume {
	return Warp(v, func(q geometry.Point3D) geometry.Point3D {
		return q.WithCoord(axis, 2*center-q.Coord(axis))
	}, v, m, background)
}

// Resample resamples the volume to an isotropic spacing. The origin is kept,
// so the physical position of the content does not move.
func Resample(v *Volume, spacing float64, m interpolation.Method, background float64) (*Volume, error) {
	if !(spacing > 0) {
		return nil, fmt.Errorf("invalid isotropic spacing %g", spacing)
	}
	var dims [3]int
	for a := 0; a < 3; a++ {
		extent := float64(v.Dims[a]-1) * v.Spacing[a]
		dims[a] = int(math.Floor(extent/spacing+1e-9)) + 1
	}
	grid := New(dims, [3]float64{spacing, spacing, spacing}, v.Origin)
	return Warp(v, func(q geometry.Point3D) geometry.Point3D { return q }, grid, m, background), nil
}

// Pad adds margin voxels of value on every side. The origin moves so that
// existing voxels keep their physical positions.
func Pad(v *Volume, margin int, value float64) *Volume {
	if margin <= 0 {
		return v.Clone()
	}
	dims := [3]int{v.Dims[0] + 2*margin, v.Dims[1] + 2*margin, v.Dims[2] + 2*margin}
	origin := geometry.Point3D{
		X: v.Origin.X - float64(margin)*v.Spacing[0],
		Y: v.Origin.Y - float64(margin)*v.Spacing[1],
		Z: v.Origin.Z - float64(margin)*v.Spacing[2],
	}
	out := New(dims, v.Spacing, origin)
	if value != 0 {
		for i := range out.Data {
			out.Data[i] = value
		}
	}
	for k := 0; k < v.Dims[2]; k++ {
		for j := 0; j < v.Dims[1]; j++ {
			for i := 0; i < v.Dims[0]; i++ {
				out.Set(i+margin, j+margin, k+margin, v.At(i, j, k))
			}
		}
	}
	return out
}

// CenterOfMass returns the physical centroid of the foreground voxels.
func CenterOfMass(v *Volume) (geometry.Point3D, bool) {
	var (
		sum geometry.Point3D
		n   int
	)
	for k := 0; k < v.Dims[2]; k++ {
		for j := 0; j < v.Dims[1]; j++ {
			for i := 0; i < v.Dims[0]; i++ {
				if v.IsForeground(v.Index(i, j, k)) {
					sum = sum.Add(v.Physical(i, j, k))
					n++
				}
			}
		}
	}
	if n == 0 {
		return geometry.Point3D{}, false
	}
	return sum.Scale(1 / float64(n)), true
}

// Translate moves the content by -offset on the same grid: the output at p is
// the input at p + offset.
func Translate(v *Volume, offset geometry.Point3D, m interpolation.Method, background float64) *Volume {
	return Warp(v, func(q geometry.Point3D) geometry.Point3D { return q.Add(offset) }, v, m, background)
}

// ShiftOrigin moves the whole grid by -offset without touching voxel values.
func ShiftOrigin(v *Volume, offset geometry.Point3D) *Volume {
	out := v.Clone()
	out.Origin = v.Origin.Sub(offset)
	return out
}

// Warp resamples v onto the grid of ref. For each output voxel at physical
// position q, the value is read from v at source(q).
func Warp(v *Volume, source func(geometry.Point3D) geometry.Point3D, ref *Volume, m interpolation.Method, background float64) *Volume {
	out := New(ref.Dims, ref.Spacing, ref.Origin)
	grid := interpolation.Grid{Data: v.Data, Dims: v.Dims, Background: background}
	for k := 0; k < out.Dims[2]; k++ {
		for j := 0; j < out.Dims[1]; j++ {
			for i := 0; i < out.Dims[0]; i++ {
				x, y, z := v.ContinuousIndex(source(out.Physical(i, j, k)))
				out.Set(i, j, k, grid.Sample(m, x, y, z))
			}
		}
	}
	return out
}

// Crop extracts the region starting at voxel lo with the given dims. Voxels of
// the region that fall outside v are filled with background.
func Crop(v *Volume, lo [3]int, dims [3]int, background float64) *Volume {
	out := New(dims, v.Spacing, v.Physical(lo[0], lo[1], lo[2]))
	for k := 0; k < dims[2]; k++ {
		for j := 0; j < dims[1]; j++ {
			for i := 0; i < dims[0]; i++ {
				si, sj, sk := lo[0]+i, lo[1]+j, lo[2]+k
				if v.InBounds(si, sj, sk) {
					out.Set(i, j, k, v.At(si, sj, sk))
				} else {
					out.Set(i, j, k, background)
				}
			}
		}
	}
	return out
}

// Binarize sets foreground voxels to 1 and everything else to 0.
func Binarize(v *Volume) *Volume {
	out := v.Clone()
	for i := range out.Data {
		if v.IsForeground(i) {
			out.Data[i] = 1
		} else {
			out.Data[i] = 0
		}
	}
	return out
}

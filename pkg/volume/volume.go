// Package volume provides the voxel volume type used for images and
// segmentations, its NRRD file format, and the grooming operations applied
// to it.
//
// Voxel (i, j, k) sits at the physical position Origin + (i, j, k) * Spacing.
// Data is stored x-fastest: index = (k*ny + j)*nx + i.
package volume

import (
	"fmt"
	"math"

	"shapegroom/pkg/geometry"
	"shapegroom/pkg/interpolation"
)

// ForegroundThreshold is the value above which a segmentation voxel counts as
// foreground.
const ForegroundThreshold = 0.5

// Volume is a 3-D scalar field on a regular axis-aligned grid.
type Volume struct {
	// Data holds the voxel values in x-fastest order
	Data []float64

	// Dims is the number of voxels along x, y and z
	Dims [3]int

	// Spacing is the physical size of a voxel along each axis in mm
	Spacing [3]float64

	// Origin is the physical position of voxel (0, 0, 0)
	Origin geometry.Point3D
}

// New creates a zero-filled volume.
func New(dims [3]int, spacing [3]float64, origin geometry.Point3D) *Volume {
	return &Volume{
		Data:    make([]float64, dims[0]*dims[1]*dims[2]),
		Dims:    dims,
		Spacing: spacing,
		Origin:  origin,
	}
}

// Validate checks that the volume is well formed.
func (v *Volume) Validate() error {
	for a := 0; a < 3; a++ {
		if v.Dims[a] <= 0 {
			return fmt.Errorf("invalid dimension %d along axis %d", v.Dims[a], a)
		}
		if !(v.Spacing[a] > 0) {
			return fmt.Errorf("invalid spacing %g along axis %d", v.Spacing[a], a)
		}
	}
	if len(v.Data) != v.Len() {
		return fmt.Errorf("data length %d does not match dims %v", len(v.Data), v.Dims)
	}
	return nil
}

// Len returns the number of voxels.
func (v *Volume) Len() int {
	return v.Dims[0] * v.Dims[1] * v.Dims[2]
}

// Index returns the flat index of voxel (i, j, k).
func (v *Volume) Index(i, j, k int) int {
	return (k*v.Dims[1]+j)*v.Dims[0] + i
}

// At returns the value of voxel (i, j, k).
func (v *Volume) At(i, j, k int) float64 {
	return v.Data[v.Index(i, j, k)]
}

// Set assigns the value of voxel (i, j, k).
func (v *Volume) Set(i, j, k int, val float64) {
	v.Data[v.Index(i, j, k)] = val
}

// InBounds reports whether (i, j, k) is a valid voxel index.
func (v *Volume) InBounds(i, j, k int) bool {
	return i >= 0 && j >= 0 && k >= 0 && i < v.Dims[0] && j < v.Dims[1] && k < v.Dims[2]
}

// Physical returns the physical position of voxel (i, j, k).
func (v *Volume) Physical(i, j, k int) geometry.Point3D {
	return geometry.Point3D{
		X: v.Origin.X + float64(i)*v.Spacing[0],
		Y: v.Origin.Y + float64(j)*v.Spacing[1],
		Z: v.Origin.Z + float64(k)*v.Spacing[2],
	}
}

// ContinuousIndex returns the fractional voxel index of a physical point.
func (v *Volume) ContinuousIndex(p geometry.Point3D) (float64, float64, float64) {
	return (p.X - v.Origin.X) / v.Spacing[0],
		(p.Y - v.Origin.Y) / v.Spacing[1],
		(p.Z - v.Origin.Z) / v.Spacing[2]
}

// Sample reads the volume at a physical point.
func (v *Volume) Sample(m interpolation.Method, p geometry.Point3D, background float64) float64 {
	x, y, z := v.ContinuousIndex(p)
	g := interpolation.Grid{Data: v.Data, Dims: v.Dims, Background: background}
	return g.Sample(m, x, y, z)
}

// Center returns the physical position of the grid center.
func (v *Volume) Center() geometry.Point3D {
	return v.Physical(0, 0, 0).Add(v.Physical(v.Dims[0]-1, v.Dims[1]-1, v.Dims[2]-1)).Scale(0.5)
}

// Extent returns the physical box spanned by the voxel centers.
func (v *Volume) Extent() geometry.BoundingBox {
	return geometry.NewBoundingBox(v.Physical(0, 0, 0), v.Physical(v.Dims[0]-1, v.Dims[1]-1, v.Dims[2]-1))
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	out := *v
	out.Data = append([]float64(nil), v.Data...)
	return &out
}

// SameGrid reports whether two volumes share dims, spacing and origin within tol.
func (v *Volume) SameGrid(o *Volume, tol float64) bool {
	if v.Dims != o.Dims {
		return false
	}
	for a := 0; a < 3; a++ {
		if math.Abs(v.Spacing[a]-o.Spacing[a]) > tol {
			return false
		}
	}
	return v.Origin.ApproxEqual(o.Origin, tol)
}

// IsForeground reports whether flat index idx is a foreground voxel.
func (v *Volume) IsForeground(idx int) bool {
	return v.Data[idx] > ForegroundThreshold
}

// ForegroundCount returns the number of foreground voxels.
func (v *Volume) ForegroundCount() int {
	n := 0
	for i := range v.Data {
		if v.IsForeground(i) {
			n++
		}
	}
	return n
}

// ForegroundIndexBounds returns the inclusive index range enclosing every
// foreground voxel. ok is false when there is no foreground.
func (v *Volume) ForegroundIndexBounds() (lo, hi [3]int, ok bool) {
	lo = [3]int{math.MaxInt, math.MaxInt, math.MaxInt}
	hi = [3]int{-1, -1, -1}
	for k := 0; k < v.Dims[2]; k++ {
		for j := 0; j < v.Dims[1]; j++ {
			for i := 0; i < v.Dims[0]; i++ {
				if !v.IsForeground(v.Index(i, j, k)) {
					continue
				}
				idx := [3]int{i, j, k}
				for a := 0; a < 3; a++ {
					lo[a] = min(lo[a], idx[a])
					hi[a] = max(hi[a], idx[a])
				}
			}
		}
	}
	return lo, hi, hi[0] >= 0
}

// ForegroundBounds returns the physical box of the foreground voxel centers.
func (v *Volume) ForegroundBounds() (geometry.BoundingBox, bool) {
	lo, hi, ok := v.ForegroundIndexBounds()
	if !ok {
		return geometry.BoundingBox{}, false
	}
	return geometry.NewBoundingBox(v.Physical(lo[0], lo[1], lo[2]), v.Physical(hi[0], hi[1], hi[2])), true
}

// ForegroundPoints returns the physical positions of every foreground voxel.
func (v *Volume) ForegroundPoints() []geometry.Point3D {
	var pts []geometry.Point3D
	for k := 0; k < v.Dims[2]; k++ {
		for j := 0; j < v.Dims[1]; j++ {
			for i := 0; i < v.Dims[0]; i++ {
				if v.IsForeground(v.Index(i, j, k)) {
					pts = append(pts, v.Physical(i, j, k))
				}
			}
		}
	}
	return pts
}

// BoundaryPoints returns the physical positions of foreground voxels that have
// at least one background 6-neighbour (or touch the grid edge).
func (v *Volume) BoundaryPoints() []geometry.Point3D {
	offsets := [6][3]int{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}}
	var pts []geometry.Point3D
	for k := 0; k < v.Dims[2]; k++ {
		for j := 0; j < v.Dims[1]; j++ {
			for i := 0; i < v.Dims[0]; i++ {
				if !v.IsForeground(v.Index(i, j, k)) {
					continue
				}
				for _, o := range offsets {
					ni, nj, nk := i+o[0], j+o[1], k+o[2]
					if !v.InBounds(ni, nj, nk) || !v.IsForeground(v.Index(ni, nj, nk)) {
						pts = append(pts, v.Physical(i, j, k))
						break
					}
				}
			}
		}
	}
	return pts
}

// MinMax returns the smallest and largest voxel values.
func (v *Volume) MinMax() (lo, hi float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	lo, hi = v.Data[0], v.Data[0]
	for _, x := range v.Data[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi
}

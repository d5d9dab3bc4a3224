// Package interpolation provides the voxel samplers used when volumes are
// resampled onto a new grid.
//
// Samplers read a flat x-fastest voxel array at a continuous index
// position. Positions outside the grid return the background value.
package interpolation

import (
	"fmt"
	"math"
)

// Method selects the sampling kernel.
type Method int

const (
	// Nearest picks the voxel closest to the position.
	Nearest Method = iota
	// Trilinear blends the 8 surrounding voxels.
	Trilinear
	// Binary blends like Trilinear and thresholds the result at 0.5, so
	// label masks stay binary and do not shift by half a voxel.
	Binary
)

func (m Method) String() string {
	switch m {
	case Nearest:
		return "nearest"
	case Trilinear:
		return "trilinear"
	case Binary:
		return "binary"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// Grid is the voxel data a sampler reads from.
type Grid struct {
	Data       []float64
	Dims       [3]int
	Background float64
}

// at returns the voxel value, or the background outside the grid.
func (g Grid) at(i, j, k int) float64 {
	if i < 0 || j < 0 || k < 0 || i >= g.Dims[0] || j >= g.Dims[1] || k >= g.Dims[2] {
		return g.Background
	}
	return g.Data[(k*g.Dims[1]+j)*g.Dims[0]+i]
}

// Sample reads the grid at continuous index (x, y, z) with the given method.
func (g Grid) Sample(m Method, x, y, z float64) float64 {
	switch m {
	case Nearest:
		return g.at(int(math.Round(x)), int(math.Round(y)), int(math.Round(z)))
	case Trilinear:
		return g.trilinear(x, y, z)
	case Binary:
		if g.trilinear(x, y, z) >= 0.5 {
			return 1
		}
		return 0
	default:
		panic("unknown interpolation method")
	}
}

func (g Grid) trilinear(x, y, z float64) float64 {
	// Anything more than one voxel outside contributes nothing but background.
	if x < -1 || y < -1 || z < -1 ||
		x > float64(g.Dims[0]) || y > float64(g.Dims[1]) || z > float64(g.Dims[2]) {
		return g.Background
	}

	x0, y0, z0 := math.Floor(x), math.Floor(y), math.Floor(z)
	fx, fy, fz := x-x0, y-y0, z-z0
	i, j, k := int(x0), int(y0), int(z0)

	c00 := g.at(i, j, k)*(1-fx) + g.at(i+1, j, k)*fx
	c10 := g.at(i, j+1, k)*(1-fx) + g.at(i+1, j+1, k)*fx
	c01 := g.at(i, j, k+1)*(1-fx) + g.at(i+1, j, k+1)*fx
	c11 := g.at(i, j+1, k+1)*(1-fx) + g.at(i+1, j+1, k+1)*fx

	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy
	return c0*(1-fz) + c1*fz
}

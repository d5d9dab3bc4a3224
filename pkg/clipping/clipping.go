// Package clipping clips aligned segmentations with a cutting plane and
// crops the whole population to one shared bounding box.
package clipping

import (
	"math"

	"shapegroom/pkg/failure"
	"shapegroom/pkg/geometry"
	"shapegroom/pkg/volume"
)

// spacingTolerance is the largest spacing difference treated as equal.
const spacingTolerance = 1e-6

// Clip returns a copy of v with every voxel on the negative side of the
// plane set to background (0). A voxel at x is removed when
// (x - p0) · n < 0 with n = (p1 - p0) × (p2 - p0). Spacing, origin and dims
// are unchanged, so clipping twice with the same plane changes nothing.
func Clip(v *volume.Volume, plane geometry.PlanePoints) (*volume.Volume, error) {
	n, err := plane.Normal()
	if err != nil {
		return nil, err
	}
	out := v.Clone()
	for k := 0; k < v.Dims[2]; k++ {
		for j := 0; j < v.Dims[1]; j++ {
			for i := 0; i < v.Dims[0]; i++ {
				if v.Physical(i, j, k).Sub(plane[0]).Dot(n) < 0 {
					out.Set(i, j, k, 0)
				}
			}
		}
	}
	return out, nil
}

// Item is one sample to crop.
type Item struct {
	ID           string
	Segmentation *volume.Volume
	Image        *volume.Volume
}

// Options controls cropping.
type Options struct {
	// Padding grows the shared box by this many voxels on every side.
	Padding int

	// ProcessRaw crops the paired images with the same box.
	ProcessRaw bool
}

// Result holds the cropped population. Slices follow the order of the
// input items; Images entries are nil when not processed.
type Result struct {
	Segmentations []*volume.Volume
	Images        []*volume.Volume

	// Box is the shared physical box, the union of every sample's
	// foreground box grown by the padding.
	Box geometry.BoundingBox

	// Dims is the voxel grid shape shared by every output.
	Dims [3]int
}

// PopulationBox returns the union of the foreground boxes of every
// segmentation, grown by padding voxels. A segmentation without foreground
// is an ErrDegenerateGeometry error naming the sample. Mixed spacings are an
// ErrConfiguration error.
func PopulationBox(items []Item, padding int) (geometry.BoundingBox, error) {
	if len(items) == 0 {
		return geometry.BoundingBox{}, failure.ForSamples("crop", nil, failure.Missingf("no samples to crop"))
	}

	spacing := items[0].Segmentation.Spacing
	var box geometry.BoundingBox
	for _, it := range items {
		if !sameSpacing(it.Segmentation.Spacing, spacing) {
			return geometry.BoundingBox{}, failure.ForSample("crop", it.ID,
				failure.Configf("spacing %v differs from population spacing %v", it.Segmentation.Spacing, spacing))
		}
		b, ok := it.Segmentation.ForegroundBounds()
		if !ok {
			return geometry.BoundingBox{}, failure.ForSample("crop", it.ID,
				failure.Degeneratef("segmentation has no foreground after clipping"))
		}
		box = box.Union(b)
	}

	grow := geometry.Point3D{
		X: float64(padding) * spacing[0],
		Y: float64(padding) * spacing[1],
		Z: float64(padding) * spacing[2],
	}
	return box.Grow(grow), nil
}

// Crop crops every segmentation, and the paired images when requested, to
// the shared population box. All outputs share one grid shape.
func Crop(items []Item, opts Options) (*Result, error) {
	if opts.Padding < 0 {
		return nil, failure.Configf("crop padding must not be negative, got %d", opts.Padding)
	}
	box, err := PopulationBox(items, opts.Padding)
	if err != nil {
		return nil, err
	}
	spacing := items[0].Segmentation.Spacing

	// One shape for everyone: the largest index span the box covers on any
	// sample grid.
	var dims [3]int
	for _, it := range items {
		lo, hi := indexRange(it.Segmentation, box)
		for a := 0; a < 3; a++ {
			dims[a] = max(dims[a], hi[a]-lo[a]+1)
		}
		if opts.ProcessRaw && it.Image != nil {
			if !sameSpacing(it.Image.Spacing, spacing) {
				return nil, failure.ForSample("crop", it.ID,
					failure.Configf("image spacing %v differs from segmentation spacing %v", it.Image.Spacing, spacing))
			}
			lo, hi := indexRange(it.Image, box)
			for a := 0; a < 3; a++ {
				dims[a] = max(dims[a], hi[a]-lo[a]+1)
			}
		}
	}

	res := &Result{
		Segmentations: make([]*volume.Volume, len(items)),
		Images:        make([]*volume.Volume, len(items)),
		Box:           box,
		Dims:          dims,
	}
	for i, it := range items {
		lo, _ := indexRange(it.Segmentation, box)
		res.Segmentations[i] = volume.Crop(it.Segmentation, lo, dims, 0)
		if opts.ProcessRaw && it.Image != nil {
			ilo, _ := indexRange(it.Image, box)
			bg, _ := it.Image.MinMax()
			res.Images[i] = volume.Crop(it.Image, ilo, dims, bg)
		}
	}
	return res, nil
}

// indexRange returns the voxel index span of v that covers box.
func indexRange(v *volume.Volume, box geometry.BoundingBox) (lo, hi [3]int) {
	minI, minJ, minK := v.ContinuousIndex(box.Min)
	maxI, maxJ, maxK := v.ContinuousIndex(box.Max)
	lo = [3]int{floorIndex(minI), floorIndex(minJ), floorIndex(minK)}
	hi = [3]int{ceilIndex(maxI), ceilIndex(maxJ), ceilIndex(maxK)}
	return lo, hi
}

func floorIndex(x float64) int { return int(math.Floor(x + 1e-6)) }
func ceilIndex(x float64) int  { return int(math.Ceil(x - 1e-6)) }

func sameSpacing(a, b [3]float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > spacingTolerance {
			return false
		}
	}
	return true
}

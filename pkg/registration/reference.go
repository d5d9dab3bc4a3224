package registration

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"shapegroom/pkg/failure"
	"shapegroom/pkg/volume"
)

// Descriptor summarizes a segmentation for reference selection: its
// physical foreground volume and the principal variances of its foreground
// voxel coordinates, largest first.
type Descriptor struct {
	Volume      float64
	Eigenvalues [3]float64
}

func (d Descriptor) components() [4]float64 {
	return [4]float64{d.Volume, d.Eigenvalues[0], d.Eigenvalues[1], d.Eigenvalues[2]}
}

// Describe computes the descriptor of a segmentation. An empty
// segmentation is degenerate.
func Describe(seg *volume.Volume) (Descriptor, error) {
	pts := seg.ForegroundPoints()
	if len(pts) == 0 {
		return Descriptor{}, failure.Degeneratef("segmentation has no foreground")
	}

	data := mat.NewDense(len(pts), 3, nil)
	for i, p := range pts {
		data.Set(i, 0, p.X)
		data.Set(i, 1, p.Y)
		data.Set(i, 2, p.Z)
	}

	var d Descriptor
	d.Volume = float64(len(pts)) * seg.Spacing[0] * seg.Spacing[1] * seg.Spacing[2]
	if len(pts) < 2 {
		return d, nil
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	var eig mat.EigenSym
	if !eig.Factorize(&cov, false) {
		return Descriptor{}, failure.Degeneratef("covariance eigendecomposition failed")
	}
	vals := eig.Values(nil)
	sort.Sort(sort.Reverse(sort.Float64Slice(vals)))
	copy(d.Eigenvalues[:], vals)
	return d, nil
}

// SelectReference returns the index of the sample whose descriptor is
// closest to the population median. Components are compared relative to
// the median so volume and variance are weighted alike. Ties go to the
// lexicographically smallest ID.
func SelectReference(ids []string, descs []Descriptor) (int, error) {
	if len(ids) != len(descs) {
		return -1, failure.Configf("%d sample ids but %d descriptors", len(ids), len(descs))
	}
	if len(descs) == 0 {
		return -1, failure.Missingf("no samples to select a reference from")
	}

	var med [4]float64
	for c := range med {
		col := make([]float64, len(descs))
		for i, d := range descs {
			col[i] = d.components()[c]
		}
		med[c] = median(col)
	}

	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return ids[order[a]] < ids[order[b]] })

	best, bestDist := -1, math.Inf(1)
	for _, i := range order {
		var dist float64
		for c, x := range descs[i].components() {
			diff := x - med[c]
			if med[c] != 0 {
				diff /= med[c]
			}
			dist += diff * diff
		}
		if dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best, nil
}

// median calculates the median value of a slice of float64 values
func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

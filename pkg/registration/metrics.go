package registration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"shapegroom/pkg/volume"
)

// Overlap holds the agreement between an aligned segmentation and the
// reference segmentation on the same grid.
type Overlap struct {
	// Dice is 2|A∩B| / (|A|+|B|), 1 for identical masks.
	Dice float64

	// Jaccard is |A∩B| / |A∪B|.
	Jaccard float64
}

// CompareMasks computes overlap metrics between two volumes sharing a grid.
func CompareMasks(a, b *volume.Volume) (Overlap, error) {
	if !a.SameGrid(b, 1e-6) {
		return Overlap{}, fmt.Errorf("volumes do not share a grid: %v vs %v", a.Dims, b.Dims)
	}

	var inter, na, nb int
	for i := range a.Data {
		fa, fb := a.IsForeground(i), b.IsForeground(i)
		if fa {
			na++
		}
		if fb {
			nb++
		}
		if fa && fb {
			inter++
		}
	}

	var o Overlap
	if na+nb > 0 {
		o.Dice = 2 * float64(inter) / float64(na+nb)
		o.Jaccard = float64(inter) / float64(na+nb-inter)
	}
	return o, nil
}

// Summary aggregates per-sample Dice scores.
type Summary struct {
	Mean, StdDev, Min float64
}

// Summarize returns the mean, standard deviation and minimum of scores.
func Summarize(scores []float64) Summary {
	if len(scores) == 0 {
		return Summary{}
	}
	mean, std := stat.MeanStdDev(scores, nil)
	if len(scores) == 1 {
		std = 0
	}
	lo := scores[0]
	for _, s := range scores[1:] {
		lo = math.Min(lo, s)
	}
	return Summary{Mean: mean, StdDev: std, Min: lo}
}

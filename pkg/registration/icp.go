// Package registration implements rigid alignment of a population onto a
// reference sample: reference (median) selection, point-to-point ICP and
// overlap metrics used to report alignment quality.
package registration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"shapegroom/pkg/failure"
	"shapegroom/pkg/geometry"
)

// Config holds the ICP parameters.
type Config struct {
	// MaxIterations bounds the number of correspondence/update rounds.
	MaxIterations int `yaml:"maxIterations" json:"maxIterations"`

	// Tolerance stops iteration once the RMS distance improves by less
	// than this amount between rounds.
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`

	// MaxPoints caps the number of moving points used per round. Larger
	// sets are sub-sampled with a fixed stride.
	MaxPoints int `yaml:"maxPoints" json:"maxPoints"`
}

// DefaultConfig returns the ICP parameters used by the grooming chain.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 100,
		Tolerance:     1e-6,
		MaxPoints:     3000,
	}
}

// Validate reports parameters ICP cannot run with.
func (c Config) Validate() error {
	if c.MaxIterations < 1 {
		return failure.Configf("icp maxIterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.Tolerance < 0 {
		return failure.Configf("icp tolerance must not be negative, got %g", c.Tolerance)
	}
	if c.MaxPoints < 3 {
		return failure.Configf("icp maxPoints must be at least 3, got %d", c.MaxPoints)
	}
	return nil
}

// Result is the outcome of one ICP run.
type Result struct {
	// Matrix is the 4x4 homogeneous transform taking moving points onto
	// the fixed set.
	Matrix *mat.Dense

	// RMS is the root mean square closest-point distance after the last round.
	RMS float64

	Iterations int
	Converged  bool
}

// Subsample returns at most n points taken with a fixed stride, so the same
// input always yields the same subset.
func Subsample(pts []geometry.Point3D, n int) []geometry.Point3D {
	if n <= 0 || len(pts) <= n {
		return pts
	}
	stride := int(math.Ceil(float64(len(pts)) / float64(n)))
	out := make([]geometry.Point3D, 0, n)
	for i := 0; i < len(pts); i += stride {
		out = append(out, pts[i])
	}
	return out
}

// AlignPoints rigidly aligns moving onto fixed with iterative closest point.
// The moving centroid is first translated onto the fixed centroid; each round
// then pairs every moving point with its nearest fixed point and solves the
// best rigid update in closed form.
func AlignPoints(moving, fixed []geometry.Point3D, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(moving) < 3 || len(fixed) < 3 {
		return nil, failure.Degeneratef("icp needs at least 3 points per set, got %d moving and %d fixed", len(moving), len(fixed))
	}

	src := Subsample(moving, cfg.MaxPoints)
	tree := geometry.NewTree(fixed)

	cur := make([]geometry.Point3D, len(src))
	shift := geometry.Points3D(fixed).Centroid().Sub(geometry.Points3D(src).Centroid())
	for i, p := range src {
		cur[i] = p.Add(shift)
	}
	total := translationMatrix(shift)

	matched := make([]geometry.Point3D, len(cur))
	res := &Result{RMS: math.Inf(1)}
	for iter := 1; iter <= cfg.MaxIterations; iter++ {
		var sum float64
		for i, p := range cur {
			q, d2, _ := tree.Nearest(p)
			matched[i] = q
			sum += d2
		}
		rms := math.Sqrt(sum / float64(len(cur)))
		res.Iterations = iter

		if res.RMS-rms < cfg.Tolerance || rms == 0 {
			res.RMS = math.Min(res.RMS, rms)
			res.Converged = true
			break
		}
		res.RMS = rms

		step, err := Kabsch(cur, matched)
		if err != nil {
			return nil, err
		}
		for i, p := range cur {
			cur[i] = applyMatrix(step, p)
		}
		var next mat.Dense
		next.Mul(step, total)
		total = &next
	}

	res.Matrix = total
	return res, nil
}

// Kabsch returns the 4x4 rigid transform minimizing the squared distance
// between R*p+t and q over paired points. Reflections are excluded.
func Kabsch(p, q []geometry.Point3D) (*mat.Dense, error) {
	if len(p) != len(q) {
		return nil, fmt.Errorf("kabsch: %d source points but %d targets", len(p), len(q))
	}
	if len(p) == 0 {
		return nil, failure.Degeneratef("kabsch: no point pairs")
	}

	cp := geometry.Points3D(p).Centroid()
	cq := geometry.Points3D(q).Centroid()

	// Cross-covariance H = sum (p-cp)(q-cq)^T
	h := mat.NewDense(3, 3, nil)
	for i := range p {
		a := p[i].Sub(cp).Array()
		b := q[i].Sub(cq).Array()
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+a[r]*b[c])
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return nil, failure.Degeneratef("kabsch: SVD did not converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V * diag(1, 1, d) * U^T with d fixing the handedness
	var vut mat.Dense
	vut.Mul(&v, u.T())
	d := 1.0
	if mat.Det(&vut) < 0 {
		d = -1
	}
	fix := mat.NewDiagDense(3, []float64{1, 1, d})
	var vf, rot mat.Dense
	vf.Mul(&v, fix)
	rot.Mul(&vf, u.T())

	cpa := cp.Array()
	rcp := mat.NewVecDense(3, nil)
	rcp.MulVec(&rot, mat.NewVecDense(3, cpa[:]))
	t := cq.Sub(geometry.Point3D{X: rcp.AtVec(0), Y: rcp.AtVec(1), Z: rcp.AtVec(2)})

	out := mat.NewDense(4, 4, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.Set(r, c, rot.At(r, c))
		}
	}
	out.Set(0, 3, t.X)
	out.Set(1, 3, t.Y)
	out.Set(2, 3, t.Z)
	out.Set(3, 3, 1)
	return out, nil
}

func translationMatrix(t geometry.Point3D) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, t.X,
		0, 1, 0, t.Y,
		0, 0, 1, t.Z,
		0, 0, 0, 1,
	})
}

func applyMatrix(m mat.Matrix, p geometry.Point3D) geometry.Point3D {
	return geometry.Point3D{
		X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)*p.Z + m.At(0, 3),
		Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)*p.Z + m.At(1, 3),
		Z: m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)*p.Z + m.At(2, 3),
	}
}

package geometry

import (
	"fmt"

	"shapegroom/pkg/failure"
)

// minNormal is the smallest normal length accepted for a cutting plane.
const minNormal = 1e-9

// PlanePoints holds the three points that define an oriented cutting plane.
// It is a value type: copying it copies the points.
type PlanePoints [3]Point3D

// PlaneFromSlice builds a plane from 9 scalars (x0 y0 z0 x1 y1 z1 x2 y2 z2).
func PlaneFromSlice(v []float64) (PlanePoints, error) {
	if len(v) != 9 {
		return PlanePoints{}, failure.Configf("cutting plane needs 9 values, got %d", len(v))
	}
	var p PlanePoints
	for i := 0; i < 3; i++ {
		p[i] = Point3D{X: v[3*i], Y: v[3*i+1], Z: v[3*i+2]}
	}
	return p, nil
}

// Flatten returns the 9 scalars of the plane in point order.
func (pp PlanePoints) Flatten() []float64 {
	out := make([]float64, 0, 9)
	for _, p := range pp {
		out = append(out, p.X, p.Y, p.Z)
	}
	return out
}

// Normal returns the unnormalized plane normal (p1-p0) × (p2-p0).
// Collinear or coincident points yield an ErrDegenerateGeometry error.
func (pp PlanePoints) Normal() (Point3D, error) {
	n := pp[1].Sub(pp[0]).Cross(pp[2].Sub(pp[0]))
	if n.Norm() < minNormal {
		return Point3D{}, failure.Degeneratef("cutting plane points %v are collinear", pp)
	}
	return n, nil
}

// UnitNormal returns the normalized plane normal.
func (pp PlanePoints) UnitNormal() (Point3D, error) {
	n, err := pp.Normal()
	if err != nil {
		return Point3D{}, err
	}
	return n.Scale(1 / n.Norm()), nil
}

// SignedDistance returns the signed distance of q from the plane; positive
// values lie on the side the normal points to.
func (pp PlanePoints) SignedDistance(q Point3D) (float64, error) {
	n, err := pp.UnitNormal()
	if err != nil {
		return 0, err
	}
	return q.Sub(pp[0]).Dot(n), nil
}

// Map applies f to each point and returns the new plane.
func (pp PlanePoints) Map(f func(Point3D) Point3D) PlanePoints {
	var out PlanePoints
	for i, p := range pp {
		out[i] = f(p)
	}
	return out
}

// ApproxEqual reports whether all three points match within tol.
func (pp PlanePoints) ApproxEqual(o PlanePoints, tol float64) bool {
	for i := range pp {
		if !pp[i].ApproxEqual(o[i], tol) {
			return false
		}
	}
	return true
}

func (pp PlanePoints) String() string {
	return fmt.Sprintf("{(%g,%g,%g) (%g,%g,%g) (%g,%g,%g)}",
		pp[0].X, pp[0].Y, pp[0].Z, pp[1].X, pp[1].Y, pp[1].Z, pp[2].X, pp[2].Y, pp[2].Z)
}

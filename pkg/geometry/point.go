// Package geometry provides the 3-D value types shared by the grooming
// pipeline: points, cutting planes and axis-aligned boxes.
package geometry

import (
	"math"
)

// Point3D represents a point (or vector) in physical coordinates.
type Point3D struct {
	X, Y, Z float64
}

// NewPoint3D creates a new Point3D.
func NewPoint3D(x, y, z float64) Point3D {
	return Point3D{X: x, Y: y, Z: z}
}

// FromArray creates a Point3D from a 3-element array.
func FromArray(v [3]float64) Point3D {
	return Point3D{X: v[0], Y: v[1], Z: v[2]}
}

// Array returns the coordinates as an array.
func (p Point3D) Array() [3]float64 {
	return [3]float64{p.X, p.Y, p.Z}
}

// Coord returns the coordinate along axis 0 (x), 1 (y) or 2 (z).
func (p Point3D) Coord(axis int) float64 {
	switch axis {
	case 0:
		return p.X
	case 1:
		return p.Y
	case 2:
		return p.Z
	default:
		panic("illegal axis")
	}
}

// WithCoord returns a copy of p with the coordinate along axis replaced.
func (p Point3D) WithCoord(axis int, v float64) Point3D {
	switch axis {
	case 0:
		p.X = v
	case 1:
		p.Y = v
	case 2:
		p.Z = v
	default:
		panic("illegal axis")
	}
	return p
}

// Add returns the sum of two points.
func (p Point3D) Add(o Point3D) Point3D {
	return Point3D{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

// Sub returns the difference of two points.
func (p Point3D) Sub(o Point3D) Point3D {
	return Point3D{X: p.X - o.X, Y: p.Y - o.Y, Z: p.Z - o.Z}
}

// Scale returns the point scaled by a factor.
func (p Point3D) Scale(f float64) Point3D {
	return Point3D{X: p.X * f, Y: p.Y * f, Z: p.Z * f}
}

// Dot returns the dot product.
func (p Point3D) Dot(o Point3D) float64 {
	return p.X*o.X + p.Y*o.Y + p.Z*o.Z
}

// Cross returns the cross product p × o.
func (p Point3D) Cross(o Point3D) Point3D {
	return Point3D{
		X: p.Y*o.Z - p.Z*o.Y,
		Y: p.Z*o.X - p.X*o.Z,
		Z: p.X*o.Y - p.Y*o.X,
	}
}

// Norm returns the Euclidean length.
func (p Point3D) Norm() float64 {
	return math.Sqrt(p.Dot(p))
}

// Distance returns the Euclidean distance to another point.
func (p Point3D) Distance(o Point3D) float64 {
	return p.Sub(o).Norm()
}

// ApproxEqual reports whether every coordinate differs by at most tol.
func (p Point3D) ApproxEqual(o Point3D, tol float64) bool {
	return math.Abs(p.X-o.X) <= tol && math.Abs(p.Y-o.Y) <= tol && math.Abs(p.Z-o.Z) <= tol
}

// Points3D is a collection of points.
type Points3D []Point3D

// Centroid returns the mean of the points, or the zero point for an empty set.
func (p Points3D) Centroid() Point3D {
	if len(p) == 0 {
		return Point3D{}
	}
	var sum Point3D
	for _, q := range p {
		sum = sum.Add(q)
	}
	return sum.Scale(1 / float64(len(p)))
}

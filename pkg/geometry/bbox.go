package geometry

import (
	"math"
)

// BoundingBox is an axis-aligned box in physical coordinates.
// The zero value is the empty box.
type BoundingBox struct {
	Min, Max Point3D
	valid    bool
}

// NewBoundingBox creates a box spanning two corners.
func NewBoundingBox(a, b Point3D) BoundingBox {
	return BoundingBox{
		Min:   Point3D{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y), Z: math.Min(a.Z, b.Z)},
		Max:   Point3D{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Z: math.Max(a.Z, b.Z)},
		valid: true,
	}
}

// Empty reports whether the box contains no points.
func (b BoundingBox) Empty() bool {
	return !b.valid
}

// Extend returns the smallest box containing b and p.
func (b BoundingBox) Extend(p Point3D) BoundingBox {
	if !b.valid {
		return BoundingBox{Min: p, Max: p, valid: true}
	}
	return NewBoundingBox(
		Point3D{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)},
		Point3D{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)},
	)
}

// Union returns the smallest box containing both boxes.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	if !o.valid {
		return b
	}
	return b.Extend(o.Min).Extend(o.Max)
}

// Contains reports whether p lies inside the box (inclusive) with tolerance tol.
func (b BoundingBox) Contains(p Point3D, tol float64) bool {
	if !b.valid {
		return false
	}
	return p.X >= b.Min.X-tol && p.X <= b.Max.X+tol &&
		p.Y >= b.Min.Y-tol && p.Y <= b.Max.Y+tol &&
		p.Z >= b.Min.Z-tol && p.Z <= b.Max.Z+tol
}

// ContainsBox reports whether o lies entirely inside b.
func (b BoundingBox) ContainsBox(o BoundingBox, tol float64) bool {
	if !o.valid {
		return true
	}
	return b.Contains(o.Min, tol) && b.Contains(o.Max, tol)
}

// Grow returns the box expanded by d along every axis on both sides.
func (b BoundingBox) Grow(d Point3D) BoundingBox {
	if !b.valid {
		return b
	}
	return NewBoundingBox(b.Min.Sub(d), b.Max.Add(d))
}

// Size returns the extent along each axis.
func (b BoundingBox) Size() Point3D {
	if !b.valid {
		return Point3D{}
	}
	return b.Max.Sub(b.Min)
}

// Center returns the box center.
func (b BoundingBox) Center() Point3D {
	return b.Min.Add(b.Max).Scale(0.5)
}

// BoundsOf returns the bounding box of a point set.
func BoundsOf(pts []Point3D) BoundingBox {
	var b BoundingBox
	for _, p := range pts {
		b = b.Extend(p)
	}
	return b
}

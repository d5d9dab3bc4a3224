package geometry

import (
	"gonum.org/v1/gonum/spatial/kdtree"
)

// treePoint is the kd-tree view of a Point3D.
type treePoint Point3D

// Compare implements the kdtree.Comparable interface
func (p treePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(treePoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p treePoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p treePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(treePoint)
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

// treePoints is a collection of treePoint that satisfies kdtree.Interface
type treePoints []treePoint

func (p treePoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p treePoints) Len() int                              { return len(p) }
func (p treePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p treePoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{treePoints: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{treePoints: p, Dim: d}, 100))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for treePoints
type pointPlane struct {
	treePoints
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	return Point3D(p.treePoints[i]).Coord(int(p.Dim)) < Point3D(p.treePoints[j]).Coord(int(p.Dim))
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{treePoints: p.treePoints[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.treePoints[i], p.treePoints[j] = p.treePoints[j], p.treePoints[i]
}

// Tree answers nearest-neighbour queries over a fixed point set.
type Tree struct {
	tree *kdtree.Tree
	size int
}

// NewTree builds a KD-tree over a copy of pts.
func NewTree(pts []Point3D) *Tree {
	data := make(treePoints, len(pts))
	for i, p := range pts {
		data[i] = treePoint(p)
	}
	return &Tree{tree: kdtree.New(data, false), size: len(pts)}
}

// Len returns the number of points in the tree.
func (t *Tree) Len() int {
	return t.size
}

// Nearest returns the closest point to q and its squared distance.
// It returns ok=false for an empty tree.
func (t *Tree) Nearest(q Point3D) (nearest Point3D, dist2 float64, ok bool) {
	if t.size == 0 {
		return Point3D{}, 0, false
	}
	c, d := t.tree.Nearest(treePoint(q))
	if c == nil {
		return Point3D{}, 0, false
	}
	return Point3D(c.(treePoint)), d, true
}

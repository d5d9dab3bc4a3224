// Package transform holds the per-sample log of geometric transforms applied
// during grooming.
//
// Every record stores its point-forward mapping, i.e. how a physical point in
// the frame before the step maps into the frame after it:
//
//	AxisFlip     p[axis] -> 2*Center - p[axis]
//	Translation  p -> p - Offset
//	Rigid        p -> M * [p 1]
//
// Rigid matrices are stored sample -> reference, so carrying a point from a
// sample's original frame to the aligned frame applies the matrix as is.
package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"shapegroom/pkg/failure"
	"shapegroom/pkg/geometry"
)

// Kind tags the variant of a Record.
type Kind int

const (
	KindAxisFlip Kind = iota
	KindTranslation
	KindRigid
)

func (k Kind) String() string {
	switch k {
	case KindAxisFlip:
		return "flip"
	case KindTranslation:
		return "translation"
	case KindRigid:
		return "rigid"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Stage names used by the alignment chain.
const (
	StageReflect = "reflect"
	StageCOM     = "com"
	StageCenter  = "center"
	StageRigid   = "rigid"
)

// Record is one entry of a transform log.
type Record interface {
	// Kind returns the variant tag.
	Kind() Kind
	// Stage returns the name of the grooming step that produced the record.
	Stage() string
	// Apply maps a point forward through the transform.
	Apply(p geometry.Point3D) geometry.Point3D
	// Invert maps a point backward through the transform.
	Invert(p geometry.Point3D) geometry.Point3D
}

// AxisFlip mirrors one axis about a plane perpendicular to it.
type AxisFlip struct {
	StageName string
	Axis      int
	Center    float64
}

// NewAxisFlip creates a reflection record for the given axis.
func NewAxisFlip(axis int, center float64) (AxisFlip, error) {
	if axis < 0 || axis > 2 {
		return AxisFlip{}, failure.Configf("reflection axis %d out of range", axis)
	}
	return AxisFlip{StageName: StageReflect, Axis: axis, Center: center}, nil
}

func (f AxisFlip) Kind() Kind    { return KindAxisFlip }
func (f AxisFlip) Stage() string { return f.StageName }

func (f AxisFlip) Apply(p geometry.Point3D) geometry.Point3D {
	return p.WithCoord(f.Axis, 2*f.Center-p.Coord(f.Axis))
}

// Invert is the same as Apply: a reflection is its own inverse.
func (f AxisFlip) Invert(p geometry.Point3D) geometry.Point3D {
	return f.Apply(p)
}

// Translation removes an offset from every point.
type Translation struct {
	StageName string
	Offset    geometry.Point3D
}

// NewTranslation creates a translation record for a stage.
func NewTranslation(stage string, offset geometry.Point3D) Translation {
	return Translation{StageName: stage, Offset: offset}
}

func (t Translation) Kind() Kind    { return KindTranslation }
func (t Translation) Stage() string { return t.StageName }

func (t Translation) Apply(p geometry.Point3D) geometry.Point3D {
	return p.Sub(t.Offset)
}

func (t Translation) Invert(p geometry.Point3D) geometry.Point3D {
	return p.Add(t.Offset)
}

// Rigid is a 4x4 homogeneous transform. The inverse is computed once when the
// record is built.
type Rigid struct {
	StageName string
	matrix    *mat.Dense
	inverse   *mat.Dense
}

// NewRigid creates a rigid record from a 4x4 matrix. The matrix is copied.
// A bottom row other than [0 0 0 1] is an ErrDegenerateGeometry error.
func NewRigid(stage string, m mat.Matrix) (Rigid, error) {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return Rigid{}, failure.Configf("rigid matrix must be 4x4, got %dx%d", r, c)
	}
	for j, want := range [4]float64{0, 0, 0, 1} {
		if math.Abs(m.At(3, j)-want) > 1e-12 {
			return Rigid{}, failure.Degeneratef("rigid matrix bottom row must be [0 0 0 1], got %v",
				mat.Row(nil, 3, m))
		}
	}
	matrix := mat.DenseCopyOf(m)
	matrix.SetRow(3, []float64{0, 0, 0, 1})
	var inv mat.Dense
	if err := inv.Inverse(matrix); err != nil {
		return Rigid{}, failure.Degeneratef("rigid matrix is singular: %v", err)
	}
	return Rigid{StageName: stage, matrix: matrix, inverse: &inv}, nil
}

// IdentityRigid returns a rigid record that leaves points unchanged.
func IdentityRigid(stage string) Rigid {
	id := mat.NewDiagDense(4, []float64{1, 1, 1, 1})
	r, _ := NewRigid(stage, id)
	return r
}

func (r Rigid) Kind() Kind    { return KindRigid }
func (r Rigid) Stage() string { return r.StageName }

// Matrix returns a copy of the forward matrix.
func (r Rigid) Matrix() *mat.Dense {
	return mat.DenseCopyOf(r.matrix)
}

// InverseMatrix returns a copy of the inverse matrix.
func (r Rigid) InverseMatrix() *mat.Dense {
	return mat.DenseCopyOf(r.inverse)
}

func (r Rigid) Apply(p geometry.Point3D) geometry.Point3D {
	return applyHomogeneous(r.matrix, p)
}

func (r Rigid) Invert(p geometry.Point3D) geometry.Point3D {
	return applyHomogeneous(r.inverse, p)
}

// applyHomogeneous promotes p to [x y z 1] and left-multiplies by m. NewRigid
// guarantees an affine bottom row, so w is always 1.
func applyHomogeneous(m *mat.Dense, p geometry.Point3D) geometry.Point3D {
	in := mat.NewVecDense(4, []float64{p.X, p.Y, p.Z, 1})
	var out mat.VecDense
	out.MulVec(m, in)
	return geometry.Point3D{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

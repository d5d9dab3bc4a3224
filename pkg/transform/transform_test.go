package transform

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"shapegroom/pkg/failure"
	"shapegroom/pkg/geometry"
)

// rotZ returns a rotation of angle radians about the z axis.
func rotZ(angle float64) [3][3]float64 {
	c, s := math.Cos(angle), math.Sin(angle)
	return [3][3]float64{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
}

func fullLog(t *testing.T) Log {
	t.Helper()
	flip, err := NewAxisFlip(0, 31.5)
	require.NoError(t, err)
	rigid, err := NewRigidFromParts(StageRigid, rotZ(0.3), geometry.Point3D{X: 2, Y: -4, Z: 1.5})
	require.NoError(t, err)
	return NewLog(
		flip,
		NewTranslation(StageCOM, geometry.Point3D{X: 1, Y: 1, Z: 1}),
		NewTranslation(StageCenter, geometry.Point3D{X: 30, Y: 28, Z: 25}),
		rigid,
	)
}

func TestRoundTrip(t *testing.T) {
	log := fullLog(t)
	points := []geometry.Point3D{
		{},
		{X: 1, Y: 2, Z: 3},
		{X: -120.5, Y: 44.25, Z: 9e3},
		{X: 1e-4, Y: -1e-4, Z: 7},
	}
	for _, p := range points {
		back := log.Inverse(log.Forward(p))
		scale := math.Max(1, p.Norm())
		assert.True(t, back.ApproxEqual(p, 1e-6*scale), "round trip of %v gave %v", p, back)
	}
}

func TestForwardOrder(t *testing.T) {
	// A translation followed by a rotation differs from the reverse order,
	// so this pins down that Forward replays records as recorded.
	rigid, err := NewRigidFromParts(StageRigid, rotZ(math.Pi/2), geometry.Point3D{})
	require.NoError(t, err)
	log := NewLog(NewTranslation(StageCOM, geometry.Point3D{X: 1}), rigid)

	got := log.Forward(geometry.Point3D{X: 2})
	// (2,0,0) - (1,0,0) = (1,0,0), rotated 90 degrees about z = (0,1,0)
	assert.True(t, got.ApproxEqual(geometry.Point3D{Y: 1}, 1e-12), "got %v", got)
}

func TestIdentityRigid(t *testing.T) {
	id := IdentityRigid(StageRigid)
	p := geometry.Point3D{X: 3, Y: -2, Z: 8}
	assert.Equal(t, p, id.Apply(p))
	assert.Equal(t, p, id.Invert(p))
}

func TestSingularRigid(t *testing.T) {
	_, err := NewRigidFromParts(StageRigid, [3][3]float64{}, geometry.Point3D{})
	assert.ErrorIs(t, err, failure.ErrDegenerateGeometry)
}

func TestProjectiveRigidRejected(t *testing.T) {
	_, err := NewRigid(StageRigid, mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 1, 0,
	}))
	assert.ErrorIs(t, err, failure.ErrDegenerateGeometry)

	// Same matrix read back from a transforms file
	text := "rigid rigid:\n1 0 0 0\n0 1 0 0\n0 0 1 0\n0 0 1 0\n"
	_, _, err = Decode(strings.NewReader(text))
	assert.ErrorIs(t, err, failure.ErrDegenerateGeometry)

	text = "rigid rigid:\n1 0 0 5\n0 1 0 0\n0 0 1 0\n0 0 0 2\n"
	_, _, err = Decode(strings.NewReader(text))
	assert.ErrorIs(t, err, failure.ErrDegenerateGeometry)
}

func TestAxisFlipIsInvolution(t *testing.T) {
	f, err := NewAxisFlip(2, 10)
	require.NoError(t, err)
	p := geometry.Point3D{X: 1, Y: 2, Z: 3}
	assert.Equal(t, geometry.Point3D{X: 1, Y: 2, Z: 17}, f.Apply(p))
	assert.Equal(t, p, f.Invert(f.Apply(p)))

	_, err = NewAxisFlip(3, 0)
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestEncodeDecode(t *testing.T) {
	log := fullLog(t)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, "N03_L", log))
	text := buf.String()
	assert.Contains(t, text, "translation com: 1 1 1\n")
	assert.Contains(t, text, "rigid rigid:\n")

	id, decoded, err := Decode(strings.NewReader(text))
	require.NoError(t, err)
	assert.Equal(t, "N03_L", id)
	require.Equal(t, log.Len(), decoded.Len())

	p := geometry.Point3D{X: 5, Y: 6, Z: 7}
	assert.True(t, decoded.Forward(p).ApproxEqual(log.Forward(p), 1e-9))
	for i, r := range decoded.Records() {
		assert.Equal(t, log.Records()[i].Kind(), r.Kind())
		assert.Equal(t, log.Records()[i].Stage(), r.Stage())
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"missing colon", "translation com 1 2 3\n"},
		{"short vector", "translation com: 1 2\n"},
		{"bad number", "translation com: 1 x 3\n"},
		{"unknown kind", "scale com: 1 1 1\n"},
		{"truncated matrix", "rigid rigid:\n1 0 0 0\n0 1 0 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(strings.NewReader(tt.text))
			assert.Error(t, err)
		})
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "N04_R.transforms.txt")
	log := fullLog(t)
	require.NoError(t, WriteFile(path, "N04_R", log))

	id, decoded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "N04_R", id)
	assert.Equal(t, 4, decoded.Len())

	_, _, err = ReadFile(filepath.Join(t.TempDir(), "absent.txt"))
	assert.ErrorIs(t, err, failure.ErrMissingArtifact)
}

func TestLogAccessors(t *testing.T) {
	log := fullLog(t)
	r, ok := log.Find(StageCenter)
	require.True(t, ok)
	assert.Equal(t, KindTranslation, r.Kind())

	_, ok = log.Rigid()
	assert.True(t, ok)

	clone := log.Clone()
	clone.Append(NewTranslation("extra", geometry.Point3D{}))
	assert.Equal(t, 4, log.Len())
	assert.Equal(t, 5, clone.Len())
}

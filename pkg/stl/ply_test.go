package stl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shapegroom/pkg/failure"
)

const asciiPLY = `ply
format ascii 1.0
comment ellipsoid test
element vertex 5
property float x
property float y
property float z
property uchar red
element face 2
property list uchar int vertex_indices
element edge 1
property int vertex1
property int vertex2
end_header
0 0 0 255
2 0 0 255
2 2 0 255
0 2 0 255
1 1 3 0
4 0 1 2 3
3 0 1 4
0 1
`

// TestDecodePLYASCII verifies polygons are split into triangle fans
func TestDecodePLYASCII(t *testing.T) {
	mesh, err := DecodePLY(strings.NewReader(asciiPLY))
	if err != nil {
		t.Fatalf("DecodePLY failed: %v", err)
	}
	if len(mesh.Triangles) != 3 {
		t.Fatalf("Expected 3 triangles, got %d", len(mesh.Triangles))
	}
	if got := mesh.Triangles[1].Vertex3; got != [3]float32{0, 2, 0} {
		t.Errorf("Unexpected fan vertex %v", got)
	}
	if got := mesh.Triangles[0].Normal; got != [3]float32{0, 0, 1} {
		t.Errorf("Expected +z normal, got %v", got)
	}
	b := mesh.Bounds()
	if b.Max.Z != 3 || b.Max.X != 2 {
		t.Errorf("Unexpected bounds %+v", b)
	}
}

// TestDecodePLYBinary verifies both byte orders of the binary format
func TestDecodePLYBinary(t *testing.T) {
	for name, order := range map[string]binary.ByteOrder{
		"binary_little_endian": binary.LittleEndian,
		"binary_big_endian":    binary.BigEndian,
	} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			buf.WriteString("ply\nformat " + name + " 1.0\n" +
				"element vertex 3\nproperty double x\nproperty double y\nproperty double z\n" +
				"element face 1\nproperty list uchar int vertex_indices\nend_header\n")
			for _, v := range [][3]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}} {
				_ = binary.Write(&buf, order, v)
			}
			buf.WriteByte(3)
			_ = binary.Write(&buf, order, [3]int32{0, 1, 2})

			mesh, err := DecodePLY(&buf)
			if err != nil {
				t.Fatalf("DecodePLY failed: %v", err)
			}
			if len(mesh.Triangles) != 1 {
				t.Fatalf("Expected 1 triangle, got %d", len(mesh.Triangles))
			}
			if math.Abs(mesh.Area()-0.5) > 1e-9 {
				t.Errorf("Expected area 0.5, got %f", mesh.Area())
			}
		})
	}
}

// TestDecodePLYErrors verifies malformed files are rejected
func TestDecodePLYErrors(t *testing.T) {
	header := "ply\nformat ascii 1.0\nelement vertex 3\nproperty float x\nproperty float y\nproperty float z\n"
	tests := []struct {
		name       string
		data       string
		degenerate bool
	}{
		{"not ply", "solid x\n", false},
		{"no faces", header + "end_header\n0 0 0\n1 0 0\n0 1 0\n", true},
		{"bad index", header + "element face 1\nproperty list uchar int vertex_indices\nend_header\n0 0 0\n1 0 0\n0 1 0\n3 0 1 7\n", false},
		{"truncated", header + "element face 1\nproperty list uchar int vertex_indices\nend_header\n0 0 0\n1 0\n", false},
		{"unknown type", "ply\nformat ascii 1.0\nelement vertex 1\nproperty quad x\nend_header\n", false},
		{"no z", "ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nproperty float y\nend_header\n0 0\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePLY(strings.NewReader(tt.data))
			if err == nil {
				t.Fatal("Expected error")
			}
			if got := errors.Is(err, failure.ErrDegenerateGeometry); got != tt.degenerate {
				t.Errorf("degenerate = %v, want %v (%v)", got, tt.degenerate, err)
			}
		})
	}
}

// TestLoadDispatchesOnExtension verifies Load reads PLY files
func TestLoadDispatchesOnExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ellipsoid_00.ply")
	if err := os.WriteFile(path, []byte(asciiPLY), 0644); err != nil {
		t.Fatal(err)
	}
	mesh, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(mesh.Triangles) != 3 {
		t.Errorf("Expected 3 triangles, got %d", len(mesh.Triangles))
	}

	_, err = Load(filepath.Join(t.TempDir(), "absent.ply"))
	if !errors.Is(err, failure.ErrMissingArtifact) {
		t.Errorf("Expected missing artifact, got %v", err)
	}
}

package stl

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"shapegroom/pkg/geometry"
	"shapegroom/pkg/volume"
)

// Mesh is a triangle soup surface.
type Mesh struct {
	Triangles []Triangle
}

// Clone returns a deep copy of the mesh.
func (m *Mesh) Clone() *Mesh {
	return &Mesh{Triangles: append([]Triangle(nil), m.Triangles...)}
}

// Bounds returns the physical bounding box of the mesh vertices.
func (m *Mesh) Bounds() geometry.BoundingBox {
	var b geometry.BoundingBox
	for _, t := range m.Triangles {
		for _, v := range t.Vertices() {
			b = b.Extend(geometry.Point3D{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])})
		}
	}
	return b
}

// Reflect mirrors the mesh along axis about the plane at center. The vertex
// order of each facet is swapped so normals keep pointing outward.
func (m *Mesh) Reflect(axis int, center float64) (*Mesh, error) {
	if axis < 0 || axis > 2 {
		return nil, fmt.Errorf("invalid reflection axis %d", axis)
	}
	c := float32(center)
	out := &Mesh{Triangles: make([]Triangle, len(m.Triangles))}
	for i, t := range m.Triangles {
		t.Vertex1[axis] = 2*c - t.Vertex1[axis]
		t.Vertex2[axis] = 2*c - t.Vertex2[axis]
		t.Vertex3[axis] = 2*c - t.Vertex3[axis]
		t.Vertex2, t.Vertex3 = t.Vertex3, t.Vertex2
		t.Normal = t.ComputeNormal()
		out.Triangles[i] = t
	}
	return out, nil
}

// SurfaceFromVolume builds a closed surface from a segmentation by emitting
// two triangles for every foreground voxel face that borders background.
// The result is a stair-step surface in physical coordinates, used for
// quick inspection of groomed segmentations.
func SurfaceFromVolume(v *volume.Volume) *Mesh {
	type face struct {
		dir     [3]int
		corners [4][3]float64
	}
	// Corners are offsets from the voxel center in voxel units, listed
	// counter-clockwise when seen from outside.
	h := 0.5
	faces := [6]face{
		{[3]int{1, 0, 0}, [4][3]float64{{h, -h, -h}, {h, h, -h}, {h, h, h}, {h, -h, h}}},
		{[3]int{-1, 0, 0}, [4][3]float64{{-h, -h, -h}, {-h, -h, h}, {-h, h, h}, {-h, h, -h}}},
		{[3]int{0, 1, 0}, [4][3]float64{{-h, h, -h}, {-h, h, h}, {h, h, h}, {h, h, -h}}},
		{[3]int{0, -1, 0}, [4][3]float64{{-h, -h, -h}, {h, -h, -h}, {h, -h, h}, {-h, -h, h}}},
		{[3]int{0, 0, 1}, [4][3]float64{{-h, -h, h}, {h, -h, h}, {h, h, h}, {-h, h, h}}},
		{[3]int{0, 0, -1}, [4][3]float64{{-h, -h, -h}, {-h, h, -h}, {h, h, -h}, {h, -h, -h}}},
	}

	mesh := &Mesh{}
	for k := 0; k < v.Dims[2]; k++ {
		for j := 0; j < v.Dims[1]; j++ {
			for i := 0; i < v.Dims[0]; i++ {
				if !v.IsForeground(v.Index(i, j, k)) {
					continue
				}
				center := v.Physical(i, j, k)
				for _, f := range faces {
					ni, nj, nk := i+f.dir[0], j+f.dir[1], k+f.dir[2]
					if v.InBounds(ni, nj, nk) && v.IsForeground(v.Index(ni, nj, nk)) {
						continue
					}
					var c [4][3]float32
					for n, off := range f.corners {
						c[n] = [3]float32{
							float32(center.X + off[0]*v.Spacing[0]),
							float32(center.Y + off[1]*v.Spacing[1]),
							float32(center.Z + off[2]*v.Spacing[2]),
						}
					}
					normal := [3]float32{float32(f.dir[0]), float32(f.dir[1]), float32(f.dir[2])}
					mesh.Triangles = append(mesh.Triangles,
						Triangle{Normal: normal, Vertex1: c[0], Vertex2: c[1], Vertex3: c[2]},
						Triangle{Normal: normal, Vertex1: c[0], Vertex2: c[2], Vertex3: c[3]},
					)
				}
			}
		}
	}
	return mesh
}

// Area returns the total surface area.
func (m *Mesh) Area() float64 {
	var area float64
	for _, t := range m.Triangles {
		ux, uy, uz := float64(t.Vertex2[0]-t.Vertex1[0]), float64(t.Vertex2[1]-t.Vertex1[1]), float64(t.Vertex2[2]-t.Vertex1[2])
		vx, vy, vz := float64(t.Vertex3[0]-t.Vertex1[0]), float64(t.Vertex3[1]-t.Vertex1[1]), float64(t.Vertex3[2]-t.Vertex1[2])
		nx, ny, nz := uy*vz-uz*vy, uz*vx-ux*vz, ux*vy-uy*vx
		area += 0.5 * math.Sqrt(nx*nx+ny*ny+nz*nz)
	}
	return area
}

// Load reads a mesh from an STL file, or from a PLY file when the name ends
// in .ply.
func Load(path string) (*Mesh, error) {
	if strings.EqualFold(filepath.Ext(path), ".ply") {
		return LoadPLY(path)
	}
	triangles, err := LoadSTL(path)
	if err != nil {
		return nil, err
	}
	return &Mesh{Triangles: triangles}, nil
}

// Save writes the mesh as binary STL.
func (m *Mesh) Save(path string) error {
	return SaveToSTL(path, m.Triangles)
}

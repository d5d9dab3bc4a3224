// Package stl reads and writes triangle surface meshes in the STL format,
// reads PLY surfaces, and provides the mesh operations used by mesh-based
// grooming.
package stl

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"shapegroom/pkg/failure"
)

// Triangle is one facet of a surface mesh.
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// Vertices returns the three vertices in order.
func (t Triangle) Vertices() [3][3]float32 {
	return [3][3]float32{t.Vertex1, t.Vertex2, t.Vertex3}
}

// ComputeNormal returns the unit normal implied by the vertex winding.
func (t Triangle) ComputeNormal() [3]float32 {
	ux, uy, uz := t.Vertex2[0]-t.Vertex1[0], t.Vertex2[1]-t.Vertex1[1], t.Vertex2[2]-t.Vertex1[2]
	vx, vy, vz := t.Vertex3[0]-t.Vertex1[0], t.Vertex3[1]-t.Vertex1[1], t.Vertex3[2]-t.Vertex1[2]
	nx, ny, nz := uy*vz-uz*vy, uz*vx-ux*vz, ux*vy-uy*vx
	l := float32(math.Sqrt(float64(nx*nx + ny*ny + nz*nz)))
	if l == 0 {
		return [3]float32{}
	}
	return [3]float32{nx / l, ny / l, nz / l}
}

// WriteBinary encodes triangles as binary STL.
func WriteBinary(w io.Writer, triangles []Triangle) error {
	bw := bufio.NewWriter(w)

	// 80-byte header
	header := make([]byte, 80)
	copy(header, "shapegroom binary STL")
	if _, err := bw.Write(header); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return err
	}

	// Each facet: normal, 3 vertices, 2-byte attribute count
	for _, t := range triangles {
		rec := struct {
			Normal, V1, V2, V3 [3]float32
			Attr               uint16
		}{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3, 0}
		if err := binary.Write(bw, binary.LittleEndian, rec); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SaveToSTL writes triangles to a binary STL file.
func SaveToSTL(path string, triangles []Triangle) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create STL file: %w", err)
	}
	if err := WriteBinary(f, triangles); err != nil {
		f.Close()
		return fmt.Errorf("failed to write STL file: %w", err)
	}
	return f.Close()
}

// Decode reads binary or ASCII STL.
func Decode(r io.Reader) ([]Triangle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) >= 84 {
		n := binary.LittleEndian.Uint32(data[80:84])
		if uint64(len(data)) == 84+uint64(n)*50 {
			return decodeBinary(data[84:], int(n))
		}
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("solid")) {
		return decodeASCII(data)
	}
	return nil, fmt.Errorf("unrecognized STL data (%d bytes)", len(data))
}

func decodeBinary(body []byte, n int) ([]Triangle, error) {
	triangles := make([]Triangle, n)
	rd := bytes.NewReader(body)
	for i := range triangles {
		var rec struct {
			Normal, V1, V2, V3 [3]float32
			Attr               uint16
		}
		if err := binary.Read(rd, binary.LittleEndian, &rec); err != nil {
			return nil, fmt.Errorf("facet %d: %w", i, err)
		}
		triangles[i] = Triangle{Normal: rec.Normal, Vertex1: rec.V1, Vertex2: rec.V2, Vertex3: rec.V3}
	}
	return triangles, nil
}

func decodeASCII(data []byte) ([]Triangle, error) {
	var (
		triangles []Triangle
		cur       Triangle
		verts     int
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "facet":
			cur = Triangle{}
			verts = 0
			if len(fields) == 5 && fields[1] == "normal" {
				n, err := parseVec(fields[2:])
				if err != nil {
					return nil, err
				}
				cur.Normal = n
			}
		case "vertex":
			v, err := parseVec(fields[1:])
			if err != nil {
				return nil, err
			}
			switch verts {
			case 0:
				cur.Vertex1 = v
			case 1:
				cur.Vertex2 = v
			case 2:
				cur.Vertex3 = v
			default:
				return nil, fmt.Errorf("facet %d has more than 3 vertices", len(triangles))
			}
			verts++
		case "endfacet":
			if verts != 3 {
				return nil, fmt.Errorf("facet %d has %d vertices", len(triangles), verts)
			}
			triangles = append(triangles, cur)
		}
	}
	return triangles, scanner.Err()
}

func parseVec(fields []string) ([3]float32, error) {
	var v [3]float32
	if len(fields) < 3 {
		return v, fmt.Errorf("expected 3 coordinates, got %d", len(fields))
	}
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return v, fmt.Errorf("invalid coordinate %q: %w", fields[i], err)
		}
		v[i] = float32(f)
	}
	return v, nil
}

// LoadSTL reads an STL file. A missing file is an ErrMissingArtifact error.
func LoadSTL(path string) ([]Triangle, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.Missingf("mesh %s", path)
		}
		return nil, err
	}
	defer f.Close()

	triangles, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return triangles, nil
}

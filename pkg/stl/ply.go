package stl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"shapegroom/pkg/failure"
)

// PLY scalar types by canonical name, with their sizes in bytes.
var plySizes = map[string]int{
	"char": 1, "uchar": 1,
	"short": 2, "ushort": 2,
	"int": 4, "uint": 4,
	"float": 4, "double": 8,
}

var plyAliases = map[string]string{
	"int8": "char", "uint8": "uchar",
	"int16": "short", "uint16": "ushort",
	"int32": "int", "uint32": "uint",
	"float32": "float", "float64": "double",
}

func plyType(name string) (string, error) {
	if canon, ok := plyAliases[name]; ok {
		name = canon
	}
	if _, ok := plySizes[name]; !ok {
		return "", fmt.Errorf("unsupported PLY type %q", name)
	}
	return name, nil
}

type plyProperty struct {
	name string
	typ  string

	// countType is set for list properties
	countType string
}

type plyElement struct {
	name  string
	count int
	props []plyProperty
}

// plyValues yields the scalars of the PLY body in file order.
type plyValues interface {
	next(typ string) (float64, error)
}

type asciiValues struct {
	s *bufio.Scanner
}

func (a *asciiValues) next(string) (float64, error) {
	if !a.s.Scan() {
		if err := a.s.Err(); err != nil {
			return 0, err
		}
		return 0, io.ErrUnexpectedEOF
	}
	return strconv.ParseFloat(a.s.Text(), 64)
}

type binaryValues struct {
	r     io.Reader
	order binary.ByteOrder
	buf   [8]byte
}

func (b *binaryValues) next(typ string) (float64, error) {
	p := b.buf[:plySizes[typ]]
	if _, err := io.ReadFull(b.r, p); err != nil {
		return 0, err
	}
	switch typ {
	case "char":
		return float64(int8(p[0])), nil
	case "uchar":
		return float64(p[0]), nil
	case "short":
		return float64(int16(b.order.Uint16(p))), nil
	case "ushort":
		return float64(b.order.Uint16(p)), nil
	case "int":
		return float64(int32(b.order.Uint32(p))), nil
	case "uint":
		return float64(b.order.Uint32(p)), nil
	case "float":
		return float64(math.Float32frombits(b.order.Uint32(p))), nil
	default:
		return math.Float64frombits(b.order.Uint64(p)), nil
	}
}

// DecodePLY reads an ASCII or binary PLY surface. Polygons are split into
// triangle fans; elements other than vertex and face are skipped.
func DecodePLY(r io.Reader) (*Mesh, error) {
	br := bufio.NewReader(r)
	format, elements, err := readPLYHeader(br)
	if err != nil {
		return nil, err
	}

	var values plyValues
	switch format {
	case "ascii":
		s := bufio.NewScanner(br)
		s.Split(bufio.ScanWords)
		values = &asciiValues{s: s}
	case "binary_little_endian":
		values = &binaryValues{r: br, order: binary.LittleEndian}
	case "binary_big_endian":
		values = &binaryValues{r: br, order: binary.BigEndian}
	default:
		return nil, fmt.Errorf("unsupported PLY format %q", format)
	}

	var (
		vertices [][3]float32
		mesh     = &Mesh{}
		sawFaces bool
	)
	for _, el := range elements {
		switch el.name {
		case "vertex":
			if vertices, err = readPLYVertices(values, el); err != nil {
				return nil, err
			}
		case "face":
			sawFaces = true
			if err := readPLYFaces(values, el, vertices, mesh); err != nil {
				return nil, err
			}
		default:
			for i := 0; i < el.count; i++ {
				if _, err := readPLYRow(values, el.props); err != nil {
					return nil, fmt.Errorf("PLY element %s: %w", el.name, err)
				}
			}
		}
	}
	if len(vertices) == 0 || !sawFaces {
		return nil, failure.Degeneratef("PLY mesh needs vertex and face elements")
	}
	if len(mesh.Triangles) == 0 {
		return nil, failure.Degeneratef("PLY mesh has no faces")
	}
	return mesh, nil
}

func readPLYHeader(br *bufio.Reader) (string, []plyElement, error) {
	magic, err := br.ReadString('\n')
	if err != nil || strings.TrimSpace(magic) != "ply" {
		return "", nil, fmt.Errorf("not a PLY file")
	}

	var (
		format   string
		elements []plyElement
	)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return "", nil, fmt.Errorf("error reading PLY header: %w", err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "end_header":
			if format == "" {
				return "", nil, fmt.Errorf("PLY header has no format line")
			}
			return format, elements, nil
		case "comment", "obj_info":
		case "format":
			if len(fields) < 2 {
				return "", nil, fmt.Errorf("invalid PLY format line %q", strings.TrimSpace(line))
			}
			format = fields[1]
		case "element":
			if len(fields) != 3 {
				return "", nil, fmt.Errorf("invalid PLY element line %q", strings.TrimSpace(line))
			}
			n, err := strconv.Atoi(fields[2])
			if err != nil || n < 0 {
				return "", nil, fmt.Errorf("invalid PLY element count %q", fields[2])
			}
			elements = append(elements, plyElement{name: fields[1], count: n})
		case "property":
			if len(elements) == 0 {
				return "", nil, fmt.Errorf("PLY property before any element")
			}
			prop, err := parsePLYProperty(fields[1:])
			if err != nil {
				return "", nil, err
			}
			el := &elements[len(elements)-1]
			el.props = append(el.props, prop)
		default:
			return "", nil, fmt.Errorf("unknown PLY header keyword %q", fields[0])
		}
	}
}

func parsePLYProperty(fields []string) (plyProperty, error) {
	if len(fields) == 4 && fields[0] == "list" {
		ct, err := plyType(fields[1])
		if err != nil {
			return plyProperty{}, err
		}
		it, err := plyType(fields[2])
		if err != nil {
			return plyProperty{}, err
		}
		return plyProperty{name: fields[3], typ: it, countType: ct}, nil
	}
	if len(fields) != 2 {
		return plyProperty{}, fmt.Errorf("invalid PLY property %q", strings.Join(fields, " "))
	}
	t, err := plyType(fields[0])
	if err != nil {
		return plyProperty{}, err
	}
	return plyProperty{name: fields[1], typ: t}, nil
}

// readPLYRow reads one element row. Scalars come back as one-element
// slices, lists as their items.
func readPLYRow(values plyValues, props []plyProperty) ([][]float64, error) {
	row := make([][]float64, len(props))
	for i, p := range props {
		if p.countType == "" {
			v, err := values.next(p.typ)
			if err != nil {
				return nil, err
			}
			row[i] = []float64{v}
			continue
		}
		n, err := values.next(p.countType)
		if err != nil {
			return nil, err
		}
		if n < 0 || n != math.Trunc(n) {
			return nil, fmt.Errorf("invalid PLY list length %g", n)
		}
		items := make([]float64, int(n))
		for j := range items {
			if items[j], err = values.next(p.typ); err != nil {
				return nil, err
			}
		}
		row[i] = items
	}
	return row, nil
}

func readPLYVertices(values plyValues, el plyElement) ([][3]float32, error) {
	axes := [3]int{-1, -1, -1}
	for i, p := range el.props {
		switch p.name {
		case "x":
			axes[0] = i
		case "y":
			axes[1] = i
		case "z":
			axes[2] = i
		}
	}
	for a, idx := range axes {
		if idx < 0 {
			return nil, fmt.Errorf("PLY vertex element has no %c property", "xyz"[a])
		}
		if el.props[idx].countType != "" {
			return nil, fmt.Errorf("PLY vertex coordinate %s is a list", el.props[idx].name)
		}
	}

	vertices := make([][3]float32, el.count)
	for i := range vertices {
		row, err := readPLYRow(values, el.props)
		if err != nil {
			return nil, fmt.Errorf("PLY vertex %d: %w", i, err)
		}
		for a, idx := range axes {
			vertices[i][a] = float32(row[idx][0])
		}
	}
	return vertices, nil
}

func readPLYFaces(values plyValues, el plyElement, vertices [][3]float32, mesh *Mesh) error {
	col := -1
	for i, p := range el.props {
		if p.countType != "" && (p.name == "vertex_indices" || p.name == "vertex_index") {
			col = i
		}
	}
	if col < 0 {
		return fmt.Errorf("PLY face element has no vertex_indices list")
	}

	for i := 0; i < el.count; i++ {
		row, err := readPLYRow(values, el.props)
		if err != nil {
			return fmt.Errorf("PLY face %d: %w", i, err)
		}
		idx := row[col]
		for _, v := range idx {
			if v < 0 || int(v) >= len(vertices) {
				return fmt.Errorf("PLY face %d references vertex %g of %d", i, v, len(vertices))
			}
		}
		for k := 2; k < len(idx); k++ {
			t := Triangle{
				Vertex1: vertices[int(idx[0])],
				Vertex2: vertices[int(idx[k-1])],
				Vertex3: vertices[int(idx[k])],
			}
			t.Normal = t.ComputeNormal()
			mesh.Triangles = append(mesh.Triangles, t)
		}
	}
	return nil
}

// LoadPLY reads a PLY file. A missing file is an ErrMissingArtifact error.
func LoadPLY(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.Missingf("mesh %s", path)
		}
		return nil, err
	}
	defer f.Close()

	m, err := DecodePLY(f)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return m, nil
}

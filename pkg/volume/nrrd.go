package volume

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"shapegroom/pkg/failure"
	"shapegroom/pkg/geometry"
)

// PixelType is the on-disk scalar type of an NRRD file.
type PixelType string

const (
	Uint8   PixelType = "uchar"
	Int16   PixelType = "short"
	Uint16  PixelType = "ushort"
	Int32   PixelType = "int"
	Float32 PixelType = "float"
	Float64 PixelType = "double"
)

// WriteOptions controls how a volume is written.
type WriteOptions struct {
	Type PixelType
	Gzip bool
}

// DefaultWriteOptions stores float32 voxels, gzip compressed.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{Type: Float32, Gzip: true}
}

// MaskWriteOptions stores binary segmentations as uchar, gzip compressed.
func MaskWriteOptions() WriteOptions {
	return WriteOptions{Type: Uint8, Gzip: true}
}

var typeAliases = map[string]PixelType{
	"uchar": Uint8, "unsigned char": Uint8, "uint8": Uint8, "uint8_t": Uint8,
	"short": Int16, "int16": Int16, "int16_t": Int16, "signed short": Int16, "short int": Int16,
	"ushort": Uint16, "unsigned short": Uint16, "uint16": Uint16, "uint16_t": Uint16,
	"int": Int32, "int32": Int32, "int32_t": Int32, "signed int": Int32,
	"float": Float32,
	"double": Float64,
}

func (t PixelType) size() int {
	switch t {
	case Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// WriteNRRD encodes the volume as an attached-header NRRD stream.
func WriteNRRD(w io.Writer, v *Volume, opts WriteOptions) error {
	if err := v.Validate(); err != nil {
		return err
	}
	if opts.Type == "" {
		opts.Type = Float32
	}
	if opts.Type.size() == 0 {
		return fmt.Errorf("unsupported pixel type %q", opts.Type)
	}

	encoding := "raw"
	if opts.Gzip {
		encoding = "gzip"
	}

	var hdr strings.Builder
	hdr.WriteString("NRRD0004\n")
	hdr.WriteString("# Complete NRRD file format specification at:\n")
	hdr.WriteString("# http://teem.sourceforge.net/nrrd/format.html\n")
	fmt.Fprintf(&hdr, "type: %s\n", opts.Type)
	hdr.WriteString("dimension: 3\n")
	hdr.WriteString("space: left-posterior-superior\n")
	fmt.Fprintf(&hdr, "sizes: %d %d %d\n", v.Dims[0], v.Dims[1], v.Dims[2])
	fmt.Fprintf(&hdr, "space directions: (%s,0,0) (0,%s,0) (0,0,%s)\n",
		ff(v.Spacing[0]), ff(v.Spacing[1]), ff(v.Spacing[2]))
	hdr.WriteString("kinds: domain domain domain\n")
	hdr.WriteString("endian: little\n")
	fmt.Fprintf(&hdr, "encoding: %s\n", encoding)
	fmt.Fprintf(&hdr, "space origin: (%s,%s,%s)\n\n", ff(v.Origin.X), ff(v.Origin.Y), ff(v.Origin.Z))

	if _, err := io.WriteString(w, hdr.String()); err != nil {
		return err
	}

	body := w
	var gz *gzip.Writer
	if opts.Gzip {
		gz = gzip.NewWriter(w)
		body = gz
	}
	bw := bufio.NewWriter(body)
	if err := writeVoxels(bw, v.Data, opts.Type); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if gz != nil {
		return gz.Close()
	}
	return nil
}

func writeVoxels(w io.Writer, data []float64, t PixelType) error {
	buf := make([]byte, t.size())
	for _, x := range data {
		switch t {
		case Uint8:
			buf[0] = uint8(clampRound(x, 0, math.MaxUint8))
		case Int16:
			binary.LittleEndian.PutUint16(buf, uint16(int16(clampRound(x, math.MinInt16, math.MaxInt16))))
		case Uint16:
			binary.LittleEndian.PutUint16(buf, uint16(clampRound(x, 0, math.MaxUint16)))
		case Int32:
			binary.LittleEndian.PutUint32(buf, uint32(int32(clampRound(x, math.MinInt32, math.MaxInt32))))
		case Float32:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(x)))
		case Float64:
			binary.LittleEndian.PutUint64(buf, math.Float64bits(x))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// ReadNRRD decodes an attached-header NRRD stream with raw or gzip encoding.
// Headers naming a detached data file must be read with ReadFile.
func ReadNRRD(r io.Reader) (*Volume, error) {
	return readNRRD(r, "")
}

// readNRRD decodes a header and its voxels. dir is the directory of the
// header file and anchors relative "data file" paths; it is empty for
// streams.
func readNRRD(r io.Reader, dir string) (*Volume, error) {
	br := bufio.NewReader(r)
	magic, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("error reading NRRD magic: %w", err)
	}
	if !strings.HasPrefix(magic, "NRRD000") {
		return nil, fmt.Errorf("not an NRRD file")
	}

	fields := map[string]string{}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("error reading NRRD header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, val, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		// key:=value lines are key/value pairs, not fields
		if strings.HasPrefix(val, "=") {
			continue
		}
		fields[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(val)
	}

	if d := fields["dimension"]; d != "3" {
		return nil, fmt.Errorf("unsupported NRRD dimension %q", d)
	}
	ptype, ok := typeAliases[strings.ToLower(fields["type"])]
	if !ok {
		return nil, fmt.Errorf("unsupported NRRD type %q", fields["type"])
	}

	var dims [3]int
	sizes := strings.Fields(fields["sizes"])
	if len(sizes) != 3 {
		return nil, fmt.Errorf("invalid NRRD sizes %q", fields["sizes"])
	}
	for a, s := range sizes {
		if dims[a], err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("invalid NRRD size %q: %w", s, err)
		}
	}

	spacing := [3]float64{1, 1, 1}
	if sd, ok := fields["space directions"]; ok {
		vecs, err := parseVectors(sd)
		if err != nil || len(vecs) != 3 {
			return nil, fmt.Errorf("invalid NRRD space directions %q", sd)
		}
		for a, vec := range vecs {
			if spacing[a], err = axisSpacing(a, vec); err != nil {
				return nil, err
			}
		}
	} else if sp, ok := fields["spacings"]; ok {
		for a, s := range strings.Fields(sp) {
			if a < 3 {
				spacing[a], _ = strconv.ParseFloat(s, 64)
			}
		}
	}

	var origin geometry.Point3D
	if so, ok := fields["space origin"]; ok {
		vecs, err := parseVectors(so)
		if err != nil || len(vecs) != 1 {
			return nil, fmt.Errorf("invalid NRRD space origin %q", so)
		}
		origin = vecs[0]
	}

	var order binary.ByteOrder = binary.LittleEndian
	if strings.EqualFold(fields["endian"], "big") {
		order = binary.BigEndian
	}

	var body io.Reader = br
	if df, ok := fields["data file"]; ok {
		f, err := openDataFile(dir, df, fields["byte skip"])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		body = bufio.NewReader(f)
	}
	switch strings.ToLower(fields["encoding"]) {
	case "raw":
	case "gzip", "gz":
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("error opening gzip NRRD body: %w", err)
		}
		defer gz.Close()
		body = gz
	default:
		return nil, fmt.Errorf("unsupported NRRD encoding %q", fields["encoding"])
	}

	v := New(dims, spacing, origin)
	raw := make([]byte, v.Len()*ptype.size())
	if _, err := io.ReadFull(body, raw); err != nil {
		return nil, fmt.Errorf("error reading NRRD voxels: %w", err)
	}
	readVoxels(raw, v.Data, ptype, order)
	return v, v.Validate()
}

func readVoxels(raw []byte, data []float64, t PixelType, order binary.ByteOrder) {
	n := t.size()
	for i := range data {
		b := raw[i*n : (i+1)*n]
		switch t {
		case Uint8:
			data[i] = float64(b[0])
		case Int16:
			data[i] = float64(int16(order.Uint16(b)))
		case Uint16:
			data[i] = float64(order.Uint16(b))
		case Int32:
			data[i] = float64(int32(order.Uint32(b)))
		case Float32:
			data[i] = float64(math.Float32frombits(order.Uint32(b)))
		case Float64:
			data[i] = math.Float64frombits(order.Uint64(b))
		}
	}
}

// WriteFile saves the volume as an NRRD file.
func WriteFile(path string, v *Volume, opts WriteOptions) error {
	var buf bytes.Buffer
	if err := WriteNRRD(&buf, v, opts); err != nil {
		return fmt.Errorf("error encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

// ReadFile loads an NRRD file. A missing file is an ErrMissingArtifact error.
func ReadFile(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.Missingf("volume %s", path)
		}
		return nil, err
	}
	defer f.Close()

	v, err := readNRRD(f, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return v, nil
}

// axisSpacing returns the voxel size along axis a. Only grids whose
// direction vectors point along +x, +y, +z in order are representable.
func axisSpacing(a int, vec geometry.Point3D) (float64, error) {
	c := vec.Array()
	for i, x := range c {
		if i != a && x != 0 {
			return 0, failure.Configf("NRRD space direction %d %v is oblique or permuted", a, c)
		}
	}
	if c[a] <= 0 {
		return 0, failure.Configf("NRRD space direction %d %v is flipped or empty", a, c)
	}
	return c[a], nil
}

// openDataFile opens the detached voxel file of a .nhdr header. A relative
// name is resolved against the header directory.
func openDataFile(dir, name, byteSkip string) (*os.File, error) {
	if strings.HasPrefix(name, "LIST") || strings.Contains(name, "%") {
		return nil, failure.Configf("multi-file NRRD data file %q is not supported", name)
	}
	if !filepath.IsAbs(name) {
		if dir == "" {
			return nil, failure.Configf("detached NRRD data file %q needs the header path", name)
		}
		name = filepath.Join(dir, name)
	}
	skip := int64(0)
	if byteSkip != "" {
		n, err := strconv.ParseInt(byteSkip, 10, 64)
		if err != nil || n < 0 {
			return nil, failure.Configf("unsupported NRRD byte skip %q", byteSkip)
		}
		skip = n
	}
	f, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.Missingf("NRRD data file %s", name)
		}
		return nil, err
	}
	if _, err := f.Seek(skip, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// parseVectors parses "(a,b,c) (d,e,f)" into points. "none" entries are
// skipped.
func parseVectors(s string) ([]geometry.Point3D, error) {
	s = strings.ReplaceAll(strings.ReplaceAll(s, " ", ""), "\t", "")
	var out []geometry.Point3D
	for s != "" {
		if rest, ok := strings.CutPrefix(s, "none"); ok {
			s = rest
			continue
		}
		if !strings.HasPrefix(s, "(") {
			return nil, fmt.Errorf("invalid vector list %q", s)
		}
		end := strings.Index(s, ")")
		if end < 0 {
			return nil, fmt.Errorf("unterminated vector %q", s)
		}
		parts := strings.Split(s[1:end], ",")
		s = s[end+1:]
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid vector with %d components", len(parts))
		}
		var c [3]float64
		for i, p := range parts {
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, err
			}
			c[i] = v
		}
		out = append(out, geometry.FromArray(c))
	}
	return out, nil
}

func clampRound(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, math.Round(x)))
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

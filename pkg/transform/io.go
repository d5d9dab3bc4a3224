package transform

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"shapegroom/pkg/failure"
	"shapegroom/pkg/geometry"
)

// NewRigidFromParts builds a rigid record from a row-major 3x3 rotation and a
// translation.
func NewRigidFromParts(stage string, rotation [3][3]float64, translation geometry.Point3D) (Rigid, error) {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, rotation[i][j])
		}
	}
	m.Set(0, 3, translation.X)
	m.Set(1, 3, translation.Y)
	m.Set(2, 3, translation.Z)
	m.Set(3, 3, 1)
	return NewRigid(stage, m)
}

// Encode writes the log in its text form:
//
//	# transforms for <id>
//	flip <stage>: <axis> <center>
//	translation <stage>: <x> <y> <z>
//	rigid <stage>:
//	<4 rows of 4 values>
func Encode(w io.Writer, sampleID string, l Log) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# transforms for %s\n", sampleID)
	for _, r := range l.records {
		switch rec := r.(type) {
		case AxisFlip:
			fmt.Fprintf(bw, "flip %s: %d %s\n", rec.StageName, rec.Axis, formatFloat(rec.Center))
		case Translation:
			fmt.Fprintf(bw, "translation %s: %s %s %s\n", rec.StageName,
				formatFloat(rec.Offset.X), formatFloat(rec.Offset.Y), formatFloat(rec.Offset.Z))
		case Rigid:
			fmt.Fprintf(bw, "rigid %s:\n", rec.StageName)
			for i := 0; i < 4; i++ {
				row := make([]string, 4)
				for j := 0; j < 4; j++ {
					row[j] = formatFloat(rec.matrix.At(i, j))
				}
				fmt.Fprintln(bw, strings.Join(row, " "))
			}
		default:
			return fmt.Errorf("unsupported transform record %T", r)
		}
	}
	return bw.Flush()
}

// Decode parses the text form written by Encode. It returns the sample
// identifier from the header line, if any.
func Decode(r io.Reader) (string, Log, error) {
	var (
		log      Log
		sampleID string
		lineNo   int
	)
	scanner := bufio.NewScanner(r)
	next := func() (string, bool) {
		for scanner.Scan() {
			lineNo++
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				return line, true
			}
		}
		return "", false
	}

	for {
		line, ok := next()
		if !ok {
			break
		}
		if strings.HasPrefix(line, "#") {
			if id, found := strings.CutPrefix(line, "# transforms for "); found {
				sampleID = strings.TrimSpace(id)
			}
			continue
		}

		head, body, found := strings.Cut(line, ":")
		if !found {
			return "", Log{}, fmt.Errorf("line %d: missing ':' in %q", lineNo, line)
		}
		fields := strings.Fields(head)
		if len(fields) != 2 {
			return "", Log{}, fmt.Errorf("line %d: expected '<kind> <stage>:', got %q", lineNo, head)
		}
		kind, stage := fields[0], fields[1]

		switch kind {
		case "flip":
			vals, err := parseFloats(body, 2)
			if err != nil {
				return "", Log{}, fmt.Errorf("line %d: %w", lineNo, err)
			}
			f, err := NewAxisFlip(int(vals[0]), vals[1])
			if err != nil {
				return "", Log{}, fmt.Errorf("line %d: %w", lineNo, err)
			}
			f.StageName = stage
			log.Append(f)
		case "translation":
			vals, err := parseFloats(body, 3)
			if err != nil {
				return "", Log{}, fmt.Errorf("line %d: %w", lineNo, err)
			}
			log.Append(NewTranslation(stage, geometry.Point3D{X: vals[0], Y: vals[1], Z: vals[2]}))
		case "rigid":
			data := make([]float64, 0, 16)
			for i := 0; i < 4; i++ {
				row, ok := next()
				if !ok {
					return "", Log{}, fmt.Errorf("line %d: rigid matrix truncated after %d rows", lineNo, i)
				}
				vals, err := parseFloats(row, 4)
				if err != nil {
					return "", Log{}, fmt.Errorf("line %d: %w", lineNo, err)
				}
				data = append(data, vals...)
			}
			rec, err := NewRigid(stage, mat.NewDense(4, 4, data))
			if err != nil {
				return "", Log{}, fmt.Errorf("line %d: %w", lineNo, err)
			}
			log.Append(rec)
		default:
			return "", Log{}, fmt.Errorf("line %d: unknown transform kind %q", lineNo, kind)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", Log{}, err
	}
	return sampleID, log, nil
}

// WriteFile saves the log for a sample to path.
func WriteFile(path, sampleID string, l Log) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating transform file: %w", err)
	}
	if err := Encode(f, sampleID, l); err != nil {
		f.Close()
		return fmt.Errorf("error writing transform file: %w", err)
	}
	return f.Close()
}

// ReadFile loads a log written by WriteFile.
func ReadFile(path string) (string, Log, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", Log{}, failure.Missingf("transform file %s", path)
		}
		return "", Log{}, err
	}
	defer f.Close()

	id, log, err := Decode(f)
	if err != nil {
		return "", Log{}, fmt.Errorf("error parsing transform file %s: %w", path, err)
	}
	return id, log, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	fields := strings.Fields(s)
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(fields))
	}
	out := make([]float64, n)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", f, err)
		}
		out[i] = v
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

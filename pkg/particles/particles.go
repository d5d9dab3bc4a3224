// Package particles reads and writes correspondence point files: plain text,
// one "x y z" row per particle.
package particles

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"shapegroom/pkg/failure"
	"shapegroom/pkg/geometry"
)

// Set is the ordered list of particle positions of one sample.
type Set []geometry.Point3D

// Decode parses a point file. Blank lines are skipped; every other line must
// hold exactly three numbers.
func Decode(r io.Reader) (Set, error) {
	var set Set
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 coordinates, got %d", line, len(fields))
		}
		var c [3]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			c[i] = v
		}
		set = append(set, geometry.FromArray(c))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

// Encode writes the set, one particle per line.
func Encode(w io.Writer, set Set) error {
	bw := bufio.NewWriter(w)
	for _, p := range set {
		if _, err := fmt.Fprintf(bw, "%s %s %s\n", ff(p.X), ff(p.Y), ff(p.Z)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadFile loads a point file. A missing file is an ErrMissingArtifact error.
func ReadFile(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.Missingf("particle file %s", path)
		}
		return nil, err
	}
	defer f.Close()

	set, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return set, nil
}

// WriteFile saves a point file.
func WriteFile(path string, set Set) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	if err := Encode(f, set); err != nil {
		f.Close()
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return f.Close()
}

// Mean returns the particle-wise mean of sets that all hold the same number
// of particles.
func Mean(sets []Set) (Set, error) {
	if len(sets) == 0 {
		return nil, failure.Missingf("no particle sets to average")
	}
	n := len(sets[0])
	mean := make(Set, n)
	for s, set := range sets {
		if len(set) != n {
			return nil, fmt.Errorf("particle set %d has %d particles, expected %d", s, len(set), n)
		}
		for i, p := range set {
			mean[i] = mean[i].Add(p)
		}
	}
	scale := 1 / float64(len(sets))
	for i := range mean {
		mean[i] = mean[i].Scale(scale)
	}
	return mean, nil
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

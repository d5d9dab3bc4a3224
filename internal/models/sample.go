// Package models holds the population sample shared by the pipeline stages.
package models

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"shapegroom/pkg/failure"
	"shapegroom/pkg/stl"
	"shapegroom/pkg/transform"
	"shapegroom/pkg/volume"
)

// Side is the anatomical side of a sample.
type Side string

const (
	Left    Side = "left"
	Right   Side = "right"
	Unknown Side = ""
)

// ParseSide parses "left"/"right" (or "L"/"R"). The empty string is Unknown.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return Unknown, nil
	case "left", "l":
		return Left, nil
	case "right", "r":
		return Right, nil
	default:
		return Unknown, failure.Configf("unknown side %q", s)
	}
}

// SideFromID derives the side from the last character of a sample ID.
func SideFromID(id string) Side {
	if id == "" {
		return Unknown
	}
	switch id[len(id)-1] {
	case 'L', 'l':
		return Left
	case 'R', 'r':
		return Right
	default:
		return Unknown
	}
}

// IDFromPath returns the sample ID of a file: the first two "_"-separated
// tokens of its base name without extension. Names with a single token are
// used whole.
func IDFromPath(path string) string {
	base := filepath.Base(path)
	for _, ext := range []string{".nii.gz", ".nrrd", ".nhdr", ".stl", ".nii", ".vtk", ".ply"} {
		if strings.HasSuffix(strings.ToLower(base), ext) {
			base = base[:len(base)-len(ext)]
			break
		}
	}
	parts := strings.Split(base, "_")
	if len(parts) < 2 {
		return base
	}
	return parts[0] + "_" + parts[1]
}

// ErrFrozen is returned when a frozen sample is mutated.
var ErrFrozen = errors.New("sample is frozen")

// Sample is one member of the population. It exclusively owns its transform
// log; grooming steps append to it and nothing else does.
type Sample struct {
	ID   string
	Side Side

	ImagePath        string
	SegmentationPath string
	MeshPath         string

	Image        *volume.Volume
	Segmentation *volume.Volume
	Mesh         *stl.Mesh

	transforms transform.Log
	frozen     bool
}

// New creates a sample. The side falls back to the one encoded in the ID.
func New(id string, side Side) *Sample {
	if side == Unknown {
		side = SideFromID(id)
	}
	return &Sample{ID: id, Side: side}
}

// MeshBased reports whether the sample's shape comes from a surface mesh.
func (s *Sample) MeshBased() bool {
	return s.MeshPath != "" || s.Mesh != nil
}

// Record appends a transform record to the sample's log.
func (s *Sample) Record(r transform.Record) error {
	if s.frozen {
		return fmt.Errorf("cannot record %s transform on %s: %w", r.Kind(), s.ID, ErrFrozen)
	}
	s.transforms.Append(r)
	return nil
}

// Transforms returns a copy of the transform log.
func (s *Sample) Transforms() transform.Log {
	return s.transforms.Clone()
}

// RestoreTransforms replaces the log, used when loading cached results.
func (s *Sample) RestoreTransforms(l transform.Log) error {
	if s.frozen {
		return fmt.Errorf("cannot restore transforms on %s: %w", s.ID, ErrFrozen)
	}
	s.transforms = l.Clone()
	return nil
}

// Freeze makes the sample immutable; it is called before optimization.
func (s *Sample) Freeze() {
	s.frozen = true
}

// Frozen reports whether the sample has been frozen.
func (s *Sample) Frozen() bool {
	return s.frozen
}

// String implements fmt.Stringer.
func (s *Sample) String() string {
	return fmt.Sprintf("%s (%s)", s.ID, s.Side)
}

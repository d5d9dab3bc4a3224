// Package workflow discovers a population on disk and runs the pipeline end
// to end: grooming, cutting-plane transport, clipping and cropping, distance
// transforms, correspondence optimization and reconstruction.
package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"shapegroom/internal/models"
	"shapegroom/pkg/failure"
	"shapegroom/pkg/stl"
	"shapegroom/pkg/volume"
)

type artifactKind int

const (
	kindIgnored artifactKind = iota
	kindImage
	kindSegmentation
	kindMesh
)

var segmentationDirs = map[string]bool{"segmentations": true, "labels": true, "seg": true}

// DiscoverOptions relaxes discovery for the flows that skip grooming.
type DiscoverOptions struct {
	// PLY accepts .ply meshes, which only the mesh-domain optimizer reads.
	PLY bool

	// AnySide accepts sample IDs without a side suffix. Sides only matter
	// for reflection during grooming.
	AnySide bool
}

// classify decides what a file holds from its extension, its name and the
// directory it sits in. Volumes count as segmentations when the name or the
// directory says so.
func classify(path string, opts DiscoverOptions) (artifactKind, error) {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".stl"):
		return kindMesh, nil
	case strings.HasSuffix(name, ".ply") && opts.PLY:
		return kindMesh, nil
	case strings.HasSuffix(name, ".ply"):
		return kindIgnored, failure.Configf("PLY mesh %s needs optimize.parameters.domain_type mesh (or convert to STL)", path)
	case strings.HasSuffix(name, ".vtk"), strings.HasSuffix(name, ".obj"):
		return kindIgnored, failure.Configf("unsupported mesh format %s (convert to STL)", path)
	case strings.HasSuffix(name, ".nii"), strings.HasSuffix(name, ".nii.gz"):
		return kindIgnored, failure.Configf("unsupported volume format %s (convert to NRRD)", path)
	case strings.HasSuffix(name, ".nrrd"), strings.HasSuffix(name, ".nhdr"):
		dir := strings.ToLower(filepath.Base(filepath.Dir(path)))
		if segmentationDirs[dir] || strings.Contains(name, "seg") || strings.Contains(name, "label") {
			return kindSegmentation, nil
		}
		return kindImage, nil
	default:
		return kindIgnored, nil
	}
}

// Discover walks dirs and builds one sample per ID. Every image must pair
// with a segmentation or a mesh of the same ID; an unpaired image is an
// ErrMissingArtifact error naming the sample. Samples are sorted by ID and
// validated in that order.
func Discover(dirs []string) ([]*models.Sample, error) {
	return DiscoverWith(dirs, DiscoverOptions{})
}

// DiscoverWith is Discover with relaxed rules.
func DiscoverWith(dirs []string, opts DiscoverOptions) ([]*models.Sample, error) {
	byID := make(map[string]*models.Sample)
	get := func(id string) *models.Sample {
		s, ok := byID[id]
		if !ok {
			s = models.New(id, models.Unknown)
			byID[id] = s
		}
		return s
	}

	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			return nil, failure.Missingf("input directory %s", dir)
		}
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			kind, err := classify(path, opts)
			if err != nil {
				return err
			}
			if kind == kindIgnored {
				return nil
			}

			id := models.IDFromPath(path)
			s := get(id)
			var slot *string
			switch kind {
			case kindImage:
				slot = &s.ImagePath
			case kindSegmentation:
				slot = &s.SegmentationPath
			case kindMesh:
				slot = &s.MeshPath
			}
			if *slot != "" && *slot != path {
				return failure.ForSample("discover", id, failure.Configf("both %s and %s claim the same role", *slot, path))
			}
			*slot = path
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if len(byID) == 0 {
		return nil, failure.Missingf("no samples found in %s", strings.Join(dirs, ", "))
	}

	samples := make([]*models.Sample, 0, len(byID))
	for _, s := range byID {
		samples = append(samples, s)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].ID < samples[j].ID })
	for _, s := range samples {
		if s.SegmentationPath == "" && s.MeshPath == "" {
			return nil, failure.ForSample("discover", s.ID,
				failure.Missingf("image %s has no matching segmentation or mesh", s.ImagePath))
		}
		if s.Side == models.Unknown && !opts.AnySide {
			return nil, failure.ForSample("discover", s.ID,
				failure.Configf("cannot derive the side from the sample id"))
		}
	}
	return samples, nil
}

// Limit keeps the first n samples; n <= 0 keeps all.
func Limit(samples []*models.Sample, n int) []*models.Sample {
	if n <= 0 || n >= len(samples) {
		return samples
	}
	return samples[:n]
}

// Load reads each sample's files. Images are loaded whenever present since
// mesh conversion uses them as reference grids.
func Load(ctx context.Context, samples []*models.Sample, workers int) error {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, s := range samples {
		g.Go(func() error {
			if err := loadSample(s); err != nil {
				return failure.ForSample("load", s.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func loadSample(s *models.Sample) error {
	var err error
	if s.SegmentationPath != "" {
		if s.Segmentation, err = volume.ReadFile(s.SegmentationPath); err != nil {
			return fmt.Errorf("failed to load segmentation: %w", err)
		}
	}
	if s.MeshPath != "" {
		if s.Mesh, err = stl.Load(s.MeshPath); err != nil {
			return fmt.Errorf("failed to load mesh: %w", err)
		}
	}
	if s.ImagePath != "" {
		if s.Image, err = volume.ReadFile(s.ImagePath); err != nil {
			return fmt.Errorf("failed to load image: %w", err)
		}
	}
	return nil
}

package grooming

import (
	"context"

	"shapegroom/internal/models"
	"shapegroom/pkg/failure"
	"shapegroom/pkg/interpolation"
	"shapegroom/pkg/registration"
	"shapegroom/pkg/transform"
	"shapegroom/pkg/volume"
)

// reflect mirrors samples on the other side along ReflectAxis. Volumes are
// mirrored about the segmentation grid center, meshes about their bounding
// box center; the paired image is mirrored about the same plane.
func (c *Chain) reflect(_ context.Context, s *models.Sample) error {
	l := c.sampleLog(StageReflect, s)
	if s.Side == models.Unknown || s.Side == c.params.ReferenceSide {
		l.Debug().Str("side", string(s.Side)).Msg("no reflection needed")
		return nil
	}

	axis := c.params.ReflectAxis
	var center float64
	switch {
	case s.Segmentation != nil:
		seg, ctr, err := volume.Reflect(s.Segmentation, axis)
		if err != nil {
			return err
		}
		s.Segmentation, center = seg, ctr
		if s.Mesh != nil {
			if s.Mesh, err = s.Mesh.Reflect(axis, center); err != nil {
				return err
			}
		}
	default:
		box := s.Mesh.Bounds()
		if box.Empty() {
			return failure.Degeneratef("mesh has no vertices")
		}
		center = box.Center().Coord(axis)
		mesh, err := s.Mesh.Reflect(axis, center)
		if err != nil {
			return err
		}
		s.Mesh = mesh
	}

	if s.Image != nil {
		if s.Segmentation != nil && s.Image.SameGrid(s.Segmentation, 1e-6) {
			img, _, err := volume.Reflect(s.Image, axis)
			if err != nil {
				return err
			}
			s.Image = img
		} else {
			s.Image = volume.ReflectAbout(s.Image, axis, center, interpolation.Trilinear, imageBackground(s.Image))
		}
	}

	flip, err := transform.NewAxisFlip(axis, center)
	if err != nil {
		return err
	}
	l.Debug().Int("axis", axis).Float64("center", center).Msg("reflected")
	return s.Record(flip)
}

// convert rasterizes mesh-based samples.
func (c *Chain) convert(ctx context.Context, s *models.Sample) error {
	l := c.sampleLog(StageConvert, s)
	if s.Mesh != nil && s.Segmentation == nil {
		seg, err := c.params.Rasterizer.Rasterize(ctx, s.ID, s.Mesh, s.Image)
		if err != nil {
			return err
		}
		if err := seg.Validate(); err != nil {
			return err
		}
		s.Segmentation = volume.Binarize(seg)
		l.Debug().Ints("dims", seg.Dims[:]).Msg("mesh rasterized")
	}
	if !c.params.ProcessRaw && s.Image != nil {
		s.Image = nil
		l.Debug().Msg("raw image released")
	}
	return nil
}

func (c *Chain) resample(_ context.Context, s *models.Sample) error {
	seg, err := volume.Resample(s.Segmentation, c.params.IsoSpacing, interpolation.Binary, 0)
	if err != nil {
		return err
	}
	s.Segmentation = seg

	if s.Image != nil {
		img, err := volume.Resample(s.Image, c.params.IsoSpacing, interpolation.Trilinear, imageBackground(s.Image))
		if err != nil {
			return err
		}
		s.Image = img
	}
	l := c.sampleLog(StageResample, s)
	l.Debug().Ints("dims", s.Segmentation.Dims[:]).Msg("resampled")
	return nil
}

func (c *Chain) pad(_ context.Context, s *models.Sample) error {
	s.Segmentation = volume.Pad(s.Segmentation, c.params.PaddingMargin, 0)
	if s.Image != nil {
		s.Image = volume.Pad(s.Image, c.params.PaddingMargin, imageBackground(s.Image))
	}
	return nil
}

// centerOfMass moves the segmentation centroid onto the grid center.
func (c *Chain) centerOfMass(_ context.Context, s *models.Sample) error {
	com, ok := volume.CenterOfMass(s.Segmentation)
	if !ok {
		return failure.Degeneratef("segmentation has no foreground")
	}
	offset := com.Sub(s.Segmentation.Center())

	s.Segmentation = volume.Translate(s.Segmentation, offset, interpolation.Binary, 0)
	if s.Image != nil {
		s.Image = volume.Translate(s.Image, offset, interpolation.Trilinear, imageBackground(s.Image))
	}

	l := c.sampleLog(StageCOM, s)
	l.Debug().
		Float64("x", offset.X).Float64("y", offset.Y).Float64("z", offset.Z).
		Msg("center of mass translation")
	return s.Record(transform.NewTranslation(transform.StageCOM, offset))
}

// center moves the grid so its center is the physical origin.
func (c *Chain) center(_ context.Context, s *models.Sample) error {
	offset := s.Segmentation.Center()
	s.Segmentation = volume.ShiftOrigin(s.Segmentation, offset)
	if s.Image != nil {
		s.Image = volume.ShiftOrigin(s.Image, offset)
	}
	return s.Record(transform.NewTranslation(transform.StageCenter, offset))
}

// rigid selects the median reference and aligns every other sample onto it.
func (c *Chain) rigid(ctx context.Context, samples []*models.Sample) (*models.Sample, error) {
	descs := make([]registration.Descriptor, len(samples))
	ids := make([]string, len(samples))
	index := make(map[*models.Sample]int, len(samples))
	for i, s := range samples {
		ids[i] = s.ID
		index[s] = i
	}
	err := c.forEach(ctx, StageRigid, samples, func(_ context.Context, s *models.Sample) error {
		d, err := registration.Describe(s.Segmentation)
		descs[index[s]] = d
		return err
	})
	if err != nil {
		return nil, err
	}

	refIdx, err := registration.SelectReference(ids, descs)
	if err != nil {
		return nil, failure.ForSamples(string(StageRigid), nil, err)
	}
	ref := samples[refIdx]
	refSeg := ref.Segmentation
	refImage := ref.Image
	refPoints := refSeg.BoundaryPoints()
	c.log.Info().Str("reference", ref.ID).Int("boundaryPoints", len(refPoints)).Msg("reference selected")

	err = c.forEach(ctx, StageRigid, samples, func(_ context.Context, s *models.Sample) error {
		l := c.sampleLog(StageRigid, s)
		if s == ref {
			return s.Record(transform.IdentityRigid(transform.StageRigid))
		}

		res, err := registration.AlignPoints(s.Segmentation.BoundaryPoints(), refPoints, c.params.ICP)
		if err != nil {
			return err
		}
		rec, err := transform.NewRigid(transform.StageRigid, res.Matrix)
		if err != nil {
			return err
		}

		s.Segmentation = volume.Warp(s.Segmentation, rec.Invert, refSeg, interpolation.Binary, 0)
		if s.Image != nil {
			grid := refImage
			if grid == nil {
				grid = refSeg
			}
			s.Image = volume.Warp(s.Image, rec.Invert, grid, interpolation.Trilinear, imageBackground(s.Image))
		}

		l.Debug().Float64("rms", res.RMS).Int("iterations", res.Iterations).Bool("converged", res.Converged).Msg("rigid alignment")
		return s.Record(rec)
	})
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// imageBackground is the value used for voxels exposed by a transform.
func imageBackground(v *volume.Volume) float64 {
	lo, _ := v.MinMax()
	return lo
}

// Package grooming runs the alignment chain that brings every sample of a
// population into a common frame: reflect, convert, resample, pad, center of
// mass, center and rigid alignment onto a median reference.
//
// Stages are strictly ordered and each one completes for the whole
// population before the next starts. Per-sample work inside a stage runs on
// a bounded worker pool. Every step that moves a sample's content appends
// the corresponding record to the sample's transform log.
package grooming

import (
	"context"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"shapegroom/internal/logger"
	"shapegroom/internal/models"
	"shapegroom/pkg/failure"
	"shapegroom/pkg/registration"
	"shapegroom/pkg/stl"
	"shapegroom/pkg/volume"
)

// Stage names one step of the chain.
type Stage string

const (
	StageReflect  Stage = "reflect"
	StageConvert  Stage = "convert"
	StageResample Stage = "resample"
	StagePad      Stage = "pad"
	StageCOM      Stage = "com"
	StageCenter   Stage = "center"
	StageRigid    Stage = "rigid"
)

// Stages lists the chain in execution order.
var Stages = []Stage{
	StageReflect, StageConvert, StageResample, StagePad, StageCOM, StageCenter, StageRigid,
}

// Description returns the banner text of a stage.
func (s Stage) Description() string {
	switch s {
	case StageReflect:
		return "Reflecting samples to the reference side"
	case StageConvert:
		return "Converting meshes to binary segmentations"
	case StageResample:
		return "Resampling to isotropic spacing"
	case StagePad:
		return "Padding volumes"
	case StageCOM:
		return "Aligning centers of mass"
	case StageCenter:
		return "Centering volumes at the origin"
	case StageRigid:
		return "Rigidly aligning to the reference sample"
	default:
		return string(s)
	}
}

// Rasterizer converts a surface mesh to a binary segmentation. The reference
// volume, when not nil, gives the output grid.
type Rasterizer interface {
	Rasterize(ctx context.Context, id string, mesh *stl.Mesh, reference *volume.Volume) (*volume.Volume, error)
}

// Params holds the grooming parameters.
type Params struct {
	// ReferenceSide is the side every sample is reflected to.
	ReferenceSide models.Side

	// ReflectAxis is the axis mirrored for samples on the other side (0=x).
	ReflectAxis int

	// IsoSpacing is the isotropic voxel spacing in mm.
	IsoSpacing float64

	// PaddingMargin is the number of background voxels added on every side.
	PaddingMargin int

	// ProcessRaw carries the raw images through the chain with their
	// segmentations. When false, images are only used as reference grids
	// for mesh conversion and then released.
	ProcessRaw bool

	// NumWorkers bounds per-stage parallelism. Zero means runtime.NumCPU().
	NumWorkers int

	// ICP configures rigid alignment.
	ICP registration.Config

	// Rasterizer converts mesh-based samples. Required only when the
	// population contains meshes.
	Rasterizer Rasterizer

	Logger zerolog.Logger

	// OnStage, when set, is called before each stage runs.
	OnStage func(step int, stage Stage)

	// AfterStage, when set, is called after each stage completes for the
	// whole population.
	AfterStage func(stage Stage, samples []*models.Sample) error
}

// DefaultParams returns the parameters used by the pipeline when the
// configuration does not override them.
func DefaultParams() Params {
	return Params{
		ReferenceSide: models.Left,
		ReflectAxis:   0,
		IsoSpacing:    1,
		PaddingMargin: 10,
		ProcessRaw:    true,
		NumWorkers:    runtime.NumCPU(),
		ICP:           registration.DefaultConfig(),
		Logger:        zerolog.Nop(),
	}
}

// Validate checks the parameters for values the chain cannot run with.
func (p Params) Validate() error {
	if p.ReflectAxis < 0 || p.ReflectAxis > 2 {
		return failure.Configf("reflectAxis must be 0, 1 or 2, got %d", p.ReflectAxis)
	}
	if !(p.IsoSpacing > 0) {
		return failure.Configf("isoSpacing must be positive, got %g", p.IsoSpacing)
	}
	if p.PaddingMargin < 0 {
		return failure.Configf("paddingMargin must not be negative, got %d", p.PaddingMargin)
	}
	if p.ReferenceSide != models.Left && p.ReferenceSide != models.Right {
		return failure.Configf("referenceSide must be left or right, got %q", p.ReferenceSide)
	}
	return p.ICP.Validate()
}

// Result is the outcome of a chain run.
type Result struct {
	Samples   []*models.Sample
	Reference *models.Sample

	// Overlap holds each aligned segmentation compared to the reference.
	Overlap map[string]registration.Overlap

	// Dice summarizes the Dice scores of the non-reference samples.
	Dice registration.Summary
}

// Chain is the alignment chain.
type Chain struct {
	params Params
	log    zerolog.Logger
}

// NewChain creates a chain with the given parameters.
func NewChain(params Params) (*Chain, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.NumWorkers <= 0 {
		params.NumWorkers = runtime.NumCPU()
	}
	return &Chain{
		params: params,
		log:    logger.Component(params.Logger, "grooming"),
	}, nil
}

// Run grooms the samples in place and returns the aligned population.
// The first failing stage aborts the run; its error is a
// *failure.StageError naming the stage and the failing samples.
func (c *Chain) Run(ctx context.Context, samples []*models.Sample) (*Result, error) {
	if err := c.checkInputs(samples); err != nil {
		return nil, err
	}

	var reference *models.Sample
	for i, stage := range Stages {
		if err := ctx.Err(); err != nil {
			return nil, failure.ForSamples(string(stage), nil, err)
		}
		if c.params.OnStage != nil {
			c.params.OnStage(i+1, stage)
		}
		c.log.Info().Str("stage", string(stage)).Int("samples", len(samples)).Msg(stage.Description())

		var err error
		switch stage {
		case StageReflect:
			err = c.forEach(ctx, stage, samples, c.reflect)
		case StageConvert:
			err = c.forEach(ctx, stage, samples, c.convert)
		case StageResample:
			err = c.forEach(ctx, stage, samples, c.resample)
		case StagePad:
			err = c.forEach(ctx, stage, samples, c.pad)
		case StageCOM:
			err = c.forEach(ctx, stage, samples, c.centerOfMass)
		case StageCenter:
			err = c.forEach(ctx, stage, samples, c.center)
		case StageRigid:
			reference, err = c.rigid(ctx, samples)
		}
		if err != nil {
			return nil, err
		}

		if c.params.AfterStage != nil {
			if err := c.params.AfterStage(stage, samples); err != nil {
				return nil, failure.ForSamples(string(stage), nil, err)
			}
		}
	}

	res := &Result{Samples: samples, Reference: reference}
	if err := c.report(res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Chain) checkInputs(samples []*models.Sample) error {
	if len(samples) == 0 {
		return failure.ForSamples("input", nil, failure.Missingf("no samples to groom"))
	}
	seen := make(map[string]bool, len(samples))
	for _, s := range samples {
		if seen[s.ID] {
			return failure.ForSample("input", s.ID, failure.Configf("duplicate sample id"))
		}
		seen[s.ID] = true

		if s.Segmentation == nil && s.Mesh == nil {
			return failure.ForSample("input", s.ID, failure.Missingf("sample has neither a segmentation nor a mesh"))
		}
		if s.Mesh != nil && s.Segmentation == nil && c.params.Rasterizer == nil {
			return failure.ForSample("input", s.ID, failure.Configf("mesh-based sample but no mesh rasterizer configured"))
		}
		if c.params.ProcessRaw && s.ImagePath != "" && s.Image == nil {
			return failure.ForSample("input", s.ID, failure.Missingf("raw image %s not loaded", s.ImagePath))
		}
	}
	return nil
}

// forEach runs fn for every sample on the worker pool. Every sample that
// fails is named in the returned stage error.
func (c *Chain) forEach(ctx context.Context, stage Stage, samples []*models.Sample, fn func(context.Context, *models.Sample) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.params.NumWorkers)

	var (
		mu       sync.Mutex
		failed   []string
		firstErr error
	)
	for _, s := range samples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := fn(gctx, s); err != nil {
				mu.Lock()
				failed = append(failed, s.ID)
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	if len(failed) > 0 {
		return failure.ForSamples(string(stage), failed, firstErr)
	}
	if err != nil {
		return failure.ForSamples(string(stage), nil, err)
	}
	return nil
}

func (c *Chain) sampleLog(stage Stage, s *models.Sample) zerolog.Logger {
	return logger.Sample(c.log, string(stage), s.ID)
}

func (c *Chain) report(res *Result) error {
	ref := res.Reference
	res.Overlap = make(map[string]registration.Overlap, len(res.Samples))

	var dice []float64
	for _, s := range res.Samples {
		o, err := registration.CompareMasks(s.Segmentation, ref.Segmentation)
		if err != nil {
			return failure.ForSample("report", s.ID, err)
		}
		res.Overlap[s.ID] = o
		if s != ref {
			dice = append(dice, o.Dice)
		}
		c.log.Debug().Str("sample", s.ID).Float64("dice", o.Dice).Float64("jaccard", o.Jaccard).Msg("overlap with reference")
	}

	res.Dice = registration.Summarize(dice)
	c.log.Info().
		Str("reference", ref.ID).
		Float64("meanDice", res.Dice.Mean).
		Float64("minDice", res.Dice.Min).
		Msg("grooming complete")
	return nil
}

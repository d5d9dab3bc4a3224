package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"shapegroom/internal/logger"
	"shapegroom/internal/models"
	"shapegroom/pkg/clipping"
	"shapegroom/pkg/config"
	"shapegroom/pkg/external"
	"shapegroom/pkg/failure"
	"shapegroom/pkg/geometry"
	"shapegroom/pkg/grooming"
	"shapegroom/pkg/optimize"
	"shapegroom/pkg/reconstruction"
	"shapegroom/pkg/stagecache"
	"shapegroom/pkg/transform"
	"shapegroom/pkg/transport"
	"shapegroom/pkg/visualization"
	"shapegroom/pkg/volume"
)

// Selection is a cutting plane and the frame it was picked in.
type Selection struct {
	// Sample is the sample the plane was picked on; empty for the aligned
	// frame.
	Sample string               `json:"sample,omitempty"`
	Frame  string               `json:"frame"`
	Plane  geometry.PlanePoints `json:"plane"`
}

// PlaneSelector asks for a cutting plane. It is called once, synchronously,
// before grooming starts.
type PlaneSelector interface {
	SelectPlane(ctx context.Context, samples []*models.Sample) (Selection, error)
}

// Banner announces a stage before it runs.
type Banner func(step int, title string)

// Options wires the workflow to its collaborators.
type Options struct {
	// Runner executes the external tools; nil means os/exec.
	Runner external.Runner

	// Selector is used when the configuration holds no cutting plane.
	Selector PlaneSelector

	// Banner, when set, is called before every stage.
	Banner Banner

	// Out receives the grooming summary table; nil discards it.
	Out io.Writer

	Logger zerolog.Logger
}

// GroomedSample locates one groomed sample on disk.
type GroomedSample struct {
	ID           string               `json:"id"`
	Side         models.Side          `json:"side"`
	Segmentation string               `json:"segmentation"`
	Image        string               `json:"image,omitempty"`
	Transforms   string               `json:"transforms"`
	Plane        geometry.PlanePoints `json:"plane"`
	Dice         float64              `json:"dice"`
	Jaccard      float64              `json:"jaccard"`
}

// GroomResult is the persisted outcome of grooming.
type GroomResult struct {
	Reference string          `json:"reference"`
	Selection Selection       `json:"selection"`
	Dims      [3]int          `json:"dims"`
	Samples   []GroomedSample `json:"samples"`
}

// Workflow runs the pipeline for one configuration.
type Workflow struct {
	cfg   *config.Config
	opts  Options
	log   zerolog.Logger
	cache *stagecache.Cache

	mu   sync.Mutex
	step int
}

// New creates a workflow. The configuration must already be valid.
func New(cfg *config.Config, opts Options) (*Workflow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := logger.Component(opts.Logger, "workflow")
	if opts.Runner == nil {
		opts.Runner = external.NewCommandRunner(opts.Logger)
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	w := &Workflow{cfg: cfg, opts: opts, log: l}
	if cfg.Output.Cache {
		w.cache = stagecache.New(w.path("cache"), opts.Logger)
	}
	return w, nil
}

func (w *Workflow) path(elem ...string) string {
	return filepath.Join(append([]string{w.cfg.Output.Dir}, elem...)...)
}

func (w *Workflow) banner(title string) {
	w.mu.Lock()
	w.step++
	step := w.step
	w.mu.Unlock()
	if w.opts.Banner != nil {
		w.opts.Banner(step, title)
	}
}

// GroomResultPath is where Groom persists its result.
func (w *Workflow) GroomResultPath() string {
	return w.path("groomed", "groom.json")
}

// OptimizeResultPath is where Optimize persists its result.
func (w *Workflow) OptimizeResultPath() string {
	return w.path("particles", "optimize.json")
}

// Discover finds the configured population and applies the sample limit.
// Prepped input and the mesh domain accept IDs without a side; the mesh
// domain also accepts PLY meshes.
func (w *Workflow) Discover() ([]*models.Sample, error) {
	w.banner("Discovering samples")
	samples, err := DiscoverWith(w.cfg.Input.Dirs, DiscoverOptions{
		PLY:     w.cfg.MeshDomain(),
		AnySide: w.cfg.Input.Prepped || w.cfg.MeshDomain(),
	})
	if err != nil {
		return nil, err
	}
	samples = Limit(samples, w.cfg.Input.Limit)
	w.log.Info().Int("samples", len(samples)).Msg("population discovered")
	return samples, nil
}

// selectPlane returns the configured plane or asks the selector.
func (w *Workflow) selectPlane(ctx context.Context, samples []*models.Sample) (Selection, error) {
	cp := w.cfg.Groom.CuttingPlane
	plane, ok, err := cp.Plane()
	if err != nil {
		return Selection{}, err
	}
	sel := Selection{Sample: cp.Sample, Frame: cp.Frame, Plane: plane}
	if !ok {
		if w.opts.Selector == nil {
			return Selection{}, failure.Configf("no cutting plane configured and no interactive selector available")
		}
		w.banner("Selecting the cutting plane")
		if sel, err = w.opts.Selector.SelectPlane(ctx, samples); err != nil {
			return Selection{}, err
		}
	}
	if _, err := sel.Plane.Normal(); err != nil {
		return Selection{}, failure.ForSample("select", sel.Sample, err)
	}
	if sel.Frame == config.FrameOriginal {
		found := false
		for _, s := range samples {
			found = found || s.ID == sel.Sample
		}
		if !found {
			return Selection{}, failure.ForSample("select", sel.Sample,
				failure.Missingf("cutting-plane sample is not part of the population"))
		}
	}
	w.log.Info().Str("sample", sel.Sample).Str("frame", sel.Frame).Floats64("points", sel.Plane.Flatten()).Msg("cutting plane selected")
	return sel, nil
}

func (w *Workflow) groomParams(sel Selection) (grooming.Params, error) {
	params, err := w.cfg.GroomParams()
	if err != nil {
		return params, err
	}
	if strings.EqualFold(w.cfg.Groom.ReferenceSide, config.AutoSide) && sel.Sample != "" {
		if side := models.SideFromID(sel.Sample); side != models.Unknown {
			params.ReferenceSide = side
		}
	}
	params.Logger = w.opts.Logger
	params.OnStage = func(_ int, stage grooming.Stage) {
		w.banner(stage.Description())
	}
	if w.cfg.Output.SaveIntermediaryResults {
		params.AfterStage = func(stage grooming.Stage, samples []*models.Sample) error {
			return w.snapshot(string(stage), samples, nil)
		}
	}
	if w.cfg.Tools.MeshToVolume.Configured() {
		params.Rasterizer = &external.CommandRasterizer{
			Runner:  w.opts.Runner,
			Command: w.cfg.Tools.MeshToVolume,
			WorkDir: w.path("work", "raster"),
			Spacing: w.cfg.Groom.IsoSpacing,
		}
	}
	return params, nil
}

func (w *Workflow) snapshot(stage string, samples []*models.Sample, planes map[string]geometry.PlanePoints) error {
	dir := w.path("snapshots")
	for _, s := range samples {
		if s.Segmentation == nil {
			continue
		}
		var plane *geometry.PlanePoints
		if p, ok := planes[s.ID]; ok {
			plane = &p
		}
		if _, err := visualization.Snapshot(dir, stage, s.ID, s.Segmentation, plane); err != nil {
			return failure.ForSample(stage, s.ID, fmt.Errorf("failed to save snapshot: %w", err))
		}
	}
	return nil
}

type groomKey struct {
	Groom     any       `json:"groom"`
	Selection Selection `json:"selection"`
	Samples   []string  `json:"samples"`
}

// Groom aligns, clips and crops the population and writes the groomed
// segmentations, images and transform files. Samples are updated in place.
// With prepped input the segmentations are recorded as they are.
func (w *Workflow) Groom(ctx context.Context, samples []*models.Sample) (*GroomResult, error) {
	if err := w.imageDomain("grooming"); err != nil {
		return nil, err
	}
	if w.cfg.Input.Prepped {
		return w.prepped(ctx, samples)
	}
	sel, err := w.selectPlane(ctx, samples)
	if err != nil {
		return nil, err
	}
	params, err := w.groomParams(sel)
	if err != nil {
		return nil, err
	}

	var key digest.Digest
	var inputs []string
	ids := make([]string, len(samples))
	for i, s := range samples {
		ids[i] = s.ID
		for _, p := range []string{s.ImagePath, s.SegmentationPath, s.MeshPath} {
			if p != "" {
				inputs = append(inputs, p)
			}
		}
	}
	if w.cache.Enabled() {
		if key, err = stagecache.Key("groom", groomKey{Groom: w.cfg.Groom, Selection: sel, Samples: ids}, inputs); err != nil {
			return nil, err
		}
		if res, ok, err := w.cachedGroom(key, samples); err != nil || ok {
			return res, err
		}
	}

	var unloaded []*models.Sample
	for _, s := range samples {
		if s.Segmentation == nil && s.Mesh == nil && s.Image == nil {
			unloaded = append(unloaded, s)
		}
	}
	if err := Load(ctx, unloaded, params.NumWorkers); err != nil {
		return nil, err
	}

	chain, err := grooming.NewChain(params)
	if err != nil {
		return nil, err
	}
	aligned, err := chain.Run(ctx, samples)
	if err != nil {
		return nil, err
	}

	w.banner("Clipping segmentations with the cutting plane")
	planes, err := w.planes(sel, samples)
	if err != nil {
		return nil, err
	}
	for _, s := range samples {
		clipped, err := clipping.Clip(s.Segmentation, planes[s.ID])
		if err != nil {
			return nil, failure.ForSample("clip", s.ID, err)
		}
		s.Segmentation = clipped
	}
	if w.cfg.Output.SaveIntermediaryResults {
		if err := w.snapshot("clip", samples, planes); err != nil {
			return nil, err
		}
	}

	w.banner("Cropping to the population bounding box")
	items := make([]clipping.Item, len(samples))
	for i, s := range samples {
		items[i] = clipping.Item{ID: s.ID, Segmentation: s.Segmentation, Image: s.Image}
	}
	cropped, err := clipping.Crop(items, clipping.Options{Padding: w.cfg.Groom.CropPadding, ProcessRaw: w.cfg.Groom.ProcessRaw})
	if err != nil {
		return nil, err
	}
	for i, s := range samples {
		s.Segmentation = cropped.Segmentations[i]
		if cropped.Images[i] != nil {
			s.Image = cropped.Images[i]
		}
	}
	if w.cfg.Output.SaveIntermediaryResults {
		if err := w.snapshot("crop", samples, nil); err != nil {
			return nil, err
		}
	}

	res, err := w.persist(aligned, sel, planes, cropped.Dims)
	if err != nil {
		return nil, err
	}
	renderSummary(w.opts.Out, aligned, res)

	if w.cache.Enabled() {
		if err := w.cache.Store(key, "groom", res.outputs(), res); err != nil {
			w.log.Warn().Err(err).Msg("failed to store groom cache entry")
		}
	}
	return res, nil
}

// imageDomain rejects stages that only exist for the image domain.
func (w *Workflow) imageDomain(stage string) error {
	if w.cfg.MeshDomain() {
		return failure.Configf("%s is skipped for the mesh domain", stage)
	}
	return nil
}

// prepped records segmentations that are already aligned, clipped and
// cropped. Each sample keeps its input file and gets an identity rigid
// record, so its original and aligned frames coincide.
func (w *Workflow) prepped(ctx context.Context, samples []*models.Sample) (*GroomResult, error) {
	w.banner("Using prepped segmentations")
	if len(samples) == 0 {
		return nil, failure.Missingf("no prepped segmentations")
	}
	var unloaded []*models.Sample
	for _, s := range samples {
		if s.SegmentationPath == "" {
			return nil, failure.ForSample("prepped", s.ID, failure.Missingf("prepped input needs a segmentation"))
		}
		if s.Segmentation == nil {
			unloaded = append(unloaded, s)
		}
	}
	if err := Load(ctx, unloaded, w.cfg.Groom.NumWorkers); err != nil {
		return nil, err
	}
	first := samples[0]
	for _, s := range samples[1:] {
		if s.Segmentation.Dims != first.Segmentation.Dims {
			return nil, failure.ForSample("prepped", s.ID, failure.Configf("grid %v differs from %v of %s",
				s.Segmentation.Dims, first.Segmentation.Dims, first.ID))
		}
	}

	tfmDir := w.path("groomed", "transforms")
	if err := os.MkdirAll(tfmDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	res := &GroomResult{
		Reference: first.ID,
		Selection: Selection{Frame: config.FrameAligned},
		Dims:      first.Segmentation.Dims,
	}
	for _, s := range samples {
		if _, ok := s.Transforms().Rigid(); !ok {
			if err := s.Record(transform.IdentityRigid(transform.StageRigid)); err != nil {
				return nil, failure.ForSample("prepped", s.ID, err)
			}
		}
		gs := GroomedSample{
			ID:           s.ID,
			Side:         s.Side,
			Segmentation: s.SegmentationPath,
			Image:        s.ImagePath,
			Transforms:   filepath.Join(tfmDir, s.ID+".transforms.txt"),
		}
		if err := transform.WriteFile(gs.Transforms, s.ID, s.Transforms()); err != nil {
			return nil, failure.ForSample("prepped", s.ID, err)
		}
		res.Samples = append(res.Samples, gs)
	}
	if err := writeJSON(w.GroomResultPath(), res); err != nil {
		return nil, err
	}
	w.log.Info().Int("samples", len(res.Samples)).Ints("dims", res.Dims[:]).Msg("prepped segmentations recorded")
	return res, nil
}

// planes returns the cutting plane of every sample in its aligned frame.
func (w *Workflow) planes(sel Selection, samples []*models.Sample) (map[string]geometry.PlanePoints, error) {
	if sel.Frame == config.FrameAligned {
		planes := make(map[string]geometry.PlanePoints, len(samples))
		for _, s := range samples {
			planes[s.ID] = sel.Plane
		}
		return planes, nil
	}
	return transport.New(samples).All(sel.Plane, sel.Sample)
}

func (w *Workflow) persist(aligned *grooming.Result, sel Selection, planes map[string]geometry.PlanePoints, dims [3]int) (*GroomResult, error) {
	segDir := w.path("groomed", "segmentations")
	imgDir := w.path("groomed", "images")
	tfmDir := w.path("groomed", "transforms")
	for _, dir := range []string{segDir, imgDir, tfmDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	res := &GroomResult{Reference: aligned.Reference.ID, Selection: sel, Dims: dims}
	for _, s := range aligned.Samples {
		gs := GroomedSample{
			ID:           s.ID,
			Side:         s.Side,
			Segmentation: filepath.Join(segDir, s.ID+".nrrd"),
			Transforms:   filepath.Join(tfmDir, s.ID+".transforms.txt"),
			Plane:        planes[s.ID],
			Dice:         aligned.Overlap[s.ID].Dice,
			Jaccard:      aligned.Overlap[s.ID].Jaccard,
		}
		if err := volume.WriteFile(gs.Segmentation, s.Segmentation, volume.MaskWriteOptions()); err != nil {
			return nil, failure.ForSample("persist", s.ID, err)
		}
		if err := transform.WriteFile(gs.Transforms, s.ID, s.Transforms()); err != nil {
			return nil, failure.ForSample("persist", s.ID, err)
		}
		if w.cfg.Groom.ProcessRaw && s.Image != nil {
			gs.Image = filepath.Join(imgDir, s.ID+".nrrd")
			if err := volume.WriteFile(gs.Image, s.Image, volume.DefaultWriteOptions()); err != nil {
				return nil, failure.ForSample("persist", s.ID, err)
			}
		}
		res.Samples = append(res.Samples, gs)
	}
	if err := writeJSON(w.GroomResultPath(), res); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *GroomResult) outputs() []string {
	var out []string
	for _, s := range r.Samples {
		out = append(out, s.Segmentation, s.Transforms)
		if s.Image != "" {
			out = append(out, s.Image)
		}
	}
	return out
}

// cachedGroom restores samples from a cached groom run.
func (w *Workflow) cachedGroom(key digest.Digest, samples []*models.Sample) (*GroomResult, bool, error) {
	entry, ok, err := w.cache.Lookup(key)
	if err != nil || !ok {
		return nil, false, err
	}
	var res GroomResult
	if err := entry.Decode(&res); err != nil {
		w.log.Warn().Err(err).Msg("ignoring groom cache entry")
		return nil, false, nil
	}
	if err := restore(&res, samples); err != nil {
		return nil, false, err
	}
	w.log.Info().Str("reference", res.Reference).Msg("grooming restored from cache")
	return &res, true, nil
}

// restore loads the groomed volumes and transform logs into samples.
func restore(res *GroomResult, samples []*models.Sample) error {
	byID := make(map[string]GroomedSample, len(res.Samples))
	for _, gs := range res.Samples {
		byID[gs.ID] = gs
	}
	for _, s := range samples {
		gs, ok := byID[s.ID]
		if !ok {
			return failure.ForSample("restore", s.ID, failure.Missingf("sample not in groom result"))
		}
		_, log, err := transform.ReadFile(gs.Transforms)
		if err != nil {
			return failure.ForSample("restore", s.ID, err)
		}
		if err := s.RestoreTransforms(log); err != nil {
			return failure.ForSample("restore", s.ID, err)
		}
		if s.Segmentation, err = volume.ReadFile(gs.Segmentation); err != nil {
			return failure.ForSample("restore", s.ID, err)
		}
		if gs.Image != "" {
			if s.Image, err = volume.ReadFile(gs.Image); err != nil {
				return failure.ForSample("restore", s.ID, err)
			}
		}
	}
	return nil
}

// LoadGroomResult reads a result persisted by Groom.
func LoadGroomResult(path string) (*GroomResult, error) {
	var res GroomResult
	if err := readJSON(path, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Transport rebuilds the plane transport from the persisted transform files.
func (r *GroomResult) Transport() (*transport.Transport, error) {
	logs := make(map[string]transform.Log, len(r.Samples))
	for _, gs := range r.Samples {
		_, l, err := transform.ReadFile(gs.Transforms)
		if err != nil {
			return nil, failure.ForSample("restore", gs.ID, err)
		}
		logs[gs.ID] = l
	}
	return transport.FromLogs(logs), nil
}

// DistanceTransforms runs the distance-transform tool on every groomed
// segmentation and returns the output path per sample.
func (w *Workflow) DistanceTransforms(ctx context.Context, gr *GroomResult) (map[string]string, error) {
	if err := w.imageDomain("the distance transform"); err != nil {
		return nil, err
	}
	w.banner("Computing distance transforms")
	if !w.cfg.Tools.DistanceTransform.Configured() {
		return nil, failure.Configf("tools.distanceTransform is not configured")
	}
	dt := w.distanceTransformer()

	var key digest.Digest
	if w.cache.Enabled() {
		var inputs []string
		for _, gs := range gr.Samples {
			inputs = append(inputs, gs.Segmentation)
		}
		var err error
		if key, err = stagecache.Key("distance", w.cfg.Tools.DistanceTransform, inputs); err != nil {
			return nil, err
		}
		if entry, ok, err := w.cache.Lookup(key); err != nil {
			return nil, err
		} else if ok {
			paths := make(map[string]string)
			if err := entry.Decode(&paths); err == nil {
				return paths, nil
			}
		}
	}

	var (
		mu     sync.Mutex
		paths  = make(map[string]string, len(gr.Samples))
		failed []string
		first  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(w.cfg.Groom.NumWorkers, 1))
	for _, gs := range gr.Samples {
		g.Go(func() error {
			out, err := w.distanceTransform(gctx, dt, gs)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, gs.ID)
				if first == nil {
					first = err
				}
				return nil
			}
			paths[gs.ID] = out
			return nil
		})
	}
	_ = g.Wait()
	if len(failed) > 0 {
		return nil, failure.ForSamples("distance", failed, first)
	}

	if w.cache.Enabled() {
		outs := make([]string, 0, len(paths))
		for _, p := range paths {
			outs = append(outs, p)
		}
		sort.Strings(outs)
		if err := w.cache.Store(key, "distance", outs, paths); err != nil {
			w.log.Warn().Err(err).Msg("failed to store distance cache entry")
		}
	}
	return paths, nil
}

func (w *Workflow) distanceTransformer() *external.CommandDistanceTransformer {
	return &external.CommandDistanceTransformer{
		Runner:  w.opts.Runner,
		Command: w.cfg.Tools.DistanceTransform,
		WorkDir: w.path("distance"),
	}
}

// DistancePaths returns the distance transforms written by an earlier
// DistanceTransforms run. A missing file is an ErrMissingArtifact error
// naming the sample.
func (w *Workflow) DistancePaths(gr *GroomResult) (map[string]string, error) {
	dt := w.distanceTransformer()
	paths := make(map[string]string, len(gr.Samples))
	for _, gs := range gr.Samples {
		p := dt.OutputPath(gs.ID)
		if _, err := os.Stat(p); err != nil {
			return nil, failure.ForSample("distance", gs.ID, failure.Missingf("distance transform %s", p))
		}
		paths[gs.ID] = p
	}
	return paths, nil
}

func (w *Workflow) distanceTransform(ctx context.Context, dt *external.CommandDistanceTransformer, gs GroomedSample) (string, error) {
	seg, err := volume.ReadFile(gs.Segmentation)
	if err != nil {
		return "", err
	}
	out, err := dt.Transform(ctx, gs.ID, seg)
	if err != nil {
		return "", err
	}
	if !out.SameGrid(seg, 1e-6) {
		return "", failure.Externalf("distance transform grid %v differs from segmentation grid %v", out.Dims, seg.Dims)
	}
	l := logger.Sample(w.log, "distance", gs.ID)
	l.Debug().Msg("distance transform written")
	return dt.OutputPath(gs.ID), nil
}

type optimizeKey struct {
	SingleScale bool            `json:"singleScale"`
	Params      optimize.Params `json:"params"`
	Tool        any             `json:"tool"`
}

// Optimize freezes the samples and runs the correspondence optimizer on the
// distance transforms.
func (w *Workflow) Optimize(ctx context.Context, samples []*models.Sample, dts map[string]string) (*optimize.Output, error) {
	if err := w.imageDomain("optimizing distance transforms"); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(dts))
	for id := range dts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	inputs := make([]optimize.Input, len(ids))
	for i, id := range ids {
		inputs[i] = optimize.Input{ID: id, DistanceTransform: dts[id]}
	}
	return w.optimize(ctx, samples, inputs)
}

// OptimizeMeshes runs the optimizer directly on the sample meshes, skipping
// grooming and distance transforms. Every mesh is parsed first so a broken
// file is reported before the tool starts.
func (w *Workflow) OptimizeMeshes(ctx context.Context, samples []*models.Sample) (*optimize.Output, error) {
	if !w.cfg.MeshDomain() {
		return nil, failure.Configf("optimizing meshes needs optimize.parameters.domain_type %q", optimize.DomainMesh)
	}
	var unloaded []*models.Sample
	for _, s := range samples {
		if s.MeshPath == "" {
			return nil, failure.ForSample("optimize", s.ID, failure.Missingf("no mesh for the mesh domain"))
		}
		if s.Mesh == nil {
			unloaded = append(unloaded, s)
		}
	}
	if err := Load(ctx, unloaded, w.cfg.Groom.NumWorkers); err != nil {
		return nil, err
	}

	sorted := append([]*models.Sample(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	inputs := make([]optimize.Input, len(sorted))
	for i, s := range sorted {
		inputs[i] = optimize.Input{ID: s.ID, Mesh: s.MeshPath}
	}
	return w.optimize(ctx, samples, inputs)
}

func (w *Workflow) optimize(ctx context.Context, samples []*models.Sample, inputs []optimize.Input) (*optimize.Output, error) {
	for _, s := range samples {
		s.Freeze()
	}
	w.banner("Optimizing correspondences")
	if !w.cfg.Tools.Optimizer.Configured() {
		return nil, failure.Configf("tools.optimizer is not configured")
	}

	params := w.cfg.Optimize.Parameters
	single := w.cfg.Optimize.SingleScale
	files := make([]string, len(inputs))
	for i, in := range inputs {
		files[i] = in.DistanceTransform
		if params.Domain() == optimize.DomainMesh {
			files[i] = in.Mesh
		}
	}
	var key digest.Digest
	if w.cache.Enabled() {
		var err error
		if key, err = stagecache.Key("optimize", optimizeKey{single, params, w.cfg.Tools.Optimizer}, files); err != nil {
			return nil, err
		}
		if entry, ok, err := w.cache.Lookup(key); err != nil {
			return nil, err
		} else if ok {
			var out optimize.Output
			if err := entry.Decode(&out); err == nil {
				return &out, nil
			}
		}
	}

	svc := &optimize.Service{
		Runner:  w.opts.Runner,
		Command: w.cfg.Tools.Optimizer,
		OutDir:  w.path("particles"),
		Logger:  w.opts.Logger,
	}
	out, err := svc.Run(ctx, inputs, params, single)
	if err != nil {
		return nil, err
	}
	if err := writeJSON(w.OptimizeResultPath(), out); err != nil {
		return nil, err
	}

	if w.cache.Enabled() {
		var outs []string
		for _, in := range inputs {
			outs = append(outs, out.Files[in.ID].Local, out.Files[in.ID].World)
		}
		if err := w.cache.Store(key, "optimize", outs, out); err != nil {
			w.log.Warn().Err(err).Msg("failed to store optimize cache entry")
		}
	}
	return out, nil
}

// LoadOptimizeOutput reads a result persisted by Optimize.
func LoadOptimizeOutput(path string) (*optimize.Output, error) {
	var out optimize.Output
	if err := readJSON(path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reconstruct runs the dense reconstruction tools on the optimized model.
func (w *Workflow) Reconstruct(ctx context.Context, out *optimize.Output, dts map[string]string) (*reconstruction.Result, error) {
	if err := w.imageDomain("dense reconstruction"); err != nil {
		return nil, err
	}
	w.banner("Reconstructing dense surfaces")
	tools := reconstruction.Tools{
		Mean:   w.cfg.Tools.ReconstructMean,
		Sample: w.cfg.Tools.ReconstructSample,
		PCA:    w.cfg.Tools.PCAModes,
	}
	for name, cmd := range map[string]external.Command{
		"reconstructMean": tools.Mean, "reconstructSample": tools.Sample, "pcaModes": tools.PCA,
	} {
		if !cmd.Configured() {
			return nil, failure.Configf("tools.%s is not configured", name)
		}
	}

	ids := make([]string, 0, len(out.Files))
	for id := range out.Files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	inputs := make([]reconstruction.Input, len(ids))
	for i, id := range ids {
		inputs[i] = reconstruction.Input{
			ID:                id,
			DistanceTransform: dts[id],
			Local:             out.Files[id].Local,
			World:             out.Files[id].World,
		}
	}

	svc := &reconstruction.Service{
		Runner: w.opts.Runner,
		Tools:  tools,
		OutDir: w.path("reconstruction"),
		Prefix: "shape",
		Logger: w.opts.Logger,
	}
	return reconstruction.NewReconstructor(svc, w.cfg.Reconstruct).Process(ctx, inputs)
}

// Summary is the outcome of a full run. The mesh domain fills only
// Optimize.
type Summary struct {
	Groom          *GroomResult
	Distance       map[string]string
	Optimize       *optimize.Output
	Reconstruction *reconstruction.Result
}

// Run executes the whole pipeline.
func (w *Workflow) Run(ctx context.Context) (*Summary, error) {
	samples, err := w.Discover()
	if err != nil {
		return nil, err
	}
	sum := &Summary{}
	if w.cfg.MeshDomain() {
		if sum.Optimize, err = w.OptimizeMeshes(ctx, samples); err != nil {
			return nil, err
		}
		w.log.Info().Str("output", w.cfg.Output.Dir).Msg("mesh-domain optimization complete; dense reconstruction needs distance transforms and is skipped")
		return sum, nil
	}
	if sum.Groom, err = w.Groom(ctx, samples); err != nil {
		return nil, err
	}
	if sum.Distance, err = w.DistanceTransforms(ctx, sum.Groom); err != nil {
		return nil, err
	}
	if sum.Optimize, err = w.Optimize(ctx, samples, sum.Distance); err != nil {
		return nil, err
	}
	if sum.Reconstruction, err = w.Reconstruct(ctx, sum.Optimize, sum.Distance); err != nil {
		return nil, err
	}
	w.log.Info().Str("output", w.cfg.Output.Dir).Msg("pipeline complete")
	return sum, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return failure.Missingf("%s (run the previous stage first)", path)
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("error parsing %s: %w", path, err)
	}
	return nil
}

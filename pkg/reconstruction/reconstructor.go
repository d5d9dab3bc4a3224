// Package reconstruction drives the dense surface reconstruction tools that
// run on an optimized correspondence model: the mean surface, the
// sample-specific surfaces in the local and world frames, and samples along
// the dominant PCA modes.
package reconstruction

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"shapegroom/pkg/external"
	"shapegroom/pkg/failure"
	"shapegroom/pkg/particles"
)

// Frame selects which particle files a sample reconstruction warps.
type Frame string

const (
	Local Frame = "local"
	World Frame = "world"
)

// Input is one optimized sample.
type Input struct {
	ID                string
	DistanceTransform string
	Local             string
	World             string
}

// Tools holds the three reconstruction commands. Each receives {params},
// the XML parameter file, and {output}, its output directory.
type Tools struct {
	Mean   external.Command
	Sample external.Command
	PCA    external.Command
}

// Service runs the reconstruction tools under OutDir. Output files are named
// after Prefix.
type Service struct {
	Runner external.Runner
	Tools  Tools
	OutDir string
	Prefix string
	Logger zerolog.Logger
}

// MeanSurface locates the mean reconstruction outputs.
type MeanSurface struct {
	Prefix    string `json:"prefix"`
	World     string `json:"world"`
	Dense     string `json:"dense"`
	Sparse    string `json:"sparse"`
	Particles int    `json:"particles"`
}

// Result collects every reconstruction output.
type Result struct {
	Mean  *MeanSurface      `json:"mean"`
	Local map[string]string `json:"local"`
	World map[string]string `json:"world"`

	// Modes maps a PCA mode index to its sample surfaces, ordered.
	Modes map[int][]string `json:"modes"`
}

// Reconstructor runs the full reconstruction in the order the tools depend
// on each other.
type Reconstructor struct {
	service *Service
	params  Params
}

// NewReconstructor creates a reconstructor running s with params.
func NewReconstructor(s *Service, params Params) *Reconstructor {
	return &Reconstructor{service: s, params: params}
}

// Process runs the complete reconstruction pipeline.
func (r *Reconstructor) Process(ctx context.Context, inputs []Input) (*Result, error) {
	if err := r.params.Validate(); err != nil {
		return nil, err
	}
	log := r.service.log()
	res := &Result{}
	var err error

	log.Info().Msg("Step 1: Reconstructing the dense mean surface")
	if res.Mean, err = r.service.Mean(ctx, inputs, r.params.Mean); err != nil {
		return nil, err
	}

	log.Info().Msg("Step 2: Reconstructing sample surfaces in the local frame")
	if res.Local, err = r.service.Samples(ctx, res.Mean, inputs, Local, r.params.Sample); err != nil {
		return nil, err
	}

	log.Info().Msg("Step 3: Reconstructing sample surfaces in the world frame")
	if res.World, err = r.service.Samples(ctx, res.Mean, inputs, World, r.params.Sample); err != nil {
		return nil, err
	}

	log.Info().Msg("Step 4: Sampling along the dominant PCA modes")
	if res.Modes, err = r.service.PCAModes(ctx, res.Mean, inputs, r.params.PCA); err != nil {
		return nil, err
	}
	return res, nil
}

// Mean writes the particle-wise mean of the world particles and runs the
// mean surface reconstruction.
func (s *Service) Mean(ctx context.Context, inputs []Input, p MeanParams) (*MeanSurface, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := checkInputs(inputs); err != nil {
		return nil, err
	}

	sets := make([]particles.Set, len(inputs))
	for i, in := range inputs {
		set, err := particles.ReadFile(in.World)
		if err != nil {
			return nil, failure.ForSample("reconstruct", in.ID, err)
		}
		if len(set) != p.NumberOfParticles {
			return nil, failure.ForSample("reconstruct", in.ID,
				failure.Configf("%d particles in %s, parameters expect %d", len(set), in.World, p.NumberOfParticles))
		}
		sets[i] = set
	}
	mean, err := particles.Mean(sets)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(s.OutDir, "mean")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	prefix := filepath.Join(dir, s.prefix())
	out := &MeanSurface{
		Prefix:    prefix,
		World:     prefix + "_mean_world.particles",
		Dense:     prefix + "_dense.vtk",
		Sparse:    prefix + "_sparse.particles",
		Particles: p.NumberOfParticles,
	}
	if err := particles.WriteFile(out.World, mean); err != nil {
		return nil, err
	}

	pf := paramFile{
		DistanceTransforms: files(inputs, func(in Input) string { return in.DistanceTransform }),
		LocalPoints:        files(inputs, func(in Input) string { return in.Local }),
		WorldPoints:        files(inputs, func(in Input) string { return in.World }),
		MeanWorld:          out.World,
		OutPrefix:          prefix,
		Mean:               &p,
	}
	if err := s.invoke(ctx, s.Tools.Mean, dir, pf, ids(inputs)); err != nil {
		return nil, err
	}

	for _, path := range []string{out.Dense, out.Sparse} {
		if _, err := os.Stat(path); err != nil {
			return nil, failure.Externalf("mean reconstruction did not produce %s", path)
		}
	}
	l := s.log()
	l.Info().Str("dense", out.Dense).Int("samples", len(inputs)).Msg("mean surface reconstructed")
	return out, nil
}

// Samples warps the mean surface to every sample using the particles of the
// given frame. It returns the dense surface path of each sample.
func (s *Service) Samples(ctx context.Context, mean *MeanSurface, inputs []Input, frame Frame, p SurfaceParams) (map[string]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if frame != Local && frame != World {
		return nil, failure.Configf("unknown particle frame %q", frame)
	}
	if err := checkMean(mean, p.NumberOfParticles); err != nil {
		return nil, err
	}
	if err := checkInputs(inputs); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.OutDir, string(frame))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	prefix := filepath.Join(dir, s.prefix())

	pf := paramFile{MeanPrefix: mean.Prefix, OutPrefix: prefix, Surface: &p}
	if frame == Local {
		pf.LocalPoints = files(inputs, func(in Input) string { return in.Local })
	} else {
		pf.WorldPoints = files(inputs, func(in Input) string { return in.World })
	}
	if err := s.invoke(ctx, s.Tools.Sample, dir, pf, ids(inputs)); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(inputs))
	var missing []string
	for _, in := range inputs {
		path := fmt.Sprintf("%s_%s_dense.vtk", prefix, in.ID)
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, in.ID)
			continue
		}
		out[in.ID] = path
	}
	if len(missing) > 0 {
		return nil, failure.ForSamples("reconstruct", missing,
			failure.Externalf("no %s dense surface produced", frame))
	}
	return out, nil
}

var modeFile = regexp.MustCompile(`_mode-(\d+)_sample-(\d+)_dense\.vtk$`)

// PCAModes samples the shape model along its dominant modes. Every mode the
// tool emits must carry NumberOfSamplesPerMode surfaces.
func (s *Service) PCAModes(ctx context.Context, mean *MeanSurface, inputs []Input, p PCAParams) (map[int][]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := checkMean(mean, p.NumberOfParticles); err != nil {
		return nil, err
	}
	if err := checkInputs(inputs); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.OutDir, "pca")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	prefix := filepath.Join(dir, s.prefix())
	pf := paramFile{
		WorldPoints: files(inputs, func(in Input) string { return in.World }),
		MeanPrefix:  mean.Prefix,
		OutPrefix:   prefix,
		PCA:         &p,
	}
	if err := s.invoke(ctx, s.Tools.PCA, dir, pf, ids(inputs)); err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(prefix + "_mode-*_sample-*_dense.vtk")
	if err != nil {
		return nil, err
	}
	modes := make(map[int][]string)
	for _, path := range matches {
		m := modeFile.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		mode, _ := strconv.Atoi(m[1])
		modes[mode] = append(modes[mode], path)
	}
	if len(modes) == 0 {
		return nil, failure.Externalf("PCA sampling produced no surfaces under %s", dir)
	}
	for mode, paths := range modes {
		if len(paths) != p.NumberOfSamplesPerMode {
			return nil, failure.Externalf("PCA mode %d has %d samples, expected %d", mode, len(paths), p.NumberOfSamplesPerMode)
		}
		sort.Strings(paths)
	}
	l := s.log()
	l.Info().Int("modes", len(modes)).Msg("PCA modes sampled")
	return modes, nil
}

// paramFile is the XML input shared by the reconstruction tools; exactly one
// of Mean, Surface and PCA is set.
type paramFile struct {
	XMLName            xml.Name       `xml:"reconstruct"`
	DistanceTransforms []string       `xml:"distance_transforms>file,omitempty"`
	LocalPoints        []string       `xml:"local_point_files>file,omitempty"`
	WorldPoints        []string       `xml:"world_point_files>file,omitempty"`
	MeanWorld          string         `xml:"mean_world_points,omitempty"`
	MeanPrefix         string         `xml:"mean_prefix,omitempty"`
	OutPrefix          string         `xml:"out_prefix"`
	Mean               *MeanParams    `xml:"mean,omitempty"`
	Surface            *SurfaceParams `xml:"surface,omitempty"`
	PCA                *PCAParams     `xml:"pca,omitempty"`
}

func encodeParamFile(w io.Writer, pf paramFile) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(pf); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func (s *Service) invoke(ctx context.Context, cmd external.Command, dir string, pf paramFile, samples []string) error {
	path := filepath.Join(dir, "reconstruct.xml")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating parameter file: %w", err)
	}
	if err := encodeParamFile(f, pf); err != nil {
		f.Close()
		return fmt.Errorf("error writing parameter file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	if _, err := external.Invoke(ctx, s.Runner, cmd, map[string]string{"params": path, "output": dir}); err != nil {
		return failure.ForSamples("reconstruct", samples, err)
	}
	return nil
}

func (s *Service) prefix() string {
	if s.Prefix == "" {
		return "shape"
	}
	return s.Prefix
}

func (s *Service) log() zerolog.Logger {
	return s.Logger.With().Str("component", "reconstruction").Logger()
}

func checkMean(mean *MeanSurface, n int) error {
	if mean == nil {
		return failure.Missingf("mean surface has not been reconstructed")
	}
	if mean.Particles != n {
		return failure.Configf("mean surface has %d particles, parameters expect %d", mean.Particles, n)
	}
	return nil
}

func checkInputs(inputs []Input) error {
	if len(inputs) == 0 {
		return failure.Missingf("no optimized samples to reconstruct")
	}
	for _, in := range inputs {
		for _, path := range []string{in.Local, in.World} {
			if _, err := os.Stat(path); err != nil {
				return failure.ForSample("reconstruct", in.ID, failure.Missingf("particle file %s", path))
			}
		}
	}
	return nil
}

func files(inputs []Input, pick func(Input) string) []string {
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if p := pick(in); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func ids(inputs []Input) []string {
	out := make([]string, len(inputs))
	for i, in := range inputs {
		out[i] = in.ID
	}
	return out
}

package optimize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"shapegroom/pkg/external"
	"shapegroom/pkg/failure"
	"shapegroom/pkg/particles"
)

// Input is one shape handed to the optimizer.
type Input struct {
	ID string

	// DistanceTransform is the path of the sample's signed distance volume,
	// used by the image domain.
	DistanceTransform string

	// Mesh is the path of the sample's surface, used by the mesh domain.
	Mesh string
}

// domainFile returns the file the optimizer reads for in.
func (in Input) domainFile(domain string) string {
	if domain == DomainMesh {
		return in.Mesh
	}
	return in.DistanceTransform
}

// ParticleFiles locates one sample's optimizer output.
type ParticleFiles struct {
	Local string `json:"local"`
	World string `json:"world"`
}

// Output is the result of the final optimizer run.
type Output struct {
	Dir       string                   `json:"dir"`
	Particles int                      `json:"particles"`
	Files     map[string]ParticleFiles `json:"files"`
}

// Service runs the optimizer tool. The command receives {params}, the XML
// parameter file, and {output}, the directory the tool writes
// <id>_local.particles and <id>_world.particles into.
type Service struct {
	Runner  external.Runner
	Command external.Command
	OutDir  string
	Logger  zerolog.Logger
}

// LocalFile and WorldFile name the particle files of id inside dir.
func LocalFile(dir, id string) string { return filepath.Join(dir, id+"_local.particles") }
func WorldFile(dir, id string) string { return filepath.Join(dir, id+"_world.particles") }

// Run optimizes correspondences for inputs. The single-scale form runs the
// tool once; the multi-scale form runs it once per level, seeding each level
// with the previous level's world particles.
func (s *Service) Run(ctx context.Context, inputs []Input, params Params, singleScale bool) (*Output, error) {
	if err := params.Validate(singleScale); err != nil {
		return nil, err
	}
	domain := params.Domain()
	what := "distance transform"
	if domain == DomainMesh {
		what = "mesh"
	}
	if len(inputs) == 0 {
		return nil, failure.Missingf("no %ss to optimize", what)
	}
	for _, in := range inputs {
		path := in.domainFile(domain)
		if path == "" {
			return nil, failure.ForSample("optimize", in.ID, failure.Missingf("no %s for the %s domain", what, domain))
		}
		if _, err := os.Stat(path); err != nil {
			return nil, failure.ForSample("optimize", in.ID, failure.Missingf("%s %s", what, path))
		}
	}

	log := s.Logger.With().Str("component", "optimize").Logger()
	schedule := params.Schedule(singleScale)
	log.Info().Str("mode", params.String()).Ints("schedule", schedule).Msg("starting optimization")

	var prev *Output
	for level, count := range schedule {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := filepath.Join(s.OutDir, fmt.Sprintf("%d", count))
		if !singleScale {
			dir = filepath.Join(s.OutDir, fmt.Sprintf("level_%d_%d", level, count))
		}
		out, err := s.runLevel(ctx, dir, inputs, params, count, prev)
		if err != nil {
			return nil, err
		}
		log.Info().Int("level", level).Int("particles", count).Str("dir", dir).Msg("level complete")
		prev = out
	}
	return prev, nil
}

func (s *Service) runLevel(ctx context.Context, dir string, inputs []Input, params Params, count int, seed *Output) (*Output, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	p := params
	p.NumberOfParticles = count
	p.StartingParticles = 0
	p.NumberOfLevels = 0

	pf := parameterFile{OutputDir: dir, Params: p}
	for _, in := range inputs {
		pf.Inputs.Files = append(pf.Inputs.Files, in.domainFile(params.Domain()))
		if seed != nil {
			pf.PointFiles = append(pf.PointFiles, seed.Files[in.ID].World)
		}
	}
	paramPath := filepath.Join(dir, "optimize.xml")
	if err := saveParameterFile(paramPath, pf); err != nil {
		return nil, err
	}

	start := time.Now()
	if _, err := external.Invoke(ctx, s.Runner, s.Command, map[string]string{
		"params": paramPath, "output": dir,
	}); err != nil {
		return nil, failure.ForSamples("optimize", ids(inputs), err)
	}
	s.Logger.Debug().Dur("elapsed", time.Since(start)).Int("particles", count).Msg("optimizer finished")

	return verify(dir, inputs, count)
}

// verify checks that every sample has local and world files holding count
// particles. Samples failing the check are named in the error.
func verify(dir string, inputs []Input, count int) (*Output, error) {
	out := &Output{Dir: dir, Particles: count, Files: make(map[string]ParticleFiles, len(inputs))}
	var bad []string
	var firstErr error
	for _, in := range inputs {
		files := ParticleFiles{Local: LocalFile(dir, in.ID), World: WorldFile(dir, in.ID)}
		if err := checkFile(files.Local, count); err != nil {
			bad = append(bad, in.ID)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := checkFile(files.World, count); err != nil {
			bad = append(bad, in.ID)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out.Files[in.ID] = files
	}
	if len(bad) > 0 {
		return nil, failure.ForSamples("optimize", bad, failure.Externalf("incomplete optimizer output: %v", firstErr))
	}
	return out, nil
}

func checkFile(path string, count int) error {
	set, err := particles.ReadFile(path)
	if err != nil {
		return err
	}
	if len(set) != count {
		return fmt.Errorf("%s holds %d particles, expected %d", path, len(set), count)
	}
	return nil
}

func ids(inputs []Input) []string {
	out := make([]string, len(inputs))
	for i, in := range inputs {
		out[i] = in.ID
	}
	return out
}

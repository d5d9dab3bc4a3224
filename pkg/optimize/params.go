// Package optimize drives the external particle-based correspondence
// optimizer: it validates the parameter set, writes the optimizer's XML
// parameter file, runs it (once, or once per level of a multi-scale
// schedule) and verifies the local and world particle files it produces.
package optimize

import (
	"fmt"

	"shapegroom/pkg/failure"
)

// Domain types accepted by domain_type.
const (
	// DomainImage optimizes on signed distance transforms.
	DomainImage = "image"

	// DomainMesh optimizes directly on surface meshes.
	DomainMesh = "mesh"
)

// Params is the recognized optimizer parameter set. The single-scale form
// sets NumberOfParticles; the multi-scale form sets StartingParticles and
// NumberOfLevels, doubling the particle count at each level.
type Params struct {
	// DomainType is DomainImage or DomainMesh; empty means DomainImage.
	DomainType string `yaml:"domain_type,omitempty" json:"domain_type,omitempty" xml:"domain_type,omitempty"`

	// UseShapeStatisticsAfter switches the multi-scale optimizer from
	// isotropic to shape-statistics sampling once the particle count
	// reaches this value. Zero leaves it to the tool.
	UseShapeStatisticsAfter int `yaml:"use_shape_statistics_after,omitempty" json:"use_shape_statistics_after,omitempty" xml:"use_shape_statistics_after,omitempty"`

	NumberOfParticles int `yaml:"number_of_particles,omitempty" json:"number_of_particles,omitempty" xml:"number_of_particles,omitempty"`
	StartingParticles int `yaml:"starting_particles,omitempty" json:"starting_particles,omitempty" xml:"-"`
	NumberOfLevels    int `yaml:"number_of_levels,omitempty" json:"number_of_levels,omitempty" xml:"-"`

	UseNormals                      int     `yaml:"use_normals" json:"use_normals" xml:"use_normals"`
	NormalWeight                    float64 `yaml:"normal_weight" json:"normal_weight" xml:"normal_weight"`
	CheckpointingInterval           int     `yaml:"checkpointing_interval" json:"checkpointing_interval" xml:"checkpointing_interval"`
	KeepCheckpoints                 int     `yaml:"keep_checkpoints" json:"keep_checkpoints" xml:"keep_checkpoints"`
	IterationsPerSplit              int     `yaml:"iterations_per_split" json:"iterations_per_split" xml:"iterations_per_split"`
	OptimizationIterations          int     `yaml:"optimization_iterations" json:"optimization_iterations" xml:"optimization_iterations"`
	StartingRegularization          float64 `yaml:"starting_regularization" json:"starting_regularization" xml:"starting_regularization"`
	EndingRegularization            float64 `yaml:"ending_regularization" json:"ending_regularization" xml:"ending_regularization"`
	RecomputeRegularizationInterval int     `yaml:"recompute_regularization_interval" json:"recompute_regularization_interval" xml:"recompute_regularization_interval"`
	DomainsPerShape                 int     `yaml:"domains_per_shape" json:"domains_per_shape" xml:"domains_per_shape"`
	RelativeWeighting               float64 `yaml:"relative_weighting" json:"relative_weighting" xml:"relative_weighting"`
	InitialRelativeWeighting        float64 `yaml:"initial_relative_weighting" json:"initial_relative_weighting" xml:"initial_relative_weighting"`
	ProcrustesInterval              int     `yaml:"procrustes_interval" json:"procrustes_interval" xml:"procrustes_interval"`
	ProcrustesScaling               int     `yaml:"procrustes_scaling" json:"procrustes_scaling" xml:"procrustes_scaling"`
	SaveInitSplits                  int     `yaml:"save_init_splits" json:"save_init_splits" xml:"save_init_splits"`
	DebugProjection                 int     `yaml:"debug_projection" json:"debug_projection" xml:"debug_projection"`
	Verbosity                       int     `yaml:"verbosity" json:"verbosity" xml:"verbosity"`
	UseStatisticsInInit             int     `yaml:"use_statistics_in_init" json:"use_statistics_in_init" xml:"use_statistics_in_init"`
}

// DefaultSingleScale returns the single-scale parameters of the femur
// pipeline.
func DefaultSingleScale() Params {
	p := defaults()
	p.NumberOfParticles = 1024
	return p
}

// DefaultMultiScale returns the multi-scale parameters of the femur
// pipeline: 64 particles doubled over 4 levels.
func DefaultMultiScale() Params {
	p := defaults()
	p.StartingParticles = 64
	p.NumberOfLevels = 4
	return p
}

func defaults() Params {
	return Params{
		UseNormals:                      0,
		NormalWeight:                    10,
		CheckpointingInterval:           10,
		KeepCheckpoints:                 1,
		IterationsPerSplit:              4000,
		OptimizationIterations:          4000,
		StartingRegularization:          100,
		EndingRegularization:            0.1,
		RecomputeRegularizationInterval: 2,
		DomainsPerShape:                 1,
		RelativeWeighting:               10,
		InitialRelativeWeighting:        1,
		ProcrustesInterval:              1,
		ProcrustesScaling:               1,
		SaveInitSplits:                  1,
		DebugProjection:                 0,
		Verbosity:                       3,
		UseStatisticsInInit:             0,
	}
}

// Domain returns the effective domain type.
func (p Params) Domain() string {
	if p.DomainType == "" {
		return DomainImage
	}
	return p.DomainType
}

// MultiScale reports whether the parameters use the level schedule.
func (p Params) MultiScale() bool {
	return p.StartingParticles > 0 || p.NumberOfLevels > 0
}

// Validate checks the parameters against the requested mode. Mixing the
// single- and multi-scale forms, or asking for single-scale with level
// keys, is an ErrConfiguration error.
func (p Params) Validate(singleScale bool) error {
	if p.NumberOfParticles > 0 && p.MultiScale() {
		return failure.Configf("number_of_particles cannot be combined with starting_particles/number_of_levels")
	}
	if singleScale {
		if p.MultiScale() {
			return failure.Configf("single-scale optimization does not accept starting_particles/number_of_levels")
		}
		if p.NumberOfParticles < 1 {
			return failure.Configf("single-scale optimization needs number_of_particles >= 1, got %d", p.NumberOfParticles)
		}
	} else {
		if p.NumberOfParticles > 0 {
			return failure.Configf("multi-scale optimization does not accept number_of_particles")
		}
		if p.StartingParticles < 1 {
			return failure.Configf("multi-scale optimization needs starting_particles >= 1, got %d", p.StartingParticles)
		}
		if p.NumberOfLevels < 1 {
			return failure.Configf("multi-scale optimization needs number_of_levels >= 1, got %d", p.NumberOfLevels)
		}
	}

	switch p.Domain() {
	case DomainImage, DomainMesh:
	default:
		return failure.Configf("domain_type must be %q or %q, got %q", DomainImage, DomainMesh, p.DomainType)
	}
	if p.UseShapeStatisticsAfter != 0 {
		if singleScale {
			return failure.Configf("use_shape_statistics_after needs multi-scale optimization")
		}
		schedule := p.Schedule(false)
		if p.UseShapeStatisticsAfter < 0 || p.UseShapeStatisticsAfter > schedule[len(schedule)-1] {
			return failure.Configf("use_shape_statistics_after %d is outside the particle schedule %v",
				p.UseShapeStatisticsAfter, schedule)
		}
	}

	flags := map[string]int{
		"use_normals":            p.UseNormals,
		"keep_checkpoints":       p.KeepCheckpoints,
		"procrustes_scaling":     p.ProcrustesScaling,
		"save_init_splits":       p.SaveInitSplits,
		"debug_projection":       p.DebugProjection,
		"use_statistics_in_init": p.UseStatisticsInInit,
	}
	for name, v := range flags {
		if v != 0 && v != 1 {
			return failure.Configf("%s must be 0 or 1, got %d", name, v)
		}
	}
	if p.IterationsPerSplit < 0 || p.OptimizationIterations < 0 {
		return failure.Configf("iteration counts must not be negative")
	}
	if p.StartingRegularization < p.EndingRegularization {
		return failure.Configf("starting_regularization %g is below ending_regularization %g",
			p.StartingRegularization, p.EndingRegularization)
	}
	if p.DomainsPerShape < 1 {
		return failure.Configf("domains_per_shape must be at least 1, got %d", p.DomainsPerShape)
	}
	return nil
}

// Schedule returns the particle count of each optimizer run.
func (p Params) Schedule(singleScale bool) []int {
	if singleScale {
		return []int{p.NumberOfParticles}
	}
	counts := make([]int, p.NumberOfLevels)
	n := p.StartingParticles
	for i := range counts {
		counts[i] = n
		n *= 2
	}
	return counts
}

// Shrink reduces the iteration budgets for smoke tests.
func (p Params) Shrink() Params {
	p.IterationsPerSplit = min(p.IterationsPerSplit, 10)
	p.OptimizationIterations = min(p.OptimizationIterations, 10)
	if p.NumberOfParticles > 0 {
		p.NumberOfParticles = min(p.NumberOfParticles, 32)
	}
	if p.MultiScale() {
		p.StartingParticles = min(p.StartingParticles, 8)
		p.NumberOfLevels = min(p.NumberOfLevels, 2)
		if p.UseShapeStatisticsAfter > 0 {
			p.UseShapeStatisticsAfter = p.StartingParticles
		}
	}
	return p
}

// String implements fmt.Stringer.
func (p Params) String() string {
	if p.MultiScale() {
		return fmt.Sprintf("multi-scale %d particles x %d levels on %s", p.StartingParticles, p.NumberOfLevels, p.Domain())
	}
	return fmt.Sprintf("single-scale %d particles on %s", p.NumberOfParticles, p.Domain())
}

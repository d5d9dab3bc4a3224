package reconstruction

import (
	"shapegroom/pkg/failure"
)

// SurfaceParams are shared by every reconstruction tool.
type SurfaceParams struct {
	NumberOfParticles       int     `yaml:"number_of_particles" json:"number_of_particles" xml:"number_of_particles"`
	UseTPSTransform         int     `yaml:"use_tps_transform" json:"use_tps_transform" xml:"use_tps_transform"`
	UseBSplineInterpolation int     `yaml:"use_bspline_interpolation" json:"use_bspline_interpolation" xml:"use_bspline_interpolation"`
	Display                 int     `yaml:"display" json:"display" xml:"display"`
	GlyphRadius             float64 `yaml:"glyph_radius" json:"glyph_radius" xml:"glyph_radius"`
}

// MeanParams configures the dense mean surface reconstruction.
type MeanParams struct {
	SurfaceParams `yaml:",inline"`

	DoProcrustes                           int     `yaml:"do_procrustes" json:"do_procrustes" xml:"do_procrustes"`
	DoProcrustesScaling                    int     `yaml:"do_procrustes_scaling" json:"do_procrustes_scaling" xml:"do_procrustes_scaling"`
	LevelsetValue                          float64 `yaml:"levelsetValue" json:"levelsetValue" xml:"levelsetValue"`
	TargetReduction                        float64 `yaml:"targetReduction" json:"targetReduction" xml:"targetReduction"`
	FeatureAngle                           float64 `yaml:"featureAngle" json:"featureAngle" xml:"featureAngle"`
	LSSmootherIterations                   int     `yaml:"lsSmootherIterations" json:"lsSmootherIterations" xml:"lsSmootherIterations"`
	MeshSmootherIterations                 int     `yaml:"meshSmootherIterations" json:"meshSmootherIterations" xml:"meshSmootherIterations"`
	PreserveTopology                       int     `yaml:"preserveTopology" json:"preserveTopology" xml:"preserveTopology"`
	QCFixWinding                           int     `yaml:"qcFixWinding" json:"qcFixWinding" xml:"qcFixWinding"`
	QCDoLaplacianSmoothingBeforeDecimation int     `yaml:"qcDoLaplacianSmoothingBeforeDecimation" json:"qcDoLaplacianSmoothingBeforeDecimation" xml:"qcDoLaplacianSmoothingBeforeDecimation"`
	QCDoLaplacianSmoothingAfterDecimation  int     `yaml:"qcDoLaplacianSmoothingAfterDecimation" json:"qcDoLaplacianSmoothingAfterDecimation" xml:"qcDoLaplacianSmoothingAfterDecimation"`
	QCSmoothingLambda                      float64 `yaml:"qcSmoothingLambda" json:"qcSmoothingLambda" xml:"qcSmoothingLambda"`
	QCSmoothingIterations                  int     `yaml:"qcSmoothingIterations" json:"qcSmoothingIterations" xml:"qcSmoothingIterations"`
	QCDecimationPercentage                 float64 `yaml:"qcDecimationPercentage" json:"qcDecimationPercentage" xml:"qcDecimationPercentage"`
	NormalAngle                            float64 `yaml:"normalAngle" json:"normalAngle" xml:"normalAngle"`
}

// PCAParams configures sampling along the dominant PCA modes.
type PCAParams struct {
	SurfaceParams `yaml:",inline"`

	MaximumVarianceCaptured float64 `yaml:"maximum_variance_captured" json:"maximum_variance_captured" xml:"maximum_variance_captured"`
	MaximumStdDev           float64 `yaml:"maximum_std_dev" json:"maximum_std_dev" xml:"maximum_std_dev"`
	NumberOfSamplesPerMode  int     `yaml:"number_of_samples_per_mode" json:"number_of_samples_per_mode" xml:"number_of_samples_per_mode"`
}

// Params groups the three tool configurations.
type Params struct {
	Mean   MeanParams    `yaml:"mean" json:"mean"`
	Sample SurfaceParams `yaml:"sample" json:"sample"`
	PCA    PCAParams     `yaml:"pca" json:"pca"`
}

// DefaultParams returns the femur pipeline's reconstruction settings for a
// model of n particles.
func DefaultParams(n int) Params {
	surface := SurfaceParams{NumberOfParticles: n, GlyphRadius: 1}
	return Params{
		Mean: MeanParams{
			SurfaceParams:                          surface,
			FeatureAngle:                           30,
			LSSmootherIterations:                   1,
			MeshSmootherIterations:                 1,
			PreserveTopology:                       1,
			QCFixWinding:                           1,
			QCDoLaplacianSmoothingBeforeDecimation: 1,
			QCDoLaplacianSmoothingAfterDecimation:  1,
			QCSmoothingLambda:                      0.5,
			QCSmoothingIterations:                  3,
			QCDecimationPercentage:                 0.9,
			NormalAngle:                            90,
		},
		Sample: surface,
		PCA: PCAParams{
			SurfaceParams:           surface,
			MaximumVarianceCaptured: 0.95,
			MaximumStdDev:           2,
			NumberOfSamplesPerMode:  10,
		},
	}
}

// WithParticles returns p with every tool set to n particles.
func (p Params) WithParticles(n int) Params {
	p.Mean.NumberOfParticles = n
	p.Sample.NumberOfParticles = n
	p.PCA.NumberOfParticles = n
	return p
}

// Validate checks the surface parameters.
func (s SurfaceParams) Validate() error {
	if s.NumberOfParticles < 1 {
		return failure.Configf("number_of_particles must be at least 1, got %d", s.NumberOfParticles)
	}
	for name, v := range map[string]int{
		"use_tps_transform":         s.UseTPSTransform,
		"use_bspline_interpolation": s.UseBSplineInterpolation,
		"display":                   s.Display,
	} {
		if v != 0 && v != 1 {
			return failure.Configf("%s must be 0 or 1, got %d", name, v)
		}
	}
	if s.UseTPSTransform == 1 && s.UseBSplineInterpolation == 1 {
		return failure.Configf("use_tps_transform and use_bspline_interpolation are exclusive")
	}
	return nil
}

// Validate checks the mean reconstruction parameters.
func (m MeanParams) Validate() error {
	if err := m.SurfaceParams.Validate(); err != nil {
		return err
	}
	if m.TargetReduction < 0 || m.TargetReduction >= 1 {
		return failure.Configf("targetReduction must lie in [0, 1), got %g", m.TargetReduction)
	}
	if m.QCDecimationPercentage <= 0 || m.QCDecimationPercentage > 1 {
		return failure.Configf("qcDecimationPercentage must lie in (0, 1], got %g", m.QCDecimationPercentage)
	}
	return nil
}

// Validate checks the PCA sampling parameters.
func (p PCAParams) Validate() error {
	if err := p.SurfaceParams.Validate(); err != nil {
		return err
	}
	if p.MaximumVarianceCaptured <= 0 || p.MaximumVarianceCaptured > 1 {
		return failure.Configf("maximum_variance_captured must lie in (0, 1], got %g", p.MaximumVarianceCaptured)
	}
	if p.MaximumStdDev <= 0 {
		return failure.Configf("maximum_std_dev must be positive, got %g", p.MaximumStdDev)
	}
	if p.NumberOfSamplesPerMode < 1 {
		return failure.Configf("number_of_samples_per_mode must be at least 1, got %d", p.NumberOfSamplesPerMode)
	}
	return nil
}

// Validate checks every tool configuration.
func (p Params) Validate() error {
	if err := p.Mean.Validate(); err != nil {
		return err
	}
	if err := p.Sample.Validate(); err != nil {
		return err
	}
	return p.PCA.Validate()
}

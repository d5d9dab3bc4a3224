// Package config provides configuration loading and management for shapegroom.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"shapegroom/internal/models"
	"shapegroom/pkg/external"
	"shapegroom/pkg/failure"
	"shapegroom/pkg/geometry"
	"shapegroom/pkg/grooming"
	"shapegroom/pkg/optimize"
	"shapegroom/pkg/reconstruction"
	"shapegroom/pkg/registration"
)

// Plane frames accepted by groom.cuttingPlane.frame.
const (
	// FrameOriginal means the points were picked on the named sample's
	// original volume and are transported into every aligned frame.
	FrameOriginal = "original"

	// FrameAligned means the points are already in the common aligned frame.
	FrameAligned = "aligned"
)

// AutoSide as groom.referenceSide picks the side of the cutting-plane sample.
const AutoSide = "auto"

// CuttingPlane is the plane used to clip every aligned segmentation.
type CuttingPlane struct {
	// Sample is the ID of the sample the points were picked on
	Sample string `yaml:"sample,omitempty"`

	// Frame is "original" or "aligned"
	Frame string `yaml:"frame"`

	// Points holds x0 y0 z0 x1 y1 z1 x2 y2 z2
	Points []float64 `yaml:"points,omitempty,flow"`
}

// Plane returns the configured points, or false when none are set.
func (c CuttingPlane) Plane() (geometry.PlanePoints, bool, error) {
	if len(c.Points) == 0 {
		return geometry.PlanePoints{}, false, nil
	}
	p, err := geometry.PlaneFromSlice(c.Points)
	return p, err == nil, err
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input locates the population
	Input struct {
		// Dirs are searched for images, segmentations and meshes
		Dirs []string `yaml:"dirs"`

		// Limit keeps only the first Limit samples (by ID) when positive
		Limit int `yaml:"limit"`

		// Prepped marks the segmentations as already aligned, clipped and
		// cropped; grooming is skipped
		Prepped bool `yaml:"prepped"`
	} `yaml:"input"`

	// Groom parameters
	Groom struct {
		ReferenceSide string  `yaml:"referenceSide"`
		ReflectAxis   int     `yaml:"reflectAxis"`
		IsoSpacing    float64 `yaml:"isoSpacing"`

		// PaddingMargin is the padding added before alignment, in voxels
		PaddingMargin int `yaml:"paddingMargin"`

		// CropPadding grows the population bounding box, in voxels
		CropPadding int `yaml:"cropPadding"`

		ProcessRaw  bool `yaml:"processRaw"`
		Interactive bool `yaml:"interactive"`
		NumWorkers  int  `yaml:"numWorkers"`

		CuttingPlane CuttingPlane        `yaml:"cuttingPlane"`
		ICP          registration.Config `yaml:"icp"`
	} `yaml:"groom"`

	// Optimize parameters
	Optimize struct {
		SingleScale bool            `yaml:"singleScale"`
		Parameters  optimize.Params `yaml:"parameters"`
	} `yaml:"optimize"`

	// Reconstruct parameters, one block per tool
	Reconstruct reconstruction.Params `yaml:"reconstruct"`

	// Tools are the external commands
	Tools struct {
		Optimizer         external.Command `yaml:"optimizer"`
		DistanceTransform external.Command `yaml:"distanceTransform"`
		MeshToVolume      external.Command `yaml:"meshToVolume"`
		ReconstructMean   external.Command `yaml:"reconstructMean"`
		ReconstructSample external.Command `yaml:"reconstructSample"`
		PCAModes          external.Command `yaml:"pcaModes"`
	} `yaml:"tools"`

	// Output parameters
	Output struct {
		Dir string `yaml:"dir"`

		// SaveIntermediaryResults writes slice snapshots after every stage
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// Cache skips stages whose inputs are unchanged
		Cache bool `yaml:"cache"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// base returns the defaults without the particle-count keys, which depend on
// the optimization mode.
func base() *Config {
	cfg := &Config{}

	cfg.Input.Dirs = []string{"data"}

	g := grooming.DefaultParams()
	cfg.Groom.ReferenceSide = string(g.ReferenceSide)
	cfg.Groom.ReflectAxis = g.ReflectAxis
	cfg.Groom.IsoSpacing = g.IsoSpacing
	cfg.Groom.PaddingMargin = g.PaddingMargin
	cfg.Groom.CropPadding = 10
	cfg.Groom.ProcessRaw = g.ProcessRaw
	cfg.Groom.NumWorkers = runtime.NumCPU() // Use all available cores by default
	cfg.Groom.CuttingPlane.Frame = FrameOriginal
	cfg.Groom.ICP = registration.DefaultConfig()

	cfg.Optimize.Parameters = optimize.DefaultMultiScale()
	cfg.Optimize.Parameters.StartingParticles = 0
	cfg.Optimize.Parameters.NumberOfLevels = 0

	cfg.Reconstruct = reconstruction.DefaultParams(0)

	cfg.Output.Dir = "output"
	cfg.Output.Cache = true
	cfg.Output.Verbose = true
	return cfg
}

// resolve fills the mode-dependent defaults left unset by the file.
func (c *Config) resolve() {
	p := &c.Optimize.Parameters
	if p.NumberOfParticles == 0 && !p.MultiScale() {
		if c.Optimize.SingleScale {
			p.NumberOfParticles = optimize.DefaultSingleScale().NumberOfParticles
		} else {
			d := optimize.DefaultMultiScale()
			p.StartingParticles, p.NumberOfLevels = d.StartingParticles, d.NumberOfLevels
		}
	}
	final := c.FinalParticles()
	for _, n := range []*int{
		&c.Reconstruct.Mean.NumberOfParticles,
		&c.Reconstruct.Sample.NumberOfParticles,
		&c.Reconstruct.PCA.NumberOfParticles,
	} {
		if *n == 0 {
			*n = final
		}
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := base()
	cfg.resolve()
	return cfg
}

// FinalParticles returns the particle count of the last optimizer run.
func (c *Config) FinalParticles() int {
	schedule := c.Optimize.Parameters.Schedule(c.Optimize.SingleScale)
	if len(schedule) == 0 {
		return 0
	}
	return schedule[len(schedule)-1]
}

// Validate rejects contradictory or out-of-range settings.
func (c *Config) Validate() error {
	if _, err := c.GroomParams(); err != nil {
		return err
	}
	if c.Groom.CropPadding < 0 {
		return failure.Configf("cropPadding must not be negative, got %d", c.Groom.CropPadding)
	}
	if c.Input.Limit < 0 {
		return failure.Configf("input limit must not be negative, got %d", c.Input.Limit)
	}

	cp := c.Groom.CuttingPlane
	switch cp.Frame {
	case FrameOriginal, FrameAligned:
	default:
		return failure.Configf("cuttingPlane frame must be %q or %q, got %q", FrameOriginal, FrameAligned, cp.Frame)
	}
	plane, ok, err := cp.Plane()
	if err != nil {
		return err
	}
	if ok {
		if _, err := plane.Normal(); err != nil {
			return fmt.Errorf("%w: cuttingPlane: %v", failure.ErrConfiguration, err)
		}
		if cp.Frame == FrameOriginal && cp.Sample == "" {
			return failure.Configf("cuttingPlane points in the original frame need a sample")
		}
	}

	if err := c.Optimize.Parameters.Validate(c.Optimize.SingleScale); err != nil {
		return err
	}
	if c.Input.Prepped && c.MeshDomain() {
		return failure.Configf("input.prepped applies to segmentations; the mesh domain optimizes meshes directly")
	}
	if err := c.Reconstruct.Validate(); err != nil {
		return err
	}
	final := c.FinalParticles()
	for name, n := range map[string]int{
		"mean":   c.Reconstruct.Mean.NumberOfParticles,
		"sample": c.Reconstruct.Sample.NumberOfParticles,
		"pca":    c.Reconstruct.PCA.NumberOfParticles,
	} {
		if n != final {
			return failure.Configf("reconstruct.%s.number_of_particles is %d but optimization ends at %d", name, n, final)
		}
	}
	return nil
}

// MeshDomain reports whether the optimizer works on meshes, in which case
// grooming and distance transforms are skipped.
func (c *Config) MeshDomain() bool {
	return c.Optimize.Parameters.Domain() == optimize.DomainMesh
}

// GroomParams converts the groom section to chain parameters. Logger,
// Rasterizer and the stage hooks are left for the caller.
func (c *Config) GroomParams() (grooming.Params, error) {
	side, err := c.referenceSide()
	if err != nil {
		return grooming.Params{}, err
	}
	p := grooming.DefaultParams()
	p.ReferenceSide = side
	p.ReflectAxis = c.Groom.ReflectAxis
	p.IsoSpacing = c.Groom.IsoSpacing
	p.PaddingMargin = c.Groom.PaddingMargin
	p.ProcessRaw = c.Groom.ProcessRaw
	p.NumWorkers = c.Groom.NumWorkers
	p.ICP = c.Groom.ICP
	if err := p.Validate(); err != nil {
		return grooming.Params{}, err
	}
	return p, nil
}

// SetSingleScale switches the optimization mode. A mode change replaces the
// particle schedule with the new mode's defaults and resynchronizes the
// reconstruction particle counts.
func (c *Config) SetSingleScale(single bool) {
	if c.Optimize.SingleScale == single {
		return
	}
	c.Optimize.SingleScale = single
	p := &c.Optimize.Parameters
	p.NumberOfParticles, p.StartingParticles, p.NumberOfLevels = 0, 0, 0
	if single {
		p.UseShapeStatisticsAfter = 0
	}
	c.Reconstruct = c.Reconstruct.WithParticles(0)
	c.resolve()
}

// referenceSide resolves groom.referenceSide. "auto" follows the side of the
// cutting-plane sample so that sample is never reflected.
func (c *Config) referenceSide() (models.Side, error) {
	if !strings.EqualFold(c.Groom.ReferenceSide, AutoSide) {
		return models.ParseSide(c.Groom.ReferenceSide)
	}
	if side := models.SideFromID(c.Groom.CuttingPlane.Sample); side != models.Unknown {
		return side, nil
	}
	return models.Left, nil
}

// TinyTest shrinks the run to a smoke test: three samples and minimal
// iteration counts.
func (c *Config) TinyTest() {
	c.Input.Limit = 3
	c.Groom.ICP.MaxIterations = min(c.Groom.ICP.MaxIterations, 20)
	c.Optimize.Parameters = c.Optimize.Parameters.Shrink()
	final := c.FinalParticles()
	c.Reconstruct = c.Reconstruct.WithParticles(final)
	c.Reconstruct.PCA.NumberOfSamplesPerMode = min(c.Reconstruct.PCA.NumberOfSamplesPerMode, 3)
}

// Decode parses YAML onto the defaults. Unknown keys and contradictions are
// ErrConfiguration errors; nothing is partially applied.
func Decode(r io.Reader) (*Config, error) {
	cfg := base()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, failure.Configf("error parsing config file: %v", err)
	}
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

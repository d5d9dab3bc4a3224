package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shapegroom/internal/models"
	"shapegroom/pkg/config"
	"shapegroom/pkg/failure"
)

func resetFlags() {
	configPath = "shapegroom.yaml"
	inputDirs = nil
	outputDir = ""
	interactive, singleScale, prepped, tinyTest, verbose = false, false, false, false, false
	initForce = false
}

func TestRootCommand_Help(t *testing.T) {
	defer resetFlags()
	rootCmd.SetArgs([]string{"--help"})
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	output := buf.String()
	for _, want := range []string{"shapegroom", "groom", "optimize", "reconstruct", "run"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected help to contain %q", want)
		}
	}
}

func TestRootCommand_InvalidCommand(t *testing.T) {
	defer resetFlags()
	rootCmd.SetArgs([]string{"invalid-command"})
	var buf bytes.Buffer
	rootCmd.SetErr(&buf)

	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error for invalid command")
	}
}

func TestInitCommand(t *testing.T) {
	defer resetFlags()
	path := filepath.Join(t.TempDir(), "shapegroom.yaml")
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)

	rootCmd.SetArgs([]string{"init", "--config", path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := config.LoadConfig(path); err != nil {
		t.Fatalf("written config does not load: %v", err)
	}

	rootCmd.SetArgs([]string{"init", "--config", path})
	if err := rootCmd.Execute(); !errors.Is(err, failure.ErrConfiguration) {
		t.Errorf("expected configuration error for existing file, got %v", err)
	}
}

func TestLoadConfigFlags(t *testing.T) {
	defer resetFlags()
	configPath = filepath.Join(t.TempDir(), "absent.yaml")
	inputDirs = []string{"a", "b"}
	outputDir = "out"
	singleScale = true
	tinyTest = true

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if len(cfg.Input.Dirs) != 2 || cfg.Output.Dir != "out" {
		t.Errorf("flags not applied: %+v %s", cfg.Input.Dirs, cfg.Output.Dir)
	}
	if !cfg.Optimize.SingleScale {
		t.Error("expected single-scale optimization")
	}
	if cfg.Input.Prepped {
		t.Error("prepped input must be opt-in")
	}
	if cfg.Input.Limit != 3 {
		t.Errorf("expected tiny-test limit 3, got %d", cfg.Input.Limit)
	}
	if got := cfg.Reconstruct.Mean.NumberOfParticles; got != cfg.FinalParticles() {
		t.Errorf("reconstruct particles %d, final %d", got, cfg.FinalParticles())
	}
}

func TestPreppedFlag(t *testing.T) {
	defer resetFlags()
	configPath = filepath.Join(t.TempDir(), "absent.yaml")
	prepped = true

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if !cfg.Input.Prepped {
		t.Error("expected --prepped to set input.prepped")
	}
}

func TestMeshDomainRejectsImageStages(t *testing.T) {
	defer resetFlags()
	dir := t.TempDir()
	path := filepath.Join(dir, "shapegroom.yaml")
	yaml := "output:\n  dir: " + filepath.Join(dir, "out") + "\noptimize:\n  parameters:\n    domain_type: mesh\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	for _, stage := range []string{"distance", "reconstruct"} {
		rootCmd.SetArgs([]string{stage, "--config", path})
		if err := rootCmd.Execute(); !errors.Is(err, failure.ErrConfiguration) {
			t.Errorf("%s: expected configuration error, got %v", stage, err)
		}
	}
}

func TestPick(t *testing.T) {
	samples := []*models.Sample{
		models.New("N01_L", models.Unknown),
		models.New("N02_L", models.Unknown),
		models.New("M01_R", models.Unknown),
	}
	tests := []struct {
		answer string
		want   string
	}{
		{"1", "N01_L"},
		{"3", "M01_R"},
		{"4", ""},
		{"M", "M01_R"},
		{"N0", ""},
		{"N02_L", "N02_L"},
		{"", ""},
	}
	for _, tt := range tests {
		got := pick(samples, tt.answer)
		if (got == nil) != (tt.want == "") || (got != nil && got.ID != tt.want) {
			t.Errorf("pick(%q) = %v, want %q", tt.answer, got, tt.want)
		}
	}
}

func TestParsePlane(t *testing.T) {
	p, err := parsePlane("0 0 5, 1 0 5, 0 1 5")
	if err != nil {
		t.Fatalf("parsePlane failed: %v", err)
	}
	if p[1].X != 1 || p[2].Z != 5 {
		t.Errorf("unexpected plane %v", p)
	}
	for _, bad := range []string{"1 2 3", "a b c d e f g h i", "0 0 0 1 1 1 2 2 2"} {
		if _, err := parsePlane(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestPromptSelector(t *testing.T) {
	samples := []*models.Sample{models.New("N01_L", models.Unknown), models.New("N02_R", models.Unknown)}
	input := "x\nN02\n1 2 3\n0 0 5 1 0 5 0 1 5\n"
	var out bytes.Buffer
	p := &PromptSelector{In: bufio.NewReader(strings.NewReader(input)), Out: &out}

	sel, err := p.SelectPlane(context.Background(), samples)
	if err != nil {
		t.Fatalf("SelectPlane failed: %v", err)
	}
	if sel.Sample != "N02_R" || sel.Frame != config.FrameOriginal {
		t.Errorf("unexpected selection %+v", sel)
	}
	if sel.Plane[0].Z != 5 {
		t.Errorf("unexpected plane %v", sel.Plane)
	}

	p = &PromptSelector{In: bufio.NewReader(strings.NewReader("1\n")), Out: &out}
	if _, err := p.SelectPlane(context.Background(), samples); !errors.Is(err, failure.ErrMissingArtifact) {
		t.Errorf("expected missing artifact at end of input, got %v", err)
	}
}

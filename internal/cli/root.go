// Package cli implements the shapegroom command line.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"shapegroom/internal/logger"
	"shapegroom/pkg/config"
	"shapegroom/pkg/workflow"
)

var (
	// Global flags
	configPath  string
	inputDirs   []string
	outputDir   string
	interactive bool
	singleScale bool
	prepped     bool
	tinyTest    bool
	verbose     bool

	sectionTitleColor = color.New(color.FgBlue, color.Bold)
)

// rootCmd is the root command for shapegroom.
var rootCmd = &cobra.Command{
	Use:     "shapegroom",
	Version: "dev",
	Short:   "Statistical shape model grooming pipeline",
	Long: `shapegroom grooms a population of segmentations or meshes into a common frame,
clips them with a cutting plane, computes distance transforms, optimizes
particle correspondences and reconstructs dense mean and mode surfaces.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// SetVersion sets the version printed by --version.
func SetVersion(v string) {
	if v == "" {
		return
	}
	rootCmd.Version = v
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "shapegroom.yaml", "Configuration file (defaults are used when it does not exist)")
	pf.StringSliceVarP(&inputDirs, "input", "i", nil, "Input directories, overriding input.dirs")
	pf.StringVarP(&outputDir, "output", "o", "", "Output directory, overriding output.dir")
	pf.BoolVar(&interactive, "interactive", false, "Pick the cutting plane interactively and pause before every step")
	pf.BoolVar(&singleScale, "single-scale", false, "Optimize correspondences in a single run instead of multi-scale")
	pf.BoolVar(&prepped, "prepped", false, "Treat the input segmentations as already groomed and skip grooming")
	pf.BoolVar(&tinyTest, "tiny-test", false, "Run a fast smoke test on three samples")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddGroup(&cobra.Group{ID: "pipeline", Title: "Pipeline Stages:"})

	for _, cmd := range []*cobra.Command{groomCmd, distanceCmd, optimizeCmd, reconstructCmd, runCmd} {
		cmd.GroupID = "pipeline"
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(initCmd)
}

// Execute executes the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig reads the configuration file and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if len(inputDirs) > 0 {
		cfg.Input.Dirs = inputDirs
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
	}
	if interactive {
		cfg.Groom.Interactive = true
	}
	if singleScale {
		cfg.SetSingleScale(true)
	}
	if prepped {
		cfg.Input.Prepped = true
	}
	if tinyTest {
		cfg.TinyTest()
	}
	if verbose {
		cfg.Output.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newWorkflow builds a workflow wired to the terminal.
func newWorkflow(cmd *cobra.Command) (*workflow.Workflow, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	out := cmd.OutOrStdout()
	in := bufio.NewReader(cmd.InOrStdin())

	opts := workflow.Options{
		Logger: logger.NewConsole(cfg.Output.Verbose),
		Out:    out,
		Banner: banner(out, in, cfg.Groom.Interactive),
	}
	if cfg.Groom.Interactive {
		opts.Selector = &PromptSelector{In: in, Out: out}
	}
	wf, err := workflow.New(cfg, opts)
	if err != nil {
		return nil, nil, err
	}
	return wf, cfg, nil
}

// banner prints a step header and, in interactive mode, waits for Enter.
func banner(out io.Writer, in *bufio.Reader, pause bool) workflow.Banner {
	return func(step int, title string) {
		fmt.Fprintln(out)
		_, _ = sectionTitleColor.Fprintf(out, "Step %d: %s\n", step, title)
		if pause {
			waitForEnter(out, in)
		}
	}
}

package cli

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"shapegroom/pkg/config"
	"shapegroom/pkg/failure"
	"shapegroom/pkg/optimize"
	"shapegroom/pkg/workflow"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil && !initForce {
			return failure.Configf("%s already exists (use --force to overwrite)", configPath)
		}
		if err := config.CreateDefaultConfigFile(configPath); err != nil {
			return err
		}
		PrintSuccess(cmd.OutOrStdout(), "Wrote "+configPath)
		return nil
	},
}

var groomCmd = &cobra.Command{
	Use:   "groom",
	Short: "Align, clip and crop the population",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, cfg, err := newWorkflow(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printHeader(out)
		start := time.Now()

		samples, err := wf.Discover()
		if err != nil {
			return err
		}
		res, err := wf.Groom(cmd.Context(), samples)
		if err != nil {
			return err
		}
		verb := "Groomed"
		if cfg.Input.Prepped {
			verb = "Recorded prepped"
		}
		PrintSuccess(out, fmt.Sprintf("%s %d samples in %s", verb, len(res.Samples), time.Since(start).Round(time.Millisecond)))
		PrintLabelValue(out, "Reference", res.Reference)
		PrintLabelValue(out, "Result", wf.GroomResultPath())
		return nil
	},
}

var distanceCmd = &cobra.Command{
	Use:   "distance",
	Short: "Compute distance transforms of the groomed segmentations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, cfg, err := newWorkflow(cmd)
		if err != nil {
			return err
		}
		if cfg.MeshDomain() {
			return failure.Configf("distance transforms are skipped for the mesh domain")
		}
		gr, err := workflow.LoadGroomResult(wf.GroomResultPath())
		if err != nil {
			return err
		}
		dts, err := wf.DistanceTransforms(cmd.Context(), gr)
		if err != nil {
			return err
		}
		PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Computed %d distance transforms", len(dts)))
		return nil
	},
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Optimize particle correspondences on the distance transforms or meshes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, cfg, err := newWorkflow(cmd)
		if err != nil {
			return err
		}
		out, err := runOptimize(cmd, wf, cfg)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		PrintSuccess(w, fmt.Sprintf("Optimized %d samples", len(out.Files)))
		PrintLabelValue(w, "Particles", strconv.Itoa(out.Particles))
		PrintLabelValue(w, "Directory", out.Dir)
		return nil
	},
}

var reconstructCmd = &cobra.Command{
	Use:   "reconstruct",
	Short: "Reconstruct dense mean, sample and PCA mode surfaces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, cfg, err := newWorkflow(cmd)
		if err != nil {
			return err
		}
		if cfg.MeshDomain() {
			return failure.Configf("dense reconstruction needs distance transforms and is not available for the mesh domain")
		}
		gr, err := workflow.LoadGroomResult(wf.GroomResultPath())
		if err != nil {
			return err
		}
		dts, err := wf.DistancePaths(gr)
		if err != nil {
			return err
		}
		out, err := workflow.LoadOptimizeOutput(wf.OptimizeResultPath())
		if err != nil {
			return err
		}
		res, err := wf.Reconstruct(cmd.Context(), out, dts)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		PrintSuccess(w, "Reconstruction complete")
		PrintLabelValue(w, "Mean surface", res.Mean.Dense)
		PrintLabelValue(w, "Modes", strconv.Itoa(len(res.Modes)))
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the whole pipeline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, cfg, err := newWorkflow(cmd)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		printHeader(w)
		start := time.Now()

		sum, err := wf.Run(cmd.Context())
		if err != nil {
			return err
		}
		PrintSuccess(w, fmt.Sprintf("Pipeline completed in %s", time.Since(start).Round(time.Millisecond)))
		PrintLabelValue(w, "Samples", strconv.Itoa(len(sum.Optimize.Files)))
		PrintLabelValue(w, "Particles", strconv.Itoa(sum.Optimize.Particles))
		if sum.Reconstruction == nil {
			PrintLabelValue(w, "Particles directory", sum.Optimize.Dir)
			PrintLabelValue(w, "Output", cfg.Output.Dir)
			return nil
		}
		PrintLabelValue(w, "Mean surface", sum.Reconstruction.Mean.Dense)
		modes := make([]int, 0, len(sum.Reconstruction.Modes))
		for m := range sum.Reconstruction.Modes {
			modes = append(modes, m)
		}
		sort.Ints(modes)
		PrintLabelValue(w, "Modes", fmt.Sprint(modes))
		PrintLabelValue(w, "Output", cfg.Output.Dir)
		return nil
	},
}

// runOptimize picks the optimizer inputs: the input meshes for the mesh
// domain, the distance transforms of the last groom run otherwise.
func runOptimize(cmd *cobra.Command, wf *workflow.Workflow, cfg *config.Config) (*optimize.Output, error) {
	if cfg.MeshDomain() {
		samples, err := wf.Discover()
		if err != nil {
			return nil, err
		}
		return wf.OptimizeMeshes(cmd.Context(), samples)
	}
	gr, err := workflow.LoadGroomResult(wf.GroomResultPath())
	if err != nil {
		return nil, err
	}
	dts, err := wf.DistancePaths(gr)
	if err != nil {
		return nil, err
	}
	return wf.Optimize(cmd.Context(), nil, dts)
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration file")
}

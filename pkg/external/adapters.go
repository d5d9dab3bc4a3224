package external

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"shapegroom/pkg/failure"
	"shapegroom/pkg/stl"
	"shapegroom/pkg/volume"
)

// DistanceTransformer turns a binary segmentation into a signed distance
// volume on the same grid.
type DistanceTransformer interface {
	Transform(ctx context.Context, id string, seg *volume.Volume) (*volume.Volume, error)
}

// CommandDistanceTransformer runs a distance-transform tool. The command
// receives {id}, {input} and {output}.
type CommandDistanceTransformer struct {
	Runner  Runner
	Command Command
	WorkDir string
}

// Transform writes seg, runs the tool and reads its output.
func (d *CommandDistanceTransformer) Transform(ctx context.Context, id string, seg *volume.Volume) (*volume.Volume, error) {
	if err := os.MkdirAll(d.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	input := filepath.Join(d.WorkDir, id+".seg.nrrd")
	output := d.OutputPath(id)
	if err := volume.WriteFile(input, seg, volume.MaskWriteOptions()); err != nil {
		return nil, err
	}

	if _, err := Invoke(ctx, d.Runner, d.Command, map[string]string{
		"id": id, "input": input, "output": output,
	}); err != nil {
		return nil, err
	}
	return readOutput(output, id)
}

// OutputPath is where the distance transform of id is written.
func (d *CommandDistanceTransformer) OutputPath(id string) string {
	return filepath.Join(d.WorkDir, id+".dt.nrrd")
}

// CommandRasterizer runs a mesh-to-volume tool. The command receives {id},
// {input} (the STL), {reference} (an NRRD giving the output grid, empty when
// there is none), {spacing} and {output}.
type CommandRasterizer struct {
	Runner  Runner
	Command Command
	WorkDir string

	// Spacing is passed to the tool when no reference grid is given.
	Spacing float64
}

// Rasterize writes the mesh, runs the tool and reads the binary volume.
func (r *CommandRasterizer) Rasterize(ctx context.Context, id string, mesh *stl.Mesh, reference *volume.Volume) (*volume.Volume, error) {
	if err := os.MkdirAll(r.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	input := filepath.Join(r.WorkDir, id+".stl")
	output := filepath.Join(r.WorkDir, id+".raster.nrrd")
	if err := mesh.Save(input); err != nil {
		return nil, err
	}

	ref := ""
	if reference != nil {
		ref = filepath.Join(r.WorkDir, id+".reference.nrrd")
		if err := volume.WriteFile(ref, reference, volume.DefaultWriteOptions()); err != nil {
			return nil, err
		}
	}

	spacing := r.Spacing
	if spacing <= 0 {
		spacing = 1
	}
	if _, err := Invoke(ctx, r.Runner, r.Command, map[string]string{
		"id": id, "input": input, "reference": ref, "output": output,
		"spacing": fmt.Sprintf("%g", spacing),
	}); err != nil {
		return nil, err
	}
	return readOutput(output, id)
}

// readOutput loads a tool output. A missing file means the tool did not
// complete.
func readOutput(path, id string) (*volume.Volume, error) {
	v, err := volume.ReadFile(path)
	if err != nil {
		return nil, failure.Externalf("no usable output for %s at %s: %v", id, path, err)
	}
	return v, nil
}

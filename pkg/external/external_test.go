package external

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shapegroom/pkg/failure"
	"shapegroom/pkg/geometry"
	"shapegroom/pkg/stl"
	"shapegroom/pkg/volume"
)

// funcRunner runs a Go function in place of a tool.
type funcRunner struct {
	calls [][]string
	fn    func(name string, args []string) error
}

func (f *funcRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.fn == nil {
		return nil, nil
	}
	return nil, f.fn(name, args)
}

func TestExpand(t *testing.T) {
	cmd := Command{Executable: "tool", Args: []string{"--in={input}", "{output}", "literal", "{id}_{id}"}}
	args, err := cmd.Expand(map[string]string{"input": "a.nrrd", "output": "b.nrrd", "id": "N01"})
	require.NoError(t, err)
	assert.Equal(t, []string{"--in=a.nrrd", "b.nrrd", "literal", "N01_N01"}, args)

	_, err = cmd.Expand(map[string]string{"input": "a"})
	assert.ErrorIs(t, err, failure.ErrConfiguration)
	assert.ErrorContains(t, err, "output")
}

func TestInvokeRequiresExecutable(t *testing.T) {
	_, err := Invoke(context.Background(), &funcRunner{}, Command{}, nil)
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestCommandRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := NewCommandRunner(zerolog.Nop())

	out, err := r.Run(context.Background(), "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))

	_, err = r.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	require.ErrorIs(t, err, failure.ErrExternalService)
	assert.ErrorContains(t, err, "boom")
}

func TestDistanceTransformer(t *testing.T) {
	seg := volume.New([3]int{4, 4, 4}, [3]float64{1, 1, 1}, geometry.Point3D{X: 2})
	seg.Set(1, 1, 1, 1)

	dir := t.TempDir()
	runner := &funcRunner{fn: func(_ string, args []string) error {
		in, err := volume.ReadFile(args[0])
		if err != nil {
			return err
		}
		for i := range in.Data {
			in.Data[i] = 1 - 2*in.Data[i]
		}
		return volume.WriteFile(args[1], in, volume.DefaultWriteOptions())
	}}
	dt := &CommandDistanceTransformer{
		Runner:  runner,
		Command: Command{Executable: "dt", Args: []string{"{input}", "{output}"}},
		WorkDir: dir,
	}

	out, err := dt.Transform(context.Background(), "N01_L", seg)
	require.NoError(t, err)
	assert.True(t, out.SameGrid(seg, 1e-9))
	assert.Equal(t, -1.0, out.At(1, 1, 1))
	assert.Equal(t, 1.0, out.At(0, 0, 0))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, filepath.Join(dir, "N01_L.seg.nrrd"), runner.calls[0][1])
}

func TestDistanceTransformerMissingOutput(t *testing.T) {
	dt := &CommandDistanceTransformer{
		Runner:  &funcRunner{},
		Command: Command{Executable: "dt", Args: []string{"{input}", "{output}"}},
		WorkDir: t.TempDir(),
	}
	_, err := dt.Transform(context.Background(), "N02_R", volume.New([3]int{2, 2, 2}, [3]float64{1, 1, 1}, geometry.Point3D{}))
	require.ErrorIs(t, err, failure.ErrExternalService)
	assert.ErrorContains(t, err, "N02_R")
}

func TestRasterizer(t *testing.T) {
	src := volume.New([3]int{5, 5, 5}, [3]float64{1, 1, 1}, geometry.Point3D{})
	src.Set(2, 2, 2, 1)
	mesh := stl.SurfaceFromVolume(src)

	var gotRef string
	runner := &funcRunner{fn: func(_ string, args []string) error {
		if _, err := stl.Load(args[0]); err != nil {
			return err
		}
		gotRef = args[1]
		return volume.WriteFile(args[2], src, volume.MaskWriteOptions())
	}}
	r := &CommandRasterizer{
		Runner:  runner,
		Command: Command{Executable: "m2v", Args: []string{"{input}", "{reference}", "{output}", "{spacing}"}},
		WorkDir: t.TempDir(),
	}

	out, err := r.Rasterize(context.Background(), "M01_L", mesh, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out.ForegroundCount())
	assert.Empty(t, gotRef)
	assert.Equal(t, "1", runner.calls[0][4])

	_, err = r.Rasterize(context.Background(), "M01_L", mesh, src)
	require.NoError(t, err)
	assert.FileExists(t, gotRef)
}

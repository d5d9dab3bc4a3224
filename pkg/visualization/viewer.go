// Package visualization writes slice images of volumes so intermediate
// grooming results can be inspected without a 3-D viewer.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"shapegroom/pkg/geometry"
	"shapegroom/pkg/volume"
)

// planeColor marks voxels the cutting plane passes through.
var planeColor = color.RGBA{R: 255, G: 40, B: 40, A: 255}

// Viewer renders axis-aligned slices of a volume.
type Viewer struct {
	vol *volume.Volume

	// lo and hi are the intensity window mapped to black and white
	lo, hi float64

	plane *geometry.PlanePoints
}

// NewViewer creates a viewer for v, windowed to its full intensity range.
func NewViewer(v *volume.Volume) *Viewer {
	lo, hi := v.MinMax()
	return &Viewer{vol: v, lo: lo, hi: hi}
}

// SetPlane overlays a cutting plane on every extracted slice.
func (v *Viewer) SetPlane(p geometry.PlanePoints) error {
	if _, err := p.Normal(); err != nil {
		return err
	}
	v.plane = &p
	return nil
}

func axisIndex(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return 0, nil
	case "y", "Y":
		return 1, nil
	case "z", "Z":
		return 2, nil
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// ExtractSlice extracts the slice at position along axis. An x slice spans
// (z, y), a y slice (x, z) and a z slice (x, y).
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	a, err := axisIndex(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= v.vol.Dims[a] {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", position, v.vol.Dims[a], axis)
	}

	d := v.vol.Dims
	var w, h int
	var voxel func(x, y int) (int, int, int)
	switch a {
	case 0:
		w, h = d[2], d[1]
		voxel = func(x, y int) (int, int, int) { return position, y, x }
	case 1:
		w, h = d[0], d[2]
		voxel = func(x, y int) (int, int, int) { return x, position, y }
	default:
		w, h = d[0], d[1]
		voxel = func(x, y int) (int, int, int) { return x, y, position }
	}

	var n geometry.Point3D
	if v.plane != nil {
		n, _ = v.plane.UnitNormal()
	}
	halfVoxel := 0.5 * math.Max(v.vol.Spacing[0], math.Max(v.vol.Spacing[1], v.vol.Spacing[2]))

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i, j, k := voxel(x, y)
			if v.plane != nil {
				dist := v.vol.Physical(i, j, k).Sub(v.plane[0]).Dot(n)
				if math.Abs(dist) <= halfVoxel {
					img.SetRGBA(x, y, planeColor)
					continue
				}
			}
			g := v.gray(v.vol.At(i, j, k))
			img.SetRGBA(x, y, color.RGBA{R: g, G: g, B: g, A: 255})
		}
	}
	return img, nil
}

func (v *Viewer) gray(val float64) uint8 {
	if v.hi <= v.lo {
		if val > v.lo {
			return 255
		}
		return 0
	}
	t := (val - v.lo) / (v.hi - v.lo)
	return uint8(math.Max(0, math.Min(255, math.Round(t*255))))
}

// ExtractRegion extracts a subvolume starting at voxel start.
func (v *Viewer) ExtractRegion(start, size [3]int) (*volume.Volume, error) {
	for a := 0; a < 3; a++ {
		if start[a] < 0 {
			return nil, fmt.Errorf("start coordinates must be non-negative")
		}
		if size[a] <= 0 {
			return nil, fmt.Errorf("size dimensions must be positive")
		}
		if start[a]+size[a] > v.vol.Dims[a] {
			return nil, fmt.Errorf("region extends beyond volume boundaries")
		}
	}
	return volume.Crop(v.vol, start, size, 0), nil
}

// SaveSlice saves an extracted slice as a PNG image.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveMidSlices writes the middle slice along x, y and z as
// <prefix>_<axis>.png in outputDir and returns the paths.
func (v *Viewer) SaveMidSlices(outputDir, prefix string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	var paths []string
	for a, axis := range []string{"x", "y", "z"} {
		img, err := v.ExtractSlice(axis, v.vol.Dims[a]/2)
		if err != nil {
			return nil, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.png", prefix, axis))
		if err := v.SaveSlice(img, filename); err != nil {
			return nil, err
		}
		paths = append(paths, filename)
	}
	return paths, nil
}

// SaveSliceSequence extracts and saves every slice along the specified axis.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	a, err := axisIndex(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for pos := 0; pos < v.vol.Dims[a]; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot writes the mid slices of one sample's volume after a stage into
// dir/<stage>/<id>_{x,y,z}.png, overlaying plane when it is non-nil.
func Snapshot(dir, stage, id string, v *volume.Volume, plane *geometry.PlanePoints) ([]string, error) {
	viewer := NewViewer(v)
	if plane != nil {
		if err := viewer.SetPlane(*plane); err != nil {
			return nil, err
		}
	}
	return viewer.SaveMidSlices(filepath.Join(dir, stage), id)
}

package visualization

import (
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"shapegroom/pkg/geometry"
	"shapegroom/pkg/volume"
)

// createGradient returns a volume whose value along z grows from 0 to 1.
func createGradient(nx, ny, nz int) *volume.Volume {
	v := volume.New([3]int{nx, ny, nz}, [3]float64{1, 1, 1}, geometry.Point3D{})
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				v.Set(i, j, k, float64(k)/float64(nz-1))
			}
		}
	}
	return v
}

// TestExtractSlice verifies slice orientation and intensity windowing.
func TestExtractSlice(t *testing.T) {
	viewer := NewViewer(createGradient(6, 4, 5))

	tests := []struct {
		axis          string
		position      int
		width, height int
	}{
		{"x", 2, 5, 4},
		{"y", 1, 6, 5},
		{"z", 4, 6, 4},
	}
	for _, tt := range tests {
		t.Run(tt.axis, func(t *testing.T) {
			img, err := viewer.ExtractSlice(tt.axis, tt.position)
			if err != nil {
				t.Fatalf("Failed to extract %s slice: %v", tt.axis, err)
			}
			b := img.Bounds()
			if b.Dx() != tt.width || b.Dy() != tt.height {
				t.Errorf("Expected %dx%d, got %dx%d", tt.width, tt.height, b.Dx(), b.Dy())
			}
		})
	}

	img, _ := viewer.ExtractSlice("z", 4)
	if got := color.RGBAModel.Convert(img.At(0, 0)).(color.RGBA); got.R != 255 {
		t.Errorf("Expected the top z slice to be white, got %v", got)
	}
	img, _ = viewer.ExtractSlice("x", 0)
	if got := color.RGBAModel.Convert(img.At(0, 0)).(color.RGBA); got.R != 0 {
		t.Errorf("Expected z=0 column of an x slice to be black, got %v", got)
	}

	if _, err := viewer.ExtractSlice("w", 0); err == nil {
		t.Error("Expected error for invalid axis")
	}
	if _, err := viewer.ExtractSlice("z", 5); err == nil {
		t.Error("Expected error for out-of-range position")
	}
}

// TestPlaneOverlay checks that the plane x = 2 is drawn on a z slice.
func TestPlaneOverlay(t *testing.T) {
	viewer := NewViewer(createGradient(6, 4, 5))
	plane := geometry.PlanePoints{{X: 2}, {X: 2, Y: 1}, {X: 2, Z: 1}}
	if err := viewer.SetPlane(plane); err != nil {
		t.Fatalf("SetPlane failed: %v", err)
	}

	img, err := viewer.ExtractSlice("z", 2)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	if got := img.At(2, 1); got != planeColor {
		t.Errorf("Expected plane color at x=2, got %v", got)
	}
	if got := img.At(4, 1); got == planeColor {
		t.Error("Plane drawn away from x=2")
	}

	degenerate := geometry.PlanePoints{{}, {}, {}}
	if err := viewer.SetPlane(degenerate); err == nil {
		t.Error("Expected error for degenerate plane")
	}
}

func TestExtractRegion(t *testing.T) {
	viewer := NewViewer(createGradient(6, 4, 5))

	region, err := viewer.ExtractRegion([3]int{1, 1, 2}, [3]int{2, 2, 3})
	if err != nil {
		t.Fatalf("Failed to extract region: %v", err)
	}
	if region.Dims != [3]int{2, 2, 3} {
		t.Errorf("Unexpected region dims %v", region.Dims)
	}
	if got := region.At(0, 0, 0); got != 0.5 {
		t.Errorf("Expected 0.5 at region origin, got %f", got)
	}

	if _, err := viewer.ExtractRegion([3]int{5, 0, 0}, [3]int{2, 1, 1}); err == nil {
		t.Error("Expected error for region beyond volume boundaries")
	}
	if _, err := viewer.ExtractRegion([3]int{0, 0, 0}, [3]int{0, 1, 1}); err == nil {
		t.Error("Expected error for empty region")
	}
}

func TestSnapshot(t *testing.T) {
	dir := t.TempDir()
	plane := geometry.PlanePoints{{Z: 2}, {X: 1, Z: 2}, {Y: 1, Z: 2}}

	paths, err := Snapshot(dir, "clip", "N01_L", createGradient(6, 4, 5), &plane)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("Expected 3 images, got %d", len(paths))
	}
	want := filepath.Join(dir, "clip", "N01_L_y.png")
	if paths[1] != want {
		t.Errorf("Expected %s, got %s", want, paths[1])
	}

	f, err := os.Open(paths[2])
	if err != nil {
		t.Fatalf("Failed to open snapshot: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Snapshot is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 6 || b.Dy() != 4 {
		t.Errorf("Unexpected z snapshot size %v", b)
	}
}

func TestSaveSliceSequence(t *testing.T) {
	dir := t.TempDir()
	viewer := NewViewer(createGradient(3, 3, 4))
	if err := viewer.SaveSliceSequence("z", dir); err != nil {
		t.Fatalf("SaveSliceSequence failed: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "slice_z_*.png"))
	if len(matches) != 4 {
		t.Errorf("Expected 4 slices, got %d", len(matches))
	}
	if err := viewer.SaveSliceSequence("q", dir); err == nil {
		t.Error("Expected error for invalid axis")
	}
}

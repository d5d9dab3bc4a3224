package interpolation

import (
	"testing"
)

// createTestGrid creates a grid whose value is x + 10y + 100z
func createTestGrid(nx, ny, nz int) Grid {
	data := make([]float64, nx*ny*nz)
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				data[(z*ny+y)*nx+x] = float64(x + 10*y + 100*z)
			}
		}
	}
	return Grid{Data: data, Dims: [3]int{nx, ny, nz}}
}

// TestTrilinearReproducesLinearField verifies that a linear field is
// interpolated exactly between voxel centers
func TestTrilinearReproducesLinearField(t *testing.T) {
	g := createTestGrid(4, 4, 4)

	positions := [][3]float64{{0, 0, 0}, {1.5, 0.25, 2.75}, {2.9, 2.1, 0.5}}
	for _, p := range positions {
		got := g.Sample(Trilinear, p[0], p[1], p[2])
		want := p[0] + 10*p[1] + 100*p[2]
		if diff := got - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("Trilinear at %v: expected %f, got %f", p, want, got)
		}
	}
}

// TestNearest verifies rounding to the closest voxel
func TestNearest(t *testing.T) {
	g := createTestGrid(4, 4, 4)
	if got := g.Sample(Nearest, 1.4, 2.6, 0.5); got != 1+30+100 {
		t.Errorf("Expected 131, got %f", got)
	}
}

// TestOutsideIsBackground verifies out-of-grid positions read the background
func TestOutsideIsBackground(t *testing.T) {
	g := createTestGrid(3, 3, 3)
	g.Background = -5

	for _, m := range []Method{Nearest, Trilinear} {
		if got := g.Sample(m, -3, 1, 1); got != -5 {
			t.Errorf("%s outside grid: expected background, got %f", m, got)
		}
		if got := g.Sample(m, 1, 1, 10); got != -5 {
			t.Errorf("%s outside grid: expected background, got %f", m, got)
		}
	}
}

// TestBinaryStaysBinary verifies that label masks are thresholded
func TestBinaryStaysBinary(t *testing.T) {
	data := make([]float64, 8)
	data[0] = 1 // only voxel (0,0,0) is foreground
	g := Grid{Data: data, Dims: [3]int{2, 2, 2}}

	if got := g.Sample(Binary, 0.2, 0.2, 0.2); got != 1 {
		t.Errorf("Expected foreground near the labelled voxel, got %f", got)
	}
	if got := g.Sample(Binary, 0.8, 0.8, 0.8); got != 0 {
		t.Errorf("Expected background far from the labelled voxel, got %f", got)
	}
	for _, x := range []float64{0, 0.3, 0.5, 0.7, 1} {
		v := g.Sample(Binary, x, 0, 0)
		if v != 0 && v != 1 {
			t.Errorf("Binary sample at %f not binary: %f", x, v)
		}
	}
}

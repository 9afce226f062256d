package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"deface/internal/nifti"
)

// Ones fills every voxel with 1.
func Ones(int) float64 { return 1 }

// Index fills each voxel with its linear index plus one.
func Index(i int) float64 { return float64(i + 1) }

// TestAffine is a typical 2mm RAS-like voxel-to-world transform.
func TestAffine() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		-2, 0, 0, 90,
		0, 2, 0, -126,
		0, 0, 2, -72,
		0, 0, 0, 1,
	})
}

// NewVolume builds a float32 volume with TestAffine and values from fill.
func NewVolume(t testing.TB, shape []int, fill func(int) float64) *nifti.Volume {
	t.Helper()

	vol, err := nifti.New(shape, nifti.Float32, TestAffine(), nil)
	if err != nil {
		t.Fatalf("nifti.New: %v", err)
	}
	for i := range vol.Data {
		vol.Data[i] = fill(i)
	}
	return vol
}

// WriteVolume creates a synthetic NIfTI file at path and returns the volume
// that was written.
func WriteVolume(t testing.TB, path string, shape []int, fill func(int) float64) *nifti.Volume {
	t.Helper()

	vol := NewVolume(t, shape, fill)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := nifti.Save(vol, path); err != nil {
		t.Fatalf("save %s: %v", path, err)
	}
	return vol
}

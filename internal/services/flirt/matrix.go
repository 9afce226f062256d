package flirt

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

const singularTolerance = 1e-12

// ReadMatrix parses the 4x4 ASCII affine FLIRT writes with -omat.
func ReadMatrix(path string) (*mat.Dense, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseMatrix(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// ParseMatrix parses sixteen whitespace-separated values in row-major order.
// Singular transforms are rejected.
func ParseMatrix(text string) (*mat.Dense, error) {
	fields := strings.Fields(text)
	if len(fields) != 16 {
		return nil, fmt.Errorf("expected 16 values, got %d", len(fields))
	}
	values := make([]float64, 16)
	for i, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i+1, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("value %d is not finite", i+1)
		}
		values[i] = v
	}
	m := mat.NewDense(4, 4, values)
	if math.Abs(mat.Det(m)) < singularTolerance {
		return nil, fmt.Errorf("transform is singular")
	}
	return m, nil
}

// FormatMatrix renders m in FLIRT's matrix file layout.
func FormatMatrix(m mat.Matrix) string {
	var b strings.Builder
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			b.WriteString(strconv.FormatFloat(m.At(i, j), 'f', 6, 64))
			b.WriteString("  ")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// WriteMatrix stores m at path in FLIRT's matrix file layout.
func WriteMatrix(path string, m mat.Matrix) error {
	return os.WriteFile(path, []byte(FormatMatrix(m)), 0o644)
}

package nifti

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Volume is a loaded image: its header, its shape and the scaled voxel values
// in NIfTI order (first axis fastest).
type Volume struct {
	Header *Header
	Shape  []int
	Data   []float64
}

// New builds a volume with a fresh header. A nil affine means identity.
func New(shape []int, datatype Datatype, affine *mat.Dense, data []float64) (*Volume, error) {
	hdr, err := NewHeader(shape, datatype, affine)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = make([]float64, product(shape))
	}
	if len(data) != product(shape) {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}
	return &Volume{Header: hdr, Shape: append([]int(nil), shape...), Data: data}, nil
}

// Affine returns the voxel-to-world transform recorded in the header.
func (v *Volume) Affine() *mat.Dense { return v.Header.Affine() }

// Len returns the number of voxels.
func (v *Volume) Len() int { return product(v.Shape) }

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	return &Volume{
		Header: v.Header.Clone(),
		Shape:  append([]int(nil), v.Shape...),
		Data:   append([]float64(nil), v.Data...),
	}
}

// WithData returns a volume sharing this volume's header and shape with new
// voxel values.
func (v *Volume) WithData(data []float64) (*Volume, error) {
	if len(data) != v.Len() {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(data), v.Shape)
	}
	return &Volume{
		Header: v.Header.Clone(),
		Shape:  append([]int(nil), v.Shape...),
		Data:   data,
	}, nil
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

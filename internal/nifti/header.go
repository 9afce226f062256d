package nifti

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	headerSize      = 348
	nifti2Size      = 540
	minSingleOffset = headerSize + 4

	// Upper bounds applied before any allocation sized from header fields.
	maxVoxOffset = 1 << 24
	maxVoxels    = 1 << 30
)

// Field offsets within the NIfTI-1 header.
const (
	offDim       = 40
	offDatatype  = 70
	offBitpix    = 72
	offPixdim    = 76
	offVoxOffset = 108
	offSclSlope  = 112
	offSclInter  = 116
	offDescrip   = 148
	offQformCode = 252
	offSformCode = 254
	offQuatern   = 256
	offQoffset   = 268
	offSrow      = 280
	offMagic     = 344
)

var (
	magicSingle = [4]byte{'n', '+', '1', 0}
	magicPair   = [4]byte{'n', 'i', '1', 0}
)

// ErrUnsupported marks files that are valid imaging formats this package does
// not handle.
var ErrUnsupported = errors.New("unsupported nifti variant")

// Header is a NIfTI-1 header together with the extension bytes that precede
// the voxel payload.
type Header struct {
	raw       [headerSize]byte
	extension []byte
	order     binary.ByteOrder
}

func parseHeader(raw []byte) (*Header, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("header truncated: %d bytes", len(raw))
	}
	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(raw) == headerSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(raw) == headerSize:
		order = binary.BigEndian
	case binary.LittleEndian.Uint32(raw) == nifti2Size, binary.BigEndian.Uint32(raw) == nifti2Size:
		return nil, fmt.Errorf("%w: NIfTI-2 header", ErrUnsupported)
	default:
		return nil, errors.New("not a NIfTI-1 file (bad sizeof_hdr)")
	}

	h := &Header{order: order}
	copy(h.raw[:], raw[:headerSize])

	var magic [4]byte
	copy(magic[:], h.raw[offMagic:offMagic+4])
	switch magic {
	case magicSingle:
	case magicPair:
		return nil, fmt.Errorf("%w: paired .hdr/.img files", ErrUnsupported)
	default:
		return nil, fmt.Errorf("bad magic %q", magic[:3])
	}

	if !h.Datatype().Supported() {
		return nil, fmt.Errorf("%w: datatype %s", ErrUnsupported, h.Datatype())
	}
	shape, err := shapeFromDims(h.dims())
	if err != nil {
		return nil, err
	}
	if _, err := voxelCount(shape); err != nil {
		return nil, err
	}
	off := h.float32(offVoxOffset)
	if math.IsNaN(float64(off)) || off < minSingleOffset {
		return nil, fmt.Errorf("vox_offset %v precedes end of header", off)
	}
	if off > maxVoxOffset {
		return nil, fmt.Errorf("vox_offset %v exceeds %d bytes", off, maxVoxOffset)
	}
	return h, nil
}

// NewHeader builds a single-file header for the given shape and datatype with
// the affine stored as the sform (scanner coordinates). The qform is left
// unset.
func NewHeader(shape []int, datatype Datatype, affine *mat.Dense) (*Header, error) {
	if !datatype.Supported() {
		return nil, fmt.Errorf("%w: datatype %s", ErrUnsupported, datatype)
	}
	if len(shape) < 1 || len(shape) > 7 {
		return nil, fmt.Errorf("shape must have 1 to 7 dimensions, got %d", len(shape))
	}
	h := &Header{order: binary.LittleEndian, extension: make([]byte, 4)}
	h.putInt32(0, headerSize)
	h.putInt16(offDim, int16(len(shape)))
	for i := 1; i < 8; i++ {
		n := 1
		if i <= len(shape) {
			n = shape[i-1]
		}
		if n < 1 || n > math.MaxInt16 {
			return nil, fmt.Errorf("dimension %d out of range: %d", i, n)
		}
		h.putInt16(offDim+2*i, int16(n))
	}
	if _, err := voxelCount(shape); err != nil {
		return nil, err
	}
	h.putInt16(offDatatype, int16(datatype))
	h.putInt16(offBitpix, int16(datatype.Size()*8))
	h.putFloat32(offVoxOffset, minSingleOffset)
	h.putFloat32(offSclSlope, 1)

	if affine == nil {
		affine = identity()
	}
	h.putFloat32(offPixdim, 1)
	for col := 0; col < 3; col++ {
		v := mat.NewVecDense(3, []float64{affine.At(0, col), affine.At(1, col), affine.At(2, col)})
		h.putFloat32(offPixdim+4*(col+1), float32(mat.Norm(v, 2)))
	}
	for i := 4; i < 8; i++ {
		h.putFloat32(offPixdim+4*i, 1)
	}
	h.putInt16(offSformCode, 1)
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			h.putFloat32(offSrow+16*row+4*col, float32(affine.At(row, col)))
		}
	}
	copy(h.raw[offMagic:], magicSingle[:])
	return h, nil
}

// Clone returns an independent copy of the header.
func (h *Header) Clone() *Header {
	clone := *h
	clone.extension = append([]byte(nil), h.extension...)
	return &clone
}

// Bytes returns the raw header followed by the extension bytes, exactly as
// they are written before the voxel payload.
func (h *Header) Bytes() []byte {
	out := make([]byte, 0, headerSize+len(h.extension))
	out = append(out, h.raw[:]...)
	return append(out, h.extension...)
}

// ByteOrder reports the byte order the header was stored in.
func (h *Header) ByteOrder() binary.ByteOrder { return h.order }

// Datatype returns the stored voxel type.
func (h *Header) Datatype() Datatype { return Datatype(h.int16(offDatatype)) }

// Shape returns the volume dimensions recorded in dim[1..dim[0]].
func (h *Header) Shape() []int {
	shape, _ := shapeFromDims(h.dims())
	return shape
}

// VoxOffset returns the byte offset of the voxel payload.
func (h *Header) VoxOffset() int { return int(h.float32(offVoxOffset)) }

// Scaling returns scl_slope and scl_inter and whether they alter values.
func (h *Header) Scaling() (slope, inter float64, active bool) {
	slope = float64(h.float32(offSclSlope))
	inter = float64(h.float32(offSclInter))
	if slope == 0 || math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 1, 0, false
	}
	if math.IsNaN(inter) || math.IsInf(inter, 0) {
		inter = 0
	}
	return slope, inter, slope != 1 || inter != 0
}

// Pixdim returns the voxel sizes for the first three axes.
func (h *Header) Pixdim() [3]float64 {
	return [3]float64{
		float64(h.float32(offPixdim + 4)),
		float64(h.float32(offPixdim + 8)),
		float64(h.float32(offPixdim + 12)),
	}
}

// Description returns the descrip field.
func (h *Header) Description() string {
	field := h.raw[offDescrip : offDescrip+80]
	for i, b := range field {
		if b == 0 {
			return string(field[:i])
		}
	}
	return string(field)
}

// Affine returns the voxel-to-world transform. The sform takes precedence over
// the qform; without either, the pixel dimensions are used as a diagonal.
func (h *Header) Affine() *mat.Dense {
	switch {
	case h.int16(offSformCode) > 0:
		a := identity()
		for row := 0; row < 3; row++ {
			for col := 0; col < 4; col++ {
				a.Set(row, col, float64(h.float32(offSrow+16*row+4*col)))
			}
		}
		return a
	case h.int16(offQformCode) > 0:
		return h.qformAffine()
	default:
		pix := h.Pixdim()
		a := identity()
		for i := 0; i < 3; i++ {
			a.Set(i, i, pix[i])
		}
		return a
	}
}

func (h *Header) qformAffine() *mat.Dense {
	b := float64(h.float32(offQuatern))
	c := float64(h.float32(offQuatern + 4))
	d := float64(h.float32(offQuatern + 8))
	a2 := 1 - (b*b + c*c + d*d)
	var a float64
	if a2 < 1e-7 {
		norm := math.Sqrt(b*b + c*c + d*d)
		if norm > 0 {
			b, c, d = b/norm, c/norm, d/norm
		}
	} else {
		a = math.Sqrt(a2)
	}

	rot := mat.NewDense(3, 3, []float64{
		a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c),
		2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b),
		2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - c*c - b*b,
	})

	pix := h.Pixdim()
	qfac := float64(h.float32(offPixdim))
	if qfac >= 0 {
		qfac = 1
	} else {
		qfac = -1
	}
	zooms := mat.NewDiagDense(3, []float64{pix[0], pix[1], pix[2] * qfac})
	var linear mat.Dense
	linear.Mul(rot, zooms)

	out := identity()
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			out.Set(row, col, linear.At(row, col))
		}
		out.Set(row, 3, float64(h.float32(offQoffset+4*row)))
	}
	return out
}

func (h *Header) dims() [8]int {
	var dims [8]int
	for i := range dims {
		dims[i] = int(h.int16(offDim + 2*i))
	}
	return dims
}

// voxelCount multiplies the dimensions, failing once the count passes
// maxVoxels.
func voxelCount(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 1 {
			return 0, fmt.Errorf("dimension must be positive, got %d", d)
		}
		if n > maxVoxels/d {
			return 0, fmt.Errorf("image %v exceeds %d voxels", shape, maxVoxels)
		}
		n *= d
	}
	return n, nil
}

func shapeFromDims(dims [8]int) ([]int, error) {
	n := dims[0]
	if n < 1 || n > 7 {
		return nil, fmt.Errorf("dim[0] out of range: %d", n)
	}
	shape := make([]int, n)
	for i := 0; i < n; i++ {
		if dims[i+1] < 1 {
			return nil, fmt.Errorf("dim[%d] must be positive, got %d", i+1, dims[i+1])
		}
		shape[i] = dims[i+1]
	}
	return shape, nil
}

func (h *Header) int16(off int) int16 { return int16(h.order.Uint16(h.raw[off:])) }

func (h *Header) float32(off int) float32 {
	return math.Float32frombits(h.order.Uint32(h.raw[off:]))
}

func (h *Header) putInt16(off int, v int16) { h.order.PutUint16(h.raw[off:], uint16(v)) }

func (h *Header) putInt32(off int, v int32) { h.order.PutUint32(h.raw[off:], uint32(v)) }

func (h *Header) putFloat32(off int, v float32) {
	h.order.PutUint32(h.raw[off:], math.Float32bits(v))
}

func identity() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

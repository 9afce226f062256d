package nifti

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/klauspost/compress/gzip"

	"deface/internal/fileutil"
)

const (
	fileMode    = 0o644
	chunkVoxels = 4096
)

// Load reads a single-file NIfTI-1 image, gzip-compressed when the name ends
// in ".gz".
func Load(path string) (*Volume, error) {
	r, closeFn, size, err := open(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	vol, err := decode(r, size)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return vol, nil
}

// ReadHeader parses and validates only the header of the image at path.
func ReadHeader(path string) (*Header, error) {
	r, closeFn, _, err := open(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	hdr, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return hdr, nil
}

// open returns a reader over the uncompressed stream and its length, or -1
// when the length is unknown.
func open(path string) (io.Reader, func(), int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, 0, err
	}
	var r io.Reader = bufio.NewReader(f)
	if !isGzip(path) {
		return r, func() { f.Close() }, info.Size(), nil
	}
	zr, err := gzip.NewReader(r)
	if err != nil {
		f.Close()
		return nil, nil, 0, fmt.Errorf("open gzip stream %s: %w", path, err)
	}
	return zr, func() {
		zr.Close()
		f.Close()
	}, -1, nil
}

// Save writes the volume atomically. The header and extension bytes are
// written exactly as loaded; only the voxel payload is re-encoded.
func Save(vol *Volume, path string) error {
	if vol == nil || vol.Header == nil {
		return fmt.Errorf("save %s: volume has no header", path)
	}
	if !slices.Equal(vol.Shape, vol.Header.Shape()) {
		return fmt.Errorf("save %s: shape %v does not match header %v", path, vol.Shape, vol.Header.Shape())
	}
	if len(vol.Data) != vol.Len() {
		return fmt.Errorf("save %s: data length %d does not match shape %v", path, len(vol.Data), vol.Shape)
	}
	return fileutil.WriteAtomic(path, fileMode, func(w io.Writer) error {
		if !isGzip(path) {
			bw := bufio.NewWriter(w)
			if err := encode(bw, vol); err != nil {
				return err
			}
			return bw.Flush()
		}
		zw := gzip.NewWriter(w)
		if err := encode(zw, vol); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	})
}

// Files loads and saves volumes on the local filesystem.
type Files struct{}

// Load reads the volume at path.
func (Files) Load(path string) (*Volume, error) { return Load(path) }

// Save writes vol to path.
func (Files) Save(vol *Volume, path string) error { return Save(vol, path) }

func readHeader(r io.Reader) (*Header, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	return parseHeader(raw)
}

// decode reads a whole image. size is the stream length when known and -1
// otherwise; declared payloads larger than the stream are rejected before
// allocation. Voxels are read in chunks so a short compressed stream fails
// without reserving the declared size.
func decode(r io.Reader, size int64) (*Volume, error) {
	hdr, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	offset := hdr.VoxOffset()
	if size >= 0 && int64(offset) > size {
		return nil, fmt.Errorf("vox_offset %d beyond end of file (%d bytes)", offset, size)
	}
	ext := make([]byte, offset-headerSize)
	if _, err := io.ReadFull(r, ext); err != nil {
		return nil, fmt.Errorf("extension: %w", err)
	}
	hdr.extension = ext

	shape := hdr.Shape()
	count, err := voxelCount(shape)
	if err != nil {
		return nil, err
	}
	dt := hdr.Datatype()
	width := dt.Size()
	want := int64(count) * int64(width)
	if size >= 0 && want > size-int64(offset) {
		return nil, fmt.Errorf("voxel data truncated (want %d bytes, have %d)", want, size-int64(offset))
	}

	slope, inter, scaled := hdr.Scaling()
	data := make([]float64, 0, min(count, chunkVoxels))
	buf := make([]byte, chunkVoxels*width)
	for len(data) < count {
		n := min(count-len(data), chunkVoxels)
		chunk := buf[:n*width]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("voxel data truncated (want %d bytes): %w", want, err)
		}
		for i := 0; i < n; i++ {
			v := dt.decode(hdr.order, chunk[i*width:])
			if scaled {
				v = v*slope + inter
			}
			data = append(data, v)
		}
	}
	return &Volume{Header: hdr, Shape: shape, Data: data}, nil
}

func encode(w io.Writer, vol *Volume) error {
	hdr := vol.Header
	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}
	if pad := hdr.VoxOffset() - headerSize - len(hdr.extension); pad > 0 {
		if _, err := w.Write(bytes.Repeat([]byte{0}, pad)); err != nil {
			return err
		}
	}

	dt := hdr.Datatype()
	size := dt.Size()
	slope, inter, scaled := hdr.Scaling()
	buf := make([]byte, size*chunkVoxels)
	for start := 0; start < len(vol.Data); start += chunkVoxels {
		end := min(start+chunkVoxels, len(vol.Data))
		chunk := buf[:(end-start)*size]
		for i, v := range vol.Data[start:end] {
			if scaled {
				v = (v - inter) / slope
			}
			dt.encode(hdr.order, chunk[i*size:], v)
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func isGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

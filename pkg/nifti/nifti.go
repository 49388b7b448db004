// Package nifti reads and writes single-file NIfTI-1 images (.nii and
// .nii.gz).
//
// Only the voxel grid, the spacing and the data are interpreted. The rest of
// the header (orientation, intent, description) is kept in a Header value that
// travels as the opaque Meta of a mask and is written back unchanged.
package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"airwaydefects/internal/models"
)

const (
	headerSize = 348
	dataOffset = 352
)

// NIfTI-1 datatype codes
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
)

// ErrFormat is returned for files that are not single-file NIfTI-1 images
var ErrFormat = errors.New("invalid nifti file")

// rawHeader mirrors the 348-byte NIfTI-1 header
type rawHeader struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	GLMax         int32
	GLMin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// Header is the opaque metadata of an image
type Header struct {
	raw   rawHeader
	order binary.ByteOrder
}

// Datatype returns the on-disk datatype code
func (h *Header) Datatype() int16 { return h.raw.Datatype }

// Dims returns the grid size
func (h *Header) Dims() (nx, ny, nz int) {
	return int(h.raw.Dim[1]), int(h.raw.Dim[2]), int(h.raw.Dim[3])
}

// Spacing returns the voxel size stored in pixdim
func (h *Header) Spacing() models.Spacing {
	pick := func(v float32) float64 {
		f := math.Abs(float64(v))
		if f == 0 {
			return 1
		}
		return f
	}
	return models.Spacing{X: pick(h.raw.Pixdim[1]), Y: pick(h.raw.Pixdim[2]), Z: pick(h.raw.Pixdim[3])}
}

// NewHeader builds a header for a grid with the given spacing and an
// axis-aligned orientation
func NewHeader(nx, ny, nz int, spacing models.Spacing) *Header {
	h := &Header{order: binary.LittleEndian}
	r := &h.raw
	r.SizeofHdr = headerSize
	r.Regular = 'r'
	r.Dim = [8]int16{3, int16(nx), int16(ny), int16(nz), 1, 1, 1, 1}
	r.Pixdim = [8]float32{1, float32(spacing.X), float32(spacing.Y), float32(spacing.Z), 1, 1, 1, 1}
	r.XYZTUnits = 2 // millimetres
	r.SformCode = 1
	r.SrowX = [4]float32{float32(spacing.X), 0, 0, 0}
	r.SrowY = [4]float32{0, float32(spacing.Y), 0, 0}
	r.SrowZ = [4]float32{0, 0, float32(spacing.Z), 0}
	copy(r.Magic[:], "n+1\x00")
	return h
}

func isGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// readHeader decodes the header and detects the byte order
func readHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrFormat, err)
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(buf) == headerSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(buf) == headerSize:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: header size field is not %d", ErrFormat, headerSize)
	}

	h := &Header{order: order}
	if err := binary.Read(bytes.NewReader(buf), order, &h.raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if string(h.raw.Magic[:3]) != "n+1" {
		return nil, fmt.Errorf("%w: magic %q is not a single-file image", ErrFormat, h.raw.Magic[:3])
	}
	if h.raw.Dim[0] < 3 || h.raw.Dim[1] <= 0 || h.raw.Dim[2] <= 0 || h.raw.Dim[3] <= 0 {
		return nil, fmt.Errorf("%w: unsupported dimensions %v", ErrFormat, h.raw.Dim)
	}
	for i := 4; i <= int(h.raw.Dim[0]) && i < 8; i++ {
		if h.raw.Dim[i] > 1 {
			return nil, fmt.Errorf("%w: only 3-D images are supported, got dim %v", ErrFormat, h.raw.Dim)
		}
	}
	return h, nil
}

// bytesPerVoxel returns the storage size of a datatype
func bytesPerVoxel(dt int16) (int, error) {
	switch dt {
	case DTUint8, DTInt8:
		return 1, nil
	case DTInt16, DTUint16:
		return 2, nil
	case DTInt32, DTUint32, DTFloat32:
		return 4, nil
	case DTFloat64:
		return 8, nil
	}
	return 0, fmt.Errorf("%w: unsupported datatype %d", ErrFormat, dt)
}

// decodeVoxels converts raw voxel bytes to float64, applying the scaling
func decodeVoxels(h *Header, raw []byte, n int) ([]float64, error) {
	size, err := bytesPerVoxel(h.raw.Datatype)
	if err != nil {
		return nil, err
	}
	if len(raw) < n*size {
		return nil, fmt.Errorf("%w: expected %d bytes of voxel data, got %d", ErrFormat, n*size, len(raw))
	}

	o := h.order
	out := make([]float64, n)
	for i := range out {
		b := raw[i*size : (i+1)*size]
		switch h.raw.Datatype {
		case DTUint8:
			out[i] = float64(b[0])
		case DTInt8:
			out[i] = float64(int8(b[0]))
		case DTInt16:
			out[i] = float64(int16(o.Uint16(b)))
		case DTUint16:
			out[i] = float64(o.Uint16(b))
		case DTInt32:
			out[i] = float64(int32(o.Uint32(b)))
		case DTUint32:
			out[i] = float64(o.Uint32(b))
		case DTFloat32:
			out[i] = float64(math.Float32frombits(o.Uint32(b)))
		case DTFloat64:
			out[i] = math.Float64frombits(o.Uint64(b))
		}
	}

	slope, inter := float64(h.raw.SclSlope), float64(h.raw.SclInter)
	if slope != 0 && !(slope == 1 && inter == 0) {
		for i := range out {
			out[i] = out[i]*slope + inter
		}
	}
	return out, nil
}

// Decode reads an uncompressed NIfTI-1 stream
func Decode(r io.Reader) (*models.Volume, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	// skip extensions up to the data
	skip := int64(h.raw.VoxOffset) - headerSize
	if skip < 0 {
		return nil, fmt.Errorf("%w: voxel offset %g inside the header", ErrFormat, h.raw.VoxOffset)
	}
	if _, err := io.CopyN(io.Discard, r, skip); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	nx, ny, nz := h.Dims()
	n := nx * ny * nz
	size, err := bytesPerVoxel(h.raw.Datatype)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, n*size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("%w: truncated voxel data: %v", ErrFormat, err)
	}
	data, err := decodeVoxels(h, raw, n)
	if err != nil {
		return nil, err
	}

	return &models.Volume{
		Data:    data,
		NX:      nx,
		NY:      ny,
		NZ:      nz,
		Spacing: h.Spacing(),
		Meta:    h,
	}, nil
}

// openImage opens path for reading, decompressing .gz files
func openImage(path string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if !isGzip(path) {
		return bufio.NewReader(f), func() { f.Close() }, nil
	}
	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	return zr, func() {
		zr.Close()
		f.Close()
	}, nil
}

// ReadVolume reads a scalar image such as a posterior probability map
func ReadVolume(path string) (*models.Volume, error) {
	r, closeFn, err := openImage(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	v, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return v, nil
}

// ReadHeader reads only the header of the image at path
func ReadHeader(path string) (*Header, error) {
	r, closeFn, err := openImage(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	h, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return h, nil
}

// ToMask rounds a volume to mask values: positive voxels become 1, negative
// voxels IgnoreLabel and the rest 0
func ToMask(v *models.Volume) *models.Mask {
	m := &models.Mask{
		Data:    make([]int8, len(v.Data)),
		NX:      v.NX,
		NY:      v.NY,
		NZ:      v.NZ,
		Spacing: v.Spacing,
		Meta:    v.Meta,
	}
	for i, val := range v.Data {
		switch r := math.Round(val); {
		case r > 0:
			m.Data[i] = 1
		case r < 0:
			m.Data[i] = models.IgnoreLabel
		}
	}
	return m
}

// ReadMask reads a binary mask
func ReadMask(path string) (*models.Mask, error) {
	v, err := ReadVolume(path)
	if err != nil {
		return nil, err
	}
	return ToMask(v), nil
}

// Encode writes a mask as an uncompressed int16 NIfTI-1 stream. When m.Meta
// holds a Header its orientation fields are reused.
func Encode(w io.Writer, m *models.Mask) error {
	var h *Header
	if src, ok := m.Meta.(*Header); ok {
		cp := *src
		h = &cp
	} else {
		h = NewHeader(m.NX, m.NY, m.NZ, m.Spacing)
	}
	if h.order == nil {
		h.order = binary.LittleEndian
	}

	r := &h.raw
	r.SizeofHdr = headerSize
	r.Dim = [8]int16{3, int16(m.NX), int16(m.NY), int16(m.NZ), 1, 1, 1, 1}
	r.Datatype = DTInt16
	r.Bitpix = 16
	r.VoxOffset = dataOffset
	r.SclSlope = 1
	r.SclInter = 0
	r.CalMin, r.CalMax = 0, 0
	copy(r.Magic[:], "n+1\x00")

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, h.order, r); err != nil {
		return err
	}
	// empty extension block
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	buf := make([]byte, 2)
	for _, v := range m.Data {
		h.order.PutUint16(buf, uint16(int16(v)))
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteMask writes a mask, compressed when path ends in .gz
func WriteMask(path string, m *models.Mask) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	if !isGzip(path) {
		return Encode(f, m)
	}

	zw := gzip.NewWriter(f)
	if err := Encode(zw, m); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return zw.Close()
}

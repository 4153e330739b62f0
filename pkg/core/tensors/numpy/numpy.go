// Package numpy allows one to read/write tensors to Python's NumPy npy file format.
//
// Only numeric dtypes that can be represented as float32 are read (`f2`, `f4`, `f8` and `u1`),
// and tensors are written either as `<f4` (Float32) or as `<f2` (Float16, half-precision).
package numpy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/caffeio/pkg/core/shapes"
	"github.com/gomlx/caffeio/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// FromNpyFile reads a .npy file and returns a tensors.Tensor.
func FromNpyFile(filePath string) (*tensors.Tensor, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open .npy file %q", filePath)
	}
	defer func() { _ = file.Close() }()
	t, err := FromNpyReader(file)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading %q", filePath)
	}
	return t, nil
}

// FromNpyReader reads a .npy file from an io.Reader and returns a tensors.Tensor.
func FromNpyReader(r io.Reader) (*tensors.Tensor, error) {
	// Read and validate the magic string.
	magic := make([]byte, 6)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, errors.Wrapf(err, "failed to read magic string")
	}
	if string(magic) != "\x93NUMPY" {
		return nil, errors.Errorf("invalid .npy file format: magic string mismatch")
	}

	version := make([]byte, 2)
	if _, err := io.ReadFull(r, version); err != nil {
		return nil, errors.Wrapf(err, "failed to read version")
	}

	var headerLen uint32
	switch {
	case version[0] == 1:
		lenBytes := make([]byte, 2)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, errors.Wrapf(err, "failed to read header length (v1.0)")
		}
		headerLen = uint32(binary.LittleEndian.Uint16(lenBytes))
	case version[0] >= 2:
		lenBytes := make([]byte, 4)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, errors.Wrapf(err, "failed to read header length (v2.0+)")
		}
		headerLen = binary.LittleEndian.Uint32(lenBytes)
		if headerLen > 0xFFFF {
			return nil, errors.Errorf("header length %d exceeds uint16 max", headerLen)
		}
	default:
		return nil, errors.Errorf("unsupported .npy version: %d.%d", version[0], version[1])
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errors.Wrapf(err, "failed to read header")
	}
	// Example: "{'descr': '<f4', 'fortran_order': False, 'shape': (1, 2, 3), }"
	dtypeStr, dims, fortranOrder, err := parseNpyHeader(string(headerBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse .npy header")
	}
	if strings.HasPrefix(dtypeStr, ">") {
		return nil, errors.Errorf("big-endian .npy files (%q) are not supported", dtypeStr)
	}
	decode, itemSize, err := npyDecoder(dtypeStr)
	if err != nil {
		return nil, err
	}

	for _, dim := range dims {
		if dim <= 0 {
			return nil, errors.Errorf(".npy shape %v has empty axes, which are not supported", dims)
		}
	}
	shape := shapes.Make(dims...)
	data := make([]byte, shape.Size()*itemSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrapf(err, "failed to read tensor data (expected %d bytes)", len(data))
	}
	tensor := tensors.FromShape(shape)
	flat := tensor.Flat()
	if !fortranOrder || shape.Rank() <= 1 {
		// Row-major (C-Order): values are in the same order.
		for ii := range flat {
			flat[ii] = decode(data[ii*itemSize:])
		}
		return tensor, nil
	}

	// Fortran order: the first axis changes fastest.
	fortranStrides := make([]int, shape.Rank())
	stride := 1
	for axis, dim := range shape.Dimensions {
		fortranStrides[axis] = stride
		stride *= dim
	}
	for cOrderIdx, indices := range shape.Iter() {
		fortranIdx := 0
		for axis, axisIdx := range indices {
			fortranIdx += axisIdx * fortranStrides[axis]
		}
		flat[cOrderIdx] = decode(data[fortranIdx*itemSize:])
	}
	return tensor, nil
}

// npyDecoder returns a function that decodes one little-endian value of the given NumPy dtype as a float32,
// and the size in bytes of each value.
func npyDecoder(npyType string) (decode func([]byte) float32, itemSize int, err error) {
	switch {
	case strings.HasSuffix(npyType, "u1"):
		return func(b []byte) float32 { return float32(b[0]) }, 1, nil
	case strings.HasSuffix(npyType, "f2"):
		return func(b []byte) float32 {
			return float16.Frombits(binary.LittleEndian.Uint16(b)).Float32()
		}, 2, nil
	case strings.HasSuffix(npyType, "f4"):
		return func(b []byte) float32 {
			return math.Float32frombits(binary.LittleEndian.Uint32(b))
		}, 4, nil
	case strings.HasSuffix(npyType, "f8"):
		return func(b []byte) float32 {
			return float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		}, 8, nil
	default:
		return nil, 0, errors.Errorf("unsupported NumPy dtype: %s", npyType)
	}
}

// parseNpyHeader extracts dtype, shape, and fortran_order from the .npy header string.
// This is a very simplified parser and not robust for all .npy header variations.
func parseNpyHeader(header string) (dtype string, shape []int, fortranOrder bool, err error) {
	reDescr := regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	mDescr := reDescr.FindStringSubmatch(header)
	if len(mDescr) < 2 {
		err = errors.Errorf("could not find 'descr' in header: %q", header)
		return
	}
	dtype = mDescr[1]

	reFortran := regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	mFortran := reFortran.FindStringSubmatch(header)
	if len(mFortran) < 2 {
		err = errors.Errorf("could not find 'fortran_order' in header: %q", header)
		return
	}
	fortranOrder = mFortran[1] == "True"

	reShape := regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
	mShape := reShape.FindStringSubmatch(header)
	if len(mShape) < 2 {
		err = errors.Errorf("could not find 'shape' in header: %q", header)
		return
	}
	shapeStr := strings.TrimSpace(mShape[1])
	if shapeStr == "" { // Scalar or 0-dim array
		shape = []int{}
		return
	}
	parts := strings.Split(shapeStr, ",")
	shape = make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" { // Handles trailing comma like (10,)
			continue
		}
		val, pErr := strconv.Atoi(p)
		if pErr != nil {
			err = errors.Wrapf(pErr, "invalid shape value %q in header", p)
			return
		}
		shape = append(shape, val)
	}
	return
}

// Encoding selects the dtype used when writing .npy files.
type Encoding int

const (
	// Float32 writes values as little-endian float32 ('<f4').
	Float32 Encoding = iota

	// Float16 writes values as little-endian IEEE 754 half-precision ('<f2').
	Float16
)

// ToNpyWriter serializes a tensors.Tensor to an io.Writer in .npy format, using the given encoding.
func ToNpyWriter(tensor *tensors.Tensor, w io.Writer, encoding Encoding) error {
	var descr string
	var data []byte
	switch encoding {
	case Float32:
		descr = "<f4"
		data = make([]byte, 4*tensor.Size())
		for ii, v := range tensor.Flat() {
			binary.LittleEndian.PutUint32(data[4*ii:], math.Float32bits(v))
		}
	case Float16:
		descr = "<f2"
		data = make([]byte, 2*tensor.Size())
		for ii, v := range tensor.ToFloat16() {
			binary.LittleEndian.PutUint16(data[2*ii:], v.Bits())
		}
	default:
		return errors.Errorf("unknown .npy encoding %d", encoding)
	}

	// Construct header dictionary string.
	// {'descr': '...', 'fortran_order': False, 'shape': (...), }
	// Note the trailing comma in shape tuple for 1D arrays, and no comma for 0D.
	shape := tensor.Shape()
	var shapeTuple string
	switch shape.Rank() {
	case 0:
		shapeTuple = "()"
	case 1:
		shapeTuple = fmt.Sprintf("(%d,)", shape.Dimensions[0])
	default:
		dimsStr := make([]string, shape.Rank())
		for i, dim := range shape.Dimensions {
			dimsStr[i] = strconv.Itoa(dim)
		}
		shapeTuple = fmt.Sprintf("(%s)", strings.Join(dimsStr, ", "))
	}
	headerDict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, shapeTuple)

	// Version 1.0 preamble: magic (6) + version (2) + header length (2) = 10 bytes.
	// The header is padded with spaces so the data starts at a multiple of 16 bytes, and ends with a newline.
	var headerBuf bytes.Buffer
	headerBuf.WriteString(headerDict)
	for (10+headerBuf.Len()+1)%16 != 0 {
		headerBuf.WriteByte(' ')
	}
	headerBuf.WriteByte('\n')
	headerBytes := headerBuf.Bytes()

	if _, err := w.Write([]byte("\x93NUMPY")); err != nil {
		return errors.Wrapf(err, "failed to write magic string")
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return errors.Wrapf(err, "failed to write version")
	}
	headerLenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(headerLenBytes, uint16(len(headerBytes)))
	if _, err := w.Write(headerLenBytes); err != nil {
		return errors.Wrapf(err, "failed to write header length")
	}
	if _, err := w.Write(headerBytes); err != nil {
		return errors.Wrapf(err, "failed to write header")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrapf(err, "failed to write tensor data")
	}
	return nil
}

// ToNpyFile serializes a tensors.Tensor to a .npy file with the given encoding.
func ToNpyFile(tensor *tensors.Tensor, filePath string, encoding Encoding) error {
	file, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create .npy file")
	}
	if err = ToNpyWriter(tensor, file, encoding); err != nil {
		_ = file.Close()
		return err
	}
	return errors.Wrapf(file.Close(), "failed to close .npy file %q", filePath)
}

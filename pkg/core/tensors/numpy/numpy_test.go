package numpy

import (
	"bytes"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/gomlx/caffeio/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNpyRoundTrip(t *testing.T) {
	x := tensors.FromFlatDataAndDimensions([]float32{0, 0.25, -1, 2, 3.5, 1000}, 2, 3)

	var buf bytes.Buffer
	require.NoError(t, ToNpyWriter(x, &buf, Float32))
	raw := buf.Bytes()
	headerLen := int(binary.LittleEndian.Uint16(raw[8:10]))
	assert.Zero(t, (10+headerLen)%16, "data must start 16-byte aligned")
	assert.Equal(t, byte('\n'), raw[10+headerLen-1])
	assert.Contains(t, string(raw[10:10+headerLen]), "'shape': (2, 3)")

	got, err := FromNpyReader(&buf)
	require.NoError(t, err)
	require.True(t, got.Equal(x))
}

func TestNpyFileFloat16(t *testing.T) {
	x := tensors.FromFlatDataAndDimensions([]float32{0.5, -2, 1024}, 3)
	filePath := filepath.Join(t.TempDir(), "x.npy")
	require.NoError(t, ToNpyFile(x, filePath, Float16))
	got, err := FromNpyFile(filePath)
	require.NoError(t, err)
	require.True(t, got.Equal(x))

	_, err = FromNpyFile(filepath.Join(t.TempDir(), "missing.npy"))
	require.Error(t, err)
}

// npyBytes builds a .npy v1.0 file with the given header and raw data.
func npyBytes(header string, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	buf.Write(data)
	return buf.Bytes()
}

func TestFromNpyReaderDTypes(t *testing.T) {
	u8 := npyBytes("{'descr': '|u1', 'fortran_order': False, 'shape': (3,), }\n", []byte{0, 128, 255})
	got, err := FromNpyReader(bytes.NewReader(u8))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 128, 255}, got.Flat())

	f64 := make([]byte, 16)
	binary.LittleEndian.PutUint64(f64, math.Float64bits(1.5))
	binary.LittleEndian.PutUint64(f64[8:], math.Float64bits(-3))
	got, err = FromNpyReader(bytes.NewReader(
		npyBytes("{'descr': '<f8', 'fortran_order': False, 'shape': (2,), }\n", f64)))
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -3}, got.Flat())

	_, err = FromNpyReader(bytes.NewReader(
		npyBytes("{'descr': '<i4', 'fortran_order': False, 'shape': (1,), }\n", make([]byte, 4))))
	require.Error(t, err)
	_, err = FromNpyReader(bytes.NewReader(
		npyBytes("{'descr': '>f4', 'fortran_order': False, 'shape': (1,), }\n", make([]byte, 4))))
	require.Error(t, err)
	_, err = FromNpyReader(bytes.NewReader([]byte("NOTNPY..")))
	require.Error(t, err)
	_, err = FromNpyReader(bytes.NewReader(
		npyBytes("{'descr': '<f4', 'fortran_order': False, 'shape': (4,), }\n", make([]byte, 8))))
	require.Error(t, err, "truncated data")
}

func TestFromNpyReaderFortranOrder(t *testing.T) {
	// Matrix [[1, 2, 3], [4, 5, 6]] stored column-major.
	data := make([]byte, 4*6)
	for ii, v := range []float32{1, 4, 2, 5, 3, 6} {
		binary.LittleEndian.PutUint32(data[4*ii:], math.Float32bits(v))
	}
	got, err := FromNpyReader(bytes.NewReader(
		npyBytes("{'descr': '<f4', 'fortran_order': True, 'shape': (2, 3), }\n", data)))
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, got.Value())
}

func TestParseNpyHeader(t *testing.T) {
	dtype, shape, fortran, err := parseNpyHeader("{'descr': '<f4', 'fortran_order': False, 'shape': (), }")
	require.NoError(t, err)
	assert.Equal(t, "<f4", dtype)
	assert.Empty(t, shape)
	assert.False(t, fortran)

	_, _, _, err = parseNpyHeader("{'fortran_order': False, 'shape': (1,), }")
	require.Error(t, err)
	_, _, _, err = parseNpyHeader("{'descr': '<f4', 'fortran_order': False, 'shape': (a,), }")
	require.Error(t, err)
}

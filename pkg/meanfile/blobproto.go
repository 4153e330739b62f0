package meanfile

import (
	"io"
	"math"
	"os"

	"github.com/gomlx/caffeio/pkg/core/tensors"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of Caffe's BlobProto and BlobShape messages.
const (
	fieldNum        protowire.Number = 1
	fieldChannels   protowire.Number = 2
	fieldHeight     protowire.Number = 3
	fieldWidth      protowire.Number = 4
	fieldData       protowire.Number = 5
	fieldDiff       protowire.Number = 6
	fieldShape      protowire.Number = 7
	fieldDoubleData protowire.Number = 8
	fieldDoubleDiff protowire.Number = 9

	fieldShapeDim protowire.Number = 1
)

// blobProto holds the decoded fields of a BlobProto that matter to us. The diff fields are skipped.
type blobProto struct {
	legacyDims [4]int
	hasLegacy  bool
	shape      []int
	data       []float32
	doubleData []float64
}

// DecodeBlobProto decodes a serialized Caffe BlobProto into a tensor.
//
// The legacy 4-D fields (num, channels, height, width) take precedence over the shape field when present,
// and `double_data` is used when `data` is empty.
func DecodeBlobProto(buf []byte) (*tensors.Tensor, error) {
	var blob blobProto
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "failed to parse BlobProto tag")
		}
		buf = buf[n:]
		switch {
		case num >= fieldNum && num <= fieldWidth && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "failed to parse BlobProto field %d", num)
			}
			buf = buf[n:]
			blob.legacyDims[num-fieldNum] = int(int32(v))
			blob.hasLegacy = true
		case num == fieldData:
			values, n, err := consumeFloats(buf, typ)
			if err != nil {
				return nil, errors.WithMessage(err, "BlobProto.data")
			}
			buf = buf[n:]
			blob.data = append(blob.data, values...)
		case num == fieldDoubleData:
			values, n, err := consumeDoubles(buf, typ)
			if err != nil {
				return nil, errors.WithMessage(err, "BlobProto.double_data")
			}
			buf = buf[n:]
			blob.doubleData = append(blob.doubleData, values...)
		case num == fieldShape && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "failed to parse BlobProto.shape")
			}
			buf = buf[n:]
			dims, err := decodeBlobShape(msg)
			if err != nil {
				return nil, err
			}
			blob.shape = append(blob.shape, dims...)
		default:
			// Includes diff and double_diff.
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "failed to skip BlobProto field %d", num)
			}
			buf = buf[n:]
		}
	}
	return blob.toTensor()
}

func (blob *blobProto) toTensor() (*tensors.Tensor, error) {
	dims := blob.shape
	if blob.hasLegacy {
		dims = blob.legacyDims[:]
	}
	data := blob.data
	if len(data) == 0 && len(blob.doubleData) > 0 {
		data = make([]float32, len(blob.doubleData))
		for ii, v := range blob.doubleData {
			data[ii] = float32(v)
		}
	}
	size := 1
	for _, dim := range dims {
		if dim <= 0 {
			return nil, errors.Errorf("BlobProto has invalid dimensions %v", dims)
		}
		size *= dim
	}
	if size != len(data) {
		return nil, errors.Errorf("BlobProto with dimensions %v requires %d values, but it holds %d",
			dims, size, len(data))
	}
	return tensors.FromFlatDataAndDimensions(data, dims...), nil
}

func decodeBlobShape(buf []byte) (dims []int, err error) {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "failed to parse BlobShape tag")
		}
		buf = buf[n:]
		if num != fieldShapeDim {
			n = protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "failed to skip BlobShape field %d", num)
			}
			buf = buf[n:]
			continue
		}
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "failed to parse BlobShape.dim")
			}
			buf = buf[n:]
			dims = append(dims, int(int64(v)))
		case protowire.BytesType:
			packed, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "failed to parse packed BlobShape.dim")
			}
			buf = buf[n:]
			for len(packed) > 0 {
				v, n := protowire.ConsumeVarint(packed)
				if n < 0 {
					return nil, errors.Wrap(protowire.ParseError(n), "failed to parse packed BlobShape.dim")
				}
				packed = packed[n:]
				dims = append(dims, int(int64(v)))
			}
		default:
			return nil, errors.Errorf("BlobShape.dim has invalid wire type %d", typ)
		}
	}
	return dims, nil
}

// consumeFloats parses either a packed or a single unpacked float field value.
func consumeFloats(buf []byte, typ protowire.Type) (values []float32, n int, err error) {
	switch typ {
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(buf)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		return []float32{math.Float32frombits(v)}, n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		if len(packed)%4 != 0 {
			return nil, 0, errors.Errorf("packed float field has %d bytes, not a multiple of 4", len(packed))
		}
		values = make([]float32, 0, len(packed)/4)
		for len(packed) > 0 {
			v, m := protowire.ConsumeFixed32(packed)
			packed = packed[m:]
			values = append(values, math.Float32frombits(v))
		}
		return values, n, nil
	default:
		return nil, 0, errors.Errorf("invalid wire type %d for float field", typ)
	}
}

// consumeDoubles parses either a packed or a single unpacked double field value.
func consumeDoubles(buf []byte, typ protowire.Type) (values []float64, n int, err error) {
	switch typ {
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(buf)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		return []float64{math.Float64frombits(v)}, n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		if len(packed)%8 != 0 {
			return nil, 0, errors.Errorf("packed double field has %d bytes, not a multiple of 8", len(packed))
		}
		values = make([]float64, 0, len(packed)/8)
		for len(packed) > 0 {
			v, m := protowire.ConsumeFixed64(packed)
			packed = packed[m:]
			values = append(values, math.Float64frombits(v))
		}
		return values, n, nil
	default:
		return nil, 0, errors.Errorf("invalid wire type %d for double field", typ)
	}
}

// ReadBlobProto reads and decodes a serialized BlobProto from r.
func ReadBlobProto(r io.Reader) (*tensors.Tensor, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read BlobProto")
	}
	return DecodeBlobProto(buf)
}

// EncodeBlobProto serializes the tensor as a BlobProto, using the shape field and packed data.
//
// If legacy is true, the 4-D fields (num, channels, height, width) are used instead, and the tensor
// must have rank 4.
func EncodeBlobProto(t *tensors.Tensor, legacy bool) ([]byte, error) {
	var buf []byte
	dims := t.Shape().Dimensions
	if legacy {
		if len(dims) != 4 {
			return nil, errors.Errorf("legacy BlobProto requires a rank-4 tensor, got shape %s", t.Shape())
		}
		for ii, dim := range dims {
			buf = protowire.AppendTag(buf, fieldNum+protowire.Number(ii), protowire.VarintType)
			buf = protowire.AppendVarint(buf, uint64(dim))
		}
	} else {
		var shapeMsg, packedDims []byte
		for _, dim := range dims {
			packedDims = protowire.AppendVarint(packedDims, uint64(dim))
		}
		shapeMsg = protowire.AppendTag(shapeMsg, fieldShapeDim, protowire.BytesType)
		shapeMsg = protowire.AppendBytes(shapeMsg, packedDims)
		buf = protowire.AppendTag(buf, fieldShape, protowire.BytesType)
		buf = protowire.AppendBytes(buf, shapeMsg)
	}
	packedData := make([]byte, 0, 4*t.Size())
	for _, v := range t.Flat() {
		packedData = protowire.AppendFixed32(packedData, math.Float32bits(v))
	}
	buf = protowire.AppendTag(buf, fieldData, protowire.BytesType)
	buf = protowire.AppendBytes(buf, packedData)
	return buf, nil
}

// WriteBlobProtoFile writes the tensor as a serialized BlobProto (a ".binaryproto" file).
func WriteBlobProtoFile(t *tensors.Tensor, legacy bool, path string) error {
	buf, err := EncodeBlobProto(t, legacy)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, buf, 0o644), "failed to write BlobProto to %q", path)
}

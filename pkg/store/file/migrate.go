package file

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/OFFIS-RIT/medrag/pkg/store"
)

// Vector file schema versions. Version 1 stores the matrix as a plain JSON
// number array, version 2 as base64 of little-endian float32 values.
const (
	VectorSchemaV1 = 1
	VectorSchemaV2 = 2
)

type vectorFileHeader struct {
	EmbeddingDim int               `json:"embedding_dim"`
	Data         []json.RawMessage `json:"data"`
	Matrix       json.RawMessage   `json:"matrix"`
}

type vectorFileV2 struct {
	EmbeddingDim int               `json:"embedding_dim"`
	Data         []json.RawMessage `json:"data"`
	Matrix       string            `json:"matrix"`
}

// DetectVectorSchema inspects the matrix encoding of a vector file.
func DetectVectorSchema(raw []byte) (int, error) {
	var h vectorFileHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrUnknownEncoding, err)
	}
	m := bytes.TrimSpace(h.Matrix)
	switch {
	case len(m) == 0 || bytes.Equal(m, []byte("null")):
		if len(h.Data) == 0 {
			return VectorSchemaV2, nil
		}
		return 0, fmt.Errorf("%w: %d rows without matrix", store.ErrUnknownEncoding, len(h.Data))
	case m[0] == '"':
		return VectorSchemaV2, nil
	case m[0] == '[':
		return VectorSchemaV1, nil
	default:
		return 0, fmt.Errorf("%w: matrix starts with %q", store.ErrUnknownEncoding, m[0])
	}
}

// MigrateV1ToV2 rewrites a version 1 vector file into version 2. It is a
// pure function of its input; rows are carried over byte for byte.
func MigrateV1ToV2(raw []byte) ([]byte, error) {
	var h vectorFileHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrUnknownEncoding, err)
	}

	var matrix any
	if err := json.Unmarshal(h.Matrix, &matrix); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrUnknownEncoding, err)
	}
	var values []float32
	if err := flattenNumbers(matrix, &values); err != nil {
		return nil, err
	}
	if err := checkShape(len(values), len(h.Data), h.EmbeddingDim); err != nil {
		return nil, err
	}

	data := h.Data
	if data == nil {
		data = []json.RawMessage{}
	}
	return json.Marshal(vectorFileV2{
		EmbeddingDim: h.EmbeddingDim,
		Data:         data,
		Matrix:       packMatrix(values),
	})
}

func flattenNumbers(v any, out *[]float32) error {
	switch x := v.(type) {
	case float64:
		*out = append(*out, float32(x))
	case []any:
		for _, item := range x {
			if err := flattenNumbers(item, out); err != nil {
				return err
			}
		}
	case nil:
	default:
		return fmt.Errorf("%w: unexpected matrix element %T", store.ErrUnknownEncoding, v)
	}
	return nil
}

func checkShape(values, rows, dim int) error {
	if rows == 0 && values == 0 {
		return nil
	}
	if dim <= 0 || values != rows*dim {
		return fmt.Errorf("%w: %d values for %d rows of dimension %d", store.ErrUnknownEncoding, values, rows, dim)
	}
	return nil
}

func packMatrix(values []float32) string {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func unpackMatrix(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrUnknownEncoding, err)
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("%w: matrix has %d bytes", store.ErrUnknownEncoding, len(buf))
	}
	values := make([]float32, len(buf)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return values, nil
}

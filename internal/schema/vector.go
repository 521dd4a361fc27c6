package schema

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CheckEmbedding verifies v can be stored in entity_vec.
func CheckEmbedding(v []float32) error {
	if len(v) != Dimension {
		return fmt.Errorf("%w: embedding must have exactly %d dimensions, got %d", ErrDimensionMismatch, Dimension, len(v))
	}
	for i, n := range v {
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return fmt.Errorf("embedding component %d is not finite: %v", i, n)
		}
	}
	return nil
}

// VectorLiteral renders v in the text form accepted by vector32().
// It does not check the length; use CheckEmbedding for stored embeddings.
func VectorLiteral(v []float32) (string, error) {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, n := range v {
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return "", fmt.Errorf("vector component %d is not finite: %v", i, n)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(float64(n), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}

// DecodeVector extracts the float32 components of an F32_BLOB value.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding size: %d bytes is not a whole number of float32 components", len(blob))
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4 : (i+1)*4])
		vector[i] = math.Float32frombits(bits)
	}
	return vector, nil
}

package memory

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Embeddings are persisted as a little-endian blob: a 4-byte dimension
// header followed by dim float32 values.

func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4+4*len(vec))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(vec)))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4+i*4:], math.Float32bits(v))
	}
	return buf
}

func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob) < 4 {
		return nil, fmt.Errorf("vector blob too short: %d bytes", len(blob))
	}
	dim := int(binary.LittleEndian.Uint32(blob[0:4]))
	if len(blob) != 4+4*dim {
		return nil, fmt.Errorf("vector blob size mismatch: dim %d, %d bytes", dim, len(blob))
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4+i*4:]))
	}
	return vec, nil
}

// CosineSimilarity returns the cosine of the angle between a and b,
// clamped to [-1, 1]. Zero-norm or non-finite input is an error.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("empty vectors")
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
			return 0, fmt.Errorf("non-finite component at index %d", i)
		}
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("zero-norm vector")
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}

// CosineDistance is 1 - similarity, in [0, 2].
func CosineDistance(a, b []float32) (float64, error) {
	sim, err := CosineSimilarity(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - sim, nil
}

package repository

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var errInvalidVectorBlob = errors.New("invalid vector blob")

// encodeVector packs vec as little-endian float32s.
func encodeVector(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}

	return b
}

// decodeVector is the inverse of encodeVector.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of 4", errInvalidVectorBlob, len(b))
	}

	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}

	return vec, nil
}

package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector writes v as little-endian float32.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// EncodeRows flattens equal-width rows into one little-endian float32 matrix.
func EncodeRows(rows [][]float32) []byte {
	n := 0
	for _, r := range rows {
		n += len(r)
	}
	flat := make([]float32, 0, n)
	for _, r := range rows {
		flat = append(flat, r...)
	}
	return EncodeVector(flat)
}

// DecodeRows splits a matrix written by EncodeRows back into rows of dim floats.
func DecodeRows(data []byte, dim int) ([][]float32, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	flat, err := DecodeVector(data)
	if err != nil {
		return nil, err
	}
	if len(flat)%dim != 0 {
		return nil, fmt.Errorf("invalid matrix: %d floats is not a multiple of dimension %d", len(flat), dim)
	}
	rows := make([][]float32, len(flat)/dim)
	for i := range rows {
		rows[i] = flat[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return rows, nil
}

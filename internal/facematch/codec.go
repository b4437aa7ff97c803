package facematch

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/pgvector/pgvector-go"
)

// Encoding is the storage format of an embedding. It is stored next to every
// gallery row so decoding never has to guess.
type Encoding string

const (
	EncodingFloat32LE Encoding = "float32le" // little-endian IEEE 754 float32, no header
	EncodingFloat64LE Encoding = "float64le" // little-endian IEEE 754 float64, no header
	EncodingJSON      Encoding = "json"      // JSON array of numbers
	EncodingBase64    Encoding = "base64"    // standard base64 of float32le
	EncodingPgvector  Encoding = "pgvector"  // pgvector text form, e.g. [1,2,3]
)

// ParseEncoding parses an encoding name.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case EncodingFloat32LE, EncodingFloat64LE, EncodingJSON, EncodingBase64, EncodingPgvector:
		return Encoding(s), nil
	}
	return "", fmt.Errorf("unknown embedding encoding %q", s)
}

// DecodeEmbedding decodes raw according to hint. Any failure, including empty
// input and non-finite values, is reported as a *MalformedEntryError.
func DecodeEmbedding(raw []byte, hint Encoding) ([]float32, error) {
	if len(raw) == 0 {
		return nil, &MalformedEntryError{Encoding: hint, Reason: "empty payload"}
	}

	var (
		values []float32
		err    error
	)
	switch hint {
	case EncodingFloat32LE:
		values, err = decodeFloat32LE(raw)
	case EncodingFloat64LE:
		values, err = decodeFloat64LE(raw)
	case EncodingJSON:
		var f []float64
		if err = json.Unmarshal(raw, &f); err == nil {
			values = narrow(f)
		}
	case EncodingBase64:
		var decoded []byte
		decoded, err = base64.StdEncoding.DecodeString(string(raw))
		if err == nil {
			values, err = decodeFloat32LE(decoded)
		}
	case EncodingPgvector:
		var v pgvector.Vector
		if err = v.Scan(raw); err == nil {
			values = v.Slice()
		}
	default:
		return nil, &MalformedEntryError{Encoding: hint, Reason: "unknown encoding"}
	}
	if err != nil {
		return nil, &MalformedEntryError{Encoding: hint, Reason: "decode failed", Err: err}
	}
	if len(values) == 0 {
		return nil, &MalformedEntryError{Encoding: hint, Reason: "no values"}
	}
	for i, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, &MalformedEntryError{Encoding: hint, Reason: fmt.Sprintf("non-finite value at index %d", i)}
		}
	}
	return values, nil
}

// EncodeEmbedding encodes values using enc.
func EncodeEmbedding(values []float32, enc Encoding) ([]byte, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("encode embedding: empty vector")
	}
	switch enc {
	case EncodingFloat32LE:
		return encodeFloat32LE(values), nil
	case EncodingFloat64LE:
		b := make([]byte, len(values)*8)
		for i, v := range values {
			binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(float64(v)))
		}
		return b, nil
	case EncodingJSON:
		b, err := json.Marshal(values)
		if err != nil {
			return nil, fmt.Errorf("encode embedding: %w", err)
		}
		return b, nil
	case EncodingBase64:
		return []byte(base64.StdEncoding.EncodeToString(encodeFloat32LE(values))), nil
	case EncodingPgvector:
		v := pgvector.NewVector(values)
		return []byte(v.String()), nil
	default:
		return nil, fmt.Errorf("encode embedding: unknown encoding %q", enc)
	}
}

func encodeFloat32LE(values []float32) []byte {
	b := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeFloat32LE(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(b))
	}
	values := make([]float32, len(b)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return values, nil
}

func decodeFloat64LE(b []byte) ([]float32, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 8", len(b))
	}
	values := make([]float32, len(b)/8)
	for i := range values {
		values[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:])))
	}
	return values, nil
}

func narrow(f []float64) []float32 {
	values := make([]float32, len(f))
	for i, v := range f {
		values[i] = float32(v)
	}
	return values
}

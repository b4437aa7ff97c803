package facematch

import (
	"errors"
	"math"
	"testing"
)

func TestEncodeDecode_AllEncodings(t *testing.T) {
	values := []float32{0.125, -1.5, 3.25, 0, 42}
	encodings := []Encoding{EncodingFloat32LE, EncodingFloat64LE, EncodingJSON, EncodingBase64, EncodingPgvector}

	for _, enc := range encodings {
		t.Run(string(enc), func(t *testing.T) {
			raw, err := EncodeEmbedding(values, enc)
			if err != nil {
				t.Fatalf("EncodeEmbedding error: %v", err)
			}
			got, err := DecodeEmbedding(raw, enc)
			if err != nil {
				t.Fatalf("DecodeEmbedding error: %v", err)
			}
			if len(got) != len(values) {
				t.Fatalf("decoded %d values, want %d", len(got), len(values))
			}
			for i := range values {
				if math.Abs(float64(got[i]-values[i])) > 1e-6 {
					t.Errorf("value[%d] = %v, want %v", i, got[i], values[i])
				}
			}
		})
	}
}

func TestDecodeEmbedding_Malformed(t *testing.T) {
	nan := math.Float32bits(float32(math.NaN()))
	tests := []struct {
		name string
		raw  []byte
		hint Encoding
	}{
		{"empty", nil, EncodingFloat32LE},
		{"truncated float32", []byte{1, 2, 3}, EncodingFloat32LE},
		{"truncated float64", []byte{1, 2, 3, 4}, EncodingFloat64LE},
		{"bad json", []byte("[1, 2,"), EncodingJSON},
		{"empty json array", []byte("[]"), EncodingJSON},
		{"bad base64", []byte("!!!not base64"), EncodingBase64},
		{"bad pgvector", []byte("[a,b]"), EncodingPgvector},
		{"unknown hint", []byte{0, 0, 0, 0}, Encoding("pickle")},
		{"nan value", []byte{byte(nan), byte(nan >> 8), byte(nan >> 16), byte(nan >> 24)}, EncodingFloat32LE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEmbedding(tt.raw, tt.hint)
			if !errors.Is(err, ErrMalformedEntry) {
				t.Errorf("DecodeEmbedding(%q) error = %v, want ErrMalformedEntry", tt.name, err)
			}
		})
	}
}

func TestParseEncoding(t *testing.T) {
	if _, err := ParseEncoding("float32le"); err != nil {
		t.Errorf("ParseEncoding(float32le) error: %v", err)
	}
	if _, err := ParseEncoding("hex"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestGalleryEntry_Decode(t *testing.T) {
	emb := NewEmbedding(KindAccurate, []float32{1, 2, 3})
	entry, err := NewGalleryEntry(7, emb, "photo_1.jpg")
	if err != nil {
		t.Fatalf("NewGalleryEntry error: %v", err)
	}
	if entry.Encoding != EncodingFloat32LE {
		t.Errorf("Encoding = %q, want %q", entry.Encoding, EncodingFloat32LE)
	}

	got, err := entry.Decode()
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if got.Kind != KindAccurate || got.Dim() != 3 {
		t.Errorf("Decode() = %+v, want accurate 3-d embedding", got)
	}
}

package vectors

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestNPZRoundTrip(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	payload, err := encodeNPZ(data, 2, 3)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, rows, dim, err := decodeNPZ(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rows != 2 || dim != 3 {
		t.Fatalf("shape = (%d, %d), want (2, 3)", rows, dim)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("data[%d] = %v, want %v", i, got[i], data[i])
		}
	}
}

func TestNPZEmptyMatrix(t *testing.T) {
	payload, err := encodeNPZ(nil, 0, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, rows, dim, err := decodeNPZ(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rows != 0 || dim != 0 || len(got) != 0 {
		t.Fatalf("shape = (%d, %d) len %d", rows, dim, len(got))
	}
}

func TestNPYHeaderAlignment(t *testing.T) {
	npy, err := encodeNPY([]float32{1}, 1, 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	headerLen := int(binary.LittleEndian.Uint16(npy[8:10]))
	if (10+headerLen)%64 != 0 {
		t.Fatalf("data offset %d not 64-aligned", 10+headerLen)
	}
	if npy[10+headerLen-1] != '\n' {
		t.Fatal("header not newline-terminated")
	}
	if !bytes.HasPrefix(npy, npyMagic) {
		t.Fatal("missing magic")
	}
}

func TestDecodeNPYFloat64(t *testing.T) {
	// Hand-build a float64 record the way numpy would write it.
	header := "{'descr': '<f8', 'fortran_order': False, 'shape': (1, 2), }"
	pad := (64 - (10+len(header)+1)%64) % 64
	for i := 0; i < pad; i++ {
		header += " "
	}
	header += "\n"

	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.WriteByte(1)
	buf.WriteByte(0)
	var hlen [2]byte
	binary.LittleEndian.PutUint16(hlen[:], uint16(len(header)))
	buf.Write(hlen[:])
	buf.WriteString(header)
	for _, v := range []float64{0.5, -1.25} {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		buf.Write(b[:])
	}

	data, rows, dim, err := decodeNPY(buf.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rows != 1 || dim != 2 {
		t.Fatalf("shape = (%d, %d)", rows, dim)
	}
	if data[0] != 0.5 || data[1] != -1.25 {
		t.Fatalf("data = %v", data)
	}
}

func TestDecodeNPYRejectsGarbage(t *testing.T) {
	if _, _, _, err := decodeNPY([]byte("not numpy at all")); err == nil {
		t.Fatal("expected error for bad magic")
	}

	payload, err := encodeNPZ([]float32{1, 2, 3, 4}, 2, 2)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, _, _, err := decodeNPZ(payload[:len(payload)/2]); err == nil {
		t.Fatal("expected error for truncated archive")
	}
}

package binaryserializer

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
)

func TestRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := PutUint8(buf, 7); err != nil {
		t.Fatalf("TestRoundTrip: PutUint8: %s", err)
	}
	if err := PutUint32(buf, 0xdeadbeef); err != nil {
		t.Fatalf("TestRoundTrip: PutUint32: %s", err)
	}
	if err := PutInt64(buf, -42); err != nil {
		t.Fatalf("TestRoundTrip: PutInt64: %s", err)
	}
	if err := PutString(buf, "genesis"); err != nil {
		t.Fatalf("TestRoundTrip: PutString: %s", err)
	}
	if err := PutVarBytes(buf, nil); err != nil {
		t.Fatalf("TestRoundTrip: PutVarBytes: %s", err)
	}

	r := bytes.NewReader(buf.Bytes())
	u8, err := Uint8(r)
	if err != nil || u8 != 7 {
		t.Fatalf("TestRoundTrip: Uint8: got %d, %v", u8, err)
	}
	u32, err := Uint32(r)
	if err != nil || u32 != 0xdeadbeef {
		t.Fatalf("TestRoundTrip: Uint32: got %x, %v", u32, err)
	}
	i64, err := Int64(r)
	if err != nil || i64 != -42 {
		t.Fatalf("TestRoundTrip: Int64: got %d, %v", i64, err)
	}
	s, err := String(r)
	if err != nil || s != "genesis" {
		t.Fatalf("TestRoundTrip: String: got %q, %v", s, err)
	}
	empty, err := VarBytes(r)
	if err != nil || empty != nil {
		t.Fatalf("TestRoundTrip: VarBytes: got %v, %v", empty, err)
	}
	if _, err := Uint8(r); !errors.Is(err, io.EOF) {
		t.Fatalf("TestRoundTrip: expected EOF, got %v", err)
	}
}

func TestVarBytesTooLong(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := PutUint32(buf, MaxVarBytesLength+1); err != nil {
		t.Fatalf("TestVarBytesTooLong: PutUint32: %s", err)
	}
	if _, err := VarBytes(buf); err == nil {
		t.Fatalf("TestVarBytesTooLong: expected an error")
	}
}

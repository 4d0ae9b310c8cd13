package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeSimpleRoundTrip(t *testing.T) {
	data := []byte("note.txt")
	encoded := EncodeSimple("GET", 7, data)

	decoded, err := DecodeSimple(encoded)
	if err != nil {
		t.Fatalf("DecodeSimple: %v", err)
	}
	if decoded.Seq != 7 {
		t.Errorf("Seq = %d, want 7", decoded.Seq)
	}
	if !bytes.Equal(decoded.Data, data) {
		t.Errorf("Data = %q, want %q", decoded.Data, data)
	}
	if !CommandEqual(decoded.Cmd, "GET") {
		t.Errorf("expected command tag GET")
	}

	reencoded := EncodeSimple("GET", decoded.Seq, decoded.Data)
	if !bytes.Equal(reencoded, encoded) {
		t.Errorf("encode(decode(d)) != d")
	}
}

func TestEncodeDecodeComplexRoundTrip(t *testing.T) {
	data := []byte("239.10.11.12")
	encoded := EncodeComplex("GOOD_DAY", 7, 100, data)

	decoded, err := DecodeComplex(encoded)
	if err != nil {
		t.Fatalf("DecodeComplex: %v", err)
	}
	if decoded.Param != 100 {
		t.Errorf("Param = %d, want 100", decoded.Param)
	}
	if !bytes.Equal(decoded.Data, data) {
		t.Errorf("Data = %q, want %q", decoded.Data, data)
	}

	reencoded := EncodeComplex("GOOD_DAY", decoded.Seq, decoded.Param, decoded.Data)
	if !bytes.Equal(reencoded, encoded) {
		t.Errorf("encode(decode(d)) != d")
	}
}

func TestDecodeSimpleTooShort(t *testing.T) {
	if _, err := DecodeSimple(make([]byte, SimplePrefixLen-1)); err != ErrTooShort {
		t.Errorf("expected ErrTooShort, got %v", err)
	}
}

func TestDecodeComplexTooShort(t *testing.T) {
	if _, err := DecodeComplex(make([]byte, ComplexPrefixLen-1)); err != ErrTooShort {
		t.Errorf("expected ErrTooShort, got %v", err)
	}
}

func TestCommandEqualPrefixAndNulTail(t *testing.T) {
	var field CmdField
	copy(field[:], "GET")
	if !CommandEqual(field, "GET") {
		t.Errorf("GET should equal GET")
	}
	if CommandEqual(field, "GE") {
		t.Errorf("prefix of the literal must not match")
	}

	var dirty CmdField
	copy(dirty[:], "GETX")
	if CommandEqual(dirty, "GET") {
		t.Errorf("non-NUL trailing byte must not match")
	}

	if CommandEqual(field, "get") {
		t.Errorf("comparison must be case sensitive")
	}
}

func TestHelloEmptyDataRoundTrip(t *testing.T) {
	encoded := EncodeSimple("HELLO", 42, nil)
	decoded, err := DecodeSimple(encoded)
	if err != nil {
		t.Fatalf("DecodeSimple: %v", err)
	}
	if len(decoded.Data) != 0 {
		t.Errorf("expected empty data, got %q", decoded.Data)
	}
	if decoded.Seq != 42 {
		t.Errorf("Seq = %d, want 42", decoded.Seq)
	}
}

func TestMaxDataLenConstants(t *testing.T) {
	if MaxSimplDataLen != MaxSimpl-18 {
		t.Errorf("MaxSimplDataLen = %d, want %d", MaxSimplDataLen, MaxSimpl-18)
	}
	if MaxCmplxDataLen != MaxSimpl-26 {
		t.Errorf("MaxCmplxDataLen = %d, want %d", MaxCmplxDataLen, MaxSimpl-26)
	}
}

package thriftproxy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"
)

func strictCallFrame(name string, typ byte, seq int32, payload []byte) []byte {
	var buf bytes.Buffer
	var word [4]byte
	binary.BigEndian.PutUint32(word[:], strictVersion1|uint32(typ))
	buf.Write(word[:])
	binary.BigEndian.PutUint32(word[:], uint32(len(name)))
	buf.Write(word[:])
	buf.WriteString(name)
	binary.BigEndian.PutUint32(word[:], uint32(seq))
	buf.Write(word[:])
	buf.Write(payload)
	return buf.Bytes()
}

func laxCallFrame(name string, typ byte, seq int32, payload []byte) []byte {
	var buf bytes.Buffer
	var word [4]byte
	binary.BigEndian.PutUint32(word[:], uint32(len(name)))
	buf.Write(word[:])
	buf.WriteString(name)
	buf.WriteByte(typ)
	binary.BigEndian.PutUint32(word[:], uint32(seq))
	buf.Write(word[:])
	buf.Write(payload)
	return buf.Bytes()
}

// TestDecodeStrictHeader tests the strict header layout.
func TestDecodeStrictHeader(t *testing.T) {
	frame := strictCallFrame("getUser", TypeCall, 7, []byte{0x00})
	msg, err := DecodeHeader(frame)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if msg.Name != "getUser" || msg.Type != TypeCall || msg.SeqID != 7 {
		t.Errorf("decoded %q/%d/%d", msg.Name, msg.Type, msg.SeqID)
	}
	if !bytes.Equal(msg.Frame, frame) {
		t.Error("frame bytes must be preserved verbatim")
	}
}

// TestDecodeLaxHeader tests the pre-strict header layout.
func TestDecodeLaxHeader(t *testing.T) {
	frame := laxCallFrame("ping", TypeOneway, 99, nil)
	msg, err := DecodeHeader(frame)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if msg.Name != "ping" || !msg.Oneway() || msg.SeqID != 99 {
		t.Errorf("decoded %q/%d/%d", msg.Name, msg.Type, msg.SeqID)
	}
}

// TestFrameRoundTrip tests framing: write then read returns the payload
// byte-identical.
func TestFrameRoundTrip(t *testing.T) {
	payload := strictCallFrame("echo", TypeCall, 1, []byte{1, 2, 3, 4, 5})

	var wire bytes.Buffer
	if err := WriteFrame(&wire, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(bufio.NewReader(&wire), 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload changed across framing")
	}
}

// TestFrameTooLarge tests the frame size guard.
func TestFrameTooLarge(t *testing.T) {
	var wire bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 1<<30)
	wire.Write(lenBuf[:])

	if _, err := ReadFrame(bufio.NewReader(&wire), 1<<20); err != ErrFrameTooLarge {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

// TestEncodeException tests that a generated exception decodes with the
// original name and sequence id preserved.
func TestEncodeException(t *testing.T) {
	frame := EncodeException("getUser", 41, ExcInternalError, "UPSTREAM_CONNECT")
	msg, err := DecodeHeader(frame)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if msg.Type != TypeException {
		t.Errorf("expected exception type, got %d", msg.Type)
	}
	if msg.Name != "getUser" || msg.SeqID != 41 {
		t.Errorf("name/seq not preserved: %q/%d", msg.Name, msg.SeqID)
	}
}

// TestDecodeHeaderRejectsGarbage tests malformed headers.
func TestDecodeHeaderRejectsGarbage(t *testing.T) {
	cases := [][]byte{
		nil,
		{0x01},
		{0x80, 0x02, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 'x'}, // bad version
		{0x00, 0x00, 0x00, 0x10},                              // name length past end
	}
	for i, frame := range cases {
		if _, err := DecodeHeader(frame); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

// Package thriftproxy implements the framed-binary Thrift data path: the
// per-message server loop, header decoding, and the pooled upstream
// client. Payloads are opaque past the message header and are forwarded
// byte-identical; Thrift has no hop-by-hop fields.
package thriftproxy

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Message Format (framed transport, binary protocol):
//
// +--------+--------+--------+--------+---------------------------------+
// | FrameLen (4 bytes, big endian)    | Payload (FrameLen bytes)        |
// +--------+--------+--------+--------+---------------------------------+
//
// Strict payload header:
// +--------+--------+--------+--------+----------------+------+---------+
// | 0x8001 | Rsvd   | Type   | NameLen (4 bytes)       | Name | SeqID   |
// +--------+--------+--------+--------+----------------+------+---------+
//
// Lax (pre-strict) payload header: NameLen, Name, Type (1 byte), SeqID.

// Message types.
const (
	TypeCall      byte = 1
	TypeReply     byte = 2
	TypeException byte = 3
	TypeOneway    byte = 4
)

const (
	// DefaultMaxFrameSize bounds accepted frames.
	DefaultMaxFrameSize = 16 << 20

	strictVersionMask = 0xffff0000
	strictVersion1    = 0x80010000
)

var (
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
	ErrInvalidHeader  = errors.New("invalid thrift message header")
	ErrUnknownVersion = errors.New("unsupported thrift protocol version")
)

// Message is one decoded framed message. Frame holds the full payload
// exactly as read; forwarding writes it back unchanged.
type Message struct {
	Name  string
	Type  byte
	SeqID int32
	Frame []byte
}

// Oneway reports whether the message expects no reply.
func (m *Message) Oneway() bool { return m.Type == TypeOneway }

// TypeName returns the human name of the message type.
func (m *Message) TypeName() string {
	switch m.Type {
	case TypeCall:
		return "call"
	case TypeReply:
		return "reply"
	case TypeException:
		return "exception"
	case TypeOneway:
		return "oneway"
	default:
		return fmt.Sprintf("unknown(%d)", m.Type)
	}
}

// ReadFrame reads one length-prefixed frame. maxSize guards the length
// prefix; 0 applies the default.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if int(size) > maxSize {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, frame []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}

// ReadMessage reads and decodes the next message from a framed stream.
func ReadMessage(br *bufio.Reader, maxSize int) (*Message, error) {
	frame, err := ReadFrame(br, maxSize)
	if err != nil {
		return nil, err
	}
	return DecodeHeader(frame)
}

// DecodeHeader parses the binary-protocol message header out of a frame.
// Both the strict and the pre-strict header layouts are accepted.
func DecodeHeader(frame []byte) (*Message, error) {
	if len(frame) < 4 {
		return nil, ErrInvalidHeader
	}
	first := binary.BigEndian.Uint32(frame[0:4])

	if first&0x80000000 != 0 {
		// Strict: version word, then name, then sequence id.
		if first&strictVersionMask != strictVersion1 {
			return nil, ErrUnknownVersion
		}
		typ := byte(first & 0xff)
		name, rest, err := readString(frame[4:])
		if err != nil {
			return nil, err
		}
		if len(rest) < 4 {
			return nil, ErrInvalidHeader
		}
		seq := int32(binary.BigEndian.Uint32(rest[:4]))
		return &Message{Name: name, Type: typ, SeqID: seq, Frame: frame}, nil
	}

	// Lax: name, then type byte, then sequence id.
	name, rest, err := readString(frame)
	if err != nil {
		return nil, err
	}
	if len(rest) < 5 {
		return nil, ErrInvalidHeader
	}
	typ := rest[0]
	seq := int32(binary.BigEndian.Uint32(rest[1:5]))
	return &Message{Name: name, Type: typ, SeqID: seq, Frame: frame}, nil
}

func readString(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, ErrInvalidHeader
	}
	n := int32(binary.BigEndian.Uint32(buf[0:4]))
	if n < 0 || int(n) > len(buf)-4 {
		return "", nil, ErrInvalidHeader
	}
	return string(buf[4 : 4+n]), buf[4+n:], nil
}

// EncodeException builds a strict-header exception frame answering the
// given call: a TApplicationException struct carrying message and type,
// with the original sequence id preserved.
func EncodeException(name string, seqID int32, excType int32, text string) []byte {
	buf := make([]byte, 0, 64+len(name)+len(text))

	var word [4]byte
	binary.BigEndian.PutUint32(word[:], strictVersion1|uint32(TypeException))
	buf = append(buf, word[:]...)
	buf = appendString(buf, name)
	binary.BigEndian.PutUint32(word[:], uint32(seqID))
	buf = append(buf, word[:]...)

	// TApplicationException: field 1 (string message), field 2 (i32 type).
	buf = append(buf, 0x0b, 0x00, 0x01)
	buf = appendString(buf, text)
	buf = append(buf, 0x08, 0x00, 0x02)
	binary.BigEndian.PutUint32(word[:], uint32(excType))
	buf = append(buf, word[:]...)
	buf = append(buf, 0x00) // stop

	return buf
}

// TApplicationException type codes used by the proxy.
const (
	ExcUnknown       int32 = 0
	ExcUnknownMethod int32 = 1
	ExcInternalError int32 = 6
	ExcProtocolError int32 = 7
)

func appendString(buf []byte, s string) []byte {
	var word [4]byte
	binary.BigEndian.PutUint32(word[:], uint32(len(s)))
	buf = append(buf, word[:]...)
	return append(buf, s...)
}

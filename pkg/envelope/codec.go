package envelope

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

const (
	// HeaderSize is the size of the length prefix.
	HeaderSize = 4

	// MaxStringLen is the largest string field the wire format can carry.
	MaxStringLen = math.MaxUint16

	// MinBodySize is the body size of an envelope with all strings empty.
	MinBodySize = 1 + 3*2 + 3*4

	// MaxBodySize is the body size of an envelope with all strings at
	// MaxStringLen.
	MaxBodySize = MinBodySize + 3*MaxStringLen
)

// Size returns the encoded frame size of e, header included. It does not
// validate e.
func Size(e Envelope) int {
	return HeaderSize + MinBodySize + len(e.Message) + len(e.IPAddress) + len(e.ProtocolType)
}

// Encode returns the framed wire form of e.
func Encode(e Envelope) ([]byte, error) {
	if err := validate(e); err != nil {
		return nil, err
	}
	return appendFrame(make([]byte, 0, Size(e)), e), nil
}

// AppendEncode appends the framed wire form of e to dst. On error dst is
// returned unchanged.
func AppendEncode(dst []byte, e Envelope) ([]byte, error) {
	if err := validate(e); err != nil {
		return dst, err
	}
	return appendFrame(dst, e), nil
}

func validate(e Envelope) error {
	if !e.Kind.Known() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, e.Kind)
	}
	for _, f := range [...]struct{ name, v string }{
		{"message", e.Message},
		{"ipAddress", e.IPAddress},
		{"protocolType", e.ProtocolType},
	} {
		if len(f.v) > MaxStringLen {
			return fmt.Errorf("%w: %s is %d bytes", ErrFieldTooLong, f.name, len(f.v))
		}
		if !utf8.ValidString(f.v) {
			return fmt.Errorf("%w: %s", ErrInvalidUTF8, f.name)
		}
	}
	return nil
}

func appendFrame(dst []byte, e Envelope) []byte {
	body := Size(e) - HeaderSize
	dst = binary.BigEndian.AppendUint32(dst, uint32(body))
	dst = append(dst, byte(e.Kind))
	dst = appendString(dst, e.Message)
	dst = appendString(dst, e.IPAddress)
	dst = binary.BigEndian.AppendUint32(dst, uint32(e.Port))
	dst = binary.BigEndian.AppendUint32(dst, e.BytesReceived)
	dst = binary.BigEndian.AppendUint32(dst, e.BytesSent)
	dst = appendString(dst, e.ProtocolType)
	return dst
}

func appendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

// Decode decodes exactly one frame that must occupy all of b.
func Decode(b []byte) (Envelope, error) {
	e, n, err := DecodeFrame(b)
	if err != nil {
		return Envelope{}, err
	}
	if n != len(b) {
		return Envelope{}, malformed("%d bytes after frame", len(b)-n)
	}
	return e, nil
}

// DecodeFrame decodes the first frame in b and reports how many bytes it
// occupied. A *DecodeError with Reason Truncated means b holds a valid
// prefix of a frame.
func DecodeFrame(b []byte) (Envelope, int, error) {
	if len(b) < HeaderSize {
		return Envelope{}, 0, truncated("have %d of %d header bytes", len(b), HeaderSize)
	}
	n := binary.BigEndian.Uint32(b)
	if n < MinBodySize {
		return Envelope{}, 0, malformed("body length %d below minimum %d", n, MinBodySize)
	}
	if n > MaxBodySize {
		return Envelope{}, 0, malformed("body length %d above maximum %d", n, MaxBodySize)
	}
	total := HeaderSize + int(n)
	if len(b) < total {
		return Envelope{}, 0, truncated("have %d of %d frame bytes", len(b), total)
	}
	e, err := decodeBody(b[HeaderSize:total])
	if err != nil {
		return Envelope{}, 0, err
	}
	return e, total, nil
}

type bodyReader struct {
	b   []byte
	off int
}

func (r *bodyReader) u8() (uint8, error) {
	if r.off+1 > len(r.b) {
		return 0, malformed("body ends inside a u8 at offset %d", r.off)
	}
	v := r.b[r.off]
	r.off++
	return v, nil
}

func (r *bodyReader) u32() (uint32, error) {
	if r.off+4 > len(r.b) {
		return 0, malformed("body ends inside a u32 at offset %d", r.off)
	}
	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *bodyReader) str(name string) (string, error) {
	if r.off+2 > len(r.b) {
		return "", malformed("body ends inside %s length", name)
	}
	n := int(binary.BigEndian.Uint16(r.b[r.off:]))
	r.off += 2
	if r.off+n > len(r.b) {
		return "", malformed("%s length %d overruns body", name, n)
	}
	s := r.b[r.off : r.off+n]
	r.off += n
	if !utf8.Valid(s) {
		return "", malformed("%s is not valid UTF-8", name)
	}
	return string(s), nil
}

func decodeBody(b []byte) (Envelope, error) {
	r := &bodyReader{b: b}
	var e Envelope

	kind, err := r.u8()
	if err != nil {
		return Envelope{}, err
	}
	e.Kind = RequestKind(kind)
	if !e.Kind.Known() {
		return Envelope{}, malformed("unknown kind tag %d", kind)
	}
	if e.Message, err = r.str("message"); err != nil {
		return Envelope{}, err
	}
	if e.IPAddress, err = r.str("ipAddress"); err != nil {
		return Envelope{}, err
	}
	port, err := r.u32()
	if err != nil {
		return Envelope{}, err
	}
	if port > math.MaxUint16 {
		return Envelope{}, malformed("port %d out of range", port)
	}
	e.Port = uint16(port)
	if e.BytesReceived, err = r.u32(); err != nil {
		return Envelope{}, err
	}
	if e.BytesSent, err = r.u32(); err != nil {
		return Envelope{}, err
	}
	if e.ProtocolType, err = r.str("protocolType"); err != nil {
		return Envelope{}, err
	}
	if r.off != len(b) {
		return Envelope{}, malformed("%d trailing bytes in body", len(b)-r.off)
	}
	return e, nil
}

package envelope

import "sync"

// Frame buffer pools for common encoded sizes. Only buffers obtained from
// GetBuffer are returned to a pool; others are dropped by PutBuffer.

const (
	bufSmall = 256
	bufMed   = 1024
	bufLarge = 4096
	bufXL    = 65536
)

var (
	poolSmall = sync.Pool{New: func() any { b := make([]byte, 0, bufSmall); return &b }}
	poolMed   = sync.Pool{New: func() any { b := make([]byte, 0, bufMed); return &b }}
	poolLarge = sync.Pool{New: func() any { b := make([]byte, 0, bufLarge); return &b }}
	poolXL    = sync.Pool{New: func() any { b := make([]byte, 0, bufXL); return &b }}
)

func poolFor(c int) *sync.Pool {
	switch c {
	case bufSmall:
		return &poolSmall
	case bufMed:
		return &poolMed
	case bufLarge:
		return &poolLarge
	case bufXL:
		return &poolXL
	}
	return nil
}

// GetBuffer returns an empty slice with capacity of at least n.
func GetBuffer(n int) []byte {
	var p *sync.Pool
	switch {
	case n <= bufSmall:
		p = &poolSmall
	case n <= bufMed:
		p = &poolMed
	case n <= bufLarge:
		p = &poolLarge
	case n <= bufXL:
		p = &poolXL
	default:
		return make([]byte, 0, n)
	}
	return (*p.Get().(*[]byte))[:0]
}

// PutBuffer returns b to its pool when it originated from GetBuffer.
func PutBuffer(b []byte) {
	p := poolFor(cap(b))
	if p == nil {
		return
	}
	b = b[:0]
	p.Put(&b)
}

// Pooled reports whether b has the capacity of a pooled buffer.
func Pooled(b []byte) bool {
	return poolFor(cap(b)) != nil
}

// EncodePooled encodes e into a pooled buffer. The caller returns the
// buffer with PutBuffer once it has been written.
func EncodePooled(e Envelope) ([]byte, error) {
	buf := GetBuffer(Size(e))
	out, err := AppendEncode(buf, e)
	if err != nil {
		PutBuffer(buf)
		return nil, err
	}
	return out, nil
}

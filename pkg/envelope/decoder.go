package envelope

import "errors"

// Decoder reassembles envelopes from a byte stream delivered in arbitrary
// chunks. It is not safe for concurrent use.
type Decoder struct {
	buf   []byte
	start int
	err   error
}

// Feed appends p to the decoder's buffer. p may be reused after Feed returns.
func (d *Decoder) Feed(p []byte) {
	if d.err != nil || len(p) == 0 {
		return
	}
	if d.start > 0 && d.start == len(d.buf) {
		d.buf = d.buf[:0]
		d.start = 0
	} else if d.start > 0 && d.start >= cap(d.buf)/2 {
		n := copy(d.buf, d.buf[d.start:])
		d.buf = d.buf[:n]
		d.start = 0
	}
	d.buf = append(d.buf, p...)
}

// Next returns the next complete envelope. A Truncated *DecodeError means
// more input is needed. After a Malformed error the decoder is unusable and
// Next keeps returning that error.
func (d *Decoder) Next() (Envelope, error) {
	if d.err != nil {
		return Envelope{}, d.err
	}
	e, n, err := DecodeFrame(d.buf[d.start:])
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			d.err = err
			d.buf = nil
			d.start = 0
		}
		return Envelope{}, err
	}
	d.start += n
	return e, nil
}

// Buffered returns the number of bytes fed but not yet consumed by Next.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.start
}

// Err returns the Malformed error that poisoned the decoder, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Reset discards all buffered bytes and clears a poisoned state.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.start = 0
	d.err = nil
}

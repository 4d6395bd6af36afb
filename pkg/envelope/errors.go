package envelope

import (
	"errors"
	"fmt"
)

// Encode errors. No bytes are produced when Encode fails.
var (
	ErrFieldTooLong = errors.New("envelope: string field exceeds 65535 bytes")
	ErrInvalidUTF8  = errors.New("envelope: string field is not valid UTF-8")
	ErrUnknownKind  = errors.New("envelope: unknown request kind")
)

// Decode error classes, matched with errors.Is against a *DecodeError.
var (
	// ErrTruncated means more bytes are needed. It is not fatal.
	ErrTruncated = errors.New("envelope: truncated frame")

	// ErrMalformed means the bytes can never form a valid envelope.
	ErrMalformed = errors.New("envelope: malformed frame")
)

// Reason classifies a decode failure.
type Reason uint8

const (
	Truncated Reason = iota + 1
	Malformed
)

func (r Reason) String() string {
	switch r {
	case Truncated:
		return "truncated"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("Reason(%d)", uint8(r))
	}
}

// DecodeError reports why a frame could not be decoded.
type DecodeError struct {
	Reason Reason
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return "envelope: " + e.Reason.String() + " frame"
	}
	return "envelope: " + e.Reason.String() + " frame: " + e.Detail
}

// Is makes errors.Is(err, ErrTruncated) and errors.Is(err, ErrMalformed) work.
func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrTruncated:
		return e.Reason == Truncated
	case ErrMalformed:
		return e.Reason == Malformed
	}
	return false
}

func truncated(format string, args ...interface{}) error {
	return &DecodeError{Reason: Truncated, Detail: fmt.Sprintf(format, args...)}
}

func malformed(format string, args ...interface{}) error {
	return &DecodeError{Reason: Malformed, Detail: fmt.Sprintf(format, args...)}
}

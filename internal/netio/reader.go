package netio

import (
	"errors"
	"io"
)

// ReadExact blocks until exactly length bytes have been read from r.
// It never returns a partial buffer: a clean close before the buffer is full
// yields ErrConnectionClosed, any other failure a *TransportError.
func ReadExact(r io.Reader, length int) ([]byte, error) {
	if length < 0 {
		return nil, &ProtocolError{Reason: "negative read length", Length: length}
	}
	buf := make([]byte, length)
	if err := ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadFull fills buf from r with the same guarantees as ReadExact.
func ReadFull(r io.Reader, buf []byte) error {
	offset := 0
	for offset < len(buf) {
		n, err := r.Read(buf[offset:])
		offset += n
		if offset == len(buf) {
			return nil
		}
		switch {
		case err == nil && n == 0:
			// A zero-length read without an error is how a peer close looks
			// on readers that do not report io.EOF.
			return ErrConnectionClosed
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return ErrConnectionClosed
		case err != nil:
			return &TransportError{Op: "read", Err: err}
		}
	}
	return nil
}

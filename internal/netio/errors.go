package netio

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrConnectionClosed is returned when the peer closes the stream before a
// read could be satisfied.
var ErrConnectionClosed = errors.New("connection closed by peer")

// TransportError wraps a socket-level failure (refused, reset, timed out, closed locally).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Code returns the OS error number behind the failure, or 0 when there is none.
func (e *TransportError) Code() syscall.Errno {
	var errno syscall.Errno
	if errors.As(e.Err, &errno) {
		return errno
	}
	return 0
}

func (e *TransportError) Timeout() bool {
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// ProtocolError reports a message that does not match the wire format.
type ProtocolError struct {
	Reason string
	Length int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s (length %d)", e.Reason, e.Length)
}

// DecodeError reports a failed compressed payload decode.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// BindError reports that a listening endpoint could not be opened.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// IsClosed reports whether err comes from a socket that was closed locally.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

package amserial

import "fmt"

// Code classifies an Error the way AMSerialErrorDomain does in the
// original Objective-C library: a small, closed set of reasons a port
// operation can fail.
type Code int

const (
	// CodeNone is the success sentinel; Errors never carry it.
	CodeNone Code = iota
	// CodeFatal covers an unrecoverable OS error: open/ioctl/tcsetattr/
	// read/write returned an unexpected errno.
	CodeFatal
	// CodeTimeout means a synchronous read's timeout budget ran out.
	CodeTimeout
	// CodeInternalBufferFull means accumulated read data exceeded
	// MaxBufferSize without a stop condition being reached.
	CodeInternalBufferFull
	// CodeNoDataToWrite means Write was called with a nil or empty buffer.
	CodeNoDataToWrite
	// CodeOnlySomeDataWritten means a write made partial progress before
	// a fatal errno.
	CodeOnlySomeDataWritten
)

func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeFatal:
		return "fatal"
	case CodeTimeout:
		return "timeout"
	case CodeInternalBufferFull:
		return "internal buffer full"
	case CodeNoDataToWrite:
		return "no data to write"
	case CodeOnlySomeDataWritten:
		return "only some data written"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error is the error type every operation in this package returns.
// It carries a Code plus, where known, the wrapped OS error.
type Error struct {
	Code Code
	msg  string
	err  error
	// N is the byte count relevant to the failure, when there is one:
	// bytes written for CodeOnlySomeDataWritten, bytes accumulated for
	// CodeInternalBufferFull.
	N int
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.msg != "" {
		msg = e.msg
	}
	if e.err != nil {
		return msg + ": " + e.err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.err
}

func newError(code Code, msg string, err error) *Error {
	return &Error{Code: code, msg: msg, err: err}
}

// ErrClosed is returned by any operation attempted on a closed Port.
var ErrClosed = newError(CodeFatal, "port already closed", nil)

// ErrAlreadyOwned is returned by Claim when the port has an owner.
var ErrAlreadyOwned = newError(CodeFatal, "port already owned", nil)

// ErrNotOwner is returned by Release when the supplied token does not
// match the current owner.
var ErrNotOwner = newError(CodeFatal, "release: token does not match owner", nil)

// ErrInvalidReadTimeout is returned when a read timeout is negative.
// The read timeout must always be finite and non-negative.
var ErrInvalidReadTimeout = newError(CodeFatal, "read timeout must be finite and non-negative", nil)

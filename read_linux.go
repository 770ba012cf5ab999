package amserial

import (
	"time"

	"golang.org/x/sys/unix"
)

// EndCode identifies which stop condition ended a synchronous read.
// EndCodeNone is returned alongside a non-nil error from Timeout or
// CodeInternalBufferFull, where no stop condition actually fired.
type EndCode int

const (
	EndCodeNone EndCode = iota - 1
	EndOfStream
	StopCharReached
	StopLengthReached
	StopLengthExceeded
)

func (e EndCode) String() string {
	switch e {
	case EndOfStream:
		return "end of stream"
	case StopCharReached:
		return "stop char reached"
	case StopLengthReached:
		return "stop length reached"
	case StopLengthExceeded:
		return "stop length exceeded"
	default:
		return "none"
	}
}

func fdZero(set *unix.FdSet) {
	for i := range set.Bits {
		set.Bits[i] = 0
	}
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

// waitReadable blocks until fd is readable or timeout elapses. A
// negative timeout means block indefinitely, matching the meaning of
// an unconfigured Port.readTimeout.
func waitReadable(fd int, timeout time.Duration) (bool, error) {
	var rfds unix.FdSet
	var tv *unix.Timeval
	for {
		fdZero(&rfds)
		fdSet(&rfds, fd)
		if timeout >= 0 {
			t := unix.NsecToTimeval(timeout.Nanoseconds())
			tv = &t
		} else {
			tv = nil
		}
		n, err := unix.Select(fd+1, &rfds, nil, nil, tv)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
}

// readLoop is the single internal read loop underlying every exported
// Read variant, parameterized over the three read modes (length,
// delimiter, both) plus the unrestricted "read whatever shows up
// before timeout" mode used when neither bound is set.
func (p *Port) readLoop(length int, hasLength bool, stopChar byte, hasStopChar bool) ([]byte, EndCode, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	fd, open := p.fdSnapshot()
	if !open {
		return nil, EndCodeNone, ErrClosed
	}
	timeout := p.ReadTimeout()

	acc := make([]byte, 0, MaxBufferSize)
	buf := make([]byte, MaxBufferSize)
	start := time.Now()

	for {
		waitTimeout := timeout
		if timeout >= 0 {
			waitTimeout = timeout - time.Since(start)
			if waitTimeout < 0 {
				waitTimeout = 0
			}
		}
		ready, err := waitReadable(fd, waitTimeout)
		if err != nil {
			return acc, EndCodeNone, newError(CodeFatal, "select", err)
		}
		if !ready {
			return acc, EndCodeNone, newError(CodeTimeout, "read timed out", nil)
		}

		readLen := MaxBufferSize - len(acc)
		if hasLength {
			if remaining := length - len(acc); remaining < readLen {
				readLen = remaining
			}
		}
		if readLen <= 0 {
			return acc, StopLengthReached, nil
		}
		n, err := unix.Read(fd, buf[:readLen])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return acc, EndCodeNone, newError(CodeFatal, "read", err)
		}
		if n == 0 {
			return acc, EndOfStream, nil
		}
		acc = append(acc, buf[:n]...)

		if hasStopChar && acc[len(acc)-1] == stopChar {
			return acc, StopCharReached, nil
		}
		if hasLength {
			switch {
			case len(acc) == length:
				return acc, StopLengthReached, nil
			case len(acc) > length:
				return acc, StopLengthExceeded, nil
			}
		}
		if len(acc) >= MaxBufferSize {
			e := newError(CodeInternalBufferFull, "internal buffer full", nil)
			e.N = len(acc)
			return acc, EndCodeNone, e
		}
	}
}

// Read accumulates whatever arrives before the port's read timeout
// elapses, with no length or delimiter bound (AMSerialPortAdditions'
// readAndReturnError:).
func (p *Port) Read() ([]byte, EndCode, error) {
	return p.readLoop(0, false, 0, false)
}

// ReadBytes reads exactly n bytes, or fewer on timeout/EOF/error.
func (p *Port) ReadBytes(n int) ([]byte, EndCode, error) {
	return p.readLoop(n, true, 0, false)
}

// ReadUpToChar reads until a chunk ends with stopChar. This is
// chunk-boundary framing, not first-occurrence: a stopChar that
// arrives mid-chunk alongside more data after it is not detected until
// the chunk that happens to end on it.
func (p *Port) ReadUpToChar(stopChar byte) ([]byte, EndCode, error) {
	return p.readLoop(0, false, stopChar, true)
}

// ReadBytesUpToChar reads until n bytes accumulate or a chunk ends with
// stopChar, whichever comes first.
func (p *Port) ReadBytesUpToChar(n int, stopChar byte) ([]byte, EndCode, error) {
	return p.readLoop(n, true, stopChar, true)
}

// BytesAvailable returns the number of bytes currently queued in the
// input buffer, or -1 on error. As AMSerialPortAdditions.h warns, this
// may be stale immediately after the call returns.
func (p *Port) BytesAvailable() int {
	fd, open := p.fdSnapshot()
	if !open {
		return -1
	}
	n, err := unix.IoctlGetInt(fd, unix.FIONREAD)
	if err != nil {
		return -1
	}
	return n
}

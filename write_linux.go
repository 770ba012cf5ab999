package amserial

import (
	"time"

	"golang.org/x/sys/unix"
)

// waitWritable blocks until fd is writable or timeout elapses. A
// negative timeout means block indefinitely. The port's descriptor is
// opened O_NONBLOCK, so a write that would otherwise fill the driver's
// output buffer returns EAGAIN immediately rather than blocking in the
// kernel; callers retry here instead.
func waitWritable(fd int, timeout time.Duration) (bool, error) {
	var wfds unix.FdSet
	var tv *unix.Timeval
	for {
		fdZero(&wfds)
		fdSet(&wfds, fd)
		if timeout >= 0 {
			t := unix.NsecToTimeval(timeout.Nanoseconds())
			tv = &t
		} else {
			tv = nil
		}
		n, err := unix.Select(fd+1, nil, &wfds, nil, tv)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
}

// Write sends data to the driver, blocking until every byte is
// accepted or an error occurs. Synchronous writes are not bounded by
// the read timeout. A nil or empty buffer fails with CodeNoDataToWrite
// without touching the descriptor.
func (p *Port) Write(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, newError(CodeNoDataToWrite, "write: no data to write", nil)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	fd, open := p.fdSnapshot()
	if !open {
		return 0, ErrClosed
	}

	sent := 0
	for sent < len(data) {
		n, err := unix.Write(fd, data[sent:])
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			if _, werr := waitWritable(fd, -1); werr != nil {
				return sent, newError(CodeFatal, "write: wait writable", werr)
			}
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if sent > 0 {
				e := newError(CodeOnlySomeDataWritten, "write: only some data written", err)
				e.N = sent
				return sent, e
			}
			return 0, newError(CodeFatal, "write", err)
		}
		sent += n
	}
	return sent, nil
}

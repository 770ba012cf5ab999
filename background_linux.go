package amserial

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// writeProgressThreshold is how long a background write runs before it
// starts posting progress events.
const writeProgressThreshold = 3 * time.Second

// writeProgressTick is how often progress posts once the threshold is
// crossed.
const writeProgressTick = 250 * time.Millisecond

// StartBackgroundRead spawns the single background reader allowed per
// port. Calling it again while one is already running is a no-op
// rather than an error.
func (p *Port) StartBackgroundRead() {
	if !atomic.CompareAndSwapInt32(&p.readers, 0, 1) {
		return
	}
	p.mu.Lock()
	stop := p.stopRead
	p.mu.Unlock()
	if stop == nil {
		atomic.StoreInt32(&p.readers, 0)
		return
	}
	go p.backgroundReadLoop(stop)
}

// StopBackgroundRead signals the background reader to exit. It does
// not block for the worker to actually stop; the worker checks the
// flag before each readiness wait, which is sliced to 500ms.
func (p *Port) StopBackgroundRead() {
	p.mu.Lock()
	stop := p.stopRead
	p.mu.Unlock()
	if stop != nil {
		closeOnce(stop)
	}
}

func (p *Port) backgroundReadLoop(stop chan struct{}) {
	defer atomic.StoreInt32(&p.readers, 0)
	buf := make([]byte, MaxBufferSize)
	for {
		select {
		case <-stop:
			return
		default:
		}
		fd, open := p.fdSnapshot()
		if !open {
			return
		}
		ready, err := waitReadableInterruptible(fd, 500*time.Millisecond, stop)
		if err != nil {
			logger().Printf("amserial: %s: background read: %v", p.bsdPath, err)
			p.postReadData(nil)
			return
		}
		if !ready {
			continue
		}
		p.readMu.Lock()
		n, err := unix.Read(fd, buf)
		p.readMu.Unlock()
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			logger().Printf("amserial: %s: background read: %v", p.bsdPath, err)
			p.postReadData(nil)
			return
		}
		if n == 0 {
			p.postReadData(nil)
			return
		}
		p.postReadData(buf[:n])
	}
}

// waitReadableInterruptible is waitReadable with an additional stop
// channel, polled via a bounded wait slice so the worker notices a stop
// request within one slice even during a long nominal timeout.
func waitReadableInterruptible(fd int, slice time.Duration, stop chan struct{}) (bool, error) {
	select {
	case <-stop:
		return false, nil
	default:
	}
	return waitReadable(fd, slice)
}

// waitWritableInterruptible is waitWritable with an additional stop
// channel, polled via a bounded wait slice so the worker notices a stop
// request within one slice even during a long nominal wait.
func waitWritableInterruptible(fd int, slice time.Duration, stop chan struct{}) (bool, error) {
	select {
	case <-stop:
		return false, nil
	default:
	}
	return waitWritable(fd, slice)
}

// StartBackgroundWrite spawns the single background writer allowed per
// port, handing it its own copy of data.
func (p *Port) StartBackgroundWrite(data []byte) {
	if !atomic.CompareAndSwapInt32(&p.writers, 0, 1) {
		return
	}
	p.mu.Lock()
	stop := p.stopWrite
	p.mu.Unlock()
	if stop == nil {
		atomic.StoreInt32(&p.writers, 0)
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	go p.backgroundWriteLoop(cp, stop)
}

// StopBackgroundWrite signals the background writer to exit between
// chunks.
func (p *Port) StopBackgroundWrite() {
	p.mu.Lock()
	stop := p.stopWrite
	p.mu.Unlock()
	if stop != nil {
		closeOnce(stop)
	}
}

// WriteWorkerCount reports the number of active background writers
// (0 or 1), primarily useful for shutdown orchestration across many
// ports.
func (p *Port) WriteWorkerCount() int {
	return int(atomic.LoadInt32(&p.writers))
}

func (p *Port) backgroundWriteLoop(data []byte, stop chan struct{}) {
	defer atomic.StoreInt32(&p.writers, 0)

	fd, open := p.fdSnapshot()
	if !open {
		return
	}

	const chunkSize = 1024
	total := len(data)
	sent := 0
	start := time.Now()
	reporting := false
	lastTick := start

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	for sent < total {
		select {
		case <-stop:
			return
		default:
		}
		end := sent + chunkSize
		if end > total {
			end = total
		}
		n, err := unix.Write(fd, data[sent:end])
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			if _, werr := waitWritableInterruptible(fd, 500*time.Millisecond, stop); werr != nil {
				logger().Printf("amserial: %s: background write: %v", p.bsdPath, werr)
				return
			}
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			logger().Printf("amserial: %s: background write: %v", p.bsdPath, err)
			return
		}
		sent += n

		now := time.Now()
		if !reporting && now.Sub(start) >= writeProgressThreshold {
			reporting = true
			lastTick = now
			p.postWriteProgress(sent, total)
		} else if reporting && now.Sub(lastTick) >= writeProgressTick {
			lastTick = now
			p.postWriteProgress(sent, total)
		}
	}
	if reporting {
		p.postWriteProgress(sent, total)
	}
}

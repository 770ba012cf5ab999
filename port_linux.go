package amserial

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// ServiceType is the closed set of IOKit-style service classes a
// PortRecord can report.
type ServiceType int

const (
	ServiceAllTypes ServiceType = iota
	ServiceModem
	ServiceRS232
)

func (t ServiceType) String() string {
	switch t {
	case ServiceModem:
		return "Modem"
	case ServiceRS232:
		return "RS232"
	default:
		return "AllTypes"
	}
}

// MaxBufferSize bounds every synchronous read's accumulated byte
// sequence, and the chunk size used by the background read worker.
const MaxBufferSize = 4096

// Port is the port handle and record. A single Port value covers
// identity, ownership, termios state, and the synchronous/background
// I/O methods, grouped by concern across sibling files rather than
// split by file-level category.
type Port struct {
	// Immutable identity.
	bsdPath     string
	serviceName string
	serviceType ServiceType
	properties  map[string]any

	// readMu, writeMu, closeMu separate the three concurrent paths:
	// a read in progress must never block behind a long write, and
	// vice versa; close coordinates with both.
	readMu  sync.Mutex
	writeMu sync.Mutex
	closeMu sync.Mutex

	mu       sync.Mutex // guards the remaining fields
	fd       int
	current  *Options
	original *Options
	owner    any
	lastErr  *Error
	readTimeout time.Duration

	stopRead  chan struct{}
	stopWrite chan struct{}
	readers   int32
	writers   int32

	delegate   Delegate
	dispatcher Dispatcher
}

// newPort constructs an unopened, unowned port record. Used by the
// registry; tests may also construct one directly against a PTY path.
func newPort(bsdPath, serviceName string, serviceType ServiceType) *Port {
	return &Port{
		bsdPath:     bsdPath,
		serviceName: serviceName,
		serviceType: serviceType,
		fd:          -1,
		// Block forever until SetReadTimeout is called. This sentinel
		// is intentionally outside the finite/non-negative range that
		// SetReadTimeout itself enforces; it marks "unset", not a
		// value a caller can choose.
		readTimeout: -1,
		dispatcher:  directDispatch,
	}
}

func (p *Port) BSDPath() string         { return p.bsdPath }
func (p *Port) ServiceName() string     { return p.serviceName }
func (p *Port) ServiceType() ServiceType { return p.serviceType }

// Properties returns a copy of whatever metadata the registry attached
// at discovery time.
func (p *Port) Properties() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]any, len(p.properties))
	for k, v := range p.properties {
		out[k] = v
	}
	return out
}

// TryClaim atomically sets the owner to token if the port is currently
// unowned. It is a social contract, not an I/O lock: it
// does not itself open the device.
func (p *Port) TryClaim(token any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.owner != nil {
		return false
	}
	p.owner = token
	return true
}

// Claim is TryClaim for callers that want ErrAlreadyOwned rather than
// a bare bool on failure.
func (p *Port) Claim(token any) error {
	if !p.TryClaim(token) {
		return ErrAlreadyOwned
	}
	return nil
}

// IsAvailable reports whether the port currently has no owner.
func (p *Port) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owner == nil
}

// Owner returns the current owner token, or nil.
func (p *Port) Owner() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owner
}

// Release closes the port if open and clears ownership, but only if
// token matches the current owner by identity. Release on an unclaimed
// port is a no-op, so repeated calls are safe. Tokens are compared with
// ==, so Release panics if token and owner share a dynamic type that
// is not comparable.
func (p *Port) Release(token any) error {
	p.mu.Lock()
	owner := p.owner
	p.mu.Unlock()
	if owner == nil {
		return nil
	}
	if owner != token {
		return ErrNotOwner
	}
	p.Close()
	p.mu.Lock()
	p.owner = nil
	p.mu.Unlock()
	return nil
}

// IsOpen reports whether the port currently holds a valid descriptor.
func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fd >= 0
}

// ReadTimeout returns the current blocking-read timeout budget.
func (p *Port) ReadTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readTimeout
}

// SetReadTimeout sets the blocking-read timeout budget. It must be
// finite and non-negative; a negative duration is rejected rather than
// reinterpreted as "block forever".
func (p *Port) SetReadTimeout(d time.Duration) error {
	if d < 0 {
		return ErrInvalidReadTimeout
	}
	p.mu.Lock()
	p.readTimeout = d
	p.mu.Unlock()
	return nil
}

// SetDelegate installs the weak back-reference used to post read and
// write-progress events. The Port never retains anything beyond this
// interface value; it is the caller's responsibility to clear it
// (SetDelegate(nil)) before the delegate itself becomes invalid.
func (p *Port) SetDelegate(d Delegate) {
	p.mu.Lock()
	p.delegate = d
	p.mu.Unlock()
}

// SetDispatcher overrides how delegate events are posted. The default
// dispatcher invokes the callback directly on the worker goroutine.
func (p *Port) SetDispatcher(d Dispatcher) {
	if d == nil {
		d = directDispatch
	}
	p.mu.Lock()
	p.dispatcher = d
	p.mu.Unlock()
}

// ErrorCode returns the Code of the last failure recorded by Open,
// OpenExclusive or CommitChanges, or CodeNone if none is recorded.
// ClearError and a successful CommitChanges both reset it.
func (p *Port) ErrorCode() Code {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastErr == nil {
		return CodeNone
	}
	return p.lastErr.Code
}

// ClearError resets ErrorCode to CodeNone. Call before a batch of
// Options changes whose outcome you intend to check afterward.
func (p *Port) ClearError() {
	p.mu.Lock()
	p.lastErr = nil
	p.mu.Unlock()
}

func (p *Port) setLastErr(err *Error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

// Open opens the device node with the given OS flags (in addition to
// O_NOCTTY, always supplied so the serial line never becomes this
// process's controlling terminal). See OpenExclusive for the
// TIOCEXCL-holding variant.
func (p *Port) Open(flags int) error {
	return p.open(flags, false)
}

// OpenExclusive opens the device and additionally acquires the OS-level
// exclusive-access advisory (TIOCEXCL), blocking other processes from
// opening the same device while it is held.
func (p *Port) OpenExclusive() error {
	return p.open(0, true)
}

func (p *Port) open(flags int, exclusive bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd >= 0 {
		return nil
	}
	fd, err := unix.Open(p.bsdPath, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|flags, 0)
	if err != nil {
		e := newError(CodeFatal, "open", err)
		p.lastErr = e
		return e
	}
	if exclusive {
		if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
			unix.Close(fd)
			e := newError(CodeFatal, "open exclusive", err)
			p.lastErr = e
			return e
		}
	}
	raw, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		e := newError(CodeFatal, "tcgetattr", err)
		p.lastErr = e
		return e
	}
	opts := &Options{raw: *raw}
	if speed, ok := speedFromFlag(raw.Cflag & unix.CBAUD); ok {
		opts.speed = speed
	} else {
		opts.speed = 9600
	}
	p.original = cloneOptions(opts)
	p.current = opts
	p.fd = fd
	p.stopRead = make(chan struct{})
	p.stopWrite = make(chan struct{})
	return nil
}

// fdSnapshot returns the current descriptor and whether the port is
// open, taking p.mu itself. The read/write paths call it once per call
// and use that snapshot from then on.
func (p *Port) fdSnapshot() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fd, p.fd >= 0
}

// Close drains output, reapplies the original options, releases the
// exclusive advisory, and closes the descriptor. It is idempotent and
// never fails visibly.
func (p *Port) Close() {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()

	p.mu.Lock()
	fd := p.fd
	stopRead := p.stopRead
	stopWrite := p.stopWrite
	original := p.original
	p.mu.Unlock()
	if fd < 0 {
		return
	}

	if stopRead != nil {
		closeOnce(stopRead)
	}
	if stopWrite != nil {
		closeOnce(stopWrite)
	}

	// Best effort: wait briefly for background workers to notice the
	// stop signal before closing out from under them.
	deadline := time.Now().Add(200 * time.Millisecond)
	for (p.readersActive() || p.writersActive()) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	_ = unix.IoctlSetInt(fd, unix.TCSBRK, 1) // tcdrain-equivalent: best effort
	if original != nil {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, &original.raw)
	}
	_ = unix.IoctlSetInt(fd, unix.TIOCNXCL, 0)
	unix.Close(fd)

	p.mu.Lock()
	p.fd = -1
	p.current = nil
	p.original = nil
	p.mu.Unlock()
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (p *Port) readersActive() bool {
	return atomic.LoadInt32(&p.readers) > 0
}

func (p *Port) writersActive() bool {
	return atomic.LoadInt32(&p.writers) > 0
}

// Options returns a fresh OptionsMapping sampled from the current
// termios state, opening the port first if it is closed.
func (p *Port) Options() (OptionsMapping, error) {
	if !p.IsOpen() {
		if err := p.Open(0); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	cur := p.current
	p.mu.Unlock()
	return cur.ToMapping(p.serviceName), nil
}

// SetOptions validates mapping's ServiceName, applies every recognized
// key to the in-memory snapshot, and performs a single commit if
// anything changed. If that commit fails, the snapshot reverts to what
// it was before the call.
func (p *Port) SetOptions(mapping OptionsMapping) error {
	p.mu.Lock()
	cur := p.current
	p.mu.Unlock()
	if cur == nil {
		return ErrClosed
	}
	next, changed, err := applyMapping(cur, mapping, p.serviceName)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.current = next
	p.mu.Unlock()
	if !changed {
		return nil
	}
	if !p.CommitChanges() {
		p.mu.Lock()
		p.current = cur
		p.mu.Unlock()
		return newError(p.ErrorCode(), "set options: commit failed", nil)
	}
	return nil
}

// CommitChanges applies the in-memory Options snapshot to the driver in
// a single ioctl, serialized against the write path because tcsetattr
// shares the control plane with write. It returns false on
// failure; ErrorCode() then reports why.
func (p *Port) CommitChanges() bool {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	fd := p.fd
	cur := p.current
	p.mu.Unlock()
	if fd < 0 || cur == nil {
		p.setLastErr(newError(CodeFatal, "commit changes", ErrClosed))
		return false
	}

	raw := cur.raw
	if flag, ok := standardSpeeds[cur.speed]; ok {
		raw.Cflag &^= unix.CBAUD
		raw.Cflag |= flag
	} else {
		p.setLastErr(newError(CodeFatal, "commit changes: unsupported speed", nil))
		return false
	}
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		p.setLastErr(newError(CodeFatal, "tcsetattr", err))
		return false
	}
	p.setLastErr(nil)
	return true
}

package amserial

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ModemLine is the TIOCM_* bit set reported by TIOCMGET and accepted by
// TIOCMSET/TIOCMBIS/TIOCMBIC.
type ModemLine int

const (
	ModemLineDTR = ModemLine(unix.TIOCM_DTR)
	ModemLineRTS = ModemLine(unix.TIOCM_RTS)
	ModemLineCTS = ModemLine(unix.TIOCM_CTS)
	ModemLineDSR = ModemLine(unix.TIOCM_DSR)
	ModemLineCD  = ModemLine(unix.TIOCM_CD)
	ModemLineRI  = ModemLine(unix.TIOCM_RI)
)

// GetModemLines reads the current state of the modem control lines.
func (p *Port) GetModemLines() (ModemLine, error) {
	fd, open := p.fdSnapshot()
	if !open {
		return 0, ErrClosed
	}
	var line int
	if err := ioctlPointer(fd, unix.TIOCMGET, unsafe.Pointer(&line)); err != nil {
		return 0, newError(CodeFatal, "get modem lines", err)
	}
	return ModemLine(line), nil
}

// SetModemLines overwrites every modem control line to match mask.
func (p *Port) SetModemLines(mask ModemLine) error {
	return p.controlModemLines(unix.TIOCMSET, mask)
}

// EnableModemLines asserts each line set in mask, leaving the rest
// untouched.
func (p *Port) EnableModemLines(mask ModemLine) error {
	return p.controlModemLines(unix.TIOCMBIS, mask)
}

// DisableModemLines clears each line set in mask, leaving the rest
// untouched.
func (p *Port) DisableModemLines(mask ModemLine) error {
	return p.controlModemLines(unix.TIOCMBIC, mask)
}

func (p *Port) controlModemLines(req uint, mask ModemLine) error {
	fd, open := p.fdSnapshot()
	if !open {
		return ErrClosed
	}
	line := int(mask)
	if err := ioctlPointer(fd, req, unsafe.Pointer(&line)); err != nil {
		return newError(CodeFatal, "set modem lines", err)
	}
	return nil
}

// SetDTR and ClearDTR are the common special case of EnableModemLines /
// DisableModemLines for the single DTR line.
func (p *Port) SetDTR() error   { return p.EnableModemLines(ModemLineDTR) }
func (p *Port) ClearDTR() error { return p.DisableModemLines(ModemLineDTR) }
func (p *Port) SetRTS() error   { return p.EnableModemLines(ModemLineRTS) }
func (p *Port) ClearRTS() error { return p.DisableModemLines(ModemLineRTS) }

// SendBreak sends a break condition for the driver's default duration
// (between 0.25 and 0.5 seconds per tcsendbreak(3), arg 0).
func (p *Port) SendBreak() error {
	fd, open := p.fdSnapshot()
	if !open {
		return ErrClosed
	}
	if err := unix.IoctlSetInt(fd, unix.TCSBRKP, 0); err != nil {
		return newError(CodeFatal, "send break", err)
	}
	return nil
}

// SendBreakFor holds the break condition for roughly d, using
// TIOCSBRK/TIOCCBRK to bracket an explicit sleep rather than relying on
// TCSBRKP's driver-dependent decisecond units.
func (p *Port) SendBreakFor(d time.Duration) error {
	fd, open := p.fdSnapshot()
	if !open {
		return ErrClosed
	}
	if err := unix.IoctlSetInt(fd, unix.TIOCSBRK, 0); err != nil {
		return newError(CodeFatal, "set break", err)
	}
	time.Sleep(d)
	if err := unix.IoctlSetInt(fd, unix.TIOCCBRK, 0); err != nil {
		return newError(CodeFatal, "clear break", err)
	}
	return nil
}

// Drain blocks until every byte written to the port has been
// transmitted by the driver (tcdrain(3) via TCSBRK arg 1).
func (p *Port) Drain() error {
	fd, open := p.fdSnapshot()
	if !open {
		return ErrClosed
	}
	if err := unix.IoctlSetInt(fd, unix.TCSBRK, 1); err != nil {
		return newError(CodeFatal, "drain", err)
	}
	return nil
}

// Flush discards queued data. At least one of in/out must be true.
func (p *Port) Flush(in, out bool) error {
	fd, open := p.fdSnapshot()
	if !open {
		return ErrClosed
	}
	var queue int
	switch {
	case in && out:
		queue = unix.TCIOFLUSH
	case in:
		queue = unix.TCIFLUSH
	case out:
		queue = unix.TCOFLUSH
	default:
		return nil
	}
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, queue); err != nil {
		return newError(CodeFatal, "flush", err)
	}
	return nil
}

// DrainInput discards unread input, equivalent to Flush(true, false).
// Kept as a dedicated method because it mirrors a single well-known
// AMSerialPort operation rather than the general two-axis Flush.
func (p *Port) DrainInput() error {
	return p.Flush(true, false)
}

// RS485Config mirrors struct serial_rs485 from <linux/serial.h>.
type RS485Config struct {
	Enabled          bool
	RTSOnSend        bool
	RTSAfterSend     bool
	RXDuringTX       bool
	TerminateBus     bool
	DelayRTSBeforeMS uint32
	DelayRTSAfterMS  uint32
}

// serialRS485 is the wire-compatible struct serial_rs485 layout: a
// flags word, two delay fields, and five reserved uint32 words that
// the kernel requires callers to zero.
type serialRS485 struct {
	flags            uint32
	delayRTSBeforeMS uint32
	delayRTSAfterMS  uint32
	padding          [5]uint32
}

const (
	serialRS485Enabled      = 1 << 0
	serialRS485RTSOnSend    = 1 << 1
	serialRS485RTSAfterSend = 1 << 2
	serialRS485RXDuringTX   = 1 << 4
	serialRS485TerminateBus = 1 << 5
)

// RS485 reads back the current RS485 transceiver-control configuration.
func (p *Port) RS485() (RS485Config, error) {
	fd, open := p.fdSnapshot()
	if !open {
		return RS485Config{}, ErrClosed
	}
	var raw serialRS485
	if err := ioctlPointer(fd, unix.TIOCGRS485, unsafe.Pointer(&raw)); err != nil {
		return RS485Config{}, newError(CodeFatal, "get rs485", err)
	}
	return RS485Config{
		Enabled:          raw.flags&serialRS485Enabled != 0,
		RTSOnSend:        raw.flags&serialRS485RTSOnSend != 0,
		RTSAfterSend:     raw.flags&serialRS485RTSAfterSend != 0,
		RXDuringTX:       raw.flags&serialRS485RXDuringTX != 0,
		TerminateBus:     raw.flags&serialRS485TerminateBus != 0,
		DelayRTSBeforeMS: raw.delayRTSBeforeMS,
		DelayRTSAfterMS:  raw.delayRTSAfterMS,
	}, nil
}

// SetRS485 applies cfg to the line driver. Returns an error on ports
// whose driver doesn't implement RS485 transceiver control at all.
func (p *Port) SetRS485(cfg RS485Config) error {
	fd, open := p.fdSnapshot()
	if !open {
		return ErrClosed
	}
	var raw serialRS485
	if cfg.Enabled {
		raw.flags |= serialRS485Enabled
	}
	if cfg.RTSOnSend {
		raw.flags |= serialRS485RTSOnSend
	}
	if cfg.RTSAfterSend {
		raw.flags |= serialRS485RTSAfterSend
	}
	if cfg.RXDuringTX {
		raw.flags |= serialRS485RXDuringTX
	}
	if cfg.TerminateBus {
		raw.flags |= serialRS485TerminateBus
	}
	raw.delayRTSBeforeMS = cfg.DelayRTSBeforeMS
	raw.delayRTSAfterMS = cfg.DelayRTSAfterMS
	if err := ioctlPointer(fd, unix.TIOCSRS485, unsafe.Pointer(&raw)); err != nil {
		return newError(CodeFatal, "set rs485", err)
	}
	return nil
}

// MakeRaw resets the in-memory Options snapshot to cfmakeraw(3)
// semantics. Call CommitChanges to apply it to the driver.
func (p *Port) MakeRaw() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return
	}
	p.current.MakeRaw()
}

// ioctlPointer issues a struct-carrying ioctl. golang.org/x/sys/unix
// only wraps the int- and Termios-shaped ioctls by name; everything
// else (TIOCMGET, TIOCGRS485, ...) goes through the raw syscall, same
// as every other struct ioctl in the package's own implementation.
func ioctlPointer(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

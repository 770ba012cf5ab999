package amserial

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Parity selects the line's parity mode.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// StopBits selects the number of stop bits per character.
type StopBits int

const (
	StopBitsOne StopBits = 1
	StopBitsTwo StopBits = 2
)

// Recognized keys for OptionsMapping, the external keyed form of a
// port's termios configuration.
const (
	KeyServiceName         = "ServiceName"
	KeySpeed               = "Speed"
	KeyDataBits            = "DataBits"
	KeyParity              = "Parity"
	KeyStopBits            = "StopBits"
	KeyInputFlowControl    = "InputFlowControl"
	KeyOutputFlowControl   = "OutputFlowControl"
	KeySignals             = "Signals"
	KeyCanonicalMode       = "CanonicalMode"
	KeyEcho                = "Echo"
	KeyEchoErase           = "EchoErase"
	KeySoftwareFlowControl = "SoftwareFlowControl"
	KeyRemoteEcho          = "RemoteEcho"
	KeyEndOfLineCharacter  = "EndOfLineCharacter"
	KeyStartCharacter      = "StartCharacter"
	KeyStopCharacter       = "StopCharacter"
)

// Flow-control flag names used inside the InputFlowControl and
// OutputFlowControl sets of an OptionsMapping.
const (
	FlowRTS = "RTS"
	FlowDTR = "DTR"
	FlowCTS = "CTS"
	FlowDSR = "DSR"
	FlowCAR = "CAR"
)

// standardSpeeds maps a baud rate to the termios B-constant. Only the
// speeds the driver can natively select appear here; CommitChanges
// rejects anything else with CodeFatal rather than rounding to the
// nearest supported rate.
var standardSpeeds = map[int]uint32{
	50:      unix.B50,
	75:      unix.B75,
	110:     unix.B110,
	134:     unix.B134,
	150:     unix.B150,
	200:     unix.B200,
	300:     unix.B300,
	600:     unix.B600,
	1200:    unix.B1200,
	1800:    unix.B1800,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	2000000: unix.B2000000,
}

func speedFromFlag(flag uint32) (int, bool) {
	for speed, f := range standardSpeeds {
		if f == flag {
			return speed, true
		}
	}
	return 0, false
}

// Options is the in-memory, termios-shaped configuration of a Port. It
// mirrors struct termios plus the handful of derived booleans
// AMSerialPort.h exposes as named accessors. Setters here only ever
// mutate this in-memory snapshot; Port.CommitChanges is what applies it
// to the driver.
type Options struct {
	raw unix.Termios

	speed int
	soft  softFlow
}

// defaultOptions returns a conservative 9600 8N1 starting point, used
// only until a real snapshot is captured from an opened device.
func defaultOptions() *Options {
	o := &Options{speed: 9600}
	o.raw.Cflag = unix.CS8 | unix.CREAD | unix.CLOCAL
	o.raw.Cflag |= unix.B9600
	o.raw.Iflag = 0
	o.raw.Oflag = 0
	o.raw.Lflag = unix.ICANON
	o.raw.Cc[unix.VSTART] = 0x11
	o.raw.Cc[unix.VSTOP] = 0x13
	return o
}

func cloneOptions(o *Options) *Options {
	c := *o
	return &c
}

// Speed returns the last speed successfully committed or set.
func (o *Options) Speed() int { return o.speed }

// SetSpeed stages a baud rate change. It does not validate the value
// against the driver's standard-speed table — that happens at commit
// time, so a caller can inspect ErrorCode() after a failed commit.
func (o *Options) SetSpeed(baud int) {
	o.speed = baud
}

func (o *Options) DataBits() int {
	switch o.raw.Cflag & unix.CSIZE {
	case unix.CS5:
		return 5
	case unix.CS6:
		return 6
	case unix.CS7:
		return 7
	default:
		return 8
	}
}

// SetDataBits sets the character size; bits must be 5..8.
func (o *Options) SetDataBits(bits int) {
	o.raw.Cflag &^= unix.CSIZE
	switch bits {
	case 5:
		o.raw.Cflag |= unix.CS5
	case 6:
		o.raw.Cflag |= unix.CS6
	case 7:
		o.raw.Cflag |= unix.CS7
	default:
		o.raw.Cflag |= unix.CS8
	}
}

func (o *Options) Parity() Parity {
	if o.raw.Cflag&unix.PARENB == 0 {
		return ParityNone
	}
	if o.raw.Cflag&unix.PARODD != 0 {
		return ParityOdd
	}
	return ParityEven
}

func (o *Options) SetParity(p Parity) {
	switch p {
	case ParityNone:
		o.raw.Cflag &^= unix.PARENB | unix.PARODD
	case ParityOdd:
		o.raw.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		o.raw.Cflag |= unix.PARENB
		o.raw.Cflag &^= unix.PARODD
	}
}

func (o *Options) StopBits() StopBits {
	if o.raw.Cflag&unix.CSTOPB != 0 {
		return StopBitsTwo
	}
	return StopBitsOne
}

func (o *Options) SetStopBits(s StopBits) {
	if s == StopBitsTwo {
		o.raw.Cflag |= unix.CSTOPB
	} else {
		o.raw.Cflag &^= unix.CSTOPB
	}
}

// RTSInputFlowControl reports whether RTS/CTS hardware flow control is
// enabled. POSIX termios doesn't distinguish RTS-in from CTS-out at the
// flag level (CRTSCTS governs both directions together), so the two
// accessor pairs below share one underlying bit.
func (o *Options) RTSInputFlowControl() bool { return o.raw.Cflag&unix.CRTSCTS != 0 }
func (o *Options) SetRTSInputFlowControl(v bool) {
	o.setCRTSCTS(v)
}
func (o *Options) CTSOutputFlowControl() bool { return o.raw.Cflag&unix.CRTSCTS != 0 }
func (o *Options) SetCTSOutputFlowControl(v bool) {
	o.setCRTSCTS(v)
}

func (o *Options) setCRTSCTS(v bool) {
	if v {
		o.raw.Cflag |= unix.CRTSCTS
	} else {
		o.raw.Cflag &^= unix.CRTSCTS
	}
}

// DTRInputFlowControl, DSROutputFlowControl and CAROutputFlowControl
// have no direct termios bit on Linux; they are tracked as plain
// booleans here and round-trip through OptionsMapping, but nothing
// applies them to the driver: neither CommitChanges nor opening the
// port issues a modem-line ioctl for them.
type softFlow struct {
	dtrIn, dsrOut, carOut bool
}

func (o *Options) DTRInputFlowControl() bool      { return o.soft.dtrIn }
func (o *Options) SetDTRInputFlowControl(v bool)  { o.soft.dtrIn = v }
func (o *Options) DSROutputFlowControl() bool     { return o.soft.dsrOut }
func (o *Options) SetDSROutputFlowControl(v bool) { o.soft.dsrOut = v }
func (o *Options) CAROutputFlowControl() bool     { return o.soft.carOut }
func (o *Options) SetCAROutputFlowControl(v bool) { o.soft.carOut = v }

func (o *Options) HangupOnClose() bool     { return o.raw.Cflag&unix.HUPCL != 0 }
func (o *Options) SetHangupOnClose(v bool) {
	if v {
		o.raw.Cflag |= unix.HUPCL
	} else {
		o.raw.Cflag &^= unix.HUPCL
	}
}

// LocalMode reports CLOCAL: ignore modem status lines.
func (o *Options) LocalMode() bool { return o.raw.Cflag&unix.CLOCAL != 0 }
func (o *Options) SetLocalMode(v bool) {
	if v {
		o.raw.Cflag |= unix.CLOCAL
	} else {
		o.raw.Cflag &^= unix.CLOCAL
	}
}

func (o *Options) SignalsEnabled() bool { return o.raw.Lflag&unix.ISIG != 0 }
func (o *Options) SetSignalsEnabled(v bool) {
	if v {
		o.raw.Lflag |= unix.ISIG
	} else {
		o.raw.Lflag &^= unix.ISIG
	}
}

func (o *Options) CanonicalMode() bool { return o.raw.Lflag&unix.ICANON != 0 }
func (o *Options) SetCanonicalMode(v bool) {
	if v {
		o.raw.Lflag |= unix.ICANON
	} else {
		o.raw.Lflag &^= unix.ICANON
	}
}

func (o *Options) EchoEnabled() bool { return o.raw.Lflag&unix.ECHO != 0 }
func (o *Options) SetEchoEnabled(v bool) {
	if v {
		o.raw.Lflag |= unix.ECHO
	} else {
		o.raw.Lflag &^= unix.ECHO
	}
}

func (o *Options) EchoEraseEnabled() bool { return o.raw.Lflag&unix.ECHOE != 0 }
func (o *Options) SetEchoEraseEnabled(v bool) {
	if v {
		o.raw.Lflag |= unix.ECHOE
	} else {
		o.raw.Lflag &^= unix.ECHOE
	}
}

func (o *Options) EndOfLineCharacter() byte { return o.raw.Cc[unix.VEOL] }
func (o *Options) SetEndOfLineCharacter(c byte) {
	o.raw.Cc[unix.VEOL] = c
}

func (o *Options) StartCharacter() byte { return o.raw.Cc[unix.VSTART] }
func (o *Options) SetStartCharacter(c byte) {
	o.raw.Cc[unix.VSTART] = c
}

func (o *Options) StopCharacter() byte { return o.raw.Cc[unix.VSTOP] }
func (o *Options) SetStopCharacter(c byte) {
	o.raw.Cc[unix.VSTOP] = c
}

func (o *Options) SoftwareFlowControl() bool {
	return o.raw.Iflag&(unix.IXON|unix.IXOFF) == (unix.IXON | unix.IXOFF)
}
func (o *Options) SetSoftwareFlowControl(v bool) {
	if v {
		o.raw.Iflag |= unix.IXON | unix.IXOFF
	} else {
		o.raw.Iflag &^= unix.IXON | unix.IXOFF
	}
}

// RemoteEchoEnabled is the composite accessor reporting true only when
// both ICANON and ECHO are set.
func (o *Options) RemoteEchoEnabled() bool {
	return o.raw.Lflag&(unix.ICANON|unix.ECHO) == (unix.ICANON | unix.ECHO)
}

// SetRemoteEchoEnabled applies the composite rule for remote-echo mode:
// enabling sets {canonical, echo, echo-erase}; disabling also clears
// signals-enabled.
func (o *Options) SetRemoteEchoEnabled(v bool) {
	if v {
		o.raw.Lflag |= unix.ICANON | unix.ECHO | unix.ECHOE
	} else {
		o.raw.Lflag &^= unix.ICANON | unix.ECHO | unix.ECHOE | unix.ISIG
	}
}

// MakeRaw clears the flags that would otherwise impose line discipline
// processing, matching the library's Termios.MakeRaw.
func (o *Options) MakeRaw() {
	o.raw.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	o.raw.Oflag &^= unix.OPOST
	o.raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	o.raw.Cflag &^= unix.CSIZE | unix.PARENB
	o.raw.Cflag |= unix.CS8
	o.raw.Cc[unix.VMIN] = 1
	o.raw.Cc[unix.VTIME] = 0
}

// Equal reports whether two Options snapshots carry the same termios
// state, speed and advisory flow-control flags.
func (o *Options) Equal(other *Options) bool {
	if other == nil {
		return false
	}
	return o.raw == other.raw && o.speed == other.speed && o.soft == other.soft
}

// OptionsMapping is the external, keyed form of Options, suitable for
// transport across process or language boundaries.
type OptionsMapping map[string]any

// flagSet reads a set-of-strings mapping value (e.g. {"RTS","DTR"}) as
// used by InputFlowControl/OutputFlowControl.
func flagSet(v any) map[string]bool {
	out := map[string]bool{}
	switch t := v.(type) {
	case []string:
		for _, s := range t {
			out[s] = true
		}
	case map[string]bool:
		for s, b := range t {
			if b {
				out[s] = true
			}
		}
	}
	return out
}

// ToMapping translates an Options block into its external, keyed form.
// serviceName is stamped into the result under KeyServiceName so the
// mapping can later be validated against a Port's identity.
func (o *Options) ToMapping(serviceName string) OptionsMapping {
	m := OptionsMapping{
		KeyServiceName: serviceName,
		KeySpeed:       o.Speed(),
		KeyDataBits:    o.DataBits(),
	}
	switch o.Parity() {
	case ParityOdd:
		m[KeyParity] = "Odd"
	case ParityEven:
		m[KeyParity] = "Even"
	default:
		m[KeyParity] = "None"
	}
	if o.StopBits() == StopBitsTwo {
		m[KeyStopBits] = "Two"
	} else {
		m[KeyStopBits] = "One"
	}
	var in []string
	if o.RTSInputFlowControl() {
		in = append(in, FlowRTS)
	}
	if o.DTRInputFlowControl() {
		in = append(in, FlowDTR)
	}
	m[KeyInputFlowControl] = in
	var out []string
	if o.CTSOutputFlowControl() {
		out = append(out, FlowCTS)
	}
	if o.DSROutputFlowControl() {
		out = append(out, FlowDSR)
	}
	if o.CAROutputFlowControl() {
		out = append(out, FlowCAR)
	}
	m[KeyOutputFlowControl] = out
	m[KeySignals] = o.SignalsEnabled()
	m[KeyCanonicalMode] = o.CanonicalMode()
	m[KeyEcho] = o.EchoEnabled()
	m[KeyEchoErase] = o.EchoEraseEnabled()
	m[KeySoftwareFlowControl] = o.SoftwareFlowControl()
	m[KeyRemoteEcho] = o.RemoteEchoEnabled()
	m[KeyEndOfLineCharacter] = o.EndOfLineCharacter()
	m[KeyStartCharacter] = o.StartCharacter()
	m[KeyStopCharacter] = o.StopCharacter()
	return m
}

// applyMapping is the options codec: it translates each recognized key
// into a typed update on a fresh copy of cur, reporting whether
// anything actually changed (so a caller can skip an unnecessary
// commit).
func applyMapping(cur *Options, m OptionsMapping, serviceName string) (*Options, bool, error) {
	if name, ok := m[KeyServiceName]; !ok || name != serviceName {
		return nil, false, fmt.Errorf("amserial: options mapping ServiceName %v does not match port %q", m[KeyServiceName], serviceName)
	}
	next := cloneOptions(cur)
	changed := false

	if v, ok := m[KeySpeed]; ok {
		if speed, ok := toInt(v); ok && speed != next.Speed() {
			next.SetSpeed(speed)
			changed = true
		}
	}
	if v, ok := m[KeyDataBits]; ok {
		if bits, ok := toInt(v); ok && bits != next.DataBits() {
			next.SetDataBits(bits)
			changed = true
		}
	}
	if v, ok := m[KeyParity]; ok {
		p := parseParity(v)
		if p != next.Parity() {
			next.SetParity(p)
			changed = true
		}
	}
	if v, ok := m[KeyStopBits]; ok {
		s := parseStopBits(v)
		if s != next.StopBits() {
			next.SetStopBits(s)
			changed = true
		}
	}
	if v, ok := m[KeyInputFlowControl]; ok {
		flags := flagSet(v)
		rts, dtr := flags[FlowRTS], flags[FlowDTR]
		if rts != next.RTSInputFlowControl() {
			next.SetRTSInputFlowControl(rts)
			changed = true
		}
		if dtr != next.DTRInputFlowControl() {
			next.SetDTRInputFlowControl(dtr)
			changed = true
		}
	}
	if v, ok := m[KeyOutputFlowControl]; ok {
		flags := flagSet(v)
		cts, dsr, car := flags[FlowCTS], flags[FlowDSR], flags[FlowCAR]
		if cts != next.CTSOutputFlowControl() {
			next.SetCTSOutputFlowControl(cts)
			changed = true
		}
		if dsr != next.DSROutputFlowControl() {
			next.SetDSROutputFlowControl(dsr)
			changed = true
		}
		if car != next.CAROutputFlowControl() {
			next.SetCAROutputFlowControl(car)
			changed = true
		}
	}
	if v, ok := m[KeySignals]; ok {
		if b, ok := v.(bool); ok && b != next.SignalsEnabled() {
			next.SetSignalsEnabled(b)
			changed = true
		}
	}
	if v, ok := m[KeyCanonicalMode]; ok {
		if b, ok := v.(bool); ok && b != next.CanonicalMode() {
			next.SetCanonicalMode(b)
			changed = true
		}
	}
	if v, ok := m[KeyEcho]; ok {
		if b, ok := v.(bool); ok && b != next.EchoEnabled() {
			next.SetEchoEnabled(b)
			changed = true
		}
	}
	if v, ok := m[KeyEchoErase]; ok {
		if b, ok := v.(bool); ok && b != next.EchoEraseEnabled() {
			next.SetEchoEraseEnabled(b)
			changed = true
		}
	}
	if v, ok := m[KeySoftwareFlowControl]; ok {
		if b, ok := v.(bool); ok && b != next.SoftwareFlowControl() {
			next.SetSoftwareFlowControl(b)
			changed = true
		}
	}
	// RemoteEcho is applied after the individual local-mode keys above
	// since it clobbers several of them via the composite rule in
	// SetRemoteEchoEnabled.
	if v, ok := m[KeyRemoteEcho]; ok {
		if b, ok := v.(bool); ok && b != next.RemoteEchoEnabled() {
			next.SetRemoteEchoEnabled(b)
			changed = true
		}
	}
	if v, ok := m[KeyEndOfLineCharacter]; ok {
		if c, ok := toByte(v); ok && c != next.EndOfLineCharacter() {
			next.SetEndOfLineCharacter(c)
			changed = true
		}
	}
	if v, ok := m[KeyStartCharacter]; ok {
		if c, ok := toByte(v); ok && c != next.StartCharacter() {
			next.SetStartCharacter(c)
			changed = true
		}
	}
	if v, ok := m[KeyStopCharacter]; ok {
		if c, ok := toByte(v); ok && c != next.StopCharacter() {
			next.SetStopCharacter(c)
			changed = true
		}
	}
	return next, changed, nil
}

func parseParity(v any) Parity {
	switch s := fmt.Sprint(v); s {
	case "Odd":
		return ParityOdd
	case "Even":
		return ParityEven
	default:
		return ParityNone
	}
}

func parseStopBits(v any) StopBits {
	if fmt.Sprint(v) == "Two" {
		return StopBitsTwo
	}
	return StopBitsOne
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func toByte(v any) (byte, bool) {
	switch n := v.(type) {
	case byte:
		return n, true
	case rune:
		return byte(n), true
	case int:
		return byte(n), true
	default:
		return 0, false
	}
}

package amserial

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

// openPTYPair allocates a fresh pseudoterminal and returns Port handles
// for both ends, already open. Grounded on the library's
// pty_linux.go (OpenPTY/SetLockPT/GetPTPeer), reimplemented over
// golang.org/x/sys/unix's TIOCGPTN/TIOCSPTLCK instead of
// daedaluz/goioctl. Test-only: nothing outside _test.go files
// references it.
func openPTYPair(t *testing.T) (master, slave *Port) {
	t.Helper()

	masterFd, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("open /dev/ptmx: %v", err)
	}
	if err := unix.IoctlSetPointerInt(masterFd, unix.TIOCSPTLCK, 0); err != nil {
		unix.Close(masterFd)
		t.Fatalf("unlock pty: %v", err)
	}
	n, err := unix.IoctlGetInt(masterFd, unix.TIOCGPTN)
	if err != nil {
		unix.Close(masterFd)
		t.Fatalf("get pty number: %v", err)
	}
	slavePath := fmt.Sprintf("/dev/pts/%d", n)

	master = &Port{bsdPath: "/dev/ptmx", serviceName: "ptmx", serviceType: ServiceRS232, fd: masterFd, readTimeout: -1, dispatcher: directDispatch}
	master.original = defaultOptions()
	master.current = defaultOptions()
	master.stopRead = make(chan struct{})
	master.stopWrite = make(chan struct{})

	slave = newPort(slavePath, slavePath, ServiceRS232)
	if err := slave.Open(0); err != nil {
		master.Close()
		t.Fatalf("open slave %s: %v", slavePath, err)
	}
	// A freshly allocated pty slave defaults to cooked mode (ICANON),
	// which would make master->slave writes wait on a line terminator
	// before a Read unblocks. Tests want raw, byte-oriented delivery.
	slave.MakeRaw()
	if !slave.CommitChanges() {
		master.Close()
		slave.Close()
		t.Fatalf("commit raw mode: %v", slave.ErrorCode())
	}

	t.Cleanup(func() {
		master.Close()
		slave.Close()
	})
	return master, slave
}

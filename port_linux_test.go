package amserial

import (
	"testing"
	"time"
)

func TestEchoLoopback(t *testing.T) {
	master, slave := openPTYPair(t)
	_ = slave.SetReadTimeout(time.Second)

	if _, err := master.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, end, err := slave.ReadBytes(5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if end != StopLengthReached {
		t.Fatalf("end code = %v, want StopLengthReached", end)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q, want %q", data, "hello")
	}
}

func TestReadTimeout(t *testing.T) {
	_, slave := openPTYPair(t)
	if err := slave.SetReadTimeout(50 * time.Millisecond); err != nil {
		t.Fatalf("set read timeout: %v", err)
	}
	_, _, err := slave.Read()
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	serr, ok := err.(*Error)
	if !ok || serr.Code != CodeTimeout {
		t.Fatalf("err = %v, want CodeTimeout", err)
	}
}

// TestExclusiveOpen only checks that OpenExclusive succeeds and leaves
// the port usable. TIOCEXCL's actual exclusion only applies to *other*
// processes (per tty_ioctl(4): "open() calls in the calling process
// will succeed as before"), so a same-process conflict can't be
// observed here; Port.TryClaim/Release is what enforces in-process
// exclusivity (see TestTryClaimOwnership).
func TestExclusiveOpen(t *testing.T) {
	_, slave := openPTYPair(t)
	slave.Close()

	if err := slave.OpenExclusive(); err != nil {
		t.Fatalf("exclusive open: %v", err)
	}
	if _, err := slave.Write([]byte("x")); err != nil {
		t.Fatalf("write after exclusive open: %v", err)
	}
}

func TestTryClaimOwnership(t *testing.T) {
	_, slave := openPTYPair(t)

	tokenA := new(int)
	tokenB := new(int)

	if !slave.TryClaim(tokenA) {
		t.Fatal("expected first claim to succeed")
	}
	if slave.TryClaim(tokenB) {
		t.Fatal("expected second claim to fail while owned")
	}
	if err := slave.Release(tokenB); err != ErrNotOwner {
		t.Fatalf("release with wrong token: err = %v, want ErrNotOwner", err)
	}
	if err := slave.Release(tokenA); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !slave.IsAvailable() {
		t.Fatal("expected port to be available after release")
	}
	// Idempotent: releasing again (now unclaimed) is a no-op.
	if err := slave.Release(tokenA); err != nil {
		t.Fatalf("second release: %v", err)
	}
}

func TestCommitChangesRollbackOnBadSpeed(t *testing.T) {
	_, slave := openPTYPair(t)
	slave.ClearError()

	mapping, err := slave.Options()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	before := mapping[KeySpeed]
	mapping[KeySpeed] = 123456789
	if err := slave.SetOptions(mapping); err == nil {
		t.Fatal("expected SetOptions to fail for an unsupported speed")
	}
	if slave.ErrorCode() == CodeNone {
		t.Fatal("expected ErrorCode to report the commit failure")
	}
	after, err := slave.Options()
	if err != nil {
		t.Fatalf("options after failed set: %v", err)
	}
	if after[KeySpeed] != before {
		t.Fatalf("speed after failed commit = %v, want %v", after[KeySpeed], before)
	}
}

func TestOptionsRoundTrip(t *testing.T) {
	_, slave := openPTYPair(t)

	mapping, err := slave.Options()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	mapping[KeySpeed] = 19200
	mapping[KeyDataBits] = 7
	mapping[KeyParity] = "Even"
	if err := slave.SetOptions(mapping); err != nil {
		t.Fatalf("set options: %v", err)
	}

	got, err := slave.Options()
	if err != nil {
		t.Fatalf("options after set: %v", err)
	}
	if got[KeySpeed] != 19200 {
		t.Fatalf("speed = %v, want 19200", got[KeySpeed])
	}
	if got[KeyDataBits] != 7 {
		t.Fatalf("data bits = %v, want 7", got[KeyDataBits])
	}
	if got[KeyParity] != "Even" {
		t.Fatalf("parity = %v, want Even", got[KeyParity])
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	_, slave := openPTYPair(t)
	slave.Close()
	slave.Close() // must not panic or block
	if slave.IsOpen() {
		t.Fatal("expected port to report closed after Close")
	}
}

package amserial

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackgroundReadDeliversChunks(t *testing.T) {
	master, slave := openPTYPair(t)

	var mu sync.Mutex
	var got []byte
	done := make(chan struct{})
	slave.SetDelegate(DelegateFuncs{
		ReadData: func(_ *Port, data []byte) {
			mu.Lock()
			got = append(got, data...)
			mu.Unlock()
			if len(data) > 0 {
				select {
				case done <- struct{}{}:
				default:
				}
			}
		},
	})

	slave.StartBackgroundRead()
	defer slave.StopBackgroundRead()

	if _, err := master.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for background read delegate callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(got) != "ping" {
		t.Fatalf("got %q, want %q", got, "ping")
	}
}

func TestBackgroundReadAtMostOneWorker(t *testing.T) {
	_, slave := openPTYPair(t)

	slave.StartBackgroundRead()
	defer slave.StopBackgroundRead()
	// A second Start while one is active must be a no-op, not a second
	// goroutine racing the first over the same fd.
	slave.StartBackgroundRead()

	time.Sleep(20 * time.Millisecond)
	if n := atomic.LoadInt32(&slave.readers); n > 1 {
		t.Fatalf("readers = %d, want at most 1", n)
	}
}

func TestBackgroundWriteFinishes(t *testing.T) {
	_, slave := openPTYPair(t)

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	slave.StartBackgroundWrite(payload)
	defer slave.StopBackgroundWrite()

	deadline := time.Now().Add(time.Second)
	for slave.WriteWorkerCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if slave.WriteWorkerCount() != 0 {
		t.Fatal("expected background write to finish within the deadline")
	}
}

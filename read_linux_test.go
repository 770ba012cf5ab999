package amserial

import (
	"testing"
	"time"
)

// TestReadUpToCharChunkBoundary exercises the chunk-boundary delimiter
// semantics: a stop character buried in the middle of a chunk, with
// more data following it in the same chunk, is not detected until a
// later read whose chunk happens to end on the delimiter.
func TestReadUpToCharChunkBoundary(t *testing.T) {
	master, slave := openPTYPair(t)
	_ = slave.SetReadTimeout(time.Second)

	// First chunk: delimiter appears mid-stream, followed by more data
	// in the very same write/read chunk. It must NOT be treated as a
	// stop condition here.
	if _, err := master.Write([]byte("ab\ncd")); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(20 * time.Millisecond) // let all five bytes land in one chunk
	// With no chunk ending on the delimiter, the read runs until the
	// timeout and returns what it accumulated alongside CodeTimeout.
	data, end, err := slave.ReadUpToChar('\n')
	if serr, ok := err.(*Error); !ok || serr.Code != CodeTimeout {
		t.Fatalf("read: err = %v, want CodeTimeout", err)
	}
	if end == StopCharReached {
		t.Fatalf("chunk %q ending past the delimiter must not report StopCharReached", data)
	}
	if string(data) != "ab\ncd" {
		t.Fatalf("got %q, want %q", data, "ab\ncd")
	}

	// Second chunk: delimiter is the very last byte written, so the
	// chunk that contains it also ends on it.
	if _, err := master.Write([]byte("ef\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data2, end2, err := slave.ReadUpToChar('\n')
	if err != nil {
		t.Fatalf("read 2: %v", err)
	}
	if end2 != StopCharReached {
		t.Fatalf("end code = %v, want StopCharReached", end2)
	}
	if string(data2) != "ef\n" {
		t.Fatalf("got %q, want %q", data2, "ef\n")
	}
}

func TestBytesAvailable(t *testing.T) {
	master, slave := openPTYPair(t)
	if _, err := master.Write([]byte("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := slave.BytesAvailable(); n != 3 {
		t.Fatalf("bytes available = %d, want 3", n)
	}
}

package amserial

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRegistryHotPlug simulates hot-plug by pointing a Registry at a
// temp directory glob pattern instead of the real /dev tree, matching
// the glob-poll loop's own mechanism (no real serial hardware needed
// to exercise discover/forget semantics).
func TestRegistryHotPlug(t *testing.T) {
	dir := t.TempDir()
	pattern := filepath.Join(dir, "ttyFAKE*")

	r, err := NewRegistry(pattern)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer r.Shutdown()

	added := make(chan []*Port, 8)
	removed := make(chan []*Port, 8)
	r.AddObserver(RegistryObserverFuncs{
		Added:   func(ports []*Port) { added <- ports },
		Removed: func(ports []*Port) { removed <- ports },
	})

	if len(r.AllPorts()) != 0 {
		t.Fatalf("expected empty registry, got %d ports", len(r.AllPorts()))
	}

	devPath := filepath.Join(dir, "ttyFAKE0")
	serviceName := filepath.Base(devPath)
	if err := os.WriteFile(devPath, nil, 0o644); err != nil {
		t.Fatalf("create fake device: %v", err)
	}
	r.scan()

	select {
	case ports := <-added:
		if len(ports) != 1 || ports[0].BSDPath() != devPath {
			t.Fatalf("added = %v, want [%s]", ports, devPath)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for DidAddPorts")
	}

	if p, ok := r.PortWithName(serviceName); !ok || p.BSDPath() != devPath {
		t.Fatalf("PortWithName(%s): found=%v", serviceName, ok)
	}

	if err := os.Remove(devPath); err != nil {
		t.Fatalf("remove fake device: %v", err)
	}
	r.scan()

	select {
	case ports := <-removed:
		if len(ports) != 1 || ports[0].BSDPath() != devPath {
			t.Fatalf("removed = %v, want [%s]", ports, devPath)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for DidRemovePorts")
	}

	if _, ok := r.PortWithName(serviceName); ok {
		t.Fatal("expected port to be forgotten after removal")
	}
}

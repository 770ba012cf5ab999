package amserial

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval bounds how stale AllPorts can be when no fsnotify event
// has arrived, backstopping fsnotify for filesystems or drivers that
// don't reliably emit inotify events on device-node creation.
const pollInterval = 2 * time.Second

// RegistryObserver receives hot-plug notifications from a Registry
// whenever a scan finds the device set has changed. Notifications carry
// the port records themselves, not bare paths, so an observer never
// needs to turn around and look the path back up.
type RegistryObserver interface {
	DidAddPorts(ports []*Port)
	DidRemovePorts(ports []*Port)
}

// RegistryObserverFuncs adapts two plain functions into a
// RegistryObserver.
type RegistryObserverFuncs struct {
	Added   func(ports []*Port)
	Removed func(ports []*Port)
}

func (f RegistryObserverFuncs) DidAddPorts(ports []*Port) {
	if f.Added != nil {
		f.Added(ports)
	}
}

func (f RegistryObserverFuncs) DidRemovePorts(ports []*Port) {
	if f.Removed != nil {
		f.Removed(ports)
	}
}

// Registry is a catalog of discoverable serial devices, refreshed by
// periodic polling and fsnotify events on /dev. There is no
// package-level instance: each NewRegistry call builds an independent
// Registry with its own watch goroutine. A Registry
// owns no open file descriptors; it only tracks which device nodes
// currently exist and hands out Port handles for them.
type Registry struct {
	patterns []string

	mu        sync.Mutex
	ports     map[string]*Port
	observers []RegistryObserver

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// defaultPatterns is the glob set used when NewRegistry is given none,
// matching Linux's conventional serial device naming.
var defaultPatterns = []string{
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/ttyS*",
}

// NewRegistry builds a Registry over the given glob patterns (or
// defaultPatterns if empty) and performs an initial scan. Call
// Shutdown when done with it to stop the background watch goroutine.
func NewRegistry(patterns ...string) (*Registry, error) {
	if len(patterns) == 0 {
		patterns = defaultPatterns
	}
	r := &Registry{
		patterns: patterns,
		ports:    map[string]*Port{},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.scan()

	w, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := w.Add("/dev"); werr == nil {
			r.watcher = w
		} else {
			w.Close()
		}
	}
	go r.loop()
	return r, nil
}

// AllPorts returns every currently known port, sorted by device path.
func (r *Registry) AllPorts() []*Port {
	return r.PortsOfType(ServiceAllTypes)
}

// PortsOfType returns every known port of the given ServiceType, or
// every port when typ is ServiceAllTypes.
func (r *Registry) PortsOfType(typ ServiceType) []*Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Port, 0, len(r.ports))
	for _, p := range r.ports {
		if typ == ServiceAllTypes || p.serviceType == typ {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].bsdPath < out[j].bsdPath })
	return out
}

// PortWithName looks up a single known port by exact ServiceName match.
func (r *Registry) PortWithName(serviceName string) (*Port, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.ports {
		if p.serviceName == serviceName {
			return p, true
		}
	}
	return nil, false
}

// AddObserver registers o to receive DidAddPorts/DidRemovePorts
// notifications for every scan from this point forward.
func (r *Registry) AddObserver(o RegistryObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Shutdown stops the background watch loop and closes the fsnotify
// watcher, if one was started. It does not close any open Port.
func (r *Registry) Shutdown() {
	closeOnce(r.stop)
	<-r.done
}

func (r *Registry) loop() {
	defer close(r.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	var events <-chan fsnotify.Event
	if r.watcher != nil {
		events = r.watcher.Events
		defer r.watcher.Close()
	}
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.scan()
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.scan()
		}
	}
}

// scan re-globs every pattern, diffs against the known set, updates
// the registry, and notifies observers of any change.
func (r *Registry) scan() {
	seen := map[string]struct{}{}
	for _, pattern := range r.patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			logger().Printf("amserial: registry: bad glob pattern %q: %v", pattern, err)
			continue
		}
		for _, path := range matches {
			seen[path] = struct{}{}
		}
	}

	r.mu.Lock()
	var added, removed []*Port
	for path := range seen {
		if _, ok := r.ports[path]; !ok {
			p := newPort(path, filepath.Base(path), guessServiceType(path))
			r.ports[path] = p
			added = append(added, p)
		}
	}
	for path, p := range r.ports {
		if _, ok := seen[path]; !ok {
			delete(r.ports, path)
			removed = append(removed, p)
		}
	}
	observers := append([]RegistryObserver(nil), r.observers...)
	r.mu.Unlock()

	if len(added) == 0 && len(removed) == 0 {
		return
	}
	sort.Slice(added, func(i, j int) bool { return added[i].bsdPath < added[j].bsdPath })
	sort.Slice(removed, func(i, j int) bool { return removed[i].bsdPath < removed[j].bsdPath })
	for _, o := range observers {
		if len(added) > 0 {
			o.DidAddPorts(added)
		}
		if len(removed) > 0 {
			o.DidRemovePorts(removed)
		}
	}
}

// guessServiceType classifies a device path the way the registry's
// scan loop does: names containing "modem" are ServiceModem, other
// tty/cu nodes are ServiceRS232, and anything else is recorded as
// ServiceAllTypes, so PortsOfType returns it only for a
// ServiceAllTypes query.
func guessServiceType(path string) ServiceType {
	base := filepath.Base(path)
	switch {
	case strings.Contains(base, "modem"):
		return ServiceModem
	case strings.Contains(base, "tty"), strings.Contains(base, "cu"):
		return ServiceRS232
	default:
		return ServiceAllTypes
	}
}

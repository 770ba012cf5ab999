package amserial

// Delegate is a weak back-reference: a set of optional callbacks a
// Port posts events to. The Port never retains a Delegate value beyond
// what SetDelegate was given.
type Delegate interface {
	// OnReadData is posted once per chunk by the background reader. A
	// zero-length chunk signals end-of-stream or a fatal read error.
	OnReadData(port *Port, data []byte)
	// OnWriteProgress is posted by the background writer once the task
	// has been running for writeProgressThreshold (3s).
	OnWriteProgress(port *Port, sent, total int)
}

// DelegateFuncs adapts two plain functions into a Delegate, so a caller
// only has to implement the callback it cares about — mirroring the
// @optional methods of the original AMSerialDelegate protocol.
type DelegateFuncs struct {
	ReadData      func(port *Port, data []byte)
	WriteProgress func(port *Port, sent, total int)
}

func (d DelegateFuncs) OnReadData(port *Port, data []byte) {
	if d.ReadData != nil {
		d.ReadData(port, data)
	}
}

func (d DelegateFuncs) OnWriteProgress(port *Port, sent, total int) {
	if d.WriteProgress != nil {
		d.WriteProgress(port, sent, total)
	}
}

// Dispatcher is how a Port posts delegate events back to whatever
// thread the application considers its main one.
type Dispatcher func(func())

// directDispatch is the default Dispatcher: it calls fn synchronously
// on the worker's own goroutine. Desktop toolkits typically supply
// their own Dispatcher that hops onto their UI goroutine instead.
func directDispatch(fn func()) { fn() }

// NewQueueDispatcher returns a Dispatcher that serializes every posted
// event through a single background goroutine, giving callers a total
// order across workers if they want one. Close the returned stop func
// to drain and exit the goroutine.
func NewQueueDispatcher() (dispatch Dispatcher, stop func()) {
	queue := make(chan func(), 64)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case fn := <-queue:
				fn()
			case <-done:
				for {
					select {
					case fn := <-queue:
						fn()
					default:
						return
					}
				}
			}
		}
	}()
	dispatch = func(fn func()) {
		select {
		case queue <- fn:
		case <-done:
		}
	}
	stop = func() { closeOnce(done) }
	return dispatch, stop
}

func (p *Port) postReadData(data []byte) {
	p.mu.Lock()
	d := p.delegate
	dispatch := p.dispatcher
	p.mu.Unlock()
	if d == nil {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	dispatch(func() { d.OnReadData(p, cp) })
}

func (p *Port) postWriteProgress(sent, total int) {
	p.mu.Lock()
	d := p.delegate
	dispatch := p.dispatcher
	p.mu.Unlock()
	if d == nil {
		return
	}
	dispatch(func() { d.OnWriteProgress(p, sent, total) })
}

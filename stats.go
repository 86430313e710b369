package evloop

import "go.uber.org/atomic"

// LoopStats is a point-in-time copy of the loop counters.
type LoopStats struct {
	Name            string
	Registered      int
	Waits           uint64
	Events          uint64
	ReadDispatched  uint64
	WriteDispatched uint64
	CloseDispatched uint64
	DroppedEvents   uint64
}

type loopCounters struct {
	registered      *atomic.Int64
	waits           *atomic.Uint64
	events          *atomic.Uint64
	readDispatched  *atomic.Uint64
	writeDispatched *atomic.Uint64
	closeDispatched *atomic.Uint64
	droppedEvents   *atomic.Uint64
}

func newLoopCounters() loopCounters {
	return loopCounters{
		registered:      atomic.NewInt64(0),
		waits:           atomic.NewUint64(0),
		events:          atomic.NewUint64(0),
		readDispatched:  atomic.NewUint64(0),
		writeDispatched: atomic.NewUint64(0),
		closeDispatched: atomic.NewUint64(0),
		droppedEvents:   atomic.NewUint64(0),
	}
}

func (c loopCounters) snapshot(name string) LoopStats {
	return LoopStats{
		Name:            name,
		Registered:      int(c.registered.Load()),
		Waits:           c.waits.Load(),
		Events:          c.events.Load(),
		ReadDispatched:  c.readDispatched.Load(),
		WriteDispatched: c.writeDispatched.Load(),
		CloseDispatched: c.closeDispatched.Load(),
		DroppedEvents:   c.droppedEvents.Load(),
	}
}

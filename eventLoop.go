package evloop

import (
	"context"
	"errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
	"io"
	"os"
	"runtime"
	"sync"
	"unsafe"
)

// State is the lifecycle position of an EventLoop.
type State int32

const (
	Idle State = iota
	Waiting
	Dispatching
	Terminated
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Dispatching:
		return "dispatching"
	case Terminated:
		return "terminated"
	case Closed:
		return "closed"
	}
	return "unknown"
}

type EventLoopConfig struct {
	Name            string
	LockOsThread    bool
	EventBufferSize int
}

// EventLoop multiplexes registered descriptors on a single goroutine.
//
// AddHandler, ModifyInterest and RemoveHandler must be called either before
// Run or from inside a handler callback. Stop, State and Stats may be called
// from any goroutine.
type EventLoop struct {
	Name         string
	lockOsThread bool
	poller       *poller
	wakeFd       int
	handlers     *handlerHolder
	lifecycle    sync.RWMutex
	isRunning    *atomic.Bool
	state        *atomic.Int32
	counters     loopCounters
	closeOnce    sync.Once
	closeErr     error
}

// New creates an event loop with the default configuration.
func New() (*EventLoop, error) {
	return NewEventLoop(EventLoopConfig{
		Name:            "event-loop",
		EventBufferSize: defEventsBufferSize,
	})
}

func NewEventLoop(config EventLoopConfig) (*EventLoop, error) {
	if log.Debug().Enabled() {
		log.Debug().Msgf("init event loop:%+v", config)
	}

	poller, err := openPoller(config.EventBufferSize)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		if closeErr := poller.close(); closeErr != nil {
			log.Error().Msgf("got error while closing epoll: %+v", closeErr)
		}
		return nil, os.NewSyscallError("eventfd", err)
	}
	if err := poller.add(wakeFd, Readable); err != nil {
		if closeErr := unix.Close(wakeFd); closeErr != nil {
			log.Error().Msgf("got error while closing eventfd: %+v", closeErr)
		}
		if closeErr := poller.close(); closeErr != nil {
			log.Error().Msgf("got error while closing epoll: %+v", closeErr)
		}
		return nil, err
	}
	return &EventLoop{
		Name:         config.Name,
		lockOsThread: config.LockOsThread,
		poller:       poller,
		wakeFd:       wakeFd,
		handlers:     newHandlerHolder(),
		isRunning:    atomic.NewBool(false),
		state:        atomic.NewInt32(int32(Idle)),
		counters:     newLoopCounters(),
	}, nil
}

func (el *EventLoop) State() State {
	return State(el.state.Load())
}

func (el *EventLoop) Stats() LoopStats {
	return el.counters.snapshot(el.Name)
}

// Len returns the number of registered descriptors.
func (el *EventLoop) Len() int {
	return el.handlers.len()
}

// Handler returns the handler registered for fd.
func (el *EventLoop) Handler(fd int) (EventHandler, bool) {
	reg, ok := el.handlers.find(fd)
	if !ok {
		return nil, false
	}
	return reg.handler, true
}

// AddHandler registers fd with the given interest and stores handler for it.
// The caller owns putting fd into non-blocking mode. When the kernel rejects
// the registration the table is left unchanged. A descriptor that is already
// registered is rejected with ErrFdAlreadyRegistered; use ModifyInterest to
// change its flags.
func (el *EventLoop) AddHandler(fd int, interest Interest, handler EventHandler) error {
	if el.State() == Closed {
		return ErrLoopClosed
	}
	if fd < 0 {
		return ErrInvalidFd
	}
	if handler == nil {
		return ErrInvalidHandler
	}
	if _, ok := el.handlers.find(fd); ok || fd == el.wakeFd {
		return ErrFdAlreadyRegistered
	}
	if err := el.poller.add(fd, interest); err != nil {
		return err
	}
	el.handlers.add(fd, &registration{handler: handler, interest: interest})
	el.counters.registered.Inc()
	return nil
}

// ModifyInterest replaces the interest flags of a registered descriptor.
func (el *EventLoop) ModifyInterest(fd int, interest Interest) error {
	if el.State() == Closed {
		return ErrLoopClosed
	}
	reg, ok := el.handlers.find(fd)
	if !ok {
		return ErrFdNotRegistered
	}
	if err := el.poller.modify(fd, interest); err != nil {
		return err
	}
	reg.interest = interest
	return nil
}

// RemoveHandler detaches fd from the loop and hands its handler back to the
// caller. Events already fetched for fd in the current batch are dropped.
// If the descriptor was closed before removal the kernel has already
// forgotten it, and the table entry is dropped without error.
func (el *EventLoop) RemoveHandler(fd int) (EventHandler, error) {
	if el.State() == Closed {
		return nil, ErrLoopClosed
	}
	if _, ok := el.handlers.find(fd); !ok {
		return nil, ErrFdNotRegistered
	}
	err := el.poller.delete(fd)
	if err != nil && !errors.Is(err, unix.EBADF) && !errors.Is(err, unix.ENOENT) {
		return nil, err
	}
	reg, _ := el.handlers.remove(fd)
	el.counters.registered.Dec()
	return reg.handler, nil
}

// Run waits for readiness and dispatches it until Stop is called or a
// handler fails. A handler error is returned unchanged and leaves the loop
// Terminated. After Stop, Run returns nil and may be called again.
func (el *EventLoop) Run() error {
	if err := el.enterRun(); err != nil {
		return err
	}
	return el.run(nil)
}

// RunContext runs the loop and stops it once ctx is done.
func (el *EventLoop) RunContext(ctx context.Context) error {
	if err := el.enterRun(); err != nil {
		return err
	}
	done := make(chan struct{})
	watcher := &sync.WaitGroup{}
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		select {
		case <-ctx.Done():
			if err := el.Stop(); err != nil {
				log.Error().Msgf("[%s] got error while stopping event loop: %+v", el.Name, err)
			}
		case <-done:
		}
	}()
	return el.run(func() {
		close(done)
		watcher.Wait()
		if ctx.Err() != nil {
			// a stop request raced with the loop exit, do not leak it into the next run
			el.drainWakeFd()
		}
	})
}

// run is entered with isRunning set. beforeExit runs while the loop still
// owns the wake descriptor, so Close can't release it underneath.
func (el *EventLoop) run(beforeExit func()) (err error) {
	if el.lockOsThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	defer func() {
		if beforeExit != nil {
			beforeExit()
		}
		if err != nil {
			el.state.Store(int32(Terminated))
		} else {
			el.state.Store(int32(Idle))
		}
		el.isRunning.Store(false)
	}()
	el.handlers.dump(el.Name)

	for {
		el.state.Store(int32(Waiting))
		events, err := el.poller.wait(blocked)
		if err != nil {
			log.Error().Msgf("[%s] got error while waiting for the net events: %+v", el.Name, err)
			return err
		}
		el.counters.waits.Inc()
		el.counters.events.Add(uint64(len(events)))
		el.state.Store(int32(Dispatching))

		stop := false
		for _, event := range events {
			if event.fd == el.wakeFd {
				el.drainWakeFd()
				stop = true
				continue
			}
			if err := el.dispatch(event); err != nil {
				if log.Debug().Enabled() {
					log.Debug().Msgf("[%s][%d] handler error stops event loop: %v", el.Name, event.fd, err)
				}
				return err
			}
		}
		if stop {
			if log.Debug().Enabled() {
				log.Debug().Msgf("[%s] event loop stopped", el.Name)
			}
			return nil
		}
	}
}

// Stop asks a running loop to return from Run once the current batch is
// dispatched. It is safe to call from any goroutine. A Stop issued while the
// loop is idle is honoured by the next Run.
func (el *EventLoop) Stop() error {
	el.lifecycle.RLock()
	defer el.lifecycle.RUnlock()
	if el.State() == Closed {
		return ErrLoopClosed
	}
	var buf [8]byte
	*(*uint64)(unsafe.Pointer(&buf[0])) = 1
	_, err := unix.Write(el.wakeFd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return os.NewSyscallError("write", err)
	}
	return nil
}

// Close releases the epoll and wake descriptors and closes every registered
// handler implementing io.Closer. It is a no-op after the first call.
func (el *EventLoop) Close() error {
	el.lifecycle.Lock()
	defer el.lifecycle.Unlock()
	if el.isRunning.Load() {
		return ErrLoopRunning
	}
	el.closeOnce.Do(func() {
		el.closeErr = el.release()
	})
	return el.closeErr
}

func (el *EventLoop) enterRun() error {
	el.lifecycle.Lock()
	defer el.lifecycle.Unlock()
	switch el.State() {
	case Closed:
		return ErrLoopClosed
	case Terminated:
		return ErrLoopTerminated
	}
	if !el.isRunning.CAS(false, true) {
		return ErrLoopRunning
	}
	return nil
}

func (el *EventLoop) dispatch(event readyEvent) error {
	reg, ok := el.handlers.find(event.fd)
	if !ok {
		el.counters.droppedEvents.Inc()
		if log.Debug().Enabled() {
			log.Debug().Msgf("[%s][%d] dropped %s event for unknown fd", el.Name, event.fd, event.events)
		}
		return nil
	}
	closeHandler, hasClose := reg.handler.(CloseEventHandler)

	readable := event.events&(Readable|Priority) != 0
	if !hasClose && event.events&(Error|Hangup) != 0 {
		// without CloseEvent the read path is where the handler sees the failure
		readable = true
	}
	if readable {
		el.counters.readDispatched.Inc()
		if err := reg.handler.ReadEvent(event.fd); err != nil {
			return err
		}
	}
	if event.events&Writable != 0 && el.stillRegistered(event.fd, reg) {
		el.counters.writeDispatched.Inc()
		if err := reg.handler.WriteEvent(event.fd); err != nil {
			return err
		}
	}
	if hasClose && event.events&closeEvents != 0 && el.stillRegistered(event.fd, reg) {
		el.counters.closeDispatched.Inc()
		if err := closeHandler.CloseEvent(event.fd, event.events&closeEvents); err != nil {
			return err
		}
	}
	return nil
}

// stillRegistered reports whether reg is still the registration for fd, a
// previous callback of the same event may have removed or replaced it.
func (el *EventLoop) stillRegistered(fd int, reg *registration) bool {
	current, ok := el.handlers.find(fd)
	return ok && current == reg
}

func (el *EventLoop) drainWakeFd() {
	var buf [8]byte
	_, err := unix.Read(el.wakeFd, buf[:])
	if err != nil && err != unix.EAGAIN {
		log.Error().Msgf("[%s] got error while draining eventfd: %+v", el.Name, err)
	}
}

func (el *EventLoop) release() error {
	el.state.Store(int32(Closed))
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, fd := range el.handlers.fds() {
		reg, _ := el.handlers.remove(fd)
		el.counters.registered.Dec()
		if closer, ok := reg.handler.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				log.Error().Msgf("[%s][%d] got error while closing handler: %+v", el.Name, fd, err)
				keep(err)
			}
		}
	}
	if err := os.NewSyscallError("close", unix.Close(el.wakeFd)); err != nil {
		log.Error().Msgf("[%s] got error while closing eventfd: %+v", el.Name, err)
		keep(err)
	}
	if err := el.poller.close(); err != nil {
		log.Error().Msgf("[%s] got error while closing epoll: %+v", el.Name, err)
		keep(err)
	}
	return firstErr
}

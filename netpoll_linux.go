package evloop

import (
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
	"os"
	"unsafe"
)

const (
	defEventsBufferSize = 1024
	blocked             = -1
)

// readyEvent is one readiness notification taken from the poller buffer.
type readyEvent struct {
	fd     int
	events Interest
}

type poller struct {
	fd     int // epoll fd
	events []unix.EpollEvent
	ready  []readyEvent
}

func openPoller(eventsBufferSize int) (*poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	bufferSize := eventsBufferSize
	if bufferSize <= 0 {
		bufferSize = defEventsBufferSize
	}
	return &poller{
		fd:     fd,
		events: make([]unix.EpollEvent, bufferSize),
		ready:  make([]readyEvent, 0, bufferSize),
	}, nil
}

func (p *poller) close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}

func (p *poller) add(fd int, interest Interest) error {
	if log.Debug().Enabled() {
		log.Debug().Msgf("add %s epoll for fd: %d", interest, fd)
	}
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: uint32(interest)})
	if err != nil {
		return os.NewSyscallError("epoll_ctl add", err)
	}
	return nil
}

func (p *poller) modify(fd int, interest Interest) error {
	if log.Debug().Enabled() {
		log.Debug().Msgf("modify %s epoll for fd: %d", interest, fd)
	}
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: uint32(interest)})
	if err != nil {
		return os.NewSyscallError("epoll_ctl mod", err)
	}
	return nil
}

func (p *poller) delete(fd int) error {
	if log.Debug().Enabled() {
		log.Debug().Msgf("delete epoll for fd: %d", fd)
	}
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil {
		return os.NewSyscallError("epoll_ctl del", err)
	}
	return nil
}

// wait blocks until at least one descriptor is ready, msec < 0 meaning no
// timeout. At most len(p.events) events are returned; the kernel keeps the
// rest for the next call. The returned slice is reused by the next wait.
func (p *poller) wait(msec int) ([]readyEvent, error) {
	for {
		evCount, err := epollWait(p.fd, p.events, msec)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, os.NewSyscallError("epoll_wait", err)
		}
		p.ready = p.ready[:0]
		for i := 0; i < evCount; i++ {
			event := p.events[i]
			p.ready = append(p.ready, readyEvent{fd: int(event.Fd), events: Interest(event.Events)})
		}
		return p.ready, nil
	}
}

func epollWait(epollFd int, events []unix.EpollEvent, msec int) (count int, err error) {
	var eventCount uintptr
	var errno unix.Errno
	var eventsPointer = unsafe.Pointer(&events[0])
	if msec == 0 {
		eventCount, _, errno = unix.RawSyscall6(unix.SYS_EPOLL_PWAIT, uintptr(epollFd), uintptr(eventsPointer), uintptr(len(events)), 0, 0, 0)
	} else {
		eventCount, _, errno = unix.Syscall6(unix.SYS_EPOLL_PWAIT, uintptr(epollFd), uintptr(eventsPointer), uintptr(len(events)), uintptr(msec), 0, 0)
	}
	if errno != 0 {
		return 0, errno
	}
	return int(eventCount), nil
}

package evloop

import (
	"github.com/rs/zerolog/log"
	"sort"
)

type registration struct {
	handler  EventHandler
	interest Interest
}

// handlerHolder is the registration table. It is only touched from the loop
// goroutine, or before Run is entered, so it carries no lock.
type handlerHolder struct {
	registrations map[int]*registration
}

func newHandlerHolder() *handlerHolder {
	return &handlerHolder{
		registrations: make(map[int]*registration),
	}
}

func (h *handlerHolder) find(fd int) (*registration, bool) {
	reg, ok := h.registrations[fd]
	return reg, ok
}

func (h *handlerHolder) add(fd int, reg *registration) {
	h.registrations[fd] = reg
}

func (h *handlerHolder) remove(fd int) (*registration, bool) {
	reg, ok := h.registrations[fd]
	if ok {
		delete(h.registrations, fd)
	}
	return reg, ok
}

func (h *handlerHolder) len() int {
	return len(h.registrations)
}

// fds returns the registered descriptors in ascending order.
func (h *handlerHolder) fds() []int {
	fds := make([]int, 0, len(h.registrations))
	for fd := range h.registrations {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	return fds
}

func (h *handlerHolder) dump(name string) {
	if !log.Debug().Enabled() {
		return
	}
	log.Debug().Msgf("[%s] total handlers: %d", name, len(h.registrations))
	for _, fd := range h.fds() {
		reg := h.registrations[fd]
		log.Debug().Msgf("[%s] fd:%d interest:%s handler:%T", name, fd, reg.interest, reg.handler)
	}
}

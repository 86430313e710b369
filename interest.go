package evloop

import (
	"golang.org/x/sys/unix"
	"strconv"
	"strings"
)

// Interest is a set of epoll event bits. Values are handed to epoll_ctl as they are.
type Interest uint32

const (
	Readable      Interest = unix.EPOLLIN
	Writable      Interest = unix.EPOLLOUT
	Priority      Interest = unix.EPOLLPRI
	PeerClosed    Interest = unix.EPOLLRDHUP
	Error         Interest = unix.EPOLLERR
	Hangup        Interest = unix.EPOLLHUP
	EdgeTriggered Interest = unix.EPOLLET
	OneShot       Interest = unix.EPOLLONESHOT
)

const closeEvents = Error | Hangup | PeerClosed

var interestNames = []struct {
	flag Interest
	name string
}{
	{Readable, "readable"},
	{Writable, "writable"},
	{Priority, "priority"},
	{PeerClosed, "peer_closed"},
	{Error, "error"},
	{Hangup, "hangup"},
	{EdgeTriggered, "edge"},
	{OneShot, "oneshot"},
}

// Has reports whether every bit of flag is set.
func (i Interest) Has(flag Interest) bool {
	return flag != 0 && i&flag == flag
}

func (i Interest) String() string {
	if i == 0 {
		return "none"
	}
	names := make([]string, 0, 4)
	for _, n := range interestNames {
		if i&n.flag != 0 {
			names = append(names, n.name)
			i &^= n.flag
		}
	}
	if i != 0 {
		names = append(names, "0x"+strconv.FormatUint(uint64(i), 16))
	}
	return strings.Join(names, "|")
}

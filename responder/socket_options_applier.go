package responder

import (
	"fmt"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
	"net"
	"os"
)

// listenSocket opens a non-blocking TCP listening socket and returns its fd
// together with the address actually bound.
func listenSocket(address string, backlog int) (int, *net.TCPAddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return -1, nil, err
	}
	domain, sockaddr, err := toSockaddr(tcpAddr)
	if err != nil {
		return -1, nil, err
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, os.NewSyscallError("socket", err)
	}
	setListenerSocketOptions(fd)
	if err := unix.Bind(fd, sockaddr); err != nil {
		closeSocket(fd)
		return -1, nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		closeSocket(fd)
		return -1, nil, os.NewSyscallError("listen", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		closeSocket(fd)
		return -1, nil, os.NewSyscallError("getsockname", err)
	}
	return fd, sockaddrToTCPAddr(bound), nil
}

func setListenerSocketOptions(fd int) {
	err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err != nil {
		log.Error().Msgf("got error while setting socket options SO_REUSEADDR: %+v", err)
	}
}

func setConnSocketOptions(fd int) {
	err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	if err != nil {
		log.Error().Msgf("got error while setting socket options TCP_NODELAY: %+v", err)
	}
}

func toSockaddr(addr *net.TCPAddr) (int, unix.Sockaddr, error) {
	if addr.IP == nil || addr.IP.To4() != nil {
		sockaddr := &unix.SockaddrInet4{Port: addr.Port}
		if addr.IP != nil {
			copy(sockaddr.Addr[:], addr.IP.To4())
		}
		return unix.AF_INET, sockaddr, nil
	}
	if ip := addr.IP.To16(); ip != nil {
		sockaddr := &unix.SockaddrInet6{Port: addr.Port}
		copy(sockaddr.Addr[:], ip)
		return unix.AF_INET6, sockaddr, nil
	}
	return 0, nil, fmt.Errorf("unsupported address: %s", addr)
}

func sockaddrToTCPAddr(sockaddr unix.Sockaddr) *net.TCPAddr {
	switch sa := sockaddr.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
	}
	return nil
}

func closeSocket(fd int) {
	if err := unix.Close(fd); err != nil {
		log.Error().Msgf("[%d] got error while closing socket: %+v", fd, err)
	}
}

// Package responder is a tiny HTTP/1.1 responder driven by an evloop.EventLoop.
// Every request gets a fixed plain-text answer chosen by the path of its
// request line, and the connection is closed. The answer is sent once the
// first line has arrived or the read buffer is full.
package responder

import (
	"bytes"
	"evloop"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
	"net"
	"os"
)

type Options struct {
	Address        string
	Backlog        int
	EdgeTriggered  bool
	ReadBufferSize int
	Body           string
	Routes         map[string]string
	CacheMaxCost   int64
}

func OptionsFromConfig(config evloop.ResponderConfig) Options {
	routes := make(map[string]string, len(config.Routes))
	for _, route := range config.Routes {
		routes[route.Path] = route.Body
	}
	return Options{
		Address:        config.Address,
		Backlog:        config.Backlog,
		EdgeTriggered:  config.EdgeTriggered,
		ReadBufferSize: config.ReadBufferSize,
		Body:           config.Body,
		Routes:         routes,
		CacheMaxCost:   config.CacheMaxCost,
	}
}

// Listener accepts connections on a non-blocking socket and registers each
// of them on the same loop.
type Listener struct {
	loop      *evloop.EventLoop
	fd        int
	addr      *net.TCPAddr
	interest  evloop.Interest
	buffer    []byte
	responses *responseCache
	served    *atomic.Uint64
	closed    *atomic.Bool
}

// Listen binds the configured address and registers the listener on loop.
func Listen(loop *evloop.EventLoop, opts Options) (*Listener, error) {
	opts = withDefaults(opts)
	responses, err := newResponseCache(opts.CacheMaxCost, opts.Body, opts.Routes)
	if err != nil {
		return nil, err
	}
	fd, addr, err := listenSocket(opts.Address, opts.Backlog)
	if err != nil {
		responses.close()
		return nil, err
	}
	interest := evloop.Readable
	if opts.EdgeTriggered {
		interest |= evloop.EdgeTriggered
	}
	l := &Listener{
		loop:      loop,
		fd:        fd,
		addr:      addr,
		interest:  interest,
		buffer:    make([]byte, opts.ReadBufferSize),
		responses: responses,
		served:    atomic.NewUint64(0),
		closed:    atomic.NewBool(false),
	}
	if err := loop.AddHandler(fd, interest, l); err != nil {
		closeSocket(fd)
		responses.close()
		return nil, err
	}
	log.Info().Msgf("server listening on: %s (%s)", addr, interest)
	return l, nil
}

func (l *Listener) Addr() net.Addr {
	return l.addr
}

// Served returns the number of responses written so far.
func (l *Listener) Served() uint64 {
	return l.served.Load()
}

// ReadEvent accepts pending connections. In edge-triggered mode the backlog is
// drained until accept would block, otherwise one connection is taken per
// event and the loop reports the rest again.
func (l *Listener) ReadEvent(int) error {
	for {
		connFd, sockaddr, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch {
			case evloop.IsWouldBlock(err):
				// No incoming connections right now
				return nil
			case err == unix.EINTR || err == unix.ECONNABORTED:
				continue
			}
			return os.NewSyscallError("accept4", err)
		}
		setConnSocketOptions(connFd)
		c := &conn{
			fd:       connFd,
			remote:   sockaddrToTCPAddr(sockaddr).String(),
			listener: l,
		}
		if err := l.loop.AddHandler(connFd, l.interest, c); err != nil {
			closeSocket(connFd)
			return err
		}
		if log.Debug().Enabled() {
			log.Debug().Msgf("[%d] accepted connection from %s", connFd, c.remote)
		}
		if !l.interest.Has(evloop.EdgeTriggered) {
			return nil
		}
	}
}

func (l *Listener) WriteEvent(int) error {
	return nil
}

// Close releases the listening socket. The event loop calls it when it is
// closed with the listener still registered.
func (l *Listener) Close() error {
	if !l.closed.CAS(false, true) {
		return nil
	}
	l.responses.close()
	return os.NewSyscallError("close", unix.Close(l.fd))
}

// conn collects the request until its first line is complete, or the read
// buffer size is reached, then answers once and closes.
type conn struct {
	fd       int
	remote   string
	listener *Listener
	request  []byte
}

func (c *conn) ReadEvent(fd int) error {
	buffer := c.listener.buffer
	for {
		read, err := unix.Read(fd, buffer[:len(buffer)-len(c.request)])
		if err != nil {
			if evloop.IsWouldBlock(err) {
				return nil
			}
			if isPeerGone(err) {
				return c.finish()
			}
			return os.NewSyscallError("read", err)
		}
		if read == 0 {
			return c.finish()
		}
		c.request = append(c.request, buffer[:read]...)
		if bytes.IndexByte(c.request, '\n') >= 0 || len(c.request) >= len(buffer) {
			return c.respond(fd)
		}
	}
}

func (c *conn) respond(fd int) error {
	response := c.listener.responses.response(requestPath(c.request))
	if _, err := unix.Write(fd, response); err != nil {
		if !isPeerGone(err) && !evloop.IsWouldBlock(err) {
			return os.NewSyscallError("write", err)
		}
		log.Warn().Msgf("[%d] response to %s dropped: %v", fd, c.remote, err)
		return c.finish()
	}
	c.listener.served.Inc()
	log.Info().Msgf("response sent to client: %s", c.remote)
	return c.finish()
}

func (c *conn) WriteEvent(int) error {
	return nil
}

// Close is used by the event loop when it shuts down with the connection open.
func (c *conn) Close() error {
	return os.NewSyscallError("close", unix.Close(c.fd))
}

func (c *conn) finish() error {
	if _, err := c.listener.loop.RemoveHandler(c.fd); err != nil {
		return err
	}
	return c.Close()
}

func isPeerGone(err error) bool {
	return err == unix.ECONNRESET || err == unix.EPIPE
}

// requestPath extracts the target of the request line, "/" when it can't be
// parsed.
func requestPath(request []byte) string {
	line := request
	if end := bytes.IndexByte(line, '\n'); end >= 0 {
		line = line[:end]
	}
	fields := bytes.Fields(line)
	if len(fields) < 2 || fields[1][0] != '/' {
		return "/"
	}
	path := fields[1]
	if query := bytes.IndexByte(path, '?'); query >= 0 {
		path = path[:query]
	}
	return string(path)
}

func withDefaults(opts Options) Options {
	defaults := evloop.DefaultConfig().Responder
	if opts.Address == "" {
		opts.Address = defaults.Address
	}
	if opts.Backlog <= 0 {
		opts.Backlog = defaults.Backlog
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = defaults.ReadBufferSize
	}
	if opts.Body == "" {
		opts.Body = defaults.Body
	}
	if opts.CacheMaxCost <= 0 {
		opts.CacheMaxCost = defaults.CacheMaxCost
	}
	return opts
}

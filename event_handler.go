package evloop

// EventHandler reacts to readiness of the descriptor it was registered for.
// Callbacks run on the loop goroutine and must not block: a would-block
// condition is a normal outcome and should be reported as success.
// Any returned error stops the loop and is returned from Run as is.
type EventHandler interface {
	// ReadEvent Handle read readiness received from polling
	ReadEvent(fd int) error
	// WriteEvent Handle write readiness received from polling
	WriteEvent(fd int) error
}

// CloseEventHandler is implemented by handlers that want to see error,
// hangup and peer-close notifications. CloseEvent runs after ReadEvent and
// WriteEvent for the same event.
type CloseEventHandler interface {
	EventHandler
	// CloseEvent Handle error events received from polling
	CloseEvent(fd int, events Interest) error
}

// HandlerFuncs adapts plain functions to EventHandler. Nil funcs do nothing.
type HandlerFuncs struct {
	Read  func(fd int) error
	Write func(fd int) error
	Close func(fd int, events Interest) error
}

func (h HandlerFuncs) ReadEvent(fd int) error {
	if h.Read == nil {
		return nil
	}
	return h.Read(fd)
}

func (h HandlerFuncs) WriteEvent(fd int) error {
	if h.Write == nil {
		return nil
	}
	return h.Write(fd)
}

func (h HandlerFuncs) CloseEvent(fd int, events Interest) error {
	if h.Close == nil {
		return nil
	}
	return h.Close(fd, events)
}

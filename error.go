package evloop

import "errors"

var (
	ErrInvalidFd           = errors.New("evloop: invalid file descriptor")
	ErrInvalidHandler      = errors.New("evloop: nil event handler")
	ErrFdAlreadyRegistered = errors.New("evloop: fd already registered")
	ErrFdNotRegistered     = errors.New("evloop: fd not registered")
	ErrLoopRunning         = errors.New("evloop: event loop is running")
	ErrLoopTerminated      = errors.New("evloop: event loop terminated by error")
	ErrLoopClosed          = errors.New("evloop: event loop closed")
)

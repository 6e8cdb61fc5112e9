package worker

import "errors"

var (
	errQueueFull = errors.New("worker queue full")
	errPanic     = errors.New("task panicked")
)

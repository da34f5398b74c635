package event

import "errors"

var (
	ErrBusStarted = errors.New("event bus already started")
	ErrBusClosed  = errors.New("event bus closed")
)

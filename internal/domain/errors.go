package domain

import "errors"

// Domain errors - use these for consistent error handling
var (
	// Room errors
	ErrRoomNotFound = errors.New("room not found")
	ErrNameTaken    = errors.New("name already taken in this room")
	ErrNotHost      = errors.New("only the host may perform this action")
	ErrInvalidTheme = errors.New("unknown theme")

	// Message errors
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyMessage    = errors.New("message cannot be empty")

	// Media errors
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumerNotFound  = errors.New("consumer not found")
	ErrNoWorkers         = errors.New("no media workers available")
)

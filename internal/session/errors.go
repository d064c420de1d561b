package session

import "errors"

var (
	// ErrCallInProgress is returned when a call is started while another one
	// for the same session or user is connecting or active.
	ErrCallInProgress = errors.New("call already in progress")
	// ErrSessionFinished is returned when starting a session that has ended.
	ErrSessionFinished = errors.New("session finished")
	ErrNotFound        = errors.New("session not found")
	ErrNoActiveCall    = errors.New("no active call")
	// ErrUnsupported is returned when the connection cannot take webhook
	// events or audio.
	ErrUnsupported = errors.New("operation not supported by voice connection")
)

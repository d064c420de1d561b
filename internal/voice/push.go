package voice

import (
	"context"
	"errors"
)

// ErrConnectionClosed is returned when pushing into a finished call.
var ErrConnectionClosed = errors.New("voice connection closed")

// PushService backs calls whose events arrive out of band, through the
// provider webhook, rather than over a socket this process holds open.
type PushService struct{}

func NewPushService() *PushService {
	return &PushService{}
}

func (s *PushService) Start(ctx context.Context, cfg CallConfig) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Provider: "push", Err: err}
	}
	return &PushConnection{pipe: NewPipe(64)}, nil
}

type PushConnection struct {
	pipe *Pipe
}

func (c *PushConnection) Events() <-chan Event {
	return c.pipe.Events()
}

// Push injects a webhook event into the call.
func (c *PushConnection) Push(ev Event) error {
	if !c.pipe.Emit(ev) {
		return ErrConnectionClosed
	}
	if ev.Kind == EventCallEnd {
		c.pipe.Close()
	}
	return nil
}

func (c *PushConnection) Stop() error {
	c.pipe.Close()
	return nil
}

package session

// Status is the lifecycle position of one call.
type Status string

const (
	StatusInactive   Status = "inactive"
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusFinished   Status = "finished"
)

// Live reports whether a call is in progress.
func (s Status) Live() bool {
	return s == StatusConnecting || s == StatusActive
}

type Trigger string

const (
	TriggerStartRequested      Trigger = "start_requested"
	TriggerCallEstablished     Trigger = "call_established"
	TriggerCallEnded           Trigger = "call_ended"
	TriggerDisconnectRequested Trigger = "disconnect_requested"
	TriggerConnectFailed       Trigger = "connect_failed"
)

// Next returns the status reached by applying t to s. ok is false when t is
// not valid in s, in which case s is returned unchanged.
func Next(s Status, t Trigger) (Status, bool) {
	switch s {
	case StatusInactive:
		if t == TriggerStartRequested {
			return StatusConnecting, true
		}
	case StatusConnecting:
		switch t {
		case TriggerCallEstablished:
			return StatusActive, true
		case TriggerConnectFailed:
			return StatusInactive, true
		case TriggerCallEnded, TriggerDisconnectRequested:
			return StatusFinished, true
		}
	case StatusActive:
		switch t {
		case TriggerCallEnded, TriggerDisconnectRequested:
			return StatusFinished, true
		}
	}
	return s, false
}

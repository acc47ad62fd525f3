package service

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "disconnected"
	}
}

// StateNames — все значения State для метрик.
func StateNames() []string {
	return []string{
		Disconnected.String(),
		Connecting.String(),
		Connected.String(),
		Reconnecting.String(),
		Closed.String(),
	}
}

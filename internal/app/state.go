package app

import "fmt"

// State is the streaming worker's position in its connection lifecycle.
type State int32

const (
	Idle State = iota
	Connecting
	Handshaking
	Streaming
	ReconnectWait
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Streaming:
		return "streaming"
	case ReconnectWait:
		return "reconnect_wait"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

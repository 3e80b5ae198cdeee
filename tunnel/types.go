package tunnel

import (
	"errors"
	"time"

	"github.com/malcolmseyd/dhtunnel/network"
)

var (
	// ErrNotConnected is returned when sending on a tunnel that hasn't
	// finished its handshake or has since gone down.
	ErrNotConnected = errors.New("dhtunnel/tunnel: not connected")
	// ErrHandshake wraps whatever made a handshake attempt fail.
	ErrHandshake = errors.New("dhtunnel/tunnel: handshake failed")

	errReplay = errors.New("dhtunnel/tunnel: replayed message")
)

// State is the connection state of a Machine.
type State int

const (
	// Disconnected is the initial and terminal state.
	Disconnected State = iota
	// Connecting means a handshake is running in the background.
	Connecting
	// Connected means a session key is established.
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Config describes one tunnel endpoint.
type Config struct {
	Network network.Config
	// Secret is the pre-shared passphrase both peers know.
	Secret string
	// HandshakeTimeout bounds connecting plus the key exchange. Zero waits
	// forever.
	HandshakeTimeout time.Duration
	// ReplayWindow is how many recent messages are checked for replays.
	// Zero uses antireplay.DefaultSize.
	ReplayWindow int
}

// Stats counts application messages on the current session.
type Stats struct {
	Sent     uint64
	Received uint64
	// Dropped counts inbound messages that failed verification or were
	// replays.
	Dropped uint64
}

package network

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/vishvananda/netlink"
)

const (
	// DefaultPort is the TCP port the responder listens on.
	DefaultPort = 50002
	// DefaultRetries is how many refused connection attempts the initiator
	// tolerates before giving up.
	DefaultRetries = 10
	// DefaultRetryDelay is the backoff between refused connection attempts.
	DefaultRetryDelay = time.Second
	// DefaultMaxMessage is the largest frame the receiver will read.
	DefaultMaxMessage = 1024

	// frame length prefix
	headerSize = 4

	// how long an in-flight write may take once Close is called
	closeGrace = time.Second
)

var (
	// ErrConnectionDead is returned when the connector's workers are no
	// longer running.
	ErrConnectionDead = errors.New("dhtunnel/network: connection dead")
	// ErrRetriesExceeded is returned when the initiator was refused too
	// many times.
	ErrRetriesExceeded = errors.New("dhtunnel/network: too many refused connection attempts")
	// ErrTimeout is returned when ReceiveWait's deadline passes.
	ErrTimeout = errors.New("dhtunnel/network: timed out waiting for message")
	// ErrFrameSize occurs when a message is empty or larger than the maximum
	ErrFrameSize = errors.New("dhtunnel/network: invalid message size")
	// ErrNoIP is returned when no appropriate ip address could be found
	ErrNoIP = errors.New("dhtunnel/network: no valid ip address found")

	// destination used to find the address of the default route
	routeProbe = net.IPv4(192, 0, 2, 1)
)

// Role says which end of the tunnel a connector is.
type Role int

const (
	// Initiator dials the responder.
	Initiator Role = iota
	// Responder listens and accepts exactly one initiator.
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return "role(" + strconv.Itoa(int(r)) + ")"
	}
}

// Config holds everything a Connector needs to establish its socket.
type Config struct {
	Role Role
	// Host is the address to dial for an Initiator, or the address to bind
	// for a Responder. An empty Responder host binds the default route's
	// source address.
	Host string
	Port uint16

	// MaxRetries caps refused dial attempts. Zero means DefaultRetries.
	MaxRetries int
	// RetryDelay is the wait between refused attempts. Zero means
	// DefaultRetryDelay.
	RetryDelay time.Duration
	// MaxMessageSize bounds a single frame. Zero means DefaultMaxMessage.
	MaxMessageSize int
	// TOS, when non-zero, is set on IPv4 tunnel sockets.
	TOS int

	// Listener, if set, is used by a Responder instead of binding Host:Port.
	// The connector takes ownership of it.
	Listener net.Listener
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Port == 0 {
		out.Port = DefaultPort
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = DefaultRetries
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = DefaultRetryDelay
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = DefaultMaxMessage
	}
	return out
}

// Address joins host and port.
func (c *Config) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(int(port)))
}

// LocalIP gets source ip address that will be used when sending data to dstIP
func LocalIP(dstIP net.IP) (net.IP, error) {
	routes, err := netlink.RouteGet(dstIP)
	if err != nil {
		return nil, err
	}
	for _, route := range routes {
		if route.Src != nil {
			return route.Src, nil
		}
	}
	return nil, ErrNoIP
}

// DefaultIP returns the source address of the default route.
func DefaultIP() (net.IP, error) {
	return LocalIP(routeProbe)
}

// HostToAddr resolves a hostname, whether DNS or IP to a valid net.IPAddr
func HostToAddr(hostStr string) (*net.IPAddr, error) {
	remoteAddrs, err := net.LookupHost(hostStr)
	if err != nil {
		return nil, err
	}

	for _, addrStr := range remoteAddrs {
		if remoteAddr, err := net.ResolveIPAddr("ip4", addrStr); err == nil {
			return remoteAddr, nil
		}
	}
	return nil, ErrNoIP
}

// Identity returns the 4-octet identity marker for addr: the IPv4 octets, or
// the last four bytes of an IPv6 address.
func Identity(addr net.Addr) (id [4]byte) {
	var ip net.IP
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	case *net.IPAddr:
		ip = a.IP
	default:
		return
	}
	if ip4 := ip.To4(); ip4 != nil {
		copy(id[:], ip4)
	} else if len(ip) == net.IPv6len {
		copy(id[:], ip[net.IPv6len-4:])
	}
	return
}

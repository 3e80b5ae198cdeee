package network

import (
	"net"

	"golang.org/x/net/ipv4"
)

// applySocketOptions tunes a freshly established tunnel socket.
func applySocketOptions(conn net.Conn, cfg *Config) error {
	if cfg.TOS == 0 {
		return nil
	}
	if addr, ok := conn.LocalAddr().(*net.TCPAddr); !ok || addr.IP.To4() == nil {
		return nil
	}
	return ipv4.NewConn(conn).SetTOS(cfg.TOS)
}

package value_object

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint は "host:port" を表す値オブジェクト
type Endpoint struct {
	host string
	port uint16
}

func NewEndpoint(host string, port uint16) (Endpoint, error) {
	if port == 0 {
		return Endpoint{}, fmt.Errorf("invalid port: %d", port)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("invalid host")
	}
	return Endpoint{host, port}, nil
}

// ParseEndpoint parses "host:port" (IPv6 hosts in brackets).
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", s, err)
	}
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse port %q: %w", portStr, err)
	}
	return NewEndpoint(host, uint16(p))
}

func (e Endpoint) Host() string   { return e.host }
func (e Endpoint) Port() uint16   { return e.port }
func (e Endpoint) IsZero() bool   { return e.port == 0 }
func (e Endpoint) String() string { return net.JoinHostPort(e.host, strconv.Itoa(int(e.port))) }

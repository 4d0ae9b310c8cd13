// Package mcast opens the UDP command channel: an IPv4 socket bound to
// INADDR_ANY on the command port, joined to the group's multicast address.
package mcast

import (
	"context"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// Endpoint is the group's UDP command channel.
type Endpoint struct {
	conn  *net.UDPConn
	pc    *ipv4.PacketConn
	group *net.UDPAddr

	leaveOnce sync.Once
}

// Open creates an IPv4 UDP socket, joins group (a dotted-quad multicast
// address) with the kernel choosing the interface (the Go equivalent of
// imr_interface = INADDR_ANY), and binds to INADDR_ANY:port.
func Open(group string, port int) (*Endpoint, error) {
	groupIP := net.ParseIP(group).To4()
	if groupIP == nil {
		return nil, errors.Errorf("mcast: %q is not a valid IPv4 multicast address", group)
	}

	lc := net.ListenConfig{Control: setReuseAddr}
	packetConn, err := lc.ListenPacket(context.Background(), "udp4", (&net.UDPAddr{IP: net.IPv4zero, Port: port}).String())
	if err != nil {
		return nil, errors.Wrap(err, "mcast: bind command port")
	}
	conn := packetConn.(*net.UDPConn)

	pc := ipv4.NewPacketConn(conn)
	groupAddr := &net.UDPAddr{IP: groupIP}
	if err := pc.JoinGroup(nil, groupAddr); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "mcast: join group")
	}

	return &Endpoint{conn: conn, pc: pc, group: groupAddr}, nil
}

// setReuseAddr lets a restarted node rebind the command port without
// waiting out TIME_WAIT.
// It runs as the ListenConfig control hook, before the socket is bound.
func setReuseAddr(network, address string, raw syscall.RawConn) error {
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// ReadFrom blocks for the next datagram, honoring any deadline set with
// SetReadDeadline.
func (e *Endpoint) ReadFrom(b []byte) (int, *net.UDPAddr, error) {
	return e.conn.ReadFromUDP(b)
}

// WriteTo sends a datagram to addr. It is safe for the dispatcher and any
// number of transfer workers to call concurrently.
func (e *Endpoint) WriteTo(b []byte, addr *net.UDPAddr) (int, error) {
	return e.conn.WriteToUDP(b, addr)
}

// SetReadDeadline lets the dispatcher poll for shutdown between blocking
// reads.
func (e *Endpoint) SetReadDeadline(t time.Time) error {
	return e.conn.SetReadDeadline(t)
}

// GroupAddr returns the joined multicast address.
func (e *Endpoint) GroupAddr() string {
	return e.group.IP.String()
}

// Close drops multicast membership at most once, then closes the socket.
func (e *Endpoint) Close() error {
	var leaveErr error
	e.leaveOnce.Do(func() {
		leaveErr = e.pc.LeaveGroup(nil, e.group)
	})
	closeErr := e.conn.Close()
	if leaveErr != nil {
		return errors.Wrap(leaveErr, "mcast: leave group")
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, "mcast: close socket")
	}
	return nil
}

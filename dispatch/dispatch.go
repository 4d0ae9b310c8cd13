// Package dispatch implements the single-goroutine command loop that reads
// datagrams from the group's command channel, validates them, and invokes
// the handler named by the command table, spawning a transfer worker
// goroutine for GET and ADD.
package dispatch

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"groupshare/inventory"
	"groupshare/lifecycle"
	"groupshare/logging"
	"groupshare/transfer"
	"groupshare/wire"
)

// pollInterval bounds how long the dispatcher's blocking receive can hide
// a shutdown request: it sets a read deadline and loops, checking ctx
// between reads.
const pollInterval = 500 * time.Millisecond

// endpoint is the subset of mcast.Endpoint the dispatcher needs.
type endpoint interface {
	ReadFrom(b []byte) (int, *net.UDPAddr, error)
	WriteTo(b []byte, addr *net.UDPAddr) (int, error)
	SetReadDeadline(t time.Time) error
	GroupAddr() string
}

// Dispatcher owns the inventory and the command channel. GET/ADD handlers
// spawn a worker goroutine; a failed receive worker refunds its reservation
// from that goroutine, relying on the inventory's own locking.
type Dispatcher struct {
	inv      *inventory.Inventory
	ep       endpoint
	pending  *lifecycle.PendingUploads
	timeout  time.Duration
	log      *logging.Logger
	maxSpace uint64

	wg sync.WaitGroup
}

// New constructs a Dispatcher. timeout is the handshake timeout applied to
// every spawned transfer worker.
func New(inv *inventory.Inventory, ep endpoint, pending *lifecycle.PendingUploads, timeout time.Duration, log *logging.Logger, maxSpace uint64) *Dispatcher {
	return &Dispatcher{inv: inv, ep: ep, pending: pending, timeout: timeout, log: log, maxSpace: maxSpace}
}

// Run blocks, reading and dispatching datagrams until ctx is canceled. It
// then waits for every spawned worker to finish before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	buf := make([]byte, wire.MaxSimpl)
	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return nil
		default:
		}

		if err := d.ep.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return errors.Wrap(err, "dispatch: set read deadline")
		}

		n, addr, err := d.ep.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				d.wg.Wait()
				return nil
			}
			return errors.Wrap(err, "dispatch: receive")
		}

		datagram := append([]byte(nil), buf[:n]...)
		d.handleDatagram(ctx, datagram, addr)
	}
}

// handleDatagram validates and routes a single datagram. Protocol errors
// are logged locally, never sent over the wire, except where the command
// table mandates NO_WAY.
func (d *Dispatcher) handleDatagram(ctx context.Context, datagram []byte, addr *net.UDPAddr) {
	simple, err := wire.DecodeSimple(datagram)
	if err != nil {
		d.log.Warnf("dispatch: %v from %s (len=%d)", err, addr, len(datagram))
		return
	}

	switch {
	case wire.CommandEqual(simple.Cmd, "HELLO"):
		d.handleHello(simple, addr)
	case wire.CommandEqual(simple.Cmd, "LIST"):
		d.handleList(simple, addr)
	case wire.CommandEqual(simple.Cmd, "GET"):
		d.handleGet(ctx, simple, addr)
	case wire.CommandEqual(simple.Cmd, "DEL"):
		d.handleDel(simple, addr)
	case wire.CommandEqual(simple.Cmd, "ADD"):
		d.handleAdd(ctx, datagram, addr)
	default:
		d.log.Warnf("dispatch: unknown command tag from %s", addr)
	}
}

func (d *Dispatcher) handleHello(simple wire.Simple, addr *net.UDPAddr) {
	if len(simple.Data) != 0 {
		d.log.Warnf("dispatch: HELLO from %s carried non-empty payload", addr)
	}
	reply := wire.EncodeComplex("GOOD_DAY", simple.Seq, d.inv.AvailableSpace(), []byte(d.ep.GroupAddr()))
	if _, err := d.ep.WriteTo(reply, addr); err != nil {
		d.log.Errorf("dispatch: reply GOOD_DAY to %s: %v", addr, err)
	}
}

func (d *Dispatcher) handleList(simple wire.Simple, addr *net.UDPAddr) {
	names, err := d.inv.Search(string(simple.Data))
	if err != nil {
		d.log.Errorf("dispatch: search: %v", err)
		return
	}
	for _, pkt := range segmentList(names, simple.Seq) {
		if _, err := d.ep.WriteTo(pkt, addr); err != nil {
			d.log.Errorf("dispatch: reply MY_LIST to %s: %v", addr, err)
			return
		}
	}
}

// segmentList accumulates basenames newline-joined, flushing a MY_LIST
// datagram before the next addition would exceed MaxSimplDataLen. A
// candidate is considered against the exact resulting length (current
// accumulation + separator + candidate), not an average-case estimate, so
// every emitted packet is maximally packed without ever exceeding the
// limit.
func segmentList(names []string, seq uint64) [][]byte {
	if len(names) == 0 {
		return nil
	}

	var packets [][]byte
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		packets = append(packets, wire.EncodeSimple("MY_LIST", seq, []byte(current.String())))
		current.Reset()
	}

	for _, name := range names {
		addition := len(name)
		if current.Len() > 0 {
			addition += 1 // separating '\n'
		}
		if current.Len()+addition > wire.MaxSimplDataLen {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(name)
	}
	flush()
	return packets
}

func (d *Dispatcher) handleGet(ctx context.Context, simple wire.Simple, addr *net.UDPAddr) {
	basename := string(simple.Data)
	if basename == "" {
		d.log.Warnf("dispatch: GET from %s carried empty basename", addr)
		return
	}

	rec, found, err := d.inv.Find(basename)
	if err != nil {
		d.log.Errorf("dispatch: find %q: %v", basename, err)
		return
	}
	if !found {
		d.log.Warnf("dispatch: GET for unknown basename %q from %s", basename, addr)
		return
	}

	snap := transfer.Snapshot{Basename: basename, Path: d.inv.Path(basename), Size: rec.Size}
	d.spawnSend(ctx, addr, simple.Seq, snap)
}

func (d *Dispatcher) handleDel(simple wire.Simple, addr *net.UDPAddr) {
	basename := string(simple.Data)
	if basename == "" {
		d.log.Warnf("dispatch: DEL from %s carried empty basename", addr)
		return
	}
	if d.pending.Contains(d.inv.Path(basename)) {
		d.log.Warnf("dispatch: DEL for %q from %s rejected, upload in flight", basename, addr)
		return
	}
	if err := d.inv.Remove(basename); err != nil {
		d.log.Errorf("dispatch: remove %q: %v", basename, err)
	}
}

func (d *Dispatcher) handleAdd(ctx context.Context, datagram []byte, addr *net.UDPAddr) {
	complex, err := wire.DecodeComplex(datagram)
	if err != nil {
		d.log.Warnf("dispatch: %v (ADD) from %s", err, addr)
		return
	}

	basename := string(complex.Data)
	size := complex.Param

	valid := basename != "" && !strings.Contains(basename, "/") && d.inv.AvailableSpace() >= size
	if valid {
		if _, found, err := d.inv.Find(basename); err != nil {
			d.log.Errorf("dispatch: find %q: %v", basename, err)
			valid = false
		} else if found {
			valid = false
		}
	}
	if valid && !d.inv.Reserve(size) {
		valid = false
	}
	if valid {
		if err := d.inv.RegisterBasename(basename, size); err != nil {
			d.inv.Refund(basename, size)
			valid = false
		}
	}

	if !valid {
		reply := wire.EncodeSimple("NO_WAY", complex.Seq, []byte(basename))
		if _, err := d.ep.WriteTo(reply, addr); err != nil {
			d.log.Errorf("dispatch: reply NO_WAY to %s: %v", addr, err)
		}
		return
	}

	snap := transfer.Snapshot{Basename: basename, Path: d.inv.Path(basename), Size: size}
	d.spawnReceive(ctx, addr, complex.Seq, snap)
}

func (d *Dispatcher) spawnSend(ctx context.Context, addr *net.UDPAddr, seq uint64, snap transfer.Snapshot) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		res := transfer.RunSend(ctx, d.ep, addr, seq, d.timeout, snap)
		if !res.Succeeded {
			d.log.Warnf("dispatch: send %q to %s failed: %v", snap.Basename, addr, res.Err)
		} else {
			d.log.Infof("dispatch: sent %q to %s (%s)", snap.Basename, addr, logging.Bytes(uint64(res.BytesMoved)))
		}
	}()
}

func (d *Dispatcher) spawnReceive(ctx context.Context, addr *net.UDPAddr, seq uint64, snap transfer.Snapshot) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		res := transfer.RunReceive(ctx, d.ep, addr, seq, d.timeout, snap, d.pending)
		if !res.Succeeded {
			d.log.Warnf("dispatch: receive %q from %s failed: %v", snap.Basename, addr, res.Err)
			if err := d.inv.Refund(snap.Basename, snap.Size); err != nil {
				d.log.Errorf("dispatch: refund %q: %v", snap.Basename, err)
			}
			return
		}
		d.log.Infof("dispatch: received %q from %s (%s)", snap.Basename, addr, logging.Bytes(uint64(res.BytesMoved)))
	}()
}

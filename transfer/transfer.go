// Package transfer implements the one-shot, per-request TCP subprocess of
// spec.md §4.5, redesigned per spec.md §9 from a forked child process into
// a goroutine whose sockets and file handles are released by deferred
// closers on every exit path — timeout, peer error, or success.
package transfer

import (
	"context"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"groupshare/metrics"
	"groupshare/wire"
)

// bufSize is the fixed copy-buffer size used to stream file contents, the
// Go analogue of the original's stack buffer.
const bufSize = 32 * 1024

// acceptBacklog matches spec.md §4.5's "listen with a backlog of 1."
const acceptBacklog = 1

// ErrHandshakeTimeout is returned when no peer connects within the
// configured timeout.
var ErrHandshakeTimeout = errors.New("transfer: handshake timed out waiting for peer")

// Snapshot is the immutable slice of inventory state a worker needs. It is
// never a handle to the live inventory (spec.md §9's "explicit ownership").
type Snapshot struct {
	Basename string
	Path     string
	Size     uint64 // expected byte count for a receive; informational for a send
}

// Notifier is the write-only view of the command channel a worker needs to
// send its handshake datagram. Workers never close it — per spec.md §9,
// only the dispatcher may close the inherited socket.
type Notifier interface {
	WriteTo(b []byte, addr *net.UDPAddr) (int, error)
}

// PendingRegistry tracks destination paths a receive worker has opened for
// writing but not yet closed.
type PendingRegistry interface {
	Add(path string)
	Remove(path string)
}

// Result reports how a transfer worker finished.
type Result struct {
	Basename   string
	Succeeded  bool
	TimedOut   bool
	BytesMoved int64
	Err        error
}

// RunSend streams snap's file to the peer that answers the CONNECT_ME
// handshake. clientAddr/seq identify the requesting client so the
// handshake can be addressed and the sequence number echoed.
func RunSend(ctx context.Context, notifier Notifier, clientAddr *net.UDPAddr, seq uint64, timeout time.Duration, snap Snapshot) Result {
	res := Result{Basename: snap.Basename}

	ln, port, err := listenEphemeral()
	if err != nil {
		res.Err = errors.Wrap(err, "transfer: listen")
		return res
	}
	defer ln.Close()

	pkt := wire.EncodeComplex("CONNECT_ME", seq, uint64(port), []byte(snap.Basename))
	if _, err := notifier.WriteTo(pkt, clientAddr); err != nil {
		res.Err = errors.Wrap(err, "transfer: send handshake")
		return res
	}

	conn, timedOut, err := acceptWithTimeout(ctx, ln, timeout)
	if err != nil {
		res.Err = err
		res.TimedOut = timedOut
		metrics.RecordSend(ctx, 0, timedOut)
		return res
	}
	defer conn.Close()

	file, err := os.Open(snap.Path)
	if err != nil {
		res.Err = errors.Wrap(err, "transfer: open source file")
		return res
	}
	defer file.Close()

	n, err := io.CopyBuffer(conn, file, make([]byte, bufSize))
	res.BytesMoved = n
	if err != nil {
		res.Err = errors.Wrap(err, "transfer: stream to peer")
		metrics.RecordSend(ctx, n, false)
		return res
	}

	res.Succeeded = true
	metrics.RecordSend(ctx, n, false)
	return res
}

// RunReceive accepts exactly snap.Size bytes from the peer that answers
// the CAN_ADD handshake and writes them to snap.Path, deleting the partial
// file on any failure.
func RunReceive(ctx context.Context, notifier Notifier, clientAddr *net.UDPAddr, seq uint64, timeout time.Duration, snap Snapshot, pending PendingRegistry) Result {
	res := Result{Basename: snap.Basename}

	ln, port, err := listenEphemeral()
	if err != nil {
		res.Err = errors.Wrap(err, "transfer: listen")
		return res
	}
	defer ln.Close()

	pkt := wire.EncodeComplex("CAN_ADD", seq, uint64(port), nil)
	if _, err := notifier.WriteTo(pkt, clientAddr); err != nil {
		res.Err = errors.Wrap(err, "transfer: send handshake")
		return res
	}

	conn, timedOut, err := acceptWithTimeout(ctx, ln, timeout)
	if err != nil {
		res.Err = err
		res.TimedOut = timedOut
		metrics.RecordReceive(ctx, 0, timedOut)
		return res
	}
	defer conn.Close()

	file, err := os.OpenFile(snap.Path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		res.Err = errors.Wrap(err, "transfer: open destination file")
		return res
	}
	pending.Add(snap.Path)
	defer pending.Remove(snap.Path)

	n, copyErr := io.CopyN(file, conn, int64(snap.Size))
	closeErr := file.Close()
	res.BytesMoved = n

	failed := false
	switch {
	case copyErr != nil:
		failed = true
		res.Err = errors.Wrap(copyErr, "transfer: receive from peer")
	case closeErr != nil:
		failed = true
		res.Err = errors.Wrap(closeErr, "transfer: close destination file")
	}

	if failed {
		if err := os.Remove(snap.Path); err != nil && !os.IsNotExist(err) {
			res.Err = errors.Wrapf(res.Err, "also failed to unlink partial file: %v", err)
		}
		metrics.RecordReceive(ctx, n, false)
		return res
	}

	res.Succeeded = true
	metrics.RecordReceive(ctx, n, false)
	return res
}

// acceptWithTimeout waits up to timeout for a single connection, honoring
// ctx cancellation for shutdown.
func acceptWithTimeout(ctx context.Context, ln net.Listener, timeout time.Duration) (net.Conn, bool, error) {
	type acceptResult struct {
		conn net.Conn
		err  error
	}
	done := make(chan acceptResult, 1)
	go func() {
		conn, err := ln.Accept()
		done <- acceptResult{conn, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, false, errors.Wrap(r.err, "transfer: accept")
		}
		return r.conn, false, nil
	case <-timer.C:
		return nil, true, ErrHandshakeTimeout
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// listenEphemeral opens a TCP listener on INADDR_ANY:0 with a backlog of
// acceptBacklog, the Go equivalent of bind+listen+getsockname over a raw
// socket, and returns the kernel-assigned port.
func listenEphemeral() (*net.TCPListener, int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, 0, errors.Wrap(err, "transfer: socket")
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: 0}); err != nil {
		unix.Close(fd)
		return nil, 0, errors.Wrap(err, "transfer: bind")
	}
	if err := unix.Listen(fd, acceptBacklog); err != nil {
		unix.Close(fd)
		return nil, 0, errors.Wrap(err, "transfer: listen")
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, 0, errors.Wrap(err, "transfer: getsockname")
	}
	addr, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		unix.Close(fd)
		return nil, 0, errors.New("transfer: unexpected socket address family")
	}

	file := os.NewFile(uintptr(fd), "groupshare-ephemeral-tcp")
	defer file.Close()
	ln, err := net.FileListener(file)
	if err != nil {
		return nil, 0, errors.Wrap(err, "transfer: wrap listener")
	}
	return ln.(*net.TCPListener), addr.Port, nil
}

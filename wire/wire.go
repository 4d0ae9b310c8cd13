// Package wire implements the two fixed-layout datagram shapes used on the
// group's UDP command channel: simple (10-byte command + 8-byte sequence +
// payload) and complex (simple prefix + an 8-byte parameter before the
// payload). All multi-byte integers are unsigned big-endian.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// CmdFieldLen is the width of the NUL-padded ASCII command tag.
	CmdFieldLen = 10

	// MaxSimpl is the largest datagram, in bytes, that a sender may emit;
	// callers with more to say must segment (see the LIST command).
	MaxSimpl = 512

	// SimplePrefixLen is cmd(10) + seq(8).
	SimplePrefixLen = CmdFieldLen + 8
	// ComplexPrefixLen is cmd(10) + seq(8) + param(8).
	ComplexPrefixLen = SimplePrefixLen + 8

	// MaxSimplDataLen is the largest payload a simple datagram can carry.
	MaxSimplDataLen = MaxSimpl - SimplePrefixLen
	// MaxCmplxDataLen is the largest payload a complex datagram can carry.
	MaxCmplxDataLen = MaxSimpl - ComplexPrefixLen
)

// ErrTooShort is returned when a datagram is shorter than its fixed prefix.
var ErrTooShort = errors.New("wire: datagram shorter than fixed prefix")

// CmdField is the raw 10-byte, NUL-padded command tag as it appears on the
// wire. It is compared against literal tags with CommandEqual, never with
// plain string equality.
type CmdField [CmdFieldLen]byte

// Simple is a decoded simple-shaped datagram.
type Simple struct {
	Cmd  CmdField
	Seq  uint64
	Data []byte
}

// Complex is a decoded complex-shaped datagram.
type Complex struct {
	Cmd   CmdField
	Seq   uint64
	Param uint64
	Data  []byte
}

// DecodeSimple parses b as a simple datagram. b is not retained.
func DecodeSimple(b []byte) (Simple, error) {
	if len(b) < SimplePrefixLen {
		return Simple{}, ErrTooShort
	}
	var s Simple
	copy(s.Cmd[:], b[:CmdFieldLen])
	s.Seq = binary.BigEndian.Uint64(b[CmdFieldLen:SimplePrefixLen])
	s.Data = append([]byte(nil), b[SimplePrefixLen:]...)
	return s, nil
}

// DecodeComplex parses b as a complex datagram. b is not retained.
func DecodeComplex(b []byte) (Complex, error) {
	if len(b) < ComplexPrefixLen {
		return Complex{}, ErrTooShort
	}
	var c Complex
	copy(c.Cmd[:], b[:CmdFieldLen])
	c.Seq = binary.BigEndian.Uint64(b[CmdFieldLen:SimplePrefixLen])
	c.Param = binary.BigEndian.Uint64(b[SimplePrefixLen:ComplexPrefixLen])
	c.Data = append([]byte(nil), b[ComplexPrefixLen:]...)
	return c, nil
}

// EncodeSimple builds a simple datagram. cmd must fit within CmdFieldLen
// bytes; it is NUL-padded on the right.
func EncodeSimple(cmd string, seq uint64, data []byte) []byte {
	buf := make([]byte, SimplePrefixLen+len(data))
	putCmd(buf[:CmdFieldLen], cmd)
	binary.BigEndian.PutUint64(buf[CmdFieldLen:SimplePrefixLen], seq)
	copy(buf[SimplePrefixLen:], data)
	return buf
}

// EncodeComplex builds a complex datagram.
func EncodeComplex(cmd string, seq uint64, param uint64, data []byte) []byte {
	buf := make([]byte, ComplexPrefixLen+len(data))
	putCmd(buf[:CmdFieldLen], cmd)
	binary.BigEndian.PutUint64(buf[CmdFieldLen:SimplePrefixLen], seq)
	binary.BigEndian.PutUint64(buf[SimplePrefixLen:ComplexPrefixLen], param)
	copy(buf[ComplexPrefixLen:], data)
	return buf
}

func putCmd(dst []byte, cmd string) {
	n := copy(dst, cmd)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// CommandEqual reports whether field names the literal command: literal
// must be a prefix of field, and every byte after the prefix must be NUL.
// The comparison is case sensitive and never a substring match.
func CommandEqual(field CmdField, literal string) bool {
	if len(literal) > CmdFieldLen {
		return false
	}
	for i := 0; i < len(literal); i++ {
		if field[i] != literal[i] {
			return false
		}
	}
	for i := len(literal); i < CmdFieldLen; i++ {
		if field[i] != 0 {
			return false
		}
	}
	return true
}

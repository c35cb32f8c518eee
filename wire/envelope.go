package wire

import "github.com/solidgo/mpipc/cmn"

// EnvelopeVersion is the only version this codec emits or accepts.
const EnvelopeVersion uint8 = 1

// Envelope flags (spec §3), distinct from the packet-level Flag bits.
const (
	Synchronous uint16 = 1 << iota
	OneShotSend
	Idempotent
	WaitResponse
	Response
	Canceled
	Relayed
)

// Envelope is the per-message header carried at the start of the first
// packet of a message (spec §6): version, type id, request correlation
// ids, and flags. The typed payload follows immediately and is opaque to
// this package.
type Envelope struct {
	TypeID          uint64
	SenderRequestID uint32
	RecvRequestID   uint32
	Flags           uint16
}

func (e Envelope) Has(flag uint16) bool { return e.Flags&flag != 0 }

// EncodeEnvelope appends the envelope header to dst.
func EncodeEnvelope(dst []byte, e Envelope) []byte {
	dst = append(dst, EnvelopeVersion)
	dst = putCross(dst, e.TypeID)
	dst = putUint32(dst, e.SenderRequestID)
	dst = putUint32(dst, e.RecvRequestID)
	dst = putUint16(dst, e.Flags)
	return dst
}

// DecodeEnvelope parses an envelope from the front of buf, returning the
// envelope and the number of bytes consumed.
func DecodeEnvelope(buf []byte) (Envelope, int, error) {
	if len(buf) < 1 {
		return Envelope{}, 0, cmn.New(cmn.ErrReaderInvalidMessageSwitch)
	}
	if buf[0] != EnvelopeVersion {
		return Envelope{}, 0, cmn.New(cmn.ErrReaderInvalidMessageSwitch)
	}
	off := 1
	typeID, n, err := getCross(buf[off:])
	if err != nil {
		return Envelope{}, 0, err
	}
	off += n
	if len(buf[off:]) < 10 {
		return Envelope{}, 0, cmn.New(cmn.ErrReaderInvalidMessageSwitch)
	}
	senderReqID := getUint32(buf[off:])
	off += 4
	recvReqID := getUint32(buf[off:])
	off += 4
	flags := getUint16(buf[off:])
	off += 2
	return Envelope{
		TypeID:          typeID,
		SenderRequestID: senderReqID,
		RecvRequestID:   recvReqID,
		Flags:           flags,
	}, off, nil
}

// EncodeRelayName prepends a length-prefixed peer name to dst, used by the
// writer as the lead bytes of a RelayedNew packet's payload so the
// receiving broker learns the forwarding target without decoding the
// application envelope (spec §4.7's url/name, carried only on the first
// hop to a relay). name must be under 256 bytes.
func EncodeRelayName(dst []byte, name string) []byte {
	dst = append(dst, byte(len(name)))
	return append(dst, name...)
}

// DecodeRelayName parses a name prefix written by EncodeRelayName from the
// front of buf, returning the name and the remaining bytes.
func DecodeRelayName(buf []byte) (name string, rest []byte, err error) {
	if len(buf) < 1 {
		return "", nil, cmn.New(cmn.ErrReaderInvalidMessageSwitch)
	}
	n := int(buf[0])
	if len(buf) < 1+n {
		return "", nil, cmn.New(cmn.ErrReaderInvalidMessageSwitch)
	}
	return string(buf[1 : 1+n]), buf[1+n:], nil
}

func putUint32(dst []byte, v uint32) []byte {
	return append(dst, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func putUint16(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func getUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// putCross encodes v as a cross-encoded unsigned integer: one length byte
// N (0..8) followed by N little-endian bytes, per spec §6. N is the
// minimum number of bytes needed to represent v (N=0 for v==0).
func putCross(dst []byte, v uint64) []byte {
	var buf [8]byte
	n := 0
	for t := v; t != 0; t >>= 8 {
		buf[n] = byte(t)
		n++
	}
	dst = append(dst, byte(n))
	return append(dst, buf[:n]...)
}

// getCross decodes a cross-encoded unsigned integer, returning the value
// and the number of bytes consumed (1 + N).
func getCross(buf []byte) (uint64, int, error) {
	if len(buf) < 1 {
		return 0, 0, cmn.New(cmn.ErrReaderInvalidMessageSwitch)
	}
	n := int(buf[0])
	if n > 8 || len(buf) < 1+n {
		return 0, 0, cmn.New(cmn.ErrReaderInvalidMessageSwitch)
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[1+i])
	}
	return v, 1 + n, nil
}

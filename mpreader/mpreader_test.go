package mpreader_test

import (
	"testing"

	"github.com/solidgo/mpipc/cmn"
	"github.com/solidgo/mpipc/mpreader"
	"github.com/solidgo/mpipc/wire"
)

type recordingHandler struct {
	envs     []wire.Envelope
	payloads [][]byte
}

func (h *recordingHandler) OnMessage(env wire.Envelope, payload []byte) error {
	h.envs = append(h.envs, env)
	cp := append([]byte(nil), payload...)
	h.payloads = append(h.payloads, cp)
	return nil
}

func buildMessage(env wire.Envelope, payload []byte, messageID uint32) []byte {
	full := wire.EncodeEnvelope(nil, env)
	full = append(full, payload...)
	return wire.Encode(nil, wire.Header{Type: wire.NewMessage, Flags: wire.FlagEndOfMessage, MessageID: messageID}, full)
}

func TestSingleMessageRoundTrip(t *testing.T) {
	h := &recordingHandler{}
	lookup := func(id uint64) (mpreader.Handler, bool) { return h, id == 7 }
	r := mpreader.New(1<<16, 32, false, lookup, nil)

	env := wire.Envelope{TypeID: 7, SenderRequestID: 1}
	buf := buildMessage(env, []byte("hello"), 100)

	n, err := r.Feed(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if len(h.payloads) != 1 || string(h.payloads[0]) != "hello" {
		t.Fatalf("got %v", h.payloads)
	}
}

func TestFragmentedMessage(t *testing.T) {
	h := &recordingHandler{}
	lookup := func(id uint64) (mpreader.Handler, bool) { return h, true }
	r := mpreader.New(1<<16, 32, false, lookup, nil)

	env := wire.Envelope{TypeID: 1}
	envBytes := wire.EncodeEnvelope(nil, env)
	first := wire.Encode(nil, wire.Header{Type: wire.NewMessage, MessageID: 1}, append(envBytes, []byte("ab")...))
	second := wire.Encode(nil, wire.Header{Type: wire.Continuation, Flags: wire.FlagEndOfMessage, MessageID: 1}, []byte("cd"))

	if _, err := r.Feed(first); err != nil {
		t.Fatal(err)
	}
	if len(h.payloads) != 0 {
		t.Fatal("should not complete before end-of-message")
	}
	if _, err := r.Feed(second); err != nil {
		t.Fatal(err)
	}
	if string(h.payloads[0]) != "abcd" {
		t.Fatalf("got %q", h.payloads[0])
	}
}

func TestUnknownTypeIsFatal(t *testing.T) {
	lookup := func(id uint64) (mpreader.Handler, bool) { return nil, false }
	r := mpreader.New(1<<16, 32, false, lookup, nil)
	buf := buildMessage(wire.Envelope{TypeID: 99}, []byte("x"), 1)
	_, err := r.Feed(buf)
	if !cmn.Is(err, cmn.ErrServiceUnknownMessageType) {
		t.Fatalf("expected ErrServiceUnknownMessageType, got %v", err)
	}
}

func TestTooManyMultiplex(t *testing.T) {
	h := &recordingHandler{}
	lookup := func(id uint64) (mpreader.Handler, bool) { return h, true }
	r := mpreader.New(1<<16, 1, false, lookup, nil)

	env := wire.EncodeEnvelope(nil, wire.Envelope{})
	msg1 := wire.Encode(nil, wire.Header{Type: wire.NewMessage, MessageID: 1}, env)
	msg2 := wire.Encode(nil, wire.Header{Type: wire.NewMessage, MessageID: 2}, env)

	if _, err := r.Feed(msg1); err != nil {
		t.Fatal(err)
	}
	_, err := r.Feed(msg2)
	if !cmn.Is(err, cmn.ErrReaderTooManyMultiplex) {
		t.Fatalf("expected ErrReaderTooManyMultiplex, got %v", err)
	}
}

func TestCancelRequestDiscardsBytes(t *testing.T) {
	h := &recordingHandler{}
	lookup := func(id uint64) (mpreader.Handler, bool) { return h, true }
	r := mpreader.New(1<<16, 32, false, lookup, nil)

	env := wire.EncodeEnvelope(nil, wire.Envelope{})
	start := wire.Encode(nil, wire.Header{Type: wire.NewMessage, MessageID: 5}, env)
	cancel := wire.Encode(nil, wire.Header{Type: wire.CancelRequest, MessageID: 5}, nil)
	cont := wire.Encode(nil, wire.Header{Type: wire.Continuation, Flags: wire.FlagEndOfMessage, MessageID: 5}, []byte("ignored"))

	r.Feed(start)
	r.Feed(cancel)
	if _, err := r.Feed(cont); err != nil {
		t.Fatal(err)
	}
	if len(h.payloads) != 0 {
		t.Fatal("a canceled message must never reach the handler")
	}
}

func TestKeepAliveCounting(t *testing.T) {
	lookup := func(id uint64) (mpreader.Handler, bool) { return nil, false }
	r := mpreader.New(1<<16, 32, false, lookup, nil)
	ka := wire.Encode(nil, wire.Header{Type: wire.KeepAlive}, nil)
	r.Feed(ka)
	r.Feed(ka)
	if r.KeepAliveCount() != 2 {
		t.Fatalf("expected 2, got %d", r.KeepAliveCount())
	}
	r.ResetKeepAliveCount()
	if r.KeepAliveCount() != 0 {
		t.Fatal("expected reset to zero")
	}
}

func TestRelayModeBypassesLookup(t *testing.T) {
	var got []byte
	var gotTarget string
	r := mpreader.New(1<<16, 32, true, nil, nil)
	r.OnRelayed = func(h wire.Header, target string, payload []byte) {
		gotTarget = target
		got = append([]byte(nil), payload...)
	}

	relayed := wire.EncodeRelayName(nil, "peerB")
	relayed = append(relayed, "raw-bytes"...)
	buf := wire.Encode(nil, wire.Header{Type: wire.RelayedNew, Flags: wire.FlagEndOfMessage, MessageID: 1}, relayed)
	if _, err := r.Feed(buf); err != nil {
		t.Fatal(err)
	}
	if gotTarget != "peerB" {
		t.Fatalf("got target %q", gotTarget)
	}
	if string(got) != "raw-bytes" {
		t.Fatalf("got %q", got)
	}
}

package wire_test

import (
	"testing"

	"github.com/solidgo/mpipc/wire"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	cases := []wire.Envelope{
		{TypeID: 0, SenderRequestID: 0, RecvRequestID: 0, Flags: 0},
		{TypeID: 1, SenderRequestID: 0xDEADBEEF, RecvRequestID: 0, Flags: wire.WaitResponse},
		{TypeID: 1 << 40, SenderRequestID: 1, RecvRequestID: 2, Flags: wire.Response | wire.Idempotent},
		{TypeID: ^uint64(0), SenderRequestID: ^uint32(0), RecvRequestID: ^uint32(0), Flags: ^uint16(0)},
	}
	for _, e := range cases {
		buf := wire.EncodeEnvelope(nil, e)
		got, n, err := wire.DecodeEnvelope(buf)
		if err != nil {
			t.Fatalf("decode error for %+v: %v", e, err)
		}
		if n != len(buf) {
			t.Fatalf("consumed %d, want %d", n, len(buf))
		}
		if got != e {
			t.Fatalf("got %+v, want %+v", got, e)
		}
	}
}

func TestEnvelopeHasFlag(t *testing.T) {
	e := wire.Envelope{Flags: wire.Synchronous | wire.OneShotSend}
	if !e.Has(wire.Synchronous) || !e.Has(wire.OneShotSend) {
		t.Fatal("expected both flags set")
	}
	if e.Has(wire.Canceled) {
		t.Fatal("did not expect Canceled set")
	}
}

func TestDecodeEnvelopeRejectsBadVersion(t *testing.T) {
	buf := wire.EncodeEnvelope(nil, wire.Envelope{})
	buf[0] = 0xFF
	if _, _, err := wire.DecodeEnvelope(buf); err == nil {
		t.Fatal("expected an error for an unknown envelope version")
	}
}

func TestDecodeEnvelopeRejectsTruncated(t *testing.T) {
	buf := wire.EncodeEnvelope(nil, wire.Envelope{TypeID: 1 << 40})
	if _, _, err := wire.DecodeEnvelope(buf[:2]); err == nil {
		t.Fatal("expected an error for a truncated envelope")
	}
}

func TestEnvelopeFollowedByPayload(t *testing.T) {
	e := wire.Envelope{TypeID: 5, SenderRequestID: 9}
	buf := wire.EncodeEnvelope(nil, e)
	buf = append(buf, []byte("payload")...)

	got, n, err := wire.DecodeEnvelope(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != e {
		t.Fatalf("got %+v, want %+v", got, e)
	}
	if string(buf[n:]) != "payload" {
		t.Fatalf("unexpected remainder: %q", buf[n:])
	}
}

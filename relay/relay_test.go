package relay_test

import (
	"testing"

	"github.com/solidgo/mpipc/cmn"
	"github.com/solidgo/mpipc/relay"
)

type fakePeer struct {
	name     string
	forwarded []string
}

func (p *fakePeer) ForwardPacket(messageID uint32, eom bool, payload []byte) error {
	p.forwarded = append(p.forwarded, string(payload))
	return nil
}

func TestForwardDeliversBytesVerbatim(t *testing.T) {
	e := relay.New(true)
	origin, target := &fakePeer{name: "a"}, &fakePeer{name: "b"}
	e.Register("b", target)

	if err := e.Open(origin, 1, target, 9); err != nil {
		t.Fatal(err)
	}
	if err := e.Forward(origin, 1, false, []byte("chunk1")); err != nil {
		t.Fatal(err)
	}
	if err := e.Forward(origin, 1, true, []byte("chunk2")); err != nil {
		t.Fatal(err)
	}
	if len(target.forwarded) != 2 || target.forwarded[0] != "chunk1" || target.forwarded[1] != "chunk2" {
		t.Fatalf("got %v", target.forwarded)
	}
}

func TestForwardWhenDisabled(t *testing.T) {
	e := relay.New(false)
	origin, target := &fakePeer{}, &fakePeer{}
	if err := e.Open(origin, 1, target, 1); err != relay.ErrRelayDisabled {
		t.Fatalf("expected ErrRelayDisabled, got %v", err)
	}
	if err := e.Forward(origin, 1, false, nil); err != relay.ErrRelayDisabled {
		t.Fatalf("expected ErrRelayDisabled from Forward, got %v", err)
	}
}

func TestCancelPropagatesAndClearsTranslation(t *testing.T) {
	e := relay.New(true)
	origin, target := &fakePeer{}, &fakePeer{}
	e.Open(origin, 1, target, 2)

	p, id, ok := e.Cancel(origin, 1)
	if !ok || p != target || id != 2 {
		t.Fatalf("unexpected cancel result: p=%v id=%v ok=%v", p, id, ok)
	}
	// second cancel should find nothing -- translation already removed
	_, _, ok2 := e.Cancel(origin, 1)
	if ok2 {
		t.Fatal("expected translation to be cleared after first cancel")
	}
}

func TestDropPeerClearsBothDirections(t *testing.T) {
	e := relay.New(true)
	origin, target := &fakePeer{}, &fakePeer{}
	e.Open(origin, 1, target, 2)
	e.DropPeer(origin)

	if err := e.Forward(origin, 1, false, []byte("x")); err == nil {
		t.Fatal("expected forward to fail after DropPeer")
	}
}

func TestUnknownForwardIsUnknownConnection(t *testing.T) {
	e := relay.New(true)
	if err := e.Forward(&fakePeer{}, 1, false, nil); !cmn.Is(err, cmn.ErrServiceUnknownConnection) {
		t.Fatalf("expected ErrServiceUnknownConnection for an unopened translation, got %v", err)
	}
}

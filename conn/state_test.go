package conn_test

import (
	"testing"

	"github.com/solidgo/mpipc/cmn"
	"github.com/solidgo/mpipc/conn"
)

func TestHappyPathTransitions(t *testing.T) {
	s := conn.Raw
	for _, ev := range []conn.Event{conn.EvEnterPassive, conn.EvEnterActive, conn.EvStopDelayed, conn.EvStopForce} {
		next, err := conn.Next(s, ev)
		if err != nil {
			t.Fatalf("transition %v from %v: %v", ev, s, err)
		}
		s = next
	}
	if s != conn.Stopped {
		t.Fatalf("expected Stopped, got %v", s)
	}
}

func TestEnterActiveRefusedFromStopping(t *testing.T) {
	_, err := conn.Next(conn.Stopping, conn.EvEnterActive)
	if !cmn.Is(err, cmn.ErrConnectionEnterActiveRefused) {
		t.Fatalf("expected ErrConnectionEnterActiveRefused, got %v", err)
	}
}

func TestInvalidStateFromStopped(t *testing.T) {
	_, err := conn.Next(conn.Stopped, conn.EvStart)
	if !cmn.Is(err, cmn.ErrConnectionInvalidState) {
		t.Fatalf("expected ErrConnectionInvalidState, got %v", err)
	}
}

func TestCanSendNonRaw(t *testing.T) {
	for _, s := range []conn.State{conn.Raw, conn.Secure, conn.Passive, conn.Stopping, conn.Stopped} {
		if conn.CanSendNonRaw(s) {
			t.Fatalf("%v should not permit sending", s)
		}
	}
	if !conn.CanSendNonRaw(conn.Active) {
		t.Fatal("Active should permit sending")
	}
}

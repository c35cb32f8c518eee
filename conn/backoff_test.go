package conn_test

import (
	"testing"
	"time"

	"github.com/solidgo/mpipc/conn"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := conn.NewBackoff(10*time.Millisecond, 100*time.Millisecond)
	var last time.Duration
	for i := 0; i < 10; i++ {
		d := b.Next(true, false, false)
		if d < last {
			t.Fatalf("expected non-decreasing backoff, got %v after %v", d, last)
		}
		if d > 100*time.Millisecond {
			t.Fatalf("expected cap at 100ms, got %v", d)
		}
		last = d
	}
}

func TestBackoffResetsAfterActive(t *testing.T) {
	b := conn.NewBackoff(10*time.Millisecond, time.Second)
	b.Next(true, false, false)
	b.Next(true, false, false)
	afterSomeFailures := b.Next(true, false, false)

	reset := b.Next(true, true, true)
	if reset > afterSomeFailures {
		t.Fatalf("expected reset delay (%v) <= prior delay (%v) once active", reset, afterSomeFailures)
	}
}

func TestBackoffHarsherWhenNeverConnected(t *testing.T) {
	connected := conn.NewBackoff(10*time.Millisecond, time.Second)
	neverConnected := conn.NewBackoff(10*time.Millisecond, time.Second)

	dConnected := connected.Next(true, false, false)
	dNever := neverConnected.Next(false, false, false)
	if dNever < dConnected {
		t.Fatalf("expected harsher backoff when never connected: %v < %v", dNever, dConnected)
	}
}

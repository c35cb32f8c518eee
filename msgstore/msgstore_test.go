package msgstore_test

import (
	"testing"

	"github.com/solidgo/mpipc/cmn"
	"github.com/solidgo/mpipc/msgstore"
)

func TestSendPullCompletesInOrder(t *testing.T) {
	s := msgstore.New(0)
	var got []byte
	id, err := s.Send(&msgstore.Bundle{
		SenderRequestID: 1,
		Flags:           msgstore.WaitResponse,
		Payload:         []byte("hi"),
		OnComplete:      func(r []byte, err error) { got = r },
	})
	if err != nil {
		t.Fatal(err)
	}
	b, ok := s.Pull(false)
	if !ok || b.ID() != id {
		t.Fatalf("expected to pull id %+v, got ok=%v", id, ok)
	}
	if err := s.OnResponse(1, []byte("bye")); err != nil {
		t.Fatal(err)
	}
	if string(got) != "bye" {
		t.Fatalf("got %q, want %q", got, "bye")
	}
}

func TestPoolFull(t *testing.T) {
	s := msgstore.New(1)
	if _, err := s.Send(&msgstore.Bundle{}); err != nil {
		t.Fatal(err)
	}
	_, err := s.Send(&msgstore.Bundle{})
	if !cmn.Is(err, cmn.ErrServicePoolFull) {
		t.Fatalf("expected ErrServicePoolFull, got %v", err)
	}
}

func TestCancelQueuedCompletesImmediately(t *testing.T) {
	s := msgstore.New(0)
	var gotErr error
	id, _ := s.Send(&msgstore.Bundle{OnComplete: func(r []byte, err error) { gotErr = err }})
	if err := s.Cancel(id); err != nil {
		t.Fatal(err)
	}
	if !cmn.Is(gotErr, cmn.ErrMessageCanceled) {
		t.Fatalf("expected ErrMessageCanceled, got %v", gotErr)
	}
}

func TestCancelTwiceIsAlreadyCanceled(t *testing.T) {
	s := msgstore.New(0)
	id, _ := s.Send(&msgstore.Bundle{})
	if err := s.Cancel(id); err != nil {
		t.Fatal(err)
	}
	err := s.Cancel(id)
	if !cmn.Is(err, cmn.ErrMessageAlreadyCanceled) {
		t.Fatalf("expected ErrMessageAlreadyCanceled, got %v", err)
	}
}

func TestOnResponseUnknownIsLost(t *testing.T) {
	s := msgstore.New(0)
	err := s.OnResponse(999, nil)
	if !cmn.Is(err, cmn.ErrMessageLost) {
		t.Fatalf("expected ErrMessageLost, got %v", err)
	}
}

func TestCloseForceCompletesAllWithConnectionError(t *testing.T) {
	s := msgstore.New(0)
	var errs []error
	for i := 0; i < 3; i++ {
		s.Send(&msgstore.Bundle{
			SenderRequestID: uint32(i + 1),
			Flags:           msgstore.WaitResponse,
			OnComplete:      func(r []byte, err error) { errs = append(errs, err) },
		})
	}
	s.Close(true)
	if len(errs) != 3 {
		t.Fatalf("expected 3 completions, got %d", len(errs))
	}
	for _, err := range errs {
		if !cmn.Is(err, cmn.ErrMessageConnection) {
			t.Fatalf("expected ErrMessageConnection, got %v", err)
		}
	}
}

func TestSynchronousExclusivity(t *testing.T) {
	s := msgstore.New(0)
	s.Send(&msgstore.Bundle{Flags: msgstore.Synchronous})
	s.Send(&msgstore.Bundle{Flags: msgstore.Synchronous})

	_, ok := s.Pull(true)
	if ok {
		t.Fatal("expected no synchronous message to be pulled while one is already in flight")
	}
}

func TestRequeueIdempotentGoesToHead(t *testing.T) {
	s := msgstore.New(0)
	id1, _ := s.Send(&msgstore.Bundle{Flags: msgstore.Idempotent})
	s.Pull(false) // dispatch id1

	id2, _ := s.Send(&msgstore.Bundle{})
	s.RequeueIdempotent(id1)

	b, ok := s.Pull(false)
	if !ok || b.ID() != id1 {
		t.Fatalf("expected requeued id1 first, got %+v ok=%v", b, ok)
	}
	b2, ok := s.Pull(false)
	if !ok || b2.ID() != id2 {
		t.Fatalf("expected id2 second, got %+v ok=%v", b2, ok)
	}
}

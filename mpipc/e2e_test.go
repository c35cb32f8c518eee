package mpipc_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/solidgo/mpipc/cmn"
	"github.com/solidgo/mpipc/mpipc"
)

const e2eTypeID = 1

type echoingHandler struct{}

func (echoingHandler) OnMessage(ctx mpipc.ReplyCtx, payload []byte) error {
	_, _, err := ctx.Reply(e2eTypeID, payload)
	return err
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func startEchoServer(t *testing.T, addr string) *mpipc.Service {
	t.Helper()
	cfg := cmn.DefaultConfig()
	cfg.Server.ListenerAddr = addr
	svc, err := mpipc.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	svc.RegisterType(e2eTypeID, echoingHandler{})
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(svc.Stop)
	return svc
}

func startClient(t *testing.T, addr string) *mpipc.Service {
	t.Helper()
	cfg := cmn.DefaultConfig().WithResolver(func(string) ([]string, error) { return []string{addr}, nil })
	svc, err := mpipc.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(svc.Stop)
	return svc
}

// echo-basic (spec.md §8): client sends "hello", server echoes, client
// completion receives "hello" back.
func TestEchoBasic(t *testing.T) {
	addr := freeAddr(t)
	startEchoServer(t, addr)
	client := startClient(t, addr)

	var (
		wg       sync.WaitGroup
		received []byte
		sendErr  error
	)
	wg.Add(1)
	_, _, err := client.SendRequestResponse(addr, e2eTypeID, []byte("hello"), func(b []byte, err error) {
		defer wg.Done()
		received, sendErr = append([]byte(nil), b...), err
	})
	if err != nil {
		t.Fatal(err)
	}

	if waitTimeout(&wg, 5*time.Second) {
		t.Fatal("timed out waiting for echo response")
	}
	if sendErr != nil {
		t.Fatalf("completion error: %v", sendErr)
	}
	if string(received) != "hello" {
		t.Fatalf("got %q, want %q", received, "hello")
	}
}

// cancel-response, single-message form: a message canceled before the
// peer replies completes with MessageCanceled rather than a response.
func TestCancelBeforeResponse(t *testing.T) {
	addr := freeAddr(t)
	// No server listening at all: the message parks waiting for a
	// connection, so cancel always wins the race against any response.
	client := startClient(t, addr)

	var (
		wg   sync.WaitGroup
		gotE error
	)
	wg.Add(1)
	_, id, err := client.SendRequestResponse(addr, e2eTypeID, []byte("x"), func(_ []byte, err error) {
		defer wg.Done()
		gotE = err
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Cancel(addr, id); err != nil {
		t.Fatal(err)
	}

	if waitTimeout(&wg, 5*time.Second) {
		t.Fatal("timed out waiting for cancel completion")
	}
	if gotE == nil {
		t.Fatal("expected a non-nil completion error after cancel")
	}
}

// no-server (spec.md §8, scaled down from 30s): sending to an address
// with no listener never delivers a response; canceling afterward
// completes the message with an error.
func TestNoServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close() // freed immediately: nothing ever accepts on it

	client := startClient(t, addr)

	var wg sync.WaitGroup
	var gotErr error
	wg.Add(1)
	_, id, err := client.SendRequestResponse(addr, e2eTypeID, []byte("x"), func(_ []byte, err error) {
		gotErr = err
		wg.Done()
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-doneCh(&wg):
		t.Fatal("completion fired before cancel; expected it to still be pending")
	case <-time.After(200 * time.Millisecond):
	}

	if err := client.Cancel(addr, id); err != nil {
		t.Fatal(err)
	}
	if waitTimeout(&wg, 5*time.Second) {
		t.Fatal("timed out waiting for cancel completion")
	}
	if gotErr == nil {
		t.Fatal("expected the canceled message to complete with an error")
	}
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) (timedOut bool) {
	select {
	case <-doneCh(wg):
		return false
	case <-time.After(d):
		return true
	}
}

func doneCh(wg *sync.WaitGroup) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	return ch
}

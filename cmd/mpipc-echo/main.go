// Command mpipc-echo runs either a server or a client side of the
// echo-basic scenario (spec §8): the client sends a request and blocks on
// its response, the server's handler echoes the payload back verbatim.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"os"
	"sync"
	"time"

	"github.com/solidgo/mpipc/cmn"
	"github.com/solidgo/mpipc/cmn/nlog"
	"github.com/solidgo/mpipc/mpipc"
)

const echoTypeID = 1

type echoHandler struct{}

func (echoHandler) OnMessage(ctx mpipc.ReplyCtx, payload []byte) error {
	nlog.Infof("mpipc-echo: server got %q", string(payload))
	_, _, err := ctx.Reply(echoTypeID, payload)
	return err
}

func runServer(addr string) {
	cfg := cmn.DefaultConfig()
	cfg.Server.ListenerAddr = addr
	svc, err := mpipc.New(cfg)
	if err != nil {
		nlog.Errorf("mpipc-echo: %v", err)
		os.Exit(1)
	}
	svc.RegisterType(echoTypeID, echoHandler{})
	if err := svc.Start(); err != nil {
		nlog.Errorf("mpipc-echo: start: %v", err)
		os.Exit(1)
	}
	nlog.Infof("mpipc-echo: server listening on %s", addr)
	select {}
}

func runClient(addr, message string) {
	cfg := cmn.DefaultConfig().WithResolver(func(string) ([]string, error) { return []string{addr}, nil })
	svc, err := mpipc.New(cfg)
	if err != nil {
		nlog.Errorf("mpipc-echo: %v", err)
		os.Exit(1)
	}
	if err := svc.Start(); err != nil {
		nlog.Errorf("mpipc-echo: start: %v", err)
		os.Exit(1)
	}
	defer svc.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	_, _, err = svc.SendRequestResponse(addr, echoTypeID, []byte(message), func(received []byte, err error) {
		defer wg.Done()
		if err != nil {
			nlog.Errorf("mpipc-echo: request failed: %v", err)
			return
		}
		nlog.Infof("mpipc-echo: client got reply %q", string(received))
	})
	if err != nil {
		nlog.Errorf("mpipc-echo: send: %v", err)
		os.Exit(1)
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond) // give the connection a moment before the deferred Stop closes it
}

func main() {
	var (
		mode    = flag.String("mode", "server", "server|client")
		addr    = flag.String("addr", "127.0.0.1:10101", "listener/dial address")
		message = flag.String("message", "hello", "client payload")
	)
	flag.Parse()

	switch *mode {
	case "server":
		runServer(*addr)
	case "client":
		runClient(*addr, *message)
	default:
		nlog.Errorf("mpipc-echo: unknown -mode %q", *mode)
		os.Exit(2)
	}
}

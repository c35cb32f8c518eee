// Package relay implements the relay engine (spec §4.7): registers
// connections by peer name and forwards raw packet bytes between two
// connections without deserializing payloads, maintaining a
// message-id translation table per relay pair. Grounded on the original
// source's relay tutorials/tests (original_source's
// test_relay_close_request.cpp / test_relay_disabled.cpp, cited in
// SPEC_FULL.md) for ErrRelayDisabled and cancel-propagation semantics;
// there is no direct teacher analogue since aistore has no peer-to-peer
// forwarding layer. The registry is a set of small maps guarded by one
// mutex, unlike the service's sharded pool registry, since relay fan-out
// is expected to be orders of magnitude smaller than the pool registry.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package relay

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/solidgo/mpipc/cmn"
)

// ErrPeerAuthFailed is returned by Authenticate when the presented
// secret doesn't match the hash a peer registered with.
var ErrPeerAuthFailed = errors.New("relay: peer authentication failed")

// ErrRelayDisabled is returned by Open/Forward when the engine was
// constructed with enabled=false (original_source's
// test_relay_disabled.cpp: relay-wrapped packets must be rejected
// explicitly, not silently dropped).
var ErrRelayDisabled = errors.New("relay: disabled")

// Peer is the narrow surface the relay engine needs from a connection: the
// ability to forward a raw packet. The engine learns that a peer's
// connection is gone only when the caller invokes DropPeer.
type Peer interface {
	ForwardPacket(messageID uint32, endOfMessage bool, payload []byte) error
}

type translation struct {
	originPeer  Peer
	originMsgID uint32
	targetPeer  Peer
	targetMsgID uint32
}

// Engine is the process-wide (or per-service) relay registry. A zero
// value is not ready; use New.
type Engine struct {
	mu      sync.Mutex
	enabled bool
	byName  map[string]Peer
	secrets map[string][]byte // name -> bcrypt hash, for RegisterSecure peers

	// reverse is keyed by (originPeer, originMsgID) and is the map Forward
	// and Cancel look up for packets flowing origin->target; forward holds
	// the same translations keyed by (targetPeer, targetMsgID).
	forward map[translationKey]*translation
	reverse map[translationKey]*translation
}

type translationKey struct {
	peer      Peer
	messageID uint32
}

func New(enabled bool) *Engine {
	return &Engine{
		enabled: enabled,
		byName:  make(map[string]Peer, 8),
		secrets: make(map[string][]byte, 8),
		forward: make(map[translationKey]*translation, 16),
		reverse: make(map[translationKey]*translation, 16),
	}
}

// RegisterSecure is Register plus a shared secret the peer must present
// on every subsequent registration attempt under the same name (guards
// against a second connection hijacking an already-registered peer
// name). The secret is bcrypt-hashed, never stored or logged in the
// clear.
func (e *Engine) RegisterSecure(name string, p Peer, secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "relay: hash peer secret")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.secrets[name]; ok {
		if bcrypt.CompareHashAndPassword(existing, []byte(secret)) != nil {
			return ErrPeerAuthFailed
		}
	}
	e.byName[name] = p
	e.secrets[name] = hash
	return nil
}

// Authenticate verifies secret against the hash name registered with via
// RegisterSecure; used when re-establishing a relay peer after a drop.
func (e *Engine) Authenticate(name, secret string) bool {
	e.mu.Lock()
	hash, ok := e.secrets[name]
	e.mu.Unlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil
}

// Register associates name with a connection's forwarding surface (spec
// §4.7 "Registers a connection by peer-name").
func (e *Engine) Register(name string, p Peer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byName[name] = p
}

func (e *Engine) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.byName, name)
}

// Resolve looks up a registered peer by name; used by the service when an
// outgoing message's URL contains a peer-name suffix (spec §4.7).
func (e *Engine) Resolve(name string) (Peer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.byName[name]
	return p, ok
}

// Open establishes a translation between an origin connection's message
// id and a target connection's message id, the first time a relayed
// message's first packet is seen.
func (e *Engine) Open(origin Peer, originMsgID uint32, target Peer, targetMsgID uint32) error {
	if !e.enabled {
		return ErrRelayDisabled
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t := &translation{originPeer: origin, originMsgID: originMsgID, targetPeer: target, targetMsgID: targetMsgID}
	e.forward[translationKey{target, targetMsgID}] = t
	e.reverse[translationKey{origin, originMsgID}] = t
	return nil
}

// Forward relays a packet seen on origin's connection (keyed by its
// local message id) to whichever peer connection the translation table
// points at (spec §4.7: "forwards them to the peer connection's writer
// verbatim").
func (e *Engine) Forward(origin Peer, originMsgID uint32, endOfMessage bool, payload []byte) error {
	if !e.enabled {
		return ErrRelayDisabled
	}
	e.mu.Lock()
	t, ok := e.reverse[translationKey{origin, originMsgID}]
	if ok && endOfMessage {
		delete(e.reverse, translationKey{origin, originMsgID})
		delete(e.forward, translationKey{t.targetPeer, t.targetMsgID})
	}
	e.mu.Unlock()
	if !ok {
		return cmn.New(cmn.ErrServiceUnknownConnection)
	}
	return t.targetPeer.ForwardPacket(t.targetMsgID, endOfMessage, payload)
}

// Cancel propagates a cancellation across a relay pair (spec §4.7:
// "cancelling the forwarded half also completes the origin half with a
// terminal error"). It removes the translation opened for origin's
// originMsgID and returns the target peer and the target message id the
// caller forwards the cancel to; ok=false means no translation was open.
func (e *Engine) Cancel(origin Peer, originMsgID uint32) (Peer, uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.reverse[translationKey{origin, originMsgID}]
	if !ok {
		return nil, 0, false
	}
	delete(e.reverse, translationKey{origin, originMsgID})
	delete(e.forward, translationKey{t.targetPeer, t.targetMsgID})
	return t.targetPeer, t.targetMsgID, true
}

// DropPeer removes every translation touching p (connection drop
// propagation, spec §4.7).
func (e *Engine) DropPeer(p Peer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, t := range e.forward {
		if t.originPeer == p || t.targetPeer == p {
			delete(e.forward, k)
		}
	}
	for k, t := range e.reverse {
		if t.originPeer == p || t.targetPeer == p {
			delete(e.reverse, k)
		}
	}
}

func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

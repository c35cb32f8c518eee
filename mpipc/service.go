// Package mpipc implements the service façade (spec §4.6): the pool
// registry, the protocol (type) registry, public send/cancel/close APIs,
// and configuration. Grounded on the teacher's sharded-mutex registry
// idiom (cmn's pools_mutex_count bank mirrors the style of aistore's
// bucket-metadata mutex banks) and on golang.org/x/sync/errgroup for the
// listener accept loop, matching the concurrency-group usage the pack's
// backup-tool example applies to its own accept loop.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package mpipc

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/solidgo/mpipc/cmn"
	"github.com/solidgo/mpipc/cmn/cos"
	"github.com/solidgo/mpipc/cmn/nlog"
	"github.com/solidgo/mpipc/compress"
	"github.com/solidgo/mpipc/conn"
	"github.com/solidgo/mpipc/mpreader"
	"github.com/solidgo/mpipc/msgstore"
	"github.com/solidgo/mpipc/pool"
	"github.com/solidgo/mpipc/relay"
	"github.com/solidgo/mpipc/stats"
	"github.com/solidgo/mpipc/wire"
)

// RecipientId addresses a pool (spec §3). It carries no connection index
// or generation, so it cannot name one specific connection within a pool.
type RecipientId struct {
	PoolIndex      int
	PoolGeneration pool.Generation
}

// MessageId re-exports msgstore's slot id, the public name applications
// see (spec §3).
type MessageId = msgstore.MessageID

// SendFlags mirror wire.Envelope's bits; applications set these when
// calling Send.
type SendFlags = msgstore.Flags

const (
	Synchronous  = msgstore.Synchronous
	OneShotSend  = msgstore.OneShotSend
	Idempotent   = msgstore.Idempotent
	WaitResponse = msgstore.WaitResponse
)

// Completion is invoked exactly once per message (spec §7 "User-visible
// failure behaviour").
type Completion = msgstore.Completion

// Handler decodes and processes one registered message type. ReplyCtx
// carries enough of the inbound envelope (and the pool it arrived on) for
// OnMessage to call Reply without the caller threading recipient strings
// through by hand.
type Handler interface {
	OnMessage(ctx ReplyCtx, payload []byte) error
}

// ReplyCtx is handed to a Handler for one inbound message.
type ReplyCtx struct {
	svc  *Service
	pool string
	Env  wire.Envelope
}

// Reply sends payload back through the pool the request arrived on,
// tagged with the request's SenderRequestID so a peer blocked in
// SendRequestResponse unblocks with it (spec §4.5's on_response).
func (c ReplyCtx) Reply(typeID uint64, payload []byte) (RecipientId, MessageId, error) {
	return c.svc.reply(c.pool, c.Env, typeID, payload)
}

type shard struct {
	mu sync.Mutex
}

// Service owns the pool registry, protocol registry, relay engine and
// configuration (spec §4.6). Construct with New and Start it before
// sending.
type Service struct {
	cfgMu sync.RWMutex
	cfg   *cmn.Config

	shards []shard

	regMu     sync.Mutex
	byName    map[string]int
	pools     []*pool.Pool
	nextGen   pool.Generation

	typesMu sync.RWMutex
	types   map[uint64]Handler

	relay *relay.Engine

	engine compress.Engine

	listener net.Listener
	eg       *errgroup.Group
	egCtx    context.Context
	cancel   context.CancelFunc

	createSF singleflight.Group

	nextSenderReqID uint32

	Tracker stats.Tracker

	statsCron *cron.Cron
}

// New constructs a Service from cfg; call Start to begin listening
// (if configured as a server).
func New(cfg *cmn.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	engine, err := compress.New(cfg.Compression)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:    cfg,
		shards: make([]shard, cfg.PoolsMutexCount),
		byName: make(map[string]int, 64),
		types:  make(map[uint64]Handler, 32),
		relay:   relay.New(cfg.RelayEnabled),
		engine:  engine,
		Tracker: stats.Noop{},
	}
	cmn.GCO.Put(cfg)
	cmn.Rom.Set(cfg)
	return s, nil
}

// RegisterType adds a message type to the protocol registry (spec §5:
// "the protocol registry is read-only after service start" -- callers
// must register every type before Start).
func (s *Service) RegisterType(typeID uint64, h Handler) {
	s.typesMu.Lock()
	defer s.typesMu.Unlock()
	s.types[typeID] = h
}

func (s *Service) lookup(typeID uint64) (Handler, bool) {
	s.typesMu.RLock()
	defer s.typesMu.RUnlock()
	h, ok := s.types[typeID]
	return h, ok
}

// routingHandler sits in front of the protocol registry for one pool: an
// inbound envelope with the Response bit set never reaches a registered
// Handler, it completes the matching in-flight send instead (spec §4.5's
// on_response, spec §4.2's Response flag). mpreader always finds this
// handler so a response using any type id is never rejected as unknown.
type routingHandler struct {
	svc *Service
	p   *pool.Pool
}

func (r routingHandler) OnMessage(env wire.Envelope, payload []byte) error {
	if env.Has(wire.Response) {
		return r.p.OnResponse(env.RecvRequestID, payload)
	}
	h, ok := r.svc.lookup(env.TypeID)
	if !ok {
		return cmn.New(cmn.ErrServiceUnknownMessageType)
	}
	r.svc.Tracker.IncReceived(env.TypeID)
	r.svc.Tracker.AddBytesIn(len(payload))
	return h.OnMessage(ReplyCtx{svc: r.svc, pool: r.p.Name, Env: env}, payload)
}

// Start begins listening (if cfg.IsServer()) and accepting connections.
func (s *Service) Start() error {
	cfg := s.Config()
	if cfg.IsServer() {
		ln, err := net.Listen("tcp", cfg.Server.ListenerAddr)
		if err != nil {
			return cmn.Wrap(cmn.ErrServiceStartListenerFailed, err)
		}
		s.listener = ln
		ctx, cancel := context.WithCancel(context.Background())
		s.egCtx, s.cancel = ctx, cancel
		eg, egCtx := errgroup.WithContext(ctx)
		s.eg = eg
		eg.Go(func() error { return s.acceptLoop(egCtx) })
	}
	cos.InitIDGen(uint64(time.Now().UnixNano()))
	return nil
}

func (s *Service) acceptLoop(ctx context.Context) error {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				nlog.Warningf("mpipc: accept: %v", err)
				return cmn.Wrap(cmn.ErrServiceStartFailed, err)
			}
		}
		go s.adoptServerConn(nc)
	}
}

func (s *Service) adoptServerConn(nc net.Conn) {
	// An inbound connection has no pool name yet; it is addressed by a
	// synthetic "accepted" pool keyed by the remote address until the
	// peer identifies itself (mirrors spec §4.4's server accept path:
	// "if server, accept already done; move to Raw").
	name := nc.RemoteAddr().String()
	p := s.getOrCreatePool(name)
	p.AdoptConnection(nc, false)
}

// StartStatsReport starts a cron job on the given schedule (standard
// five-field cron syntax) that recomputes the Tracker's active-pool and
// active-connection gauges from the live pool registry (spec §11's
// periodic external reporting, decoupled from the per-message counters
// the reader/writer update inline). Calling it twice replaces the prior
// schedule.
func (s *Service) StartStatsReport(schedule string) error {
	if s.statsCron != nil {
		s.statsCron.Stop()
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, s.reportStats); err != nil {
		return cmn.Wrap(cmn.ErrServiceInvalidConfig, err)
	}
	s.statsCron = c
	c.Start()
	return nil
}

// StopStatsReport cancels a previously started StartStatsReport job, if
// any.
func (s *Service) StopStatsReport() {
	if s.statsCron != nil {
		s.statsCron.Stop()
		s.statsCron = nil
	}
}

func (s *Service) reportStats() {
	s.regMu.Lock()
	pools := append([]*pool.Pool{}, s.pools...)
	s.regMu.Unlock()
	conns := 0
	for _, p := range pools {
		if p != nil {
			conns += len(p.Connections())
		}
	}
	s.Tracker.SetActivePools(len(pools))
	s.Tracker.SetActiveConns(conns)
}

// Stop closes the listener and force-closes every pool.
func (s *Service) Stop() {
	s.StopStatsReport()
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.eg != nil {
		_ = s.eg.Wait()
	}
	s.regMu.Lock()
	pools := append([]*pool.Pool{}, s.pools...)
	s.regMu.Unlock()
	for _, p := range pools {
		if p != nil {
			p.Close(true)
		}
	}
}

func (s *Service) Config() *cmn.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Reconfigure implements spec §4.6's "stop all pools, replace
// Configuration, restart".
func (s *Service) Reconfigure(cfg *cmn.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.Stop()
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
	cmn.GCO.Put(cfg)
	cmn.Rom.Set(cfg)
	engine, err := compress.New(cfg.Compression)
	if err != nil {
		return err
	}
	s.engine = engine
	s.regMu.Lock()
	s.byName = make(map[string]int, 64)
	s.pools = nil
	s.regMu.Unlock()
	return s.Start()
}

func (s *Service) shardFor(name string) *shard {
	idx := cos.HashName(name) % uint64(len(s.shards))
	return &s.shards[idx]
}

// getOrCreatePool implements spec §4.6's "Create/resolve pool by name".
// singleflight collapses concurrent first-sends to the same name into one
// pool construction.
func (s *Service) getOrCreatePool(name string) *pool.Pool {
	sh := s.shardFor(name)
	sh.mu.Lock()
	s.regMu.Lock()
	if idx, ok := s.byName[name]; ok {
		p := s.pools[idx]
		s.regMu.Unlock()
		sh.mu.Unlock()
		return p
	}
	s.regMu.Unlock()
	sh.mu.Unlock()

	v, _, _ := s.createSF.Do(name, func() (interface{}, error) {
		cfg := s.Config()
		connCfg := conn.Config{
			MaxPacketDataSize:        cfg.MaxPacketDataSize,
			ReaderMaxMultiplex:       cfg.Reader.MaxMessageCountMultiplex,
			WriterMaxMultiplex:       cfg.Writer.MaxMessageCountMultiplex,
			WriterMaxResponseWait:    cfg.Writer.MaxMessageCountResponseWait,
			WriterMaxContinuousPkt:   cfg.Writer.MaxMessageContinuousPacketCnt,
			RecvBufStart:             cfg.RecvBufStart(),
			RecvBufMax:               cfg.RecvBufMax(),
			SendBufStart:             cfg.SendBufStart(),
			SendBufMax:               cfg.SendBufMax(),
			InactivityTimeout:        cfg.InactivityTimeout(),
			KeepaliveTimeout:         cfg.KeepaliveTimeout(),
			InactivityKeepaliveCount: cfg.ConnInactivityKeepaliveCount,
			Engine:                   s.engine,
			AuthEnabled:              cfg.AuthEnabled,
			AuthSecret:               []byte(cfg.AuthSecret),
		}
		var resolve func(string) ([]string, error)
		if cfg.IsClient() {
			resolve = cfg.Resolve
		}
		var p *pool.Pool
		poolLookup := func(uint64) (mpreader.Handler, bool) { return routingHandler{svc: s, p: p}, true }
		s.regMu.Lock()
		gen := s.nextGen
		s.nextGen++
		idx := len(s.pools)
		p = pool.New(name, gen, cfg.PoolMaxMessageQueueSize, cfg.PoolMaxActiveConnectionCount, cfg.PoolMaxPendingConnectionCount, connCfg, poolLookup, resolve, time.Duration(cfg.ConnReconnectTimeoutSeconds)*time.Second, 30*time.Second)
		s.pools = append(s.pools, p)
		s.byName[name] = idx
		s.regMu.Unlock()

		if cfg.RelayEnabled {
			peer := &poolPeer{p: p}
			s.relay.Register(name, peer)
			p.OnRelayed = func(c *conn.Connection, messageID uint32, target string, eom bool, payload []byte) {
				if target != "" {
					// first packet of a relayed message: learn the
					// origin/target pairing before anything can forward.
					targetPeer, ok := s.relay.Resolve(target)
					if !ok {
						nlog.Warningf("mpipc: relay target %q not registered", target)
						return
					}
					if err := s.relay.Open(peer, messageID, targetPeer, messageID); err != nil {
						nlog.Warningf("mpipc: relay open %s->%s: %v", name, target, err)
						return
					}
				}
				if err := s.relay.Forward(peer, messageID, eom, payload); err != nil {
					nlog.Warningf("mpipc: relay forward from %s: %v", name, err)
				}
			}
		}
		return p, nil
	})
	return v.(*pool.Pool)
}

// poolPeer adapts a Pool to relay.Peer by forwarding onto whichever
// connection the pool currently considers best (spec §4.7 assumes one
// active connection per named relay peer in practice).
type poolPeer struct{ p *pool.Pool }

func (pp *poolPeer) ForwardPacket(messageID uint32, endOfMessage bool, payload []byte) error {
	conns := pp.p.Connections()
	if len(conns) == 0 {
		return cmn.New(cmn.ErrServiceUnknownConnection)
	}
	return conns[0].ForwardPacket(messageID, endOfMessage, payload)
}

func (s *Service) nextSenderRequestID() uint32 {
	s.nextSenderReqID++
	return s.nextSenderReqID
}

// Send implements spec §4.6's send variants, unified behind one call:
// pass flags and an optional completion. It returns the RecipientId for
// the pool the message was routed to and the MessageId of the enqueued
// slot.
func (s *Service) Send(recipient string, typeID uint64, payload []byte, flags SendFlags, onComplete Completion) (RecipientId, MessageId, error) {
	cfg := s.Config()
	if !cfg.IsClient() && !cfg.IsServer() {
		return RecipientId{}, MessageId{}, cmn.New(cmn.ErrServiceStopping)
	}

	peerName, relayName := splitRelayURL(recipient)
	p := s.getOrCreatePool(peerName)

	b := &msgstore.Bundle{
		TypeID:          typeID,
		SenderRequestID: s.nextSenderRequestID(),
		Flags:           flags,
		Payload:         payload,
		OnComplete:      onComplete,
	}
	if relayName != "" {
		if !cfg.RelayEnabled {
			return RecipientId{}, MessageId{}, relay.ErrRelayDisabled
		}
		b.Flags |= msgstore.Relayed
		b.RelayTarget = relayName
	}
	id, err := p.Send(b)
	if err != nil {
		return RecipientId{}, MessageId{}, err
	}
	s.Tracker.IncSent(typeID)
	s.Tracker.AddBytesOut(len(payload))
	return RecipientId{PoolIndex: s.indexOf(peerName), PoolGeneration: p.Gen}, id, nil
}

func (s *Service) indexOf(name string) int {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	return s.byName[name]
}

// SendRequestResponse is Send with WaitResponse implied, matching spec
// §4.6's "bind a response handler (internally equivalent to WaitResponse
// + completion)".
func (s *Service) SendRequestResponse(recipient string, typeID uint64, payload []byte, onResponse Completion) (RecipientId, MessageId, error) {
	return s.Send(recipient, typeID, payload, WaitResponse, onResponse)
}

// reply sends payload back on the named pool, tagged so the peer's
// pending WaitResponse send completes with it (spec §4.5's on_response).
// Exposed to Handler implementations via ReplyCtx.Reply.
func (s *Service) reply(poolName string, req wire.Envelope, typeID uint64, payload []byte) (RecipientId, MessageId, error) {
	peerName, _ := splitRelayURL(poolName)
	p := s.getOrCreatePool(peerName)
	b := &msgstore.Bundle{
		TypeID:          typeID,
		SenderRequestID: s.nextSenderRequestID(),
		RecvRequestID:   req.SenderRequestID,
		Flags:           msgstore.Response,
		Payload:         payload,
	}
	id, err := p.Send(b)
	if err != nil {
		return RecipientId{}, MessageId{}, err
	}
	s.Tracker.IncSent(typeID)
	return RecipientId{PoolIndex: s.indexOf(peerName), PoolGeneration: p.Gen}, id, nil
}

// Cancel implements spec §4.6's cancel message op.
func (s *Service) Cancel(recipient string, id MessageId) error {
	p := s.getOrCreatePool(recipient)
	err := p.Cancel(id, uint32(id.Slot))
	if err == nil {
		s.Tracker.IncCanceled()
	}
	return err
}

// ClosePool implements spec §4.6's force/delay close pool op.
func (s *Service) ClosePool(recipient string, force bool) {
	p := s.getOrCreatePool(recipient)
	p.Close(force)
}

// RegisterRelayPeer exposes the relay engine's Register (spec §4.7
// "Registers a connection by peer-name") at the service level, for
// applications that want to name their own connection for inbound
// relaying.
func (s *Service) RegisterRelayPeer(name string, p relay.Peer) { s.relay.Register(name, p) }

// WithStats swaps in a Prometheus-backed Tracker, replacing the Noop
// default New installs.
func (s *Service) WithStats(t stats.Tracker) *Service {
	s.Tracker = t
	return s
}

func splitRelayURL(recipient string) (peer, relayName string) {
	for i := 0; i < len(recipient); i++ {
		if recipient[i] == '/' {
			return recipient[:i], recipient[i+1:]
		}
	}
	return recipient, ""
}

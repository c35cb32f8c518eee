package conn

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/solidgo/mpipc/cmn"
	"github.com/solidgo/mpipc/cmn/cos"
	"github.com/solidgo/mpipc/cmn/nlog"
	"github.com/solidgo/mpipc/compress"
	"github.com/solidgo/mpipc/hk"
	"github.com/solidgo/mpipc/memsys"
	"github.com/solidgo/mpipc/mpreader"
	"github.com/solidgo/mpipc/mpwriter"
	"github.com/solidgo/mpipc/wire"
)

// Config carries the per-connection knobs a Connection needs, a narrow
// slice of cmn.Config so this package doesn't import cmn.Config wholesale.
type Config struct {
	MaxPacketDataSize        int
	ReaderMaxMultiplex       int
	WriterMaxMultiplex       int
	WriterMaxResponseWait    int
	WriterMaxContinuousPkt   int
	RecvBufStart, RecvBufMax int
	SendBufStart, SendBufMax int
	InactivityTimeout        time.Duration
	KeepaliveTimeout         time.Duration
	InactivityKeepaliveCount int
	RelayMode                bool
	TLSConfig                *tls.Config
	Engine                   compress.Engine
	AuthEnabled              bool
	AuthSecret               []byte
}

// EventSink receives notifications the connection posts back to its pool
// (spec §4.4 "posts events back to pool"): message completions routed
// through msgstore happen inline via Bundle.OnComplete, but lifecycle and
// relay events go through this narrower interface to avoid a cyclic
// dependency with pool.
type EventSink interface {
	OnStateChange(c *Connection, from, to State)
	OnClosed(c *Connection, err error)
	OnRelayed(c *Connection, messageID uint32, target string, endOfMessage bool, payload []byte)
}

// Connection owns one TCP/TLS stream plus its reader and writer (spec
// §4.4). PostPoolPush, StopForce and WriterInFlight are safe to call from
// any goroutine; the other methods run on the connection's own goroutine
// ("reactor").
type Connection struct {
	mu    sync.Mutex
	state State

	netConn net.Conn
	cfg     Config
	sink    EventSink
	mm      *memsys.MMSA

	reader *mpreader.Reader
	writer *mpwriter.Writer

	recvBuf []byte
	sendBuf []byte

	isClient bool

	keepaliveName   string
	inactivityName  string

	wake chan struct{}
	done chan struct{}

	once sync.Once
}

// New wraps an already-established net.Conn (either Dial'd by a client or
// Accept'd by a server) into a Connection in state Raw.
func New(nc net.Conn, isClient bool, cfg Config, lookup mpreader.HandlerLookup, src mpwriter.Source, sink EventSink) *Connection {
	tuneSocket(nc)
	c := &Connection{
		state:    Raw,
		netConn:  nc,
		cfg:      cfg,
		sink:     sink,
		mm:       memsys.PageMM(),
		isClient: isClient,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	c.reader = mpreader.New(cfg.MaxPacketDataSize, cfg.ReaderMaxMultiplex, cfg.RelayMode, lookup, cfg.Engine)
	c.reader.OnRelayed = func(h wire.Header, target string, payload []byte) {
		if c.sink != nil {
			c.sink.OnRelayed(c, h.MessageID, target, h.EndOfMessage(), payload)
		}
	}
	c.writer = mpwriter.New(src, cfg.MaxPacketDataSize, cfg.WriterMaxMultiplex, cfg.WriterMaxResponseWait, cfg.WriterMaxContinuousPkt, cfg.Engine)
	c.recvBuf = make([]byte, 0, cfg.RecvBufStart)
	c.sendBuf = make([]byte, 0, cfg.SendBufStart)
	c.keepaliveName = "conn-keepalive-" + cos.GenTie()
	c.inactivityName = "conn-inactivity-" + cos.GenTie()
	return c
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) transition(ev Event) error {
	c.mu.Lock()
	from := c.state
	to, err := Next(from, ev)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = to
	c.mu.Unlock()
	if from != to && c.sink != nil {
		c.sink.OnStateChange(c, from, to)
	}
	return nil
}

// Start launches the connection's event loop (spec §4.4 "start"). It does
// not change state: the connection stays where it is (Raw after New) until
// EnterSecure, EnterPassive or EnterActive moves it. Config has no start
// state option.
func (c *Connection) Start() {
	go c.loop()
}

// PostPoolPush wakes the writer because the pool has a new message (spec
// §4.4 "pool-push"); safe from any goroutine.
func (c *Connection) PostPoolPush() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// EnterSecure implements spec §4.4's "enter-secure" event: drive the TLS
// handshake using the configured context, then advance to passive
// (servers wait there for enter-active; clients normally EnterActive
// immediately afterward).
func (c *Connection) EnterSecure() error {
	if c.cfg.TLSConfig == nil {
		return cmn.New(cmn.ErrConnectionLogic)
	}
	if err := c.transition(EvEnterSecure); err != nil {
		return err
	}
	var tlsConn *tls.Conn
	if c.isClient {
		tlsConn = tls.Client(c.netConn, c.cfg.TLSConfig)
	} else {
		tlsConn = tls.Server(c.netConn, c.cfg.TLSConfig)
	}
	if err := tlsConn.Handshake(); err != nil {
		c.closeWith(cmn.Wrap(cmn.ErrConnectionLogic, err))
		return err
	}
	c.netConn = tlsConn
	if c.cfg.AuthEnabled {
		if err := c.authenticate(); err != nil {
			c.closeWith(cmn.Wrap(cmn.ErrConnectionLogic, err))
			return err
		}
	}
	return c.transition(EvEnterPassive)
}

// EnterPassive implements spec §4.4's "enter-passive" event.
func (c *Connection) EnterPassive() error { return c.transition(EvEnterPassive) }

// EnterActive implements spec §4.4's "enter-active" event: begin draining
// the pool queue and register the keep-alive timer.
func (c *Connection) EnterActive() error {
	if err := c.transition(EvEnterActive); err != nil {
		return err
	}
	hk.Reg(c.keepaliveName, c.onKeepaliveTimer, c.cfg.KeepaliveTimeout)
	hk.Reg(c.inactivityName, c.onInactivityTimer, c.cfg.InactivityTimeout)
	c.PostPoolPush()
	return nil
}

func (c *Connection) onKeepaliveTimer() time.Duration {
	select {
	case <-c.done:
		return -1
	default:
	}
	out := wire.Encode(nil, wire.Header{Type: wire.KeepAlive}, nil)
	if _, err := c.netConn.Write(out); err != nil {
		c.closeWith(cmn.Wrap(cmn.ErrConnectionKilled, err))
		return -1
	}
	return c.cfg.KeepaliveTimeout
}

func (c *Connection) onInactivityTimer() time.Duration {
	select {
	case <-c.done:
		return -1
	default:
	}
	if c.reader.KeepAliveCount() > c.cfg.InactivityKeepaliveCount {
		c.closeWith(cmn.New(cmn.ErrConnectionTooManyKeepAlive))
		return -1
	}
	c.reader.ResetKeepAliveCount()
	return c.cfg.InactivityTimeout
}

// loop is the connection's single-threaded reactor: read what's
// available, write what's pending, repeat until closed. Real mpipc
// multiplexes many connections over a poller; this loop models one
// connection's slice of that cooperative schedule with a dedicated
// goroutine, preserving the single-threadedness invariant (spec §5)
// without requiring callers to bring their own reactor.
func (c *Connection) loop() {
	defer close(c.done)
	readErrCh := make(chan error, 1)
	go c.readPump(readErrCh)

	for {
		select {
		case err := <-readErrCh:
			c.closeWith(err)
			return
		case <-c.wake:
			if err := c.drainWrites(); err != nil {
				c.closeWith(err)
				return
			}
		}
	}
}

func (c *Connection) readPump(errCh chan<- error) {
	tmp, slab := c.mm.Alloc()
	defer c.mm.Free(tmp, slab)
	for {
		n, err := c.netConn.Read(tmp)
		if err != nil {
			errCh <- cmn.Wrap(cmn.ErrConnectionKilled, err)
			return
		}
		c.recvBuf = append(c.recvBuf, tmp[:n]...)
		consumed, ferr := c.reader.Feed(c.recvBuf)
		if ferr != nil {
			errCh <- ferr
			return
		}
		c.recvBuf = append(c.recvBuf[:0], c.recvBuf[consumed:]...)
		if cap(c.recvBuf) > c.cfg.RecvBufMax {
			shrunk := make([]byte, len(c.recvBuf), c.cfg.RecvBufStart)
			copy(shrunk, c.recvBuf)
			c.recvBuf = shrunk
		}
	}
}

func (c *Connection) drainWrites() error {
	if !CanSendNonRaw(c.State()) {
		return nil
	}
	for i := 0; i < c.cfg.WriterMaxContinuousPkt; i++ {
		out, wrote := c.writer.FillPacket(c.sendBuf[:0])
		if !wrote {
			return nil
		}
		if _, err := c.netConn.Write(out); err != nil {
			return cmn.Wrap(cmn.ErrConnectionKilled, err)
		}
	}
	c.PostPoolPush() // more might be pending after the fairness cap
	return nil
}

// SendRaw writes b directly to the stream, bypassing the framed protocol
// entirely; it is the Go analogue of the original source's
// notifySendRawData / test_raw_basic scenario, used before the framed
// protocol begins (connection still in Raw state).
func (c *Connection) SendRaw(b []byte) error {
	_, err := c.netConn.Write(b)
	if err != nil {
		return cmn.Wrap(cmn.ErrConnectionKilled, err)
	}
	return nil
}

// RecvRaw reads up to len(b) raw bytes directly from the stream; callers
// must not mix this with the framed read pump on the same connection
// (only meaningful while the connection is in Raw state, before Start's
// read pump is launched).
func (c *Connection) RecvRaw(b []byte) (int, error) {
	n, err := c.netConn.Read(b)
	if err != nil {
		return n, cmn.Wrap(cmn.ErrConnectionKilled, err)
	}
	return n, nil
}

// ForwardPacket writes a relayed packet verbatim to this connection's
// stream, letting it satisfy relay.Peer (spec §4.7: "forwards them to the
// peer connection's writer verbatim"). It bypasses mpwriter entirely since
// relayed bytes are already framed by the origin side.
func (c *Connection) ForwardPacket(messageID uint32, endOfMessage bool, payload []byte) error {
	h := wire.Header{Type: wire.RelayedContinuation, MessageID: messageID, Size: uint16(len(payload))}
	if endOfMessage {
		h.Flags |= wire.FlagEndOfMessage
	}
	out := wire.Encode(nil, h, payload)
	_, err := c.netConn.Write(out)
	if err != nil {
		return cmn.Wrap(cmn.ErrConnectionKilled, err)
	}
	return nil
}

// WriterInFlight reports how many messages this connection's writer is
// currently multiplexing; safe to call from any goroutine, used by the pool
// to load-balance across a connection set (spec §4.5).
func (c *Connection) WriterInFlight() int { return c.writer.InFlight() }

// Cancel implements spec §4.4's "cancel(message-id)" event, forwarding to
// the writer.
func (c *Connection) Cancel(messageID uint32) bool {
	out, found := c.writer.CancelInFlight(messageID, nil)
	if !found {
		return false
	}
	_, _ = c.netConn.Write(out)
	return true
}

// StopDelayed implements spec §4.4's "stop-delayed": stop accepting new
// messages, drain in-flight, then close.
func (c *Connection) StopDelayed() {
	_ = c.transition(EvStopDelayed)
	c.PostPoolPush()
}

// StopForce implements spec §4.4's "stop-force": abort in-flight messages
// and close immediately.
func (c *Connection) StopForce() {
	c.closeWith(cmn.New(cmn.ErrConnectionKilled))
}

func (c *Connection) closeWith(err error) {
	c.once.Do(func() {
		hk.Unreg(c.keepaliveName)
		hk.Unreg(c.inactivityName)
		c.mu.Lock()
		from := c.state
		c.state = Stopped
		c.mu.Unlock()
		if c.sink != nil && from != Stopped {
			c.sink.OnStateChange(c, from, Stopped)
		}
		_ = c.netConn.Close()
		if c.sink != nil {
			c.sink.OnClosed(c, err)
		}
	})
}

func tuneSocket(nc net.Conn) {
	tcp, ok := nc.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcp.SetNoDelay(true)
	_ = tcp.SetKeepAlive(true)
	raw, err := tcp.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
}

func init() { nlog.Infoln("conn: package initialized") }

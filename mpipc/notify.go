package mpipc

import "github.com/solidgo/mpipc/cmn"

// NotifyEnterActive drives every current connection in recipient's pool
// into the Active state (spec §4.6 "notify-enter-active/passive/secure").
func (s *Service) NotifyEnterActive(recipient string) error {
	return s.forEachConn(recipient, func(c connLike) error { return c.EnterActive() })
}

func (s *Service) NotifyEnterPassive(recipient string) error {
	return s.forEachConn(recipient, func(c connLike) error { return c.EnterPassive() })
}

func (s *Service) NotifyEnterSecure(recipient string) error {
	return s.forEachConn(recipient, func(c connLike) error { return c.EnterSecure() })
}

// connLike is the narrow surface forEachConn needs; *conn.Connection
// satisfies it.
type connLike interface {
	EnterActive() error
	EnterPassive() error
	EnterSecure() error
	SendRaw([]byte) error
	RecvRaw([]byte) (int, error)
}

func (s *Service) forEachConn(recipient string, fn func(connLike) error) error {
	p := s.getOrCreatePool(recipient)
	conns := p.Connections()
	if len(conns) == 0 {
		return cmn.New(cmn.ErrServiceUnknownConnection)
	}
	var first error
	for _, c := range conns {
		if err := fn(c); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SendRaw bypasses the framed protocol entirely on recipient's first
// connection (spec §4.6 "notify-send-raw/recv-raw"), for callers that
// have already negotiated an out-of-band raw exchange (original_source's
// test_raw_basic scenario).
func (s *Service) SendRaw(recipient string, b []byte) error {
	p := s.getOrCreatePool(recipient)
	conns := p.Connections()
	if len(conns) == 0 {
		return cmn.New(cmn.ErrServiceUnknownConnection)
	}
	return conns[0].SendRaw(b)
}

func (s *Service) RecvRaw(recipient string, b []byte) (int, error) {
	p := s.getOrCreatePool(recipient)
	conns := p.Connections()
	if len(conns) == 0 {
		return 0, cmn.New(cmn.ErrServiceUnknownConnection)
	}
	return conns[0].RecvRaw(b)
}

/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package conn

import (
	"encoding/binary"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/solidgo/mpipc/cmn"
)

// bearerTokenTTL bounds how long a signed token is accepted after issue,
// limiting replay if a secure handshake frame were ever captured.
const bearerTokenTTL = 30 * time.Second

// authenticate runs the bearer-token half of enter-secure (spec §4.4,
// AuthEnabled gate): the client signs and sends a token, the server reads
// and verifies it before allowing enter-active. Frames are a 2-byte
// big-endian length prefix followed by the token, written directly to the
// (by now possibly TLS-wrapped) stream since the framed protocol doesn't
// start until enter-active.
func (c *Connection) authenticate() error {
	if c.isClient {
		tok, err := signBearerToken(c.cfg.AuthSecret)
		if err != nil {
			return err
		}
		return c.writeAuthFrame(tok)
	}
	tok, err := c.readAuthFrame()
	if err != nil {
		return err
	}
	return verifyBearerToken(tok, c.cfg.AuthSecret)
}

func (c *Connection) writeAuthFrame(tok string) error {
	b := make([]byte, 2+len(tok))
	binary.BigEndian.PutUint16(b, uint16(len(tok)))
	copy(b[2:], tok)
	_, err := c.netConn.Write(b)
	if err != nil {
		return cmn.Wrap(cmn.ErrConnectionKilled, err)
	}
	return nil
}

func (c *Connection) readAuthFrame() (string, error) {
	var hdr [2]byte
	if _, err := readFull(c.netConn, hdr[:]); err != nil {
		return "", cmn.Wrap(cmn.ErrConnectionKilled, err)
	}
	n := binary.BigEndian.Uint16(hdr[:])
	buf := make([]byte, n)
	if _, err := readFull(c.netConn, buf); err != nil {
		return "", cmn.Wrap(cmn.ErrConnectionKilled, err)
	}
	return string(buf), nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func signBearerToken(secret []byte) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(bearerTokenTTL)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", cmn.Wrap(cmn.ErrConnectionLogic, err)
	}
	return signed, nil
}

func verifyBearerToken(tokStr string, secret []byte) error {
	_, err := jwt.Parse(tokStr, func(*jwt.Token) (interface{}, error) { return secret, nil })
	if err != nil {
		return cmn.Wrap(cmn.ErrConnectionLogic, err)
	}
	return nil
}

package conn

import (
	"net"
	"testing"
)

func TestSignAndVerifyBearerTokenRoundTrips(t *testing.T) {
	secret := []byte("shared-secret")
	tok, err := signBearerToken(secret)
	if err != nil {
		t.Fatal(err)
	}
	if err := verifyBearerToken(tok, secret); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyBearerTokenRejectsWrongSecret(t *testing.T) {
	tok, err := signBearerToken([]byte("secret-a"))
	if err != nil {
		t.Fatal(err)
	}
	if err := verifyBearerToken(tok, []byte("secret-b")); err == nil {
		t.Fatal("expected verification to fail with mismatched secret")
	}
}

func TestAuthFrameRoundTripsOverPipe(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ca := &Connection{netConn: a, isClient: true, cfg: Config{AuthSecret: []byte("shh")}}
	cb := &Connection{netConn: b, isClient: false, cfg: Config{AuthSecret: []byte("shh")}}

	errCh := make(chan error, 1)
	go func() { errCh <- ca.authenticate() }()

	if err := cb.authenticate(); err != nil {
		t.Fatalf("server-side authenticate: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("client-side authenticate: %v", err)
	}
}

package compress_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/solidgo/mpipc/compress"
)

func roundTrip(t *testing.T, name string) {
	t.Helper()
	eng, err := compress.New(name)
	if err != nil {
		t.Fatal(err)
	}
	src := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 200))
	out, ok, err := eng.Compress(nil, src)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("%s: expected compression to engage on compressible input", name)
	}
	if len(out) >= len(src) {
		t.Fatalf("%s: compressed output not smaller: %d >= %d", name, len(out), len(src))
	}
	back, err := eng.Decompress(nil, out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, src) {
		t.Fatalf("%s: round trip mismatch", name)
	}
}

func TestLZ4RoundTrip(t *testing.T) { roundTrip(t, compress.LZ4) }
func TestZstdRoundTrip(t *testing.T) { roundTrip(t, compress.Zstd) }

func TestBelowThresholdSkipsCompression(t *testing.T) {
	eng, err := compress.New(compress.LZ4)
	if err != nil {
		t.Fatal(err)
	}
	src := []byte("short")
	out, ok, err := eng.Compress(nil, src)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected compression to be skipped for tiny input")
	}
	if !bytes.Equal(out, src) {
		t.Fatal("expected unchanged passthrough below threshold")
	}
}

func TestNeverEngineIsNil(t *testing.T) {
	eng, err := compress.New(compress.Never)
	if err != nil {
		t.Fatal(err)
	}
	if eng != nil {
		t.Fatal("expected nil engine for \"never\"")
	}
}

func TestUnknownEngineErrors(t *testing.T) {
	if _, err := compress.New("bogus"); err == nil {
		t.Fatal("expected error for unknown compression engine")
	}
}

func TestIsValid(t *testing.T) {
	for _, c := range []string{"", compress.Never, compress.LZ4, compress.Zstd} {
		if !compress.IsValid(c) {
			t.Fatalf("expected %q to be valid", c)
		}
	}
	if compress.IsValid("bogus") {
		t.Fatal("expected bogus to be invalid")
	}
}

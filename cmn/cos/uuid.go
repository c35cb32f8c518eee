// Package cos: ID generation for mpipc. Every sender-request-id, pool
// generation, connection session id and relay translation key is minted
// here so that the whole process shares one fast, collision-resistant
// generator instead of each component rolling its own.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"unsafe"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"

	"github.com/solidgo/mpipc/cmn/atomic"
)

// Alphabet for generating short IDs, same shape as shortid.DEFAULT_ABC
// but reordered so that len(idABC) > 0x3f (see GenTie).
const idABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

const (
	// LenShortID is the length of a freshly minted short ID, per
	// https://github.com/teris-io/shortid#id-length
	LenShortID = 9
)

var (
	sid  *shortid.Shortid
	rtie atomic.Uint32
)

// InitIDGen seeds the process-wide ID generator; call once at service
// startup with a reasonably unique seed (e.g. derived from the listener
// address and start time).
func InitIDGen(seed uint64) {
	sid = shortid.MustNew(4 /*worker*/, idABC, seed)
}

func init() {
	// usable even if the caller forgets InitIDGen -- tests rely on this.
	InitIDGen(1)
}

// GenUUID mints a short, URL-safe, globally-unique-enough string used as
// a connection session ID or a relay-pair translation key.
func GenUUID() string {
	uuid := sid.MustGenerate()
	var h, t string
	if !isAlpha(uuid[0]) {
		tie := int(rtie.Add(1))
		h = string(rune('A' + tie%26))
	}
	if c := uuid[len(uuid)-1]; c == '-' || c == '_' {
		tie := int(rtie.Add(1))
		t = string(rune('a' + tie%26))
	}
	return h + uuid + t
}

// GenTie returns a 3-character fast, non-cryptographic tie-breaker; used
// to disambiguate a sender-request-id seed colliding across goroutines
// within the same nanosecond.
func GenTie() string {
	tie := rtie.Add(1)
	b0 := idABC[tie&0x3f]
	b1 := idABC[-tie&0x3f]
	b2 := idABC[(tie>>2)&0x3f]
	return string([]byte{b0, b1, b2})
}

// HashName folds an arbitrary name (pool name, relay peer name) into a
// uint64 for mutex sharding and translation-table bucketing.
func HashName(name string) uint64 {
	return xxhash.Checksum64S(UnsafeB(name), 0)
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// UnsafeB and UnsafeS convert between string and []byte without copying.
// Callers must not mutate the returned/underlying bytes.
func UnsafeB(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func UnsafeS(b []byte) string { return unsafe.String(unsafe.SliceData(b), len(b)) }

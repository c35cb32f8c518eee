// Package atomic provides small typed wrappers over sync/atomic, used
// throughout mpipc wherever a counter or flag is shared between a
// connection's reactor goroutine and the pool/service mutex-guarded state.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package atomic

import "sync/atomic"

type (
	Bool  struct{ v int32 }
	Int32 struct{ v int32 }
	Int64 struct{ v int64 }
	Uint32 struct{ v uint32 }
	Uint64 struct{ v uint64 }
)

func (b *Bool) Load() bool { return atomic.LoadInt32(&b.v) != 0 }
func (b *Bool) Store(val bool) {
	var i int32
	if val {
		i = 1
	}
	atomic.StoreInt32(&b.v, i)
}

// Swap stores val and returns the previous value.
func (b *Bool) Swap(val bool) bool {
	var i int32
	if val {
		i = 1
	}
	return atomic.SwapInt32(&b.v, i) != 0
}

func (b *Bool) CAS(old, newv bool) bool {
	var o, n int32
	if old {
		o = 1
	}
	if newv {
		n = 1
	}
	return atomic.CompareAndSwapInt32(&b.v, o, n)
}

func (i *Int32) Load() int32          { return atomic.LoadInt32(&i.v) }
func (i *Int32) Store(v int32)        { atomic.StoreInt32(&i.v, v) }
func (i *Int32) Add(d int32) int32    { return atomic.AddInt32(&i.v, d) }
func (i *Int32) Swap(v int32) int32   { return atomic.SwapInt32(&i.v, v) }
func (i *Int32) CAS(old, n int32) bool {
	return atomic.CompareAndSwapInt32(&i.v, old, n)
}

func (i *Int64) Load() int64        { return atomic.LoadInt64(&i.v) }
func (i *Int64) Store(v int64)      { atomic.StoreInt64(&i.v, v) }
func (i *Int64) Add(d int64) int64  { return atomic.AddInt64(&i.v, d) }
func (i *Int64) Swap(v int64) int64 { return atomic.SwapInt64(&i.v, v) }
func (i *Int64) CAS(old, n int64) bool {
	return atomic.CompareAndSwapInt64(&i.v, old, n)
}

func (u *Uint32) Load() uint32       { return atomic.LoadUint32(&u.v) }
func (u *Uint32) Store(v uint32)     { atomic.StoreUint32(&u.v, v) }
func (u *Uint32) Add(d uint32) uint32 { return atomic.AddUint32(&u.v, d) }

func (u *Uint64) Load() uint64       { return atomic.LoadUint64(&u.v) }
func (u *Uint64) Store(v uint64)     { atomic.StoreUint64(&u.v, v) }
func (u *Uint64) Add(d uint64) uint64 { return atomic.AddUint64(&u.v, d) }

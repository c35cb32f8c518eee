// Package memsys implements a small slab-classed byte-buffer pool. In
// mpipc only the connection's read pump takes its read buffer from here;
// other buffers and packet payloads are allocated with make.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"sync"

	"github.com/solidgo/mpipc/cmn/nlog"
)

const (
	PageSize        = 4 * 1024
	DefaultBufSize  = 32 * 1024
	MaxPageSlabSize = 128 * 1024
)

// slabSizes are the size classes an MMSA maintains, smallest first;
// Alloc rounds a requested size up to the next class.
var slabSizes = []int{PageSize, 8 * 1024, DefaultBufSize, 64 * 1024, MaxPageSlabSize}

// Slab is one size class; its Size is fixed, its pool recycles buffers
// of exactly that size.
type Slab struct {
	pool sync.Pool
	Size int
}

func (s *Slab) alloc() []byte {
	if b, ok := s.pool.Get().([]byte); ok {
		return b[:s.Size]
	}
	return make([]byte, s.Size)
}

func (s *Slab) free(b []byte) { s.pool.Put(b) } //nolint:staticcheck // b is never retained by the caller after Free

// MMSA (memory manager, slab allocator) owns one Slab per size class.
// A zero-value MMSA is unusable; call Init before Alloc/Free.
type MMSA struct {
	Name     string
	TimeIval int // unused hook kept for config-surface parity; eviction is left to the GC
	MinFree  int64

	slabs []*Slab
}

// Init builds the size classes; the argument is currently unused (slab
// sizing is fixed) and kept so call sites that pass a byte budget, as the
// teacher's transport layer does, keep compiling unchanged.
func (m *MMSA) Init(int64) *MMSA {
	m.slabs = make([]*Slab, len(slabSizes))
	for i, sz := range slabSizes {
		m.slabs[i] = &Slab{Size: sz}
	}
	nlog.Infoln("memsys:", m.Name, "initialized,", len(m.slabs), "slab classes")
	return m
}

// GetSlab returns the size class whose Size is >= size, or the largest
// one if size exceeds MaxPageSlabSize.
func (m *MMSA) GetSlab(size int) (*Slab, error) {
	for _, s := range m.slabs {
		if s.Size >= size {
			return s, nil
		}
	}
	return m.slabs[len(m.slabs)-1], nil
}

// Alloc returns a buffer sized to the smallest class able to hold
// DefaultBufSize bytes, alongside the Slab it came from so the caller can
// Free it back to the same class.
func (m *MMSA) Alloc() ([]byte, *Slab) {
	s, _ := m.GetSlab(DefaultBufSize)
	return s.alloc(), s
}

// AllocSize is like Alloc but for a caller-chosen size.
func (m *MMSA) AllocSize(size int) ([]byte, *Slab) {
	s, _ := m.GetSlab(size)
	return s.alloc()[:min(size, s.Size)], s
}

// Free returns buf to slab's pool. Safe to call with a nil slab (no-op).
func (m *MMSA) Free(buf []byte, slab *Slab) {
	if slab == nil {
		return
	}
	slab.free(buf[:cap(buf)])
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

var (
	pageMM     *MMSA
	pageMMOnce sync.Once
)

// PageMM returns the process-wide default MMSA, lazily initialized.
func PageMM() *MMSA {
	pageMMOnce.Do(func() {
		pageMM = (&MMSA{Name: "page-mm"}).Init(0)
	})
	return pageMM
}

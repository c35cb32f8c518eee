package memsys_test

import (
	"testing"

	"github.com/solidgo/mpipc/memsys"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	mm := (&memsys.MMSA{Name: "test"}).Init(0)
	buf, slab := mm.Alloc()
	if len(buf) != memsys.DefaultBufSize {
		t.Fatalf("expected len %d, got %d", memsys.DefaultBufSize, len(buf))
	}
	buf[0] = 0xAB
	mm.Free(buf, slab)

	buf2, slab2 := mm.Alloc()
	if slab2 != slab {
		t.Fatalf("expected the same slab class to be reused")
	}
	_ = buf2
}

func TestGetSlabRoundsUp(t *testing.T) {
	mm := (&memsys.MMSA{Name: "test"}).Init(0)
	s, err := mm.GetSlab(5000)
	if err != nil {
		t.Fatal(err)
	}
	if s.Size < 5000 {
		t.Fatalf("slab size %d smaller than requested 5000", s.Size)
	}
}

func TestGetSlabClampsToMax(t *testing.T) {
	mm := (&memsys.MMSA{Name: "test"}).Init(0)
	s, err := mm.GetSlab(memsys.MaxPageSlabSize * 2)
	if err != nil {
		t.Fatal(err)
	}
	if s.Size != memsys.MaxPageSlabSize {
		t.Fatalf("expected clamp to %d, got %d", memsys.MaxPageSlabSize, s.Size)
	}
}

func TestPageMMSingleton(t *testing.T) {
	a := memsys.PageMM()
	b := memsys.PageMM()
	if a != b {
		t.Fatal("PageMM should return the same instance")
	}
}

func TestFreeNilSlabIsNoop(t *testing.T) {
	mm := (&memsys.MMSA{Name: "test"}).Init(0)
	mm.Free(nil, nil)
}

package guestmem

import (
	"bytes"
	"testing"
)

func buildTestCollection(t *testing.T, trackDirty bool) (*Collection, []*Region) {
	t.Helper()
	ps := uint64(PageSize())
	tuples := []RegionTuple{
		{GuestPhysBase: 0, Length: 3 * ps},
		{GuestPhysBase: 3 * ps, Length: 3 * ps},
		{GuestPhysBase: 6 * ps, Length: 3 * ps},
	}
	regions, err := BuildRegions(tuples, ModeAnonymous, nil, trackDirty, 0, HugeNone)
	if err != nil {
		t.Fatalf("BuildRegions: %v", err)
	}
	t.Cleanup(func() {
		for _, r := range regions {
			r.Release()
		}
	})

	c := NewCollection()
	for _, r := range regions {
		if err := c.Insert(r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	return c, regions
}

func TestCollectionRejectsOverlap(t *testing.T) {
	ps := uint64(PageSize())
	c, _ := buildTestCollection(t, false)

	overlap, err := BuildRegions([]RegionTuple{{GuestPhysBase: ps, Length: ps}}, ModeAnonymous, nil, false, 0, HugeNone)
	if err != nil {
		t.Fatalf("BuildRegions: %v", err)
	}
	defer overlap[0].Release()

	if err := c.Insert(overlap[0]); err != ErrOverlappingRegion {
		t.Fatalf("got %v, want ErrOverlappingRegion", err)
	}
}

func TestCollectionCheckInsertableRejectsOverlapWithoutMutating(t *testing.T) {
	ps := uint64(PageSize())
	c, _ := buildTestCollection(t, false)
	before := c.Len()

	overlap, err := BuildRegions([]RegionTuple{{GuestPhysBase: ps, Length: ps}}, ModeAnonymous, nil, false, 0, HugeNone)
	if err != nil {
		t.Fatalf("BuildRegions: %v", err)
	}
	defer overlap[0].Release()

	if err := c.CheckInsertable(overlap); err != ErrOverlappingRegion {
		t.Fatalf("got %v, want ErrOverlappingRegion", err)
	}
	if c.Len() != before {
		t.Errorf("CheckInsertable mutated the collection: len = %d, want %d", c.Len(), before)
	}
}

func TestCollectionCheckInsertableRejectsOverlapWithinBatch(t *testing.T) {
	ps := uint64(PageSize())
	c := NewCollection()

	regions, err := BuildRegions([]RegionTuple{
		{GuestPhysBase: 0, Length: ps},
		{GuestPhysBase: 0, Length: ps},
	}, ModeAnonymous, nil, false, 0, HugeNone)
	if err != nil {
		t.Fatalf("BuildRegions: %v", err)
	}
	defer func() {
		for _, r := range regions {
			r.Release()
		}
	}()

	if err := c.CheckInsertable(regions); err != ErrOverlappingRegion {
		t.Fatalf("got %v, want ErrOverlappingRegion", err)
	}
}

func TestCollectionFind(t *testing.T) {
	ps := uint64(PageSize())
	c, regions := buildTestCollection(t, false)

	r, off, err := c.Find(3*ps + 5)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if r != regions[1] || off != 5 {
		t.Errorf("Find returned wrong region/offset: region=%p off=%d", r, off)
	}

	if _, _, err := c.Find(100 * ps); err != ErrNotMapped {
		t.Fatalf("Find out-of-range: got %v, want ErrNotMapped", err)
	}
}

func TestCollectionWriteRead(t *testing.T) {
	ps := uint64(PageSize())
	c, _ := buildTestCollection(t, false)

	data := bytes.Repeat([]byte{0xAB}, int(2*ps))
	if err := c.Write(data, ps); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, len(data))
	if err := c.Read(buf, ps); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(buf, data) {
		t.Error("read back data does not match what was written")
	}
}

func TestCollectionWriteUnmappedFails(t *testing.T) {
	ps := uint64(PageSize())
	c, _ := buildTestCollection(t, false)

	data := make([]byte, ps)
	if err := c.Write(data, 100*ps); err != ErrNotMapped {
		t.Fatalf("got %v, want ErrNotMapped", err)
	}
}

func TestCollectionGetSliceOutOfRange(t *testing.T) {
	ps := uint64(PageSize())
	c, _ := buildTestCollection(t, false)

	if _, err := c.GetSlice(0, 3*ps+1); err == nil {
		t.Fatal("expected error for slice exceeding its region")
	}
	slice, err := c.GetSlice(0, 3*ps)
	if err != nil {
		t.Fatalf("GetSlice: %v", err)
	}
	if slice.Len() != int(3*ps) {
		t.Errorf("slice len = %d, want %d", slice.Len(), 3*ps)
	}
}

// TestMarkDirtyAndResetScenario implements spec §8 end-to-end scenario 1.
func TestMarkDirtyAndResetScenario(t *testing.T) {
	ps := uint64(PageSize())
	c, regions := buildTestCollection(t, true)

	c.MarkDirty(ps, 2*ps)
	c.MarkDirty(4*ps, 4*ps)

	expectDirty := map[int]map[int]bool{
		0: {1: true, 2: true},
		1: {1: true, 2: true},
		2: {0: true, 1: true},
	}
	for ri, r := range regions {
		for p := 0; p < r.Dirty().Len(); p++ {
			want := expectDirty[ri][p]
			if got := r.Dirty().Dirty(p); got != want {
				t.Errorf("region %d page %d: dirty=%v, want %v", ri, p, got, want)
			}
		}
	}

	c.ResetDirty()
	for ri, r := range regions {
		for p := 0; p < r.Dirty().Len(); p++ {
			if r.Dirty().Dirty(p) {
				t.Errorf("region %d page %d: still dirty after reset", ri, p)
			}
		}
	}
}

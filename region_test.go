package guestmem

import "testing"

func TestBuildRegionsAnonymous(t *testing.T) {
	ps := uint64(PageSize())
	tuples := []RegionTuple{
		{GuestPhysBase: 0, Length: 3 * ps},
		{GuestPhysBase: 3 * ps, Length: 3 * ps},
	}

	regions, err := BuildRegions(tuples, ModeAnonymous, nil, true, 0, HugeNone)
	if err != nil {
		t.Fatalf("BuildRegions: %v", err)
	}
	defer func() {
		for _, r := range regions {
			r.Release()
		}
	}()

	if len(regions) != 2 {
		t.Fatalf("got %d regions, want 2", len(regions))
	}
	for i, r := range regions {
		if r.Length() != 3*ps {
			t.Errorf("region %d: length = %d, want %d", i, r.Length(), 3*ps)
		}
		if len(r.Bytes()) != int(3*ps) {
			t.Errorf("region %d: bytes len = %d, want %d", i, len(r.Bytes()), 3*ps)
		}
		if r.Dirty().Len() != 3 {
			t.Errorf("region %d: dirty bitmap len = %d, want 3", i, r.Dirty().Len())
		}
	}
}

func TestBuildRegionsRejectsZeroLength(t *testing.T) {
	_, err := BuildRegions([]RegionTuple{{GuestPhysBase: 0, Length: 0}}, ModeAnonymous, nil, false, 0, HugeNone)
	if err != ErrZeroLengthRegion {
		t.Fatalf("got %v, want ErrZeroLengthRegion", err)
	}
}

func TestBuildRegionsRejectsUnalignedLength(t *testing.T) {
	_, err := BuildRegions([]RegionTuple{{GuestPhysBase: 0, Length: 1}}, ModeAnonymous, nil, false, 0, HugeNone)
	if err != ErrUnalignedLength {
		t.Fatalf("got %v, want ErrUnalignedLength", err)
	}
}

func TestBuildRegionsRejectsUnknownHugepage(t *testing.T) {
	ps := uint64(PageSize())
	_, err := BuildRegions([]RegionTuple{{GuestPhysBase: 0, Length: ps}}, ModeAnonymous, nil, false, 0, HugePages(99))
	if err == nil {
		t.Fatal("expected error for unrecognized hugepage option")
	}
}

func TestRegionReleaseIdempotent(t *testing.T) {
	ps := uint64(PageSize())
	regions, err := BuildRegions([]RegionTuple{{GuestPhysBase: 0, Length: ps}}, ModeAnonymous, nil, false, 0, HugeNone)
	if err != nil {
		t.Fatalf("BuildRegions: %v", err)
	}
	r := regions[0]
	if err := r.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := r.Release(); err != nil {
		t.Fatalf("second Release should be a no-op, got: %v", err)
	}
}

func TestBuildRegionsRecordsMapAndUnmapOperations(t *testing.T) {
	ResetMetrics()
	ps := uint64(PageSize())

	regions, err := BuildRegions([]RegionTuple{
		{GuestPhysBase: 0, Length: ps},
		{GuestPhysBase: ps, Length: ps},
	}, ModeAnonymous, nil, false, 0, HugeNone)
	if err != nil {
		t.Fatalf("BuildRegions: %v", err)
	}

	if got := GetMetrics().MapOperations; got != 2 {
		t.Errorf("MapOperations after BuildRegions = %d, want 2", got)
	}

	for _, r := range regions {
		if err := r.Release(); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}

	if got := GetMetrics().UnmapOperations; got != 2 {
		t.Errorf("UnmapOperations after Release = %d, want 2", got)
	}
}

func TestBindPrivateRejectsDouble(t *testing.T) {
	ps := uint64(PageSize())
	regions, err := BuildRegions([]RegionTuple{{GuestPhysBase: 0, Length: ps}}, ModeAnonymous, nil, false, 0, HugeNone)
	if err != nil {
		t.Fatalf("BuildRegions: %v", err)
	}
	defer regions[0].Release()

	if err := regions[0].bindPrivate(3, 0); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := regions[0].bindPrivate(4, 0); err != ErrPrivateAndAnon {
		t.Fatalf("second bind: got %v, want ErrPrivateAndAnon", err)
	}
}

func TestBindPrivateRejectsAfterRegistration(t *testing.T) {
	ps := uint64(PageSize())
	regions, err := BuildRegions([]RegionTuple{{GuestPhysBase: 0, Length: ps}}, ModeAnonymous, nil, false, 0, HugeNone)
	if err != nil {
		t.Fatalf("BuildRegions: %v", err)
	}
	defer regions[0].Release()

	regions[0].slotIndex = 0 // simulate a completed Register call
	if err := regions[0].bindPrivate(3, 0); err != ErrAlreadyRegistered {
		t.Fatalf("bind after registration: got %v, want ErrAlreadyRegistered", err)
	}
}

func TestIsPageAligned(t *testing.T) {
	ps := uint64(PageSize())
	if !IsPageAligned(ps * 7) {
		t.Error("expected page-multiple address to be aligned")
	}
	if IsPageAligned(ps + 1) {
		t.Error("expected non-page-multiple address to be unaligned")
	}
}

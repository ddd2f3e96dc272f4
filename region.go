package guestmem

import (
	"math"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MappingMode selects the kind of host virtual-memory mapping backing a
// region.
type MappingMode int

const (
	// ModeAnonymous is a private, anonymous, read/write mapping.
	ModeAnonymous MappingMode = iota
	// ModeFileShared is a shared, read/write mapping of a backing file.
	ModeFileShared
	// ModeFilePrivate is a private (copy-on-write) mapping of a backing file.
	ModeFilePrivate
)

// HugePages selects the hugepage flags applied to a mapping.
type HugePages int

const (
	HugeNone HugePages = iota
	Huge2M
	Huge1G
)

func (h HugePages) mmapFlags() (int, error) {
	switch h {
	case HugeNone:
		return 0, nil
	case Huge2M, Huge1G:
		return hugetlbFlag(h)
	default:
		return 0, fmtErr(KindInvalidHugepage, "unrecognized hugepage option %d", int(h))
	}
}

// RegionTuple is one requested (guest_phys_base, length) pair to map.
type RegionTuple struct {
	GuestPhysBase uint64
	Length        uint64
}

// Region is an immovable, sealed handle to one contiguous guest-physical
// range and its backing host virtual mapping. The mapping is owned by the
// Region; Release unmaps it. Region deliberately exposes no way to move or
// copy the underlying bytes by value — only read-only accessors and a raw
// byte slice view, per the sealed-wrapper guidance for raw-pointer regions.
type Region struct {
	guestPhysBase uint64
	length        uint64
	hostMem       []byte
	dirty         *Bitmap
	backingFile   *os.File
	backingOffset int64
	privateFD     int
	privateOffset int64
	slotIndex     int

	releaseOnce sync.Once
}

// GuestPhysBase returns the region's guest-physical base address.
func (r *Region) GuestPhysBase() uint64 { return r.guestPhysBase }

// Length returns the region length in bytes.
func (r *Region) Length() uint64 { return r.length }

// Bytes returns the region's host virtual mapping. The returned slice is
// valid for the lifetime of the Region; callers must not retain it past
// Release.
func (r *Region) Bytes() []byte { return r.hostMem }

// Dirty returns the region's monitor-owned dirty bitmap, or nil if dirty
// tracking was not requested for this region.
func (r *Region) Dirty() *Bitmap { return r.dirty }

// HasPrivateBinding reports whether this region carries a private-memory
// file binding.
func (r *Region) HasPrivateBinding() bool { return r.privateFD >= 0 }

// PrivateBinding returns the private-memory file descriptor and offset.
// Only meaningful when HasPrivateBinding is true.
func (r *Region) PrivateBinding() (fd int, offset int64) { return r.privateFD, r.privateOffset }

// SlotIndex returns the slot index assigned at registration, or -1 if the
// region has not yet been registered.
func (r *Region) SlotIndex() int { return r.slotIndex }

// BackingFileOffset returns the backing file and byte offset this region was
// mapped from, if file-backed.
func (r *Region) BackingFileOffset() (*os.File, int64) { return r.backingFile, r.backingOffset }

// Release unmaps the region's host virtual memory. Idempotent.
func (r *Region) Release() error {
	var err error
	r.releaseOnce.Do(func() {
		if r.hostMem != nil {
			err = unix.Munmap(r.hostMem)
			r.hostMem = nil
			if err == nil {
				recordUnmapOperation()
			}
		}
	})
	return err
}

// bindPrivate attaches a private-memory-file binding to a region that does
// not yet have one (invariant 6: at most one binding per region) and that
// has not yet been registered with the host: registration snapshots the
// region's flags and guest_memfd binding into the KVM slot, so a binding
// attached afterward would silently diverge from what the host already has.
func (r *Region) bindPrivate(fd int, offset int64) error {
	if r.privateFD >= 0 {
		return ErrPrivateAndAnon
	}
	if r.slotIndex >= 0 {
		return ErrAlreadyRegistered
	}
	r.privateFD = fd
	r.privateOffset = offset
	return nil
}

// BuildRegions implements the Region Mapper contract (spec §4.A): given an
// ordered sequence of (guest_phys_base, length) tuples, a mapping mode, an
// optional backing file, a dirty-tracking flag, a starting file offset and
// a hugepage configuration, it produces one Region per tuple in input
// order.
func BuildRegions(tuples []RegionTuple, mode MappingMode, backing *os.File, trackDirty bool, startOffset int64, huge HugePages) ([]*Region, error) {
	hugeFlags, err := huge.mmapFlags()
	if err != nil {
		return nil, err
	}

	pageSize := int64(PageSize())
	offset := startOffset
	regions := make([]*Region, 0, len(tuples))

	for _, t := range tuples {
		if t.Length == 0 {
			return nil, ErrZeroLengthRegion
		}
		if t.Length%uint64(pageSize) != 0 {
			return nil, ErrUnalignedLength
		}

		mmapFlags, fd, fdOffset, err := mmapArgsFor(mode, backing, offset, hugeFlags)
		if err != nil {
			return nil, err
		}

		mem, err := unix.Mmap(fd, fdOffset, int(t.Length), unix.PROT_READ|unix.PROT_WRITE, mmapFlags)
		if err != nil {
			return nil, newErr(KindMmap, "", err)
		}
		recordMapOperation()

		var bitmap *Bitmap
		if trackDirty {
			bitmap = NewBitmap(int((t.Length + uint64(pageSize) - 1) / uint64(pageSize)))
		}

		r := &Region{
			guestPhysBase: t.GuestPhysBase,
			length:        t.Length,
			hostMem:       mem,
			dirty:         bitmap,
			privateFD:     -1,
			slotIndex:     -1,
		}
		if backing != nil {
			r.backingFile = backing
			r.backingOffset = offset
		}
		regions = append(regions, r)

		if backing != nil {
			next, ok := addOffset(offset, int64(t.Length))
			if !ok {
				return nil, newErr(KindOffsetTooLarge, "", nil)
			}
			offset = next
		}
	}

	return regions, nil
}

// mmapArgsFor derives the mmap flags, file descriptor, and file offset to
// pass to unix.Mmap for the requested mode.
func mmapArgsFor(mode MappingMode, backing *os.File, offset int64, hugeFlags int) (flags, fd int, fdOffset int64, err error) {
	switch mode {
	case ModeAnonymous:
		return unix.MAP_PRIVATE | unix.MAP_ANON | hugeFlags, -1, 0, nil
	case ModeFileShared:
		if backing == nil {
			return 0, 0, 0, fmtErr(KindMmapRegionBuild, "file_shared mode requires a backing file")
		}
		return unix.MAP_SHARED | hugeFlags, int(backing.Fd()), offset, nil
	case ModeFilePrivate:
		if backing == nil {
			return 0, 0, 0, fmtErr(KindMmapRegionBuild, "file_private mode requires a backing file")
		}
		return unix.MAP_PRIVATE | hugeFlags, int(backing.Fd()), offset, nil
	default:
		return 0, 0, 0, fmtErr(KindMmapRegionBuild, "unrecognized mapping mode %d", int(mode))
	}
}

// addOffset adds delta to base, reporting false if the result would not fit
// in the signed 64-bit space the host mmap interface accepts (spec §4.A
// step 1: OffsetTooLarge).
func addOffset(base, delta int64) (int64, bool) {
	if delta < 0 {
		return 0, false
	}
	if base > math.MaxInt64-delta {
		return 0, false
	}
	return base + delta, true
}

var (
	cachedPageSize int
	pageSizeOnce   sync.Once
)

// PageSize returns the host page size, cached after first use.
func PageSize() int {
	pageSizeOnce.Do(func() {
		cachedPageSize = unix.Getpagesize()
	})
	return cachedPageSize
}

// IsPageAligned reports whether addr is a multiple of the host page size.
func IsPageAligned(addr uint64) bool {
	return addr%uint64(PageSize()) == 0
}

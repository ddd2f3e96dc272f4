package guestmem

import "sort"

// Collection is an ordered set of regions addressable by guest-physical
// address (spec §4.B). Regions are kept sorted by GuestPhysBase and never
// overlap (invariants 1-2). Mutation (Insert) is expected to happen only
// through the owning VM handle during setup/teardown; reads are safe for
// concurrent use by multiple handles.
type Collection struct {
	regions []*Region
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{}
}

// Insert adds a region to the collection, maintaining ascending
// GuestPhysBase order. It rejects a region that overlaps any existing
// region in guest-physical space.
func (c *Collection) Insert(r *Region) error {
	idx := sort.Search(len(c.regions), func(i int) bool {
		return c.regions[i].guestPhysBase >= r.guestPhysBase
	})

	if idx > 0 {
		prev := c.regions[idx-1]
		if prev.guestPhysBase+prev.length > r.guestPhysBase {
			return ErrOverlappingRegion
		}
	}
	if idx < len(c.regions) {
		next := c.regions[idx]
		if r.guestPhysBase+r.length > next.guestPhysBase {
			return ErrOverlappingRegion
		}
	}

	c.regions = append(c.regions, nil)
	copy(c.regions[idx+1:], c.regions[idx:])
	c.regions[idx] = r
	return nil
}

// Len returns the number of regions.
func (c *Collection) Len() int { return len(c.regions) }

// CheckInsertable reports whether every region in rs could be inserted in
// order without overlapping the collection or each other, without mutating
// c. Used to validate a batch before any host-side registration ioctl is
// issued, so a rejected batch never leaves a host slot registered for a
// region the collection refuses to track.
func (c *Collection) CheckInsertable(rs []*Region) error {
	trial := &Collection{regions: append([]*Region(nil), c.regions...)}
	for _, r := range rs {
		if err := trial.Insert(r); err != nil {
			return err
		}
	}
	return nil
}

// Iter returns the regions in ascending guest-physical order. The returned
// slice must not be mutated by the caller.
func (c *Collection) Iter() []*Region { return c.regions }

// Find locates the region containing guestAddr, returning the region and
// the intra-region byte offset. Returns ErrNotMapped if no region contains
// the address.
func (c *Collection) Find(guestAddr uint64) (*Region, uint64, error) {
	idx := sort.Search(len(c.regions), func(i int) bool {
		return c.regions[i].guestPhysBase+c.regions[i].length > guestAddr
	})
	if idx >= len(c.regions) {
		return nil, 0, ErrNotMapped
	}
	r := c.regions[idx]
	if guestAddr < r.guestPhysBase {
		return nil, 0, ErrNotMapped
	}
	return r, guestAddr - r.guestPhysBase, nil
}

// AccessFunc is invoked once per contiguous chunk of a TryAccess walk. It
// receives the number of bytes accumulated so far across the whole walk,
// the length of this chunk, the guest address the chunk starts at, and the
// region backing it. Returning 0 stops the walk early (e.g. once the
// caller's own logic is satisfied).
type AccessFunc func(accumulated uint64, chunkLen uint64, chunkAddr uint64, region *Region) uint64

// TryAccess invokes f over up to length bytes starting at guestAddr,
// possibly spanning multiple contiguous regions. It stops at the first gap
// between regions, or when f returns 0, and returns the total number of
// bytes accumulated.
func (c *Collection) TryAccess(length uint64, guestAddr uint64, f AccessFunc) uint64 {
	var total uint64
	addr := guestAddr
	remaining := length

	for remaining > 0 {
		r, off, err := c.Find(addr)
		if err != nil {
			break
		}
		chunk := r.length - off
		if chunk > remaining {
			chunk = remaining
		}
		n := f(total, chunk, addr, r)
		if n == 0 {
			break
		}
		total += n
		addr += n
		remaining -= n
		if n < chunk {
			break
		}
	}
	return total
}

// Write copies bytes into guest memory starting at guestAddr. Returns
// ErrNotMapped (kind InvalidGuestAddress) if any part of the range is
// unmapped; bytes already
// written to mapped regions before the first gap are not rolled back.
func (c *Collection) Write(data []byte, guestAddr uint64) error {
	n := c.TryAccess(uint64(len(data)), guestAddr, func(total, chunkLen, addr uint64, r *Region) uint64 {
		off := addr - r.guestPhysBase
		copy(r.hostMem[off:off+chunkLen], data[total:total+chunkLen])
		return chunkLen
	})
	if n != uint64(len(data)) {
		return ErrNotMapped
	}
	return nil
}

// Read copies bytes from guest memory starting at guestAddr into buf.
// Returns ErrNotMapped (kind InvalidGuestAddress) if any part of the range
// is unmapped.
func (c *Collection) Read(buf []byte, guestAddr uint64) error {
	n := c.TryAccess(uint64(len(buf)), guestAddr, func(total, chunkLen, addr uint64, r *Region) uint64 {
		off := addr - r.guestPhysBase
		copy(buf[total:total+chunkLen], r.hostMem[off:off+chunkLen])
		return chunkLen
	})
	if n != uint64(len(buf)) {
		return ErrNotMapped
	}
	return nil
}

// GetSlice returns a VolatileSlice over count bytes starting at guestAddr.
// Fails with an *Error of kind InvalidBackendAddress if the range exits its
// region.
func (c *Collection) GetSlice(guestAddr uint64, count uint64) (VolatileSlice, error) {
	r, off, err := c.Find(guestAddr)
	if err != nil {
		return VolatileSlice{}, err
	}
	if off+count > r.length {
		return VolatileSlice{}, &Error{Kind: KindInvalidBackendAddress, Detail: "range exits region"}
	}
	return VolatileSlice{data: r.hostMem[off : off+count]}, nil
}

// MarkDirty marks [addr, addr+length) dirty across every region it
// overlaps, clamped to each region's bounds. No-op for regions without a
// dirty bitmap.
func (c *Collection) MarkDirty(addr uint64, length uint64) {
	c.TryAccess(length, addr, func(total, chunkLen, chunkAddr uint64, r *Region) uint64 {
		if r.dirty != nil {
			off := chunkAddr - r.guestPhysBase
			pageSize := uint64(PageSize())
			firstPage := int(off / pageSize)
			lastPage := int((off + chunkLen + pageSize - 1) / pageSize)
			r.dirty.Mark(firstPage, lastPage-firstPage)
		}
		return chunkLen
	})
}

// ResetDirty clears every region's dirty bitmap.
func (c *Collection) ResetDirty() {
	for _, r := range c.regions {
		r.dirty.Reset()
	}
}

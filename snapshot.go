package guestmem

import (
	"io"
	"os"
	"time"
)

// HypervisorBitmap is a per-slot dirty bitmap as reported by the host
// virtualization interface, typically one 64-bit word per 64 pages. It is
// read-only at dump time (spec §9).
type HypervisorBitmap struct {
	Words []uint64
}

func (b HypervisorBitmap) dirty(page int) bool {
	if b.Words == nil {
		return false
	}
	w := page / 64
	if w >= len(b.Words) {
		return false
	}
	return b.Words[w]&(1<<uint(page%64)) != 0
}

// writerAt is the random-access writer the incremental dump needs: seek
// followed by write. *os.File satisfies it.
type writerAt interface {
	io.Writer
	io.Seeker
}

// Dump writes a full memory image: the concatenation of every region's
// bytes in collection order, no gaps (spec §4.D "Full dump").
func Dump(c *Collection, w io.Writer) error {
	start := time.Now()
	defer func() { recordDump(time.Since(start)) }()

	for _, r := range c.Iter() {
		if _, err := w.Write(r.Bytes()); err != nil {
			return newErr(KindWriteMemory, "", err)
		}
	}
	return nil
}

// DumpDirty writes an incremental memory image, coalescing contiguous dirty
// pages into batches and seeking the writer past clean runs so unchanged
// pages occupy holes in the file (spec §4.D "Incremental dump"). hvBitmaps
// supplies one hypervisor-reported bitmap per region, in collection order;
// a page is dirty if either the hypervisor bitmap or the region's own
// monitor-owned bitmap reports it dirty.
//
// On success every region's monitor-owned bitmap is reset to clean. On
// failure, the hypervisor bitmaps are folded into the monitor bitmaps
// before the error is returned, so the next attempt still knows the pages
// are dirty.
func DumpDirty(c *Collection, w writerAt, hvBitmaps []HypervisorBitmap) error {
	start := time.Now()
	defer func() { recordDump(time.Since(start)) }()

	if err := dumpDirtyInner(c, w, hvBitmaps); err != nil {
		foldDirty(c, hvBitmaps)
		return err
	}
	for _, r := range c.Iter() {
		r.Dirty().Reset()
	}
	return nil
}

func dumpDirtyInner(c *Collection, w writerAt, hvBitmaps []HypervisorBitmap) error {
	pageSize := int64(PageSize())
	var writerOffset int64

	for i, r := range c.Iter() {
		var hv HypervisorBitmap
		if i < len(hvBitmaps) {
			hv = hvBitmaps[i]
		}
		pages := int((r.Length() + uint64(pageSize) - 1) / uint64(pageSize))

		batchStart := -1
		flush := func(end int) error {
			if batchStart < 0 {
				return nil
			}
			off := writerOffset + int64(batchStart)*pageSize
			if _, err := w.Seek(off, io.SeekStart); err != nil {
				return newErr(KindWriteMemory, "seek", err)
			}
			lo := int64(batchStart) * pageSize
			hi := int64(end) * pageSize
			if hi > int64(r.Length()) {
				hi = int64(r.Length())
			}
			if _, err := w.Write(r.Bytes()[lo:hi]); err != nil {
				return newErr(KindWriteMemory, "write batch", err)
			}
			batchStart = -1
			return nil
		}

		for p := 0; p < pages; p++ {
			d := hv.dirty(p) || r.Dirty().Dirty(p)
			if d {
				if batchStart < 0 {
					batchStart = p
				}
				continue
			}
			if err := flush(p); err != nil {
				return err
			}
		}
		if err := flush(pages); err != nil {
			return err
		}

		writerOffset += int64(r.Length())
	}
	return nil
}

// foldDirty ORs every hypervisor bitmap into its region's monitor-owned
// bitmap, so a failed dump doesn't lose track of pages the hypervisor
// already knows are dirty.
func foldDirty(c *Collection, hvBitmaps []HypervisorBitmap) {
	for i, r := range c.Iter() {
		if i >= len(hvBitmaps) {
			return
		}
		hv := hvBitmaps[i]
		pages := r.Dirty().Len()
		for p := 0; p < pages; p++ {
			if hv.dirty(p) {
				r.Dirty().Mark(p, 1)
			}
		}
	}
}

// Restore rebuilds regions from a dumped memory image in file_private mode
// (copy-on-write against the image file) and registers them with vm (spec
// §4.D "Restore").
func Restore(vm *VM, state MemoryState, imageFile *os.File, huge HugePages) error {
	regions, err := BuildRegions(state.Tuples(), ModeFilePrivate, imageFile, true, 0, huge)
	if err != nil {
		return err
	}
	return vm.Register(regions)
}

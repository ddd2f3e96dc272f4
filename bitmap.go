package guestmem

import "sync/atomic"

// Bitmap is a lock-free, word-level dirty-page bitmap. Each bit tracks one
// page. Reads and writes use atomic word operations so that concurrent
// mark/reset/query calls from different vCPU or device threads never race,
// without needing a mutex.
type Bitmap struct {
	words []uint64
	bits  int
}

// NewBitmap allocates a zeroed bitmap with exactly bits entries.
func NewBitmap(bits int) *Bitmap {
	return &Bitmap{
		words: make([]uint64, (bits+63)/64),
		bits:  bits,
	}
}

// Len returns the number of bits (pages) this bitmap tracks.
func (b *Bitmap) Len() int {
	if b == nil {
		return 0
	}
	return b.bits
}

// Mark sets bits [firstPage, firstPage+count) to dirty, clamped to the
// bitmap's range.
func (b *Bitmap) Mark(firstPage, count int) {
	if b == nil || count <= 0 {
		return
	}
	end := firstPage + count
	if end > b.bits {
		end = b.bits
	}
	for p := firstPage; p < end; p++ {
		if p < 0 {
			continue
		}
		atomic.OrUint64(&b.words[p/64], 1<<(uint(p)%64))
	}
}

// Dirty reports whether page index is marked dirty.
func (b *Bitmap) Dirty(page int) bool {
	if b == nil || page < 0 || page >= b.bits {
		return false
	}
	return atomic.LoadUint64(&b.words[page/64])&(1<<(uint(page)%64)) != 0
}

// Reset clears every bit.
func (b *Bitmap) Reset() {
	if b == nil {
		return
	}
	for i := range b.words {
		atomic.StoreUint64(&b.words[i], 0)
	}
}

// MergeFrom ORs every bit of other into b, page for page. Used to fold a
// hypervisor-reported bitmap into the monitor-owned one, either to merge
// sources during a dump or to preserve dirty state after a failed dump.
func (b *Bitmap) MergeFrom(other *Bitmap) {
	if b == nil || other == nil {
		return
	}
	n := len(b.words)
	if len(other.words) < n {
		n = len(other.words)
	}
	for i := 0; i < n; i++ {
		v := atomic.LoadUint64(&other.words[i])
		if v != 0 {
			atomic.OrUint64(&b.words[i], v)
		}
	}
}

package guestmem

// VolatileSlice is a typed handle over a byte range of mapped guest memory.
// It carries no guarantee of stability across concurrent guest writes: the
// guest, the hypervisor, and device threads may all be writing through the
// same bytes, so callers must not assume torn-free reads of anything wider
// than the platform's atomic word size (spec §5, "treat guest memory as
// adversarial").
type VolatileSlice struct {
	data []byte
}

// Bytes returns the raw bytes backing this slice. Callers reading
// guest-controlled structures out of it must re-validate on every access;
// the bytes may change between reads.
func (v VolatileSlice) Bytes() []byte { return v.data }

// Len returns the slice length in bytes.
func (v VolatileSlice) Len() int { return len(v.data) }

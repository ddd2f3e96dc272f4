package guestmem

import "unsafe"

// ptrOf returns the address of the first byte of mem. Callers only invoke
// this on regions, whose backing slice is always non-empty (BuildRegions
// rejects zero-length regions).
func ptrOf(mem []byte) unsafe.Pointer {
	return unsafe.Pointer(&mem[0])
}

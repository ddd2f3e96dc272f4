//go:build linux

package guestmem

// CreatePrivateMemory issues KVM_CREATE_GUEST_MEMFD against vm, returning a
// guest_memfd descriptor of the given size bound to that VM (spec §3,
// "private_memory_binding"). Real KVM rejects a plain memfd in the
// GUEST_MEMFD slot path: the fd must come from this ioctl, which sizes and
// seals it in-kernel, tied to vm's address space (original_source's
// vstate/guest_memfd.rs::create_guest_memfd). The returned fd is handed to
// bindPrivate, never to plain memfd_create.
func CreatePrivateMemory(vm *VM, size uint64) (fd int, err error) {
	spec := createGuestMemfd{Size: size}
	f, err := kvmCreateGuestMemfdIoctl(uintptr(vm.fd), &spec)
	if err != nil {
		return -1, newErr(KindMemfd, "KVM_CREATE_GUEST_MEMFD", err)
	}
	return f, nil
}

// BindPrivate attaches a private-memory-file binding (fd, offset) to r. Only
// legal before registration and at most once per region (invariant 6).
func BindPrivate(r *Region, fd int, offset int64) error {
	return r.bindPrivate(fd, offset)
}

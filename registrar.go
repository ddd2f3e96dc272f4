//go:build linux

package guestmem

import (
	"time"

	"golang.org/x/sys/unix"
)

// register builds a host memory-slot descriptor for each region in regions (in
// ascending slot_index order, assigned densely starting after any region
// already registered on vm) and hands it to the host interface (spec §4.C).
// It fails before issuing any host call if the resulting total would exceed
// the VM's slot capacity, so a second incremental Register call accounts
// for slots already claimed by earlier calls instead of reusing them.
//
// Registration is serialized by the caller holding vm's lock; register
// itself does not lock, since it is only ever invoked from VM methods that
// already hold it.
func (vm *VM) register(regions []*Region) error {
	base := vm.mem.Len()
	if base+len(regions) > vm.slotCapacity {
		return newErr(KindNotEnoughMemorySlots, "", nil)
	}

	registered := make([]*Region, 0, len(regions))
	rollback := func() {
		for _, r := range registered {
			deleteSlot := userspaceMemoryRegion2{Slot: uint32(r.slotIndex)}
			kvmSetUserMemoryRegion2Ioctl(uintptr(vm.fd), &deleteSlot)
			r.slotIndex = -1
		}
	}

	for i, r := range regions {
		slotIndex := base + i
		flags := uint32(0)
		if r.dirty != nil {
			flags |= memRegionLogDirty
		}
		var memfd uint32
		var memfdOff uint64
		if r.HasPrivateBinding() {
			flags |= memRegionPrivate
			fd, off := r.PrivateBinding()
			memfd = uint32(fd)
			memfdOff = uint64(off)
		}

		slot := userspaceMemoryRegion2{
			Slot:          uint32(slotIndex),
			Flags:         flags,
			GuestPhysAddr: r.guestPhysBase,
			MemorySize:    r.length,
			UserspaceAddr: uint64(uintptr(ptrOf(r.hostMem))),
			GuestMemfd:    memfd,
			GuestMemfdOff: memfdOff,
		}
		if err := kvmSetUserMemoryRegion2Ioctl(uintptr(vm.fd), &slot); err != nil {
			rollback()
			return newErr(KindSetUserMemoryRegion, "", err)
		}
		r.slotIndex = slotIndex
		registered = append(registered, r)
		recordRegisterOp()
	}

	// Private-memory marking must follow registration for every region
	// (spec §4.C: "Registration must precede marking").
	for _, r := range regions {
		if !r.HasPrivateBinding() {
			continue
		}
		attrs := memoryAttributes{
			Address:    r.guestPhysBase,
			Size:       r.length,
			Attributes: memAttributePrivate,
		}
		if err := kvmSetMemoryAttributesIoctl(uintptr(vm.fd), &attrs); err != nil {
			rollback()
			return newErr(KindSetMemoryAttributes, "", err)
		}
	}

	return nil
}

// createVMRetryDelays is the exponential micro-second backoff schedule for
// EINTR retries on VM creation (spec §4.C).
var createVMRetryDelays = []time.Duration{
	1 * time.Microsecond,
	2 * time.Microsecond,
	4 * time.Microsecond,
	8 * time.Microsecond,
}

// createVMWithRetry issues KVM_CREATE_VM, retrying up to 5 attempts total on
// EINTR with the exponential backoff schedule above. Any other error aborts
// immediately.
func createVMWithRetry(kvmFD uintptr, vmType uintptr) (uintptr, error) {
	attempt := 0
	for {
		vmFD, err := kvmCreateVMIoctl(kvmFD, vmType)
		if err == nil {
			return vmFD, nil
		}
		if err != unix.EINTR {
			return 0, newErr(KindCreateVM, "", err)
		}
		if attempt >= len(createVMRetryDelays) {
			return 0, newErr(KindCreateVMInterrupted, "exhausted retries", err)
		}
		time.Sleep(createVMRetryDelays[attempt])
		attempt++
	}
}

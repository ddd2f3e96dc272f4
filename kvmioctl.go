//go:build linux

package guestmem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Raw KVM ioctl numbers and wire structs. These mirror the layout gokvm's
// kvm-memory.go uses for KVM_SET_USER_MEMORY_REGION, generalized to the
// _REGION2 / guest_memfd variant described by Firecracker's
// vstate/guest_memfd.rs, which is what lets a region carry a private-memory
// binding.
const (
	kvmio = 0xAE

	kvmCreateVM             = 0x01
	kvmCheckExtension       = 0x03
	kvmSetUserMemoryRegion2 = 0x49
	kvmSetMemoryAttributes  = 0xd2
	kvmCreateGuestMemfd     = 0xd4
	kvmCapNrMemslots        = 10
)

// userspaceMemoryRegion2 mirrors kvm_userspace_memory_region2. Field order
// and sizes must match the kernel ABI exactly.
type userspaceMemoryRegion2 struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
	GuestMemfdOff uint64
	GuestMemfd    uint32
	Pad1          uint32
	Pad2          [14]uint64
}

const (
	memRegionLogDirty = 1 << 0
	memRegionReadonly = 1 << 1
	memRegionPrivate  = 1 << 2
)

type memoryAttributes struct {
	Address    uint64
	Size       uint64
	Attributes uint64
	Flags      uint64
}

const memAttributePrivate = 1 << 3

type createGuestMemfd struct {
	Size     uint64
	Flags    uint64
	Reserved [6]uint64
}

// ioctl issues a plain ioctl(fd, req, arg) via the raw syscall, returning an
// error for any negative return value as Linux ioctls do.
func ioctl(fd uintptr, req uintptr, arg uintptr) (uintptr, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, arg)
	if errno != 0 {
		return 0, errno
	}
	return r, nil
}

// iowNr builds an IOW-style ioctl request number: direction=write, the
// given type and number, and a payload of size bytes.
func iowNr(nr, size uintptr) uintptr {
	const iocWrite = 1
	return (iocWrite << 30) | (uintptr(kvmio) << 8) | nr | (size << 16)
}

// iowrNr builds an IOWR-style ioctl request number (both directions).
func iowrNr(nr, size uintptr) uintptr {
	const iocWrite = 1
	const iocRead = 2
	return ((iocWrite | iocRead) << 30) | (uintptr(kvmio) << 8) | nr | (size << 16)
}

// ioNr builds a plain IO-style ioctl request number (no payload).
func ioNr(nr uintptr) uintptr {
	return (uintptr(kvmio) << 8) | nr
}

func kvmCreateVMIoctl(kvmFD uintptr, vmType uintptr) (uintptr, error) {
	return ioctl(kvmFD, ioNr(kvmCreateVM), vmType)
}

func kvmCheckExtensionIoctl(fd uintptr, cap uintptr) (int, error) {
	r, err := ioctl(fd, ioNr(kvmCheckExtension), cap)
	return int(r), err
}

func kvmSetUserMemoryRegion2Ioctl(vmFD uintptr, region *userspaceMemoryRegion2) error {
	_, err := ioctl(vmFD, iowNr(kvmSetUserMemoryRegion2, unsafe.Sizeof(userspaceMemoryRegion2{})), uintptr(unsafe.Pointer(region)))
	return err
}

func kvmSetMemoryAttributesIoctl(vmFD uintptr, attrs *memoryAttributes) error {
	_, err := ioctl(vmFD, iowNr(kvmSetMemoryAttributes, unsafe.Sizeof(memoryAttributes{})), uintptr(unsafe.Pointer(attrs)))
	return err
}

func kvmCreateGuestMemfdIoctl(vmFD uintptr, spec *createGuestMemfd) (int, error) {
	r, err := ioctl(vmFD, iowrNr(kvmCreateGuestMemfd, unsafe.Sizeof(createGuestMemfd{})), uintptr(unsafe.Pointer(spec)))
	return int(r), err
}

//go:build linux

package guestmem

import (
	"os"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// kvmCapNrMemslotsCap is the KVM_CAP_NR_MEMSLOTS extension number probed to
// learn a VM's slot capacity.
const kvmCapNrMemslotsCap = kvmCapNrMemslots

// swProtectedVMType is KVM_X86_SW_PROTECTED_VM, selected when the caller
// intends to register guest_memfd-backed private regions.
const swProtectedVMType = 1

// Supported reports whether /dev/kvm is present and usable.
func Supported() (bool, error) {
	f, err := os.OpenFile("/dev/kvm", os.O_RDWR, 0)
	if err != nil {
		return false, nil
	}
	f.Close()
	return true, nil
}

// NewVM opens /dev/kvm, creates a VM (with bounded EINTR retry), and probes
// its memory-slot capacity.
func NewVM(opts VMOptions) (*VM, error) {
	start := time.Now()
	defer func() { recordVMCreate(time.Since(start)) }()

	path := opts.KVMDevicePath
	if path == "" {
		path = "/dev/kvm"
	}
	kvmFile, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		recordResourceError()
		return nil, newErr(KindCreateVM, "open /dev/kvm", err)
	}

	var vmType uintptr
	if opts.Private {
		vmType = swProtectedVMType
	}

	vmFD, err := createVMWithRetry(kvmFile.Fd(), vmType)
	if err != nil {
		kvmFile.Close()
		recordResourceError()
		return nil, err
	}

	slotCap, err := kvmCheckExtensionIoctl(vmFD, kvmCapNrMemslotsCap)
	if err != nil || slotCap <= 0 {
		slotCap = 32 // conservative floor matching legacy KVM builds
	}

	vm := &VM{
		kvmFile:      kvmFile,
		fd:           int(vmFD),
		slotCapacity: slotCap,
		mem:          NewCollection(),
	}
	runtime.SetFinalizer(vm, (*VM).finalize)
	return vm, nil
}

// Register builds host memory slots for regions and inserts them into the
// VM's collection, in the order given (spec §4.C). On success every region
// has a valid SlotIndex; on failure no region is left partially registered
// with the host: the collection is validated for overlap against both the
// existing collection and the other regions in this call before any ioctl
// is issued, so vm.mem.Insert below cannot fail once vm.register succeeds.
func (vm *VM) Register(regions []*Region) error {
	vm.closeMu.Lock()
	defer vm.closeMu.Unlock()
	if vm.closed {
		return ErrVMClosed
	}

	if err := vm.mem.CheckInsertable(regions); err != nil {
		return err
	}
	if err := vm.register(regions); err != nil {
		return err
	}
	for _, r := range regions {
		if err := vm.mem.Insert(r); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the VM's file descriptors and every region's mapping.
// Idempotent.
func (vm *VM) Close() error {
	if vm == nil {
		return nil
	}
	vm.closeMu.Lock()
	defer vm.closeMu.Unlock()
	if vm.closed {
		return nil
	}

	var firstErr error
	for _, r := range vm.mem.Iter() {
		if err := r.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := unix.Close(vm.fd); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := vm.kvmFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	vm.closed = true
	runtime.SetFinalizer(vm, nil)
	recordVMDestroy()
	return firstErr
}

func (vm *VM) finalize() {
	if vm == nil {
		return
	}
	if vm.closeMu.TryLock() {
		defer vm.closeMu.Unlock()
		if !vm.closed {
			unix.Close(vm.fd)
			vm.kvmFile.Close()
			vm.closed = true
		}
	}
}

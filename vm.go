package guestmem

import (
	"os"
	"sync"
)

// VMOptions configures VM creation.
type VMOptions struct {
	// KVMDevicePath overrides the default /dev/kvm path, mainly for tests.
	KVMDevicePath string
	// Private requests a VM type that supports guest_memfd-backed private
	// memory (KVM_X86_SW_PROTECTED_VM), selected only when the caller
	// intends to register at least one private region.
	Private bool
}

// VM ties together a guest memory Collection with the host virtualization
// interface's slot registrar. Only one Register call may be in flight on a
// VM at a time; registration is otherwise fully serialized by closeMu.
type VM struct {
	kvmFile *os.File
	fd      int

	slotCapacity int

	mem *Collection

	closeMu sync.Mutex
	closed  bool
}

// Memory returns the VM's guest memory collection.
func (vm *VM) Memory() *Collection { return vm.mem }

// SlotCapacity returns the number of memory slots the host interface
// reported as available.
func (vm *VM) SlotCapacity() int { return vm.slotCapacity }

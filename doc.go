// Package guestmem implements the guest memory plane of a lightweight
// microVM monitor: region mapping, an ordered guest-physical memory
// collection, KVM memory-slot registration, dirty-page tracking and
// snapshotting, a bounce-buffer adapter for misaligned I/O, and a
// userspace page-fault handler (see the pagefault subpackage).
//
// # Requirements
//
//   - Linux with /dev/kvm access
//   - KVM_CAP_USER_MEMORY2 and, for private memory, guest_memfd support
//
// # Basic Usage
//
// Check if KVM is supported:
//
//	supported, err := guestmem.Supported()
//	if err != nil || !supported {
//		log.Fatal("KVM not supported on this system")
//	}
//
// Create and manage a VM's guest memory:
//
//	vm, err := guestmem.NewVM(guestmem.VMOptions{})
//	if err != nil {
//		log.Fatal("failed to create VM:", err)
//	}
//	defer vm.Close()
//
//	regions, err := guestmem.BuildRegions(tuples, guestmem.ModeAnonymous, nil, true, 0, guestmem.HugeNone)
//	if err != nil {
//		log.Fatal("failed to build regions:", err)
//	}
//	if err := vm.Register(regions); err != nil {
//		log.Fatal("failed to register memory slots:", err)
//	}
//
// Reading and writing guest memory:
//
//	if err := vm.Memory().Write(data, guestAddr); err != nil {
//		log.Fatal("write failed:", err)
//	}
//
// # Error Handling
//
// All errors implement the standard Go error interface. Guest-memory
// specific errors are wrapped in Error values carrying a Kind.
//
// # Resource Management
//
// Regions and VMs must be explicitly released using Release/Close.
// Release is idempotent.
//
// # Platform Support
//
// Linux only. Other platforms return "not supported" errors.
package guestmem

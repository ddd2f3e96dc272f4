package guestmem

import (
	"sync/atomic"
	"time"
)

// Performance metrics for monitoring the guest memory plane.
var (
	vmCreateCount   uint64
	vmDestroyCount  uint64
	mapOperations   uint64
	unmapOperations uint64
	registerOps     uint64
	dumpOperations  uint64
	faultOperations uint64

	totalVMCreateTime uint64
	totalDumpTime     uint64

	resourceErrors uint64
)

// Metrics provides access to performance metrics.
type Metrics struct {
	VMCreated         uint64 `json:"vm_created"`
	VMDestroyed       uint64 `json:"vm_destroyed"`
	MapOperations     uint64 `json:"map_operations"`
	UnmapOperations   uint64 `json:"unmap_operations"`
	RegisterOps       uint64 `json:"register_operations"`
	DumpOperations    uint64 `json:"dump_operations"`
	FaultOperations   uint64 `json:"fault_operations"`
	AvgVMCreateTimeNs uint64 `json:"avg_vm_create_time_ns"`
	AvgDumpTimeNs     uint64 `json:"avg_dump_time_ns"`
	ResourceErrors    uint64 `json:"resource_errors"`
}

// GetMetrics returns current performance metrics.
func GetMetrics() Metrics {
	vmCreated := atomic.LoadUint64(&vmCreateCount)
	dumps := atomic.LoadUint64(&dumpOperations)

	var avgVMCreate, avgDump uint64
	if vmCreated > 0 {
		avgVMCreate = atomic.LoadUint64(&totalVMCreateTime) / vmCreated
	}
	if dumps > 0 {
		avgDump = atomic.LoadUint64(&totalDumpTime) / dumps
	}

	return Metrics{
		VMCreated:         vmCreated,
		VMDestroyed:       atomic.LoadUint64(&vmDestroyCount),
		MapOperations:     atomic.LoadUint64(&mapOperations),
		UnmapOperations:   atomic.LoadUint64(&unmapOperations),
		RegisterOps:       atomic.LoadUint64(&registerOps),
		DumpOperations:    dumps,
		FaultOperations:   atomic.LoadUint64(&faultOperations),
		AvgVMCreateTimeNs: avgVMCreate,
		AvgDumpTimeNs:     avgDump,
		ResourceErrors:    atomic.LoadUint64(&resourceErrors),
	}
}

// ResetMetrics clears all performance metrics.
func ResetMetrics() {
	atomic.StoreUint64(&vmCreateCount, 0)
	atomic.StoreUint64(&vmDestroyCount, 0)
	atomic.StoreUint64(&mapOperations, 0)
	atomic.StoreUint64(&unmapOperations, 0)
	atomic.StoreUint64(&registerOps, 0)
	atomic.StoreUint64(&dumpOperations, 0)
	atomic.StoreUint64(&faultOperations, 0)
	atomic.StoreUint64(&totalVMCreateTime, 0)
	atomic.StoreUint64(&totalDumpTime, 0)
	atomic.StoreUint64(&resourceErrors, 0)
}

func recordVMCreate(duration time.Duration) {
	atomic.AddUint64(&vmCreateCount, 1)
	atomic.AddUint64(&totalVMCreateTime, uint64(duration.Nanoseconds()))
}

func recordVMDestroy() {
	atomic.AddUint64(&vmDestroyCount, 1)
}

func recordRegisterOp() {
	atomic.AddUint64(&registerOps, 1)
}

func recordMapOperation() {
	atomic.AddUint64(&mapOperations, 1)
}

func recordUnmapOperation() {
	atomic.AddUint64(&unmapOperations, 1)
}

func recordDump(duration time.Duration) {
	atomic.AddUint64(&dumpOperations, 1)
	atomic.AddUint64(&totalDumpTime, uint64(duration.Nanoseconds()))
}

func recordFaultOp() {
	atomic.AddUint64(&faultOperations, 1)
}

// RecordFaultOperation increments the fault-operations counter. Exported so
// the pagefault package can call it without an unexported cross-package
// reference. In the real deployment (spec §6) pagefault runs as the
// separate cmd/pfhandler process, so this only reaches the VMM process's
// own GetMetrics when pagefault is linked into the same binary (as in
// tests); the out-of-process handler's fault counts are not visible here
// without a separate reporting channel (e.g. the handshake socket).
func RecordFaultOperation() {
	recordFaultOp()
}

func recordResourceError() {
	atomic.AddUint64(&resourceErrors, 1)
}

//go:build linux

package guestmem

import "golang.org/x/sys/unix"

// The MAP_HUGE_* shift encoding isn't always exported by every x/sys
// version; the log2-of-size-in-bits shifted into bits 26-31 is the stable
// kernel ABI (see include/uapi/linux/mman.h), so it's defined directly here
// rather than depending on a specific x/sys release carrying the constant.
const (
	mapHugeShift  = 26
	mapHugetlb2MB = 21 << mapHugeShift
	mapHugetlb1GB = 30 << mapHugeShift
)

func hugetlbFlag(h HugePages) (int, error) {
	switch h {
	case Huge2M:
		return unix.MAP_HUGETLB | mapHugetlb2MB, nil
	case Huge1G:
		return unix.MAP_HUGETLB | mapHugetlb1GB, nil
	default:
		return 0, fmtErr(KindInvalidHugepage, "unrecognized hugepage option %d", int(h))
	}
}

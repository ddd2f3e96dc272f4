//go:build linux

package pagefault

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// UFFD ioctl/event numbers, from linux/userfaultfd.h. Grounded on the
// conventions of the pack's userfaultfd-serving examples: _IOWR(0xAA, n,
// struct) request numbers encoded directly rather than depending on a cgo
// header.
const (
	uffdioAPI      = 0xc018aa3f // _IOWR(0xAA, 0x3F, struct uffdio_api), sizeof=24
	uffdioRegister = 0xc020aa00 // _IOWR(0xAA, 0x00, struct uffdio_register), sizeof=32
	uffdioCopy     = 0xc028aa03 // _IOWR(0xAA, 0x03, struct uffdio_copy), sizeof=40
	uffdioZero     = 0xc020aa04 // _IOWR(0xAA, 0x04, struct uffdio_zeropage), sizeof=32

	uffdApiVersion = 0xAA

	uffdRegisterModeMissing = 1 << 0

	uffdEventPagefault = 0x12
	uffdEventRemove    = 0x15

	uffdMsgSize = 32
)

type uffdioAPIMsg struct {
	api      uint64
	features uint64
	ioctls   uint64
}

type uffdioRange struct {
	start uint64
	len   uint64
}

type uffdioRegisterMsg struct {
	rng   uffdioRange
	mode  uint64
	ioctl uint64
}

type uffdioCopyMsg struct {
	dst  uint64
	src  uint64
	len  uint64
	mode uint64
	copy int64
}

type uffdioZeropageMsg struct {
	rng      uffdioRange
	mode     uint64
	zeropage int64
}

// realChannel drives an actual userfaultfd-style fault channel descriptor.
type realChannel struct {
	fd int
}

func (c *realChannel) Copy(dst, src, length uint64) error {
	cp := uffdioCopyMsg{dst: dst, src: src, len: length}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), uintptr(uffdioCopy), uintptr(unsafe.Pointer(&cp))); errno != 0 {
		return newErr(KindFaultChannel, "UFFDIO_COPY", errno)
	}
	return nil
}

func (c *realChannel) Zero(addr, length uint64) error {
	zp := uffdioZeropageMsg{rng: uffdioRange{start: addr, len: length}}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), uintptr(uffdioZero), uintptr(unsafe.Pointer(&zp))); errno != 0 {
		return newErr(KindFaultChannel, "UFFDIO_ZEROPAGE", errno)
	}
	return nil
}

func (c *realChannel) ReadEvents() ([]faultEvent, error) {
	pfd := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(pfd, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, newErr(KindFaultChannel, "poll", err)
		}
		break
	}

	buf := make([]byte, uffdMsgSize*16)
	n, err := unix.Read(c.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, nil
		}
		return nil, newErr(KindFaultChannel, "read", err)
	}

	var events []faultEvent
	for off := 0; off+uffdMsgSize <= n; off += uffdMsgSize {
		msg := buf[off : off+uffdMsgSize]
		switch msg[0] {
		case uffdEventPagefault:
			addr := *(*uint64)(unsafe.Pointer(&msg[16]))
			events = append(events, faultEvent{kind: eventPagefault, address: addr})
		case uffdEventRemove:
			start := *(*uint64)(unsafe.Pointer(&msg[8]))
			end := *(*uint64)(unsafe.Pointer(&msg[16]))
			events = append(events, faultEvent{kind: eventRemove, address: start, end: end})
		default:
			events = append(events, faultEvent{kind: eventUnknown})
		}
	}
	return events, nil
}

// OpenUserfaultfd creates a new userfaultfd descriptor and negotiates the
// API version.
func OpenUserfaultfd() (int, error) {
	fd, _, errno := unix.Syscall(unix.SYS_USERFAULTFD, unix.O_CLOEXEC, 0, 0)
	if errno != 0 {
		return -1, fmt.Errorf("userfaultfd: %w", errno)
	}

	api := uffdioAPIMsg{api: uffdApiVersion}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(uffdioAPI), uintptr(unsafe.Pointer(&api))); errno != 0 {
		unix.Close(int(fd))
		return -1, fmt.Errorf("UFFDIO_API: %w", errno)
	}
	return int(fd), nil
}

// RegisterRange enrolls [addr, addr+length) for missing-page notifications.
func RegisterRange(uffdFD int, addr, length uint64) error {
	reg := uffdioRegisterMsg{
		rng:  uffdioRange{start: addr, len: length},
		mode: uffdRegisterModeMissing,
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(uffdFD), uintptr(uffdioRegister), uintptr(unsafe.Pointer(&reg))); errno != 0 {
		return fmt.Errorf("UFFDIO_REGISTER: %w", errno)
	}
	return nil
}

// backingMmap holds the handler's own read-only mapping of the snapshot
// memory image.
type backingMmap struct {
	file *os.File
	data []byte
}

func (b *backingMmap) base() uint64 {
	if len(b.data) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b.data[0])))
}

func (b *backingMmap) Close() error {
	if b.data != nil {
		unix.Munmap(b.data)
	}
	return b.file.Close()
}

// NewHandler validates the handshake against the backing file, maps it
// read-only with hugepage advice, registers every region on the fault
// channel, and builds the handler's region/page-state tables (spec §4.F
// steps 3-4).
//
// The sum of region lengths must equal the backing file's size, or this
// fails before the event loop starts (spec §8 scenario 6).
func NewHandler(hs *Handshake, memoryFilePath string, cfg Config) (*Handler, error) {
	f, err := os.Open(memoryFilePath)
	if err != nil {
		return nil, fmt.Errorf("pagefault: open memory file: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pagefault: stat memory file: %w", err)
	}

	var total uint64
	for _, r := range hs.Regions {
		total += r.Size
	}
	if total != uint64(fi.Size()) {
		f.Close()
		return nil, fmtErr(KindSizeMismatch, "regions sum to %d, file is %d", total, fi.Size())
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pagefault: mmap memory file: %w", err)
	}
	unix.Madvise(data, unix.MADV_HUGEPAGE)
	backing := &backingMmap{file: f, data: data}

	for _, r := range hs.Regions {
		if err := RegisterRange(hs.FaultChannelFD, r.BaseHostVirtAddr, r.Size); err != nil {
			backing.Close()
			return nil, fmt.Errorf("pagefault: register region: %w", err)
		}
	}

	ch := &realChannel{fd: hs.FaultChannelFD}
	h, err := newHandler(ch, hs.Regions, backing.base(), cfg)
	if err != nil {
		backing.Close()
		return nil, err
	}
	h.backing = backing
	return h, nil
}

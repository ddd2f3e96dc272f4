package pagefault

import (
	"fmt"
	"io"
	"sync"

	"github.com/blacktop/go-microvm"
	"golang.org/x/sync/errgroup"
)

// PageState is the lifecycle state of one page within a region (spec §3,
// §4.F). Initial state on attach is Uninitialized.
type PageState uint8

const (
	Uninitialized PageState = iota
	FromFile
	Removed
	Anonymous
)

func (s PageState) String() string {
	switch s {
	case FromFile:
		return "FromFile"
	case Removed:
		return "Removed"
	case Anonymous:
		return "Anonymous"
	default:
		return "Uninitialized"
	}
}

// faultEventKind distinguishes the two recognized event kinds.
type faultEventKind uint8

const (
	eventPagefault faultEventKind = iota
	eventRemove
	eventUnknown
)

// faultEvent is one decoded message off the fault channel.
type faultEvent struct {
	kind    faultEventKind
	address uint64 // pagefault: fault address; remove: range start
	end     uint64 // remove: range end
}

// channel abstracts the host fault-channel operations the handler issues
// (UFFDIO_COPY / UFFDIO_ZEROPAGE in the real implementation), so the state
// machine can be exercised without a live userfaultfd.
type channel interface {
	Copy(dst, src, length uint64) error
	Zero(addr, length uint64) error
	ReadEvents() ([]faultEvent, error)
}

// region pairs a VMM-reported mapping with the handler's own view of the
// backing file mapping and a per-page state table.
type region struct {
	mapping  RegionMapping
	hostBase uint64 // base address in the VMM's address space (fault channel coordinates)
	fileBase uint64 // base address of the handler's own read-only file mapping
	pages    []PageState
}

// Handler serves page faults for one VM's memory, reading a backing file
// read-only and driving a fault channel.
type Handler struct {
	ch        channel
	faultSize uint64
	regions   []*region

	mu sync.Mutex // guards page-state transitions

	backing io.Closer // closes the handler's own backing-file mapping, if any
}

// Close releases any resources the handler owns (the backing-file
// mapping). The fault channel descriptor itself is owned by the caller.
func (h *Handler) Close() error {
	if h.backing == nil {
		return nil
	}
	return h.backing.Close()
}

// Config configures a new Handler.
type Config struct {
	FaultSize uint64 // chunk served per fault; must be a power of two (e.g. 4096 or 2<<20)
}

func newHandler(ch channel, regions []RegionMapping, fileBase uint64, cfg Config) (*Handler, error) {
	if cfg.FaultSize == 0 || cfg.FaultSize&(cfg.FaultSize-1) != 0 {
		return nil, fmt.Errorf("pagefault: fault_size must be a power of two, got %d", cfg.FaultSize)
	}

	h := &Handler{ch: ch, faultSize: cfg.FaultSize}
	for _, m := range regions {
		pageCount := (m.Size + cfg.FaultSize - 1) / cfg.FaultSize
		h.regions = append(h.regions, &region{
			mapping:  m,
			hostBase: m.BaseHostVirtAddr,
			fileBase: fileBase,
			pages:    make([]PageState, pageCount),
		})
	}
	return h, nil
}

// Run enters the event loop: block on the fault channel, dispatch each
// batch to a bounded pool of workers, and loop until a fatal error occurs.
// Every error returned is fatal, per spec §4.F failure policy.
//
// Events within a batch whose address ranges overlap (e.g. a Remove
// followed by a Pagefault on the same page) are serialized in arrival
// order, since processing them out of order could flip the final page
// state relative to spec §4.F's transition table (invariant 8) and the
// §5 single-threaded cooperative event loop this handler models. Within a
// batch, events touching disjoint ranges dispatch concurrently, bounded by
// workers; each batch completes before the next one is read.
func (h *Handler) Run(workers int) error {
	if workers <= 0 {
		workers = 4
	}

	for {
		events, err := h.ch.ReadEvents()
		if err != nil {
			return err
		}

		g := new(errgroup.Group)
		g.SetLimit(workers)
		for _, chain := range orderedChains(events, h.faultSize) {
			chain := chain
			g.Go(func() error {
				for _, ev := range chain {
					if err := h.handle(ev); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

// eventRange returns the byte range an event touches, so overlapping events
// can be detected and kept in arrival order.
func eventRange(ev faultEvent, faultSize uint64) (lo, hi uint64) {
	if ev.kind == eventRemove {
		return ev.address, ev.end
	}
	base := ev.address &^ (faultSize - 1)
	return base, base + faultSize
}

// orderedChains partitions a batch into groups of events with overlapping
// ranges, each group kept in arrival order; distinct groups touch disjoint
// ranges and may run concurrently.
func orderedChains(events []faultEvent, faultSize uint64) [][]faultEvent {
	n := len(events)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	ranges := make([][2]uint64, n)
	for i, ev := range events {
		lo, hi := eventRange(ev, faultSize)
		ranges[i] = [2]uint64{lo, hi}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if ranges[i][0] < ranges[j][1] && ranges[j][0] < ranges[i][1] {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]faultEvent)
	var order []int
	for i, ev := range events {
		root := find(i)
		if _, ok := groups[root]; !ok {
			order = append(order, root)
		}
		groups[root] = append(groups[root], ev)
	}

	chains := make([][]faultEvent, 0, len(order))
	for _, root := range order {
		chains = append(chains, groups[root])
	}
	return chains
}

func (h *Handler) handle(ev faultEvent) error {
	switch ev.kind {
	case eventPagefault:
		return h.handleFault(ev.address)
	case eventRemove:
		return h.handleRemove(ev.address, ev.end)
	default:
		return fmtErr(KindUnknownEvent, "kind %d", ev.kind)
	}
}

// findRegion locates the region containing a host virtual address.
func (h *Handler) findRegion(addr uint64) (*region, uint64, bool) {
	for _, r := range h.regions {
		if addr >= r.hostBase && addr < r.hostBase+r.mapping.Size {
			return r, addr - r.hostBase, true
		}
	}
	return nil, 0, false
}

// handleFault implements the page-fault branch of the state table (spec
// §4.F): Uninitialized/FromFile copy from the backing file and become
// FromFile; Removed/Anonymous zero and become Anonymous.
func (h *Handler) handleFault(addr uint64) error {
	pageBase := addr &^ (h.faultSize - 1)

	r, relOffset, ok := h.findRegion(pageBase)
	if !ok {
		return fmtErr(KindAddressOutsideRegions, "fault at 0x%x", addr)
	}
	pageIdx := relOffset / h.faultSize

	h.mu.Lock()
	state := r.pages[pageIdx]
	h.mu.Unlock()

	switch state {
	case Uninitialized, FromFile:
		srcOffset := r.mapping.Offset + relOffset
		src := r.fileBase + srcOffset
		if err := h.ch.Copy(pageBase, src, h.faultSize); err != nil {
			return fmt.Errorf("pagefault: copy at 0x%x: %w", pageBase, err)
		}
		h.mu.Lock()
		r.pages[pageIdx] = FromFile
		h.mu.Unlock()
	case Removed, Anonymous:
		if err := h.ch.Zero(pageBase, h.faultSize); err != nil {
			return fmt.Errorf("pagefault: zero at 0x%x: %w", pageBase, err)
		}
		h.mu.Lock()
		r.pages[pageIdx] = Anonymous
		h.mu.Unlock()
	}
	guestmem.RecordFaultOperation()
	return nil
}

// handleRemove transitions every page in [start, end) to Removed (models a
// balloon-device reclaim). No host fault-channel operation is issued. The
// range may span more than one region (e.g. two regions mapped at
// contiguous host virtual addresses); every region it touches is updated,
// not just the one containing start.
func (h *Handler) handleRemove(start, end uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	touched := false
	cursor := start
	for cursor < end {
		r, relStart, ok := h.findRegion(cursor)
		if !ok {
			break
		}
		touched = true

		first := relStart / h.faultSize
		regionEnd := r.hostBase + r.mapping.Size
		rangeEnd := end
		if regionEnd < rangeEnd {
			rangeEnd = regionEnd
		}
		last := (rangeEnd - r.hostBase + h.faultSize - 1) / h.faultSize
		if int(last) > len(r.pages) {
			last = uint64(len(r.pages))
		}
		for i := first; i < last; i++ {
			r.pages[i] = Removed
		}

		cursor = regionEnd
	}
	if !touched {
		return fmtErr(KindAddressOutsideRegions, "remove [0x%x,0x%x)", start, end)
	}
	guestmem.RecordFaultOperation()
	return nil
}

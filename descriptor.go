package guestmem

// MemoryStateEntry is one region's persisted description: its guest-physical
// base address and byte length. Field names are format-stable (spec §6).
type MemoryStateEntry struct {
	BaseAddress uint64 `json:"base_address"`
	Size        uint64 `json:"size"`
}

// MemoryState is the ordered memory-state descriptor persisted across
// snapshots. It must round-trip through serialization without reordering.
type MemoryState struct {
	Regions []MemoryStateEntry `json:"regions"`
}

// Describe builds the memory-state descriptor for a collection, in
// ascending guest-physical order.
func Describe(c *Collection) MemoryState {
	state := MemoryState{Regions: make([]MemoryStateEntry, 0, c.Len())}
	for _, r := range c.Iter() {
		state.Regions = append(state.Regions, MemoryStateEntry{
			BaseAddress: r.guestPhysBase,
			Size:        r.length,
		})
	}
	return state
}

// Tuples converts a memory-state descriptor back into the RegionTuple form
// BuildRegions consumes, preserving order.
func (s MemoryState) Tuples() []RegionTuple {
	tuples := make([]RegionTuple, len(s.Regions))
	for i, e := range s.Regions {
		tuples[i] = RegionTuple{GuestPhysBase: e.BaseAddress, Length: e.Size}
	}
	return tuples
}

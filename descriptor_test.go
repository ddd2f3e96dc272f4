package guestmem

import (
	"encoding/json"
	"reflect"
	"testing"
)

// TestDescriptorRoundTrip implements spec §8 end-to-end scenario 4.
func TestDescriptorRoundTrip(t *testing.T) {
	ps := uint64(PageSize())
	regions, err := BuildRegions([]RegionTuple{
		{GuestPhysBase: 0, Length: ps},
		{GuestPhysBase: 2 * ps, Length: ps},
	}, ModeAnonymous, nil, false, 0, HugeNone)
	if err != nil {
		t.Fatalf("BuildRegions: %v", err)
	}
	defer func() {
		for _, r := range regions {
			r.Release()
		}
	}()

	c := NewCollection()
	for _, r := range regions {
		if err := c.Insert(r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	state := Describe(c)
	body, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var roundTripped MemoryState
	if err := json.Unmarshal(body, &roundTripped); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !reflect.DeepEqual(state, roundTripped) {
		t.Errorf("round trip mismatch: %+v != %+v", state, roundTripped)
	}
}

func TestDescriptorFieldNames(t *testing.T) {
	body, err := json.Marshal(MemoryState{Regions: []MemoryStateEntry{{BaseAddress: 1, Size: 2}}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"regions":[{"base_address":1,"size":2}]}`
	if string(body) != want {
		t.Errorf("got %s, want %s", body, want)
	}
}

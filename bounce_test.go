package guestmem

import (
	"bytes"
	"io"
	"testing"
)

func TestBounceBufferPassthroughWhenInactive(t *testing.T) {
	src := bytes.NewReader([]byte("hello world"))
	bb := NewBounceBuffer(src, 0)

	buf := make([]byte, 11)
	n, err := bb.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello world" {
		t.Errorf("got %q", buf[:n])
	}
}

func TestBounceBufferOnDemand(t *testing.T) {
	src := bytes.NewReader([]byte("0123456789"))
	bb := NewBounceBuffer(src, 0)
	bb.Activate()

	buf := make([]byte, 10)
	n, err := bb.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 10 || string(buf) != "0123456789" {
		t.Errorf("got n=%d buf=%q", n, buf)
	}
}

func TestBounceBufferPersistentChaining(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte{0x42}, 25))
	bb := NewBounceBuffer(src, 10) // smaller than the request, forces chaining
	bb.Activate()

	buf := make([]byte, 25)
	n, err := bb.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 25 {
		t.Fatalf("got n=%d, want 25", n)
	}
	for i, b := range buf {
		if b != 0x42 {
			t.Fatalf("byte %d = %x, want 0x42", i, b)
		}
	}
}

func TestBounceBufferShortReadTerminates(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte{0x7}, 5))
	bb := NewBounceBuffer(src, 4)
	bb.Activate()

	buf := make([]byte, 20)
	n, err := bb.Read(buf)
	if n != 5 {
		t.Errorf("got n=%d, want 5 (short read from source)", n)
	}
	_ = err
}

func TestBounceBufferActivationIsOneWay(t *testing.T) {
	bb := NewBounceBuffer(bytes.NewReader(nil), 16)
	bb.Activate()
	bb.Activate() // idempotent, must not reallocate or panic
	if !bb.Active() {
		t.Error("expected Active() to stay true")
	}
}

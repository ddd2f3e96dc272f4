package guestmem

import (
	"errors"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := newErr(KindMmap, "detail", cause)
	if !errors.Is(e, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestErrorStringIncludesKindAndDetail(t *testing.T) {
	e := fmtErr(KindNotEnoughMemorySlots, "need %d, have %d", 10, 4)
	msg := e.Error()
	if msg == "" {
		t.Fatal("empty error string")
	}
	want := "guestmem: NotEnoughMemorySlots: need 10, have 4"
	if msg != want {
		t.Errorf("got %q, want %q", msg, want)
	}
}

func TestNilErrorIsSafe(t *testing.T) {
	var e *Error
	if e.Error() != "<nil>" {
		t.Errorf("got %q", e.Error())
	}
	if e.Unwrap() != nil {
		t.Error("expected nil Unwrap on nil receiver")
	}
}

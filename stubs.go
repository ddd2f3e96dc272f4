//go:build !linux

package guestmem

import "fmt"

// Supported returns false on non-Linux platforms.
func Supported() (bool, error) {
	return false, fmt.Errorf("guestmem: not supported on this platform")
}

// NewVM returns an error on non-Linux platforms.
func NewVM(opts VMOptions) (*VM, error) {
	return nil, fmt.Errorf("guestmem: not supported on this platform")
}

func (vm *VM) Register(regions []*Region) error {
	return fmt.Errorf("guestmem: not supported on this platform")
}

func (vm *VM) Close() error {
	return fmt.Errorf("guestmem: not supported on this platform")
}

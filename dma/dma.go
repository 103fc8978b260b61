// Package dma provides the byte arena device drivers carve descriptor rings,
// control blocks and frame buffers out of. Addresses handed out are bus
// (physical) addresses relative to the arena's base; blocks never move once
// allocated, so an address a device latches stays valid for the arena's
// lifetime.
package dma

import (
	"errors"

	"golang.org/x/sys/unix"
)

var (
	ErrOutOfMemory  = errors.New("dma arena exhausted")
	ErrBadAlignment = errors.New("alignment must be a power of two")
	ErrBadRange     = errors.New("address range outside dma arena")
)

// MinAlign is the minimum alignment for ring and control-block allocations.
const MinAlign = 16

type Arena struct {
	buf  []byte
	base uint64
	next int
}

// New maps an anonymous backing region of the given size and places it at
// bus address base. The mapping is page aligned, which satisfies every
// device alignment below page size.
func New(base uint64, size int) (*Arena, error) {
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}

	return &Arena{buf: buf, base: base}, nil
}

// Alloc returns the bus address of a zeroed block of n bytes aligned to
// align. Blocks are never freed individually; use Mark/Release to roll back
// a failed multi-step construction.
func (a *Arena) Alloc(n, align int) (uint64, error) {
	if align <= 0 || align&(align-1) != 0 {
		return 0, ErrBadAlignment
	}

	off := (a.next + align - 1) &^ (align - 1)
	if off+n > len(a.buf) {
		return 0, ErrOutOfMemory
	}

	for i := off; i < off+n; i++ {
		a.buf[i] = 0
	}

	a.next = off + n

	return a.base + uint64(off), nil
}

// Mark returns a rollback point for Release.
func (a *Arena) Mark() int {
	return a.next
}

// Release returns the arena to a previous Mark, discarding every allocation
// made after it.
func (a *Arena) Release(mark int) {
	if mark >= 0 && mark <= a.next {
		a.next = mark
	}
}

// Bytes returns the n bytes at bus address addr. The slice aliases the
// arena; it is the CPU-side view of memory the device is also walking.
func (a *Arena) Bytes(addr uint64, n int) ([]byte, error) {
	if addr < a.base || addr+uint64(n) > a.base+uint64(len(a.buf)) {
		return nil, ErrBadRange
	}

	off := int(addr - a.base)

	return a.buf[off : off+n : off+n], nil
}

// Base returns the bus address of the start of the arena.
func (a *Arena) Base() uint64 {
	return a.base
}

// Size returns the mapped size in bytes.
func (a *Arena) Size() int {
	return len(a.buf)
}

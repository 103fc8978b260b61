// Package idt builds the interrupt descriptor table and owns the mapping
// from vector numbers to handlers. Hardware interrupt lines are remapped
// away from the CPU-reserved vectors before the table is activated.
package idt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	NumVectors = 256

	// HWIRQBase is the vector hardware line 0 is remapped to. Lines 0-15
	// land on vectors 32-47, clear of the CPU exception range.
	HWIRQBase = 32

	// Flat kernel code segment selector.
	KernelCS = 0x08

	// Gate attribute flags: present, ring 0, 32-bit interrupt gate.
	FlagsIntrGate = 0x8e

	// Synthetic entry-stub region. Vector n's entry point is
	// StubBase + n*StubSize, mirroring an assembled stub table.
	StubBase = 0x1000
	StubSize = 16
)

var (
	ErrActivatedTwice = errors.New("idt already activated")
	ErrNotActivated   = errors.New("interrupt dispatched before idt activation")
)

// Frame is the CPU state snapshot a handler receives.
type Frame struct {
	Vector uint8
	Code   uint64
	IP     uint64
}

type Handler func(*Frame)

// gate is the 8-byte hardware descriptor layout.
type gate struct {
	OffsetLow  uint16
	Selector   uint16
	Zero       uint8
	Flags      uint8
	OffsetHigh uint16
}

// Loader installs the encoded table into the CPU (lidt). The hosted kernel
// plugs in a recorder; on bare metal this would wrap the instruction.
type Loader interface {
	LIDT(table []byte) error
}

type Table struct {
	gates     [NumVectors]gate
	handlers  [NumVectors]Handler
	activated bool

	// Spurious counts dispatches on vectors without a handler.
	Spurious uint64
}

func NewTable() *Table {
	return &Table{}
}

// InstallVector overwrites the slot for vector. Idempotent; later installs
// win, which is how the NIC line is patched in after bus discovery.
func (t *Table) InstallVector(vector uint8, h Handler, selector uint16, flags uint8) {
	offset := uint32(StubBase + int(vector)*StubSize)

	t.gates[vector] = gate{
		OffsetLow:  uint16(offset & 0xffff),
		Selector:   selector,
		Zero:       0,
		Flags:      flags,
		OffsetHigh: uint16(offset >> 16),
	}
	t.handlers[vector] = h
}

// Bytes encodes the table in the layout the CPU walks.
func (t *Table) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, t.gates); err != nil {
		return []byte{}, err
	}

	return buf.Bytes(), nil
}

// Activate loads the table. Must be called exactly once, after all
// statically known vectors are installed and before interrupts are enabled.
func (t *Table) Activate(l Loader) error {
	if t.activated {
		return ErrActivatedTwice
	}

	b, err := t.Bytes()
	if err != nil {
		return err
	}

	if err := l.LIDT(b); err != nil {
		return err
	}

	t.activated = true

	return nil
}

// Dispatch delivers a frame to the handler installed for its vector.
// Before activation no handler is defined and any interrupt is fatal.
func (t *Table) Dispatch(f *Frame) error {
	if !t.activated {
		return fmt.Errorf("%w: vector %d", ErrNotActivated, f.Vector)
	}

	h := t.handlers[f.Vector]
	if h == nil {
		t.Spurious++

		return nil
	}

	h(f)

	return nil
}

// Activated reports whether the table has been loaded.
func (t *Table) Activated() bool {
	return t.activated
}

package iobus

import "errors"

var ErrPortConflict = errors.New("port range already claimed by another device")

// PortIO is the x86 port-mapped I/O contract the drivers program devices
// through. Reads of unclaimed ports float high (all-ones) and writes to them
// are dropped, so probe loops can stay linear.
type PortIO interface {
	In8(port uint16) uint8
	Out8(port uint16, v uint8)
	In16(port uint16) uint16
	Out16(port uint16, v uint16)
	In32(port uint16) uint32
	Out32(port uint16, v uint32)
}

// MMIO reaches a device through a mapped address range. Accesses are issued
// in program order; the address-select/data sequences built on top still need
// an IntrGate because the pair is not atomic against interrupt handlers.
type MMIO interface {
	Read16(addr uint64) uint16
	Write16(addr uint64, v uint16)
	Read32(addr uint64) uint32
	Write32(addr uint64, v uint32)
}

// IntrGate masks hardware interrupts for the duration of a two-phase
// register sequence. Disable returns the restore func for the prior state;
// callers must run it on every exit path.
type IntrGate interface {
	Disable() (restore func())
}

// Device describes the register window a device claims on the bus.
// This is the emulation-side contract: pcnetsim and the tests implement it.
type Device interface {
	Read(port uint64, data []byte) error
	Write(port uint64, data []byte) error
	IOPort() uint64
	Size() uint64
}

package pci

import "github.com/bobuhiro11/gokernel/iobus"

// Configuration Space Access Mechanism #1
//
// refs
// https://wiki.osdev.org/PCI
// see pci_conf1_read in linux/arch/x86/pci/direct.c for more detail.

const (
	ConfAddrPort = 0xcf8
	ConfDataPort = 0xcfc

	// Config space register offsets.
	RegVendorID      = 0x00
	RegDeviceID      = 0x02
	RegCommand       = 0x04
	RegRevisionID    = 0x08
	RegProgIF        = 0x09
	RegSubclass      = 0x0a
	RegClass         = 0x0b
	RegHeaderType    = 0x0e
	RegBAR0          = 0x10
	RegInterruptLine = 0x3c

	// Command register bits.
	CommandIO     = 0x1
	CommandMemory = 0x2
	CommandMaster = 0x4

	// VendorIDAbsent is what a read of a non-responding function returns.
	VendorIDAbsent = 0xffff

	headerTypeMultiFunc = 0x80
)

type address uint32

func newAddress(bus, slot, fn, reg uint32) address {
	return address(1<<31 | bus<<16 | slot<<11 | fn<<8 | reg&0xfc)
}

func (a address) getRegisterOffset() uint32 {
	return uint32(a) & 0xfc
}

func (a address) getFunctionNumber() uint32 {
	return (uint32(a) >> 8) & 0x7
}

func (a address) getDeviceNumber() uint32 {
	return (uint32(a) >> 11) & 0x1f
}

func (a address) getBusNumber() uint32 {
	return (uint32(a) >> 16) & 0xff
}

func (a address) isEnable() bool {
	return ((uint32(a) >> 31) & 0x1) == 0x1
}

// Bus reads and writes configuration space through the address/data port
// pair.
type Bus struct {
	io iobus.PortIO
}

func NewBus(io iobus.PortIO) *Bus {
	return &Bus{io: io}
}

// ReadConfig32 reads the aligned 32-bit register at reg.
func (b *Bus) ReadConfig32(bus, slot, fn uint8, reg uint8) uint32 {
	b.io.Out32(ConfAddrPort, uint32(newAddress(uint32(bus), uint32(slot), uint32(fn), uint32(reg))))

	return b.io.In32(ConfDataPort)
}

// WriteConfig32 writes the aligned 32-bit register at reg.
func (b *Bus) WriteConfig32(bus, slot, fn uint8, reg uint8, v uint32) {
	b.io.Out32(ConfAddrPort, uint32(newAddress(uint32(bus), uint32(slot), uint32(fn), uint32(reg))))
	b.io.Out32(ConfDataPort, v)
}

// ReadConfig16 reads a 16-bit register. The data port window is 4 bytes
// wide; the low address bits select the half-word.
func (b *Bus) ReadConfig16(bus, slot, fn uint8, reg uint8) uint16 {
	b.io.Out32(ConfAddrPort, uint32(newAddress(uint32(bus), uint32(slot), uint32(fn), uint32(reg))))

	return b.io.In16(ConfDataPort + uint16(reg&0x2))
}

// WriteConfig16 writes a 16-bit register.
func (b *Bus) WriteConfig16(bus, slot, fn uint8, reg uint8, v uint16) {
	b.io.Out32(ConfAddrPort, uint32(newAddress(uint32(bus), uint32(slot), uint32(fn), uint32(reg))))
	b.io.Out16(ConfDataPort+uint16(reg&0x2), v)
}

// ReadConfig8 reads a single byte of config space.
func (b *Bus) ReadConfig8(bus, slot, fn uint8, reg uint8) uint8 {
	v := b.ReadConfig32(bus, slot, fn, reg&0xfc)

	return uint8(v >> ((reg & 0x3) * 8))
}

package pcnetsim

import (
	"bytes"
	"encoding/binary"

	"github.com/bobuhiro11/gokernel/pci"
)

// Header is the type-0 configuration header a simulated function answers
// probes with. BAR sizing follows the all-ones convention: a write of
// 0xffffffff latches the size mask until the next write.
type Header struct {
	VendorID                uint16
	DeviceID                uint16
	Command                 uint16
	Status                  uint16
	RevisionID              uint8
	ClassCode               [3]uint8 // prog IF, subclass, class
	CacheLineSize           uint8
	LatencyTimer            uint8
	HeaderType              uint8
	BIST                    uint8
	BAR                     [6]uint32
	CardbusCISPointer       uint32
	SubsystemVendorID       uint16
	SubsystemID             uint16
	ExpansionROMBaseAddress uint32
	CapabilitiesPointer     uint8
	Reserved                [7]uint8
	InterruptLine           uint8
	InterruptPin            uint8
	MinGnt                  uint8
	MaxLat                  uint8
}

func (h *Header) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return []byte{}, err
	}

	return buf.Bytes(), nil
}

// Function pairs a header with the decoded sizes of its BARs.
type Function struct {
	Hdr     Header
	BARSize [6]uint32

	// sizing marks BARs currently latched to their size mask.
	sizing [6]bool
}

// ConfSpace emulates configuration access mechanism #1: the 0xcf8 address
// register plus the 0xcfc data window. Functions live on bus 0, keyed by
// (slot, fn).
type ConfSpace struct {
	addr  uint32
	funcs map[uint16]*Function
}

func NewConfSpace() *ConfSpace {
	return &ConfSpace{funcs: make(map[uint16]*Function)}
}

// AddFunction places f at (slot, fn) on bus 0.
func (c *ConfSpace) AddFunction(slot, fn uint8, f *Function) {
	c.funcs[uint16(slot)<<3|uint16(fn)] = f
}

func (c *ConfSpace) current() *Function {
	if (c.addr>>31)&0x1 != 0x1 {
		return nil
	}

	if (c.addr>>16)&0xff != 0 { // bus
		return nil
	}

	slot := uint16((c.addr >> 11) & 0x1f)
	fn := uint16((c.addr >> 8) & 0x7)

	return c.funcs[slot<<3|fn]
}

func (c *ConfSpace) Read(port uint64, data []byte) error {
	if port < pci.ConfDataPort {
		// Address register readback.
		copy(data, pci.NumToBytes(c.addr)[port-pci.ConfAddrPort:])

		return nil
	}

	f := c.current()
	if f == nil {
		// Absent function: the bus floats high.
		for i := range data {
			data[i] = 0xff
		}

		return nil
	}

	offset := int(c.addr&0xfc) + int(port-pci.ConfDataPort)

	b, err := f.Hdr.Bytes()
	if err != nil {
		return err
	}

	if offset+len(data) > len(b) {
		for i := range data {
			data[i] = 0
		}

		return nil
	}

	copy(data, b[offset:offset+len(data)])

	return nil
}

func (c *ConfSpace) Write(port uint64, data []byte) error {
	if port < pci.ConfDataPort {
		if len(data) == 4 {
			c.addr = uint32(pci.BytesToNum(data))
		}

		return nil
	}

	f := c.current()
	if f == nil {
		return nil
	}

	offset := int(c.addr&0xfc) + int(port-pci.ConfDataPort)
	v := uint32(pci.BytesToNum(data))

	switch {
	case offset == pci.RegCommand && len(data) >= 2:
		f.Hdr.Command = uint16(v)
	case offset >= pci.RegBAR0 && offset < pci.RegBAR0+24 && len(data) == 4:
		i := (offset - pci.RegBAR0) / 4
		c.writeBAR(f, i, v)
	default:
	}

	return nil
}

// writeBAR implements the size-probe convention on top of plain assignment.
func (c *ConfSpace) writeBAR(f *Function, i int, v uint32) {
	if f.BARSize[i] == 0 {
		// Unimplemented BAR: hardwired to zero.
		f.Hdr.BAR[i] = 0

		return
	}

	typeBits := f.Hdr.BAR[i]
	if f.sizing[i] {
		typeBits = f.Hdr.BAR[i] & ^pci.SizeToBits(f.BARSize[i])
	}

	if f.Hdr.BAR[i]&0x1 == 0x1 {
		typeBits &= 0x3
	} else {
		typeBits &= 0xf
	}

	if v == 0xffffffff {
		f.Hdr.BAR[i] = pci.SizeToBits(f.BARSize[i]) | typeBits
		f.sizing[i] = true

		return
	}

	f.Hdr.BAR[i] = v&pci.SizeToBits(f.BARSize[i]) | typeBits
	f.sizing[i] = false
}

func (c *ConfSpace) IOPort() uint64 {
	return pci.ConfAddrPort
}

func (c *ConfSpace) Size() uint64 {
	return 8 // 0xcf8-0xcff: address register + data window
}

package pcnet

import (
	"errors"

	"github.com/bobuhiro11/gokernel/iobus"
	"github.com/bobuhiro11/gokernel/pci"
)

var ErrNoSuitableBAR = errors.New("no usable BAR for register access")

// TransportKind selects how the controller's register window is reached.
type TransportKind int

const (
	TransportAuto TransportKind = iota
	TransportPIO
	TransportMMIO
)

// mmioMinSize gates acceptance of a memory BAR for the MMIO transport.
const mmioMinSize = DWIOWindow

// transport is the uniform register contract every layer above runs on.
// An indexed access is a two-phase select/data sequence; the RAP/data pair
// is not atomic, so each op masks interrupts for its duration.
type transport interface {
	ReadCSR(idx uint16) uint16
	WriteCSR(idx uint16, v uint16)
	ReadBCR(idx uint16) uint16
	WriteBCR(idx uint16, v uint16)
	Reset()
	ReadMAC() [6]byte
	Kind() TransportKind
}

// pioTransport reaches the word I/O layout through two 16-bit ports.
type pioTransport struct {
	io   iobus.PortIO
	base uint16
	gate iobus.IntrGate
}

func (t *pioTransport) indexed(data uint16, idx uint16, write bool, v uint16) uint16 {
	restore := t.gate.Disable()
	defer restore()

	t.io.Out16(t.base+wioRAP, idx)

	if write {
		t.io.Out16(t.base+data, v)

		return v
	}

	return t.io.In16(t.base + data)
}

func (t *pioTransport) ReadCSR(idx uint16) uint16 {
	return t.indexed(wioRDP, idx, false, 0)
}

func (t *pioTransport) WriteCSR(idx uint16, v uint16) {
	t.indexed(wioRDP, idx, true, v)
}

func (t *pioTransport) ReadBCR(idx uint16) uint16 {
	return t.indexed(wioBDP, idx, false, 0)
}

func (t *pioTransport) WriteBCR(idx uint16, v uint16) {
	t.indexed(wioBDP, idx, true, v)
}

func (t *pioTransport) Reset() {
	// Reading the reset location triggers the reset.
	_ = t.io.In16(t.base + wioReset)
}

func (t *pioTransport) ReadMAC() [6]byte {
	var mac [6]byte

	for i := range mac {
		mac[i] = t.io.In8(t.base + wioAPROM + uint16(i))
	}

	return mac
}

func (t *pioTransport) Kind() TransportKind {
	return TransportPIO
}

// mmioTransport reaches the double-word layout through a mapped BAR. The
// MMIO contract issues accesses in program order, which provides the
// write/read barriers between the select and data phases.
type mmioTransport struct {
	mem  iobus.MMIO
	base uint64
	gate iobus.IntrGate
}

func (t *mmioTransport) indexed(data uint64, idx uint16, write bool, v uint16) uint16 {
	restore := t.gate.Disable()
	defer restore()

	t.mem.Write32(t.base+dwioRAP, uint32(idx))

	if write {
		t.mem.Write32(t.base+data, uint32(v))

		return v
	}

	return uint16(t.mem.Read32(t.base + data))
}

func (t *mmioTransport) ReadCSR(idx uint16) uint16 {
	return t.indexed(dwioRDP, idx, false, 0)
}

func (t *mmioTransport) WriteCSR(idx uint16, v uint16) {
	t.indexed(dwioRDP, idx, true, v)
}

func (t *mmioTransport) ReadBCR(idx uint16) uint16 {
	return t.indexed(dwioBDP, idx, false, 0)
}

func (t *mmioTransport) WriteBCR(idx uint16, v uint16) {
	t.indexed(dwioBDP, idx, true, v)
}

func (t *mmioTransport) Reset() {
	_ = t.mem.Read32(t.base + dwioReset)
}

func (t *mmioTransport) ReadMAC() [6]byte {
	var mac [6]byte

	lo := t.mem.Read32(t.base + dwioAPROM)
	hi := t.mem.Read32(t.base + dwioAPROM + 4)

	for i := 0; i < 4; i++ {
		mac[i] = byte(lo >> (8 * i))
	}

	mac[4] = byte(hi)
	mac[5] = byte(hi >> 8)

	return mac
}

func (t *mmioTransport) Kind() TransportKind {
	return TransportMMIO
}

// selectTransport picks the register transport for a probed function. An
// explicit override wins; otherwise a large-enough memory BAR is preferred
// when a mapping is available, falling back to port I/O.
func selectTransport(bars []pci.BARInfo, io iobus.PortIO, mem iobus.MMIO,
	gate iobus.IntrGate, kind TransportKind,
) (transport, error) {
	var ioBAR, memBAR *pci.BARInfo

	for i := range bars {
		b := &bars[i]
		if b.IsMemory && memBAR == nil && b.Size >= mmioMinSize {
			memBAR = b
		}

		if !b.IsMemory && ioBAR == nil {
			ioBAR = b
		}
	}

	pio := func() (transport, error) {
		if ioBAR == nil || io == nil {
			return nil, ErrNoSuitableBAR
		}

		return &pioTransport{io: io, base: uint16(ioBAR.Base), gate: gate}, nil
	}

	mmio := func() (transport, error) {
		if memBAR == nil || mem == nil {
			return nil, ErrNoSuitableBAR
		}

		return &mmioTransport{mem: mem, base: memBAR.Base, gate: gate}, nil
	}

	switch kind {
	case TransportPIO:
		return pio()
	case TransportMMIO:
		return mmio()
	default:
	}

	if t, err := mmio(); err == nil {
		return t, nil
	}

	// Degraded configuration, not an error: fall back to port I/O.
	return pio()
}

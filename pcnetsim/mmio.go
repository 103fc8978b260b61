package pcnetsim

const (
	dwioRDP   = 0x10
	dwioRAP   = 0x14
	dwioReset = 0x18
	dwioBDP   = 0x1c
)

// MMIOAdapter exposes the controller's register file through the
// double-word layout: same CSR/BCR array, 32-bit accesses, reset moved to
// offset 0x18. It implements iobus.MMIO for a memory BAR at Base.
type MMIOAdapter struct {
	C    *Controller
	Base uint64
}

func (m *MMIOAdapter) Read32(addr uint64) uint32 {
	off := addr - m.Base

	switch {
	case off < 0x10:
		var v uint32
		for i := 0; i < 4; i++ {
			v |= uint32(m.C.aprom[int(off)+i]) << (8 * i)
		}

		return v
	case off == dwioRDP:
		return uint32(m.C.csr[m.C.rap&0x7f])
	case off == dwioRAP:
		return uint32(m.C.rap)
	case off == dwioReset:
		m.C.reset()

		return 0
	case off == dwioBDP:
		return uint32(m.C.bcr[m.C.rap&0x7f])
	}

	return 0
}

func (m *MMIOAdapter) Write32(addr uint64, v uint32) {
	off := addr - m.Base

	switch off {
	case dwioRDP:
		m.C.writeCSR(m.C.rap&0x7f, uint16(v))
	case dwioRAP:
		m.C.rap = uint16(v)
	case dwioBDP:
		m.C.writeBCR(m.C.rap&0x7f, uint16(v))
	}
}

func (m *MMIOAdapter) Read16(addr uint64) uint16 {
	return uint16(m.Read32(addr))
}

func (m *MMIOAdapter) Write16(addr uint64, v uint16) {
	m.Write32(addr, uint32(v))
}

package pci

// Function identifies one responding PCI function. Immutable after the scan
// records it; BAR decode derives from the raw values on demand.
type Function struct {
	Bus  uint8
	Slot uint8
	Fn   uint8

	VendorID uint16
	DeviceID uint16

	Class    uint8
	Subclass uint8
	ProgIF   uint8
	Revision uint8

	HeaderType    uint8
	InterruptLine uint8

	BAR [6]uint32
}

// Enumerator walks bus/device/function space and owns the discovery list.
type Enumerator struct {
	bus   *Bus
	funcs []*Function

	// Scanned counts probed (bus, slot, fn) coordinates, Found the
	// functions that responded.
	Scanned int
	Found   int
}

func NewEnumerator(bus *Bus) *Enumerator {
	return &Enumerator{bus: bus}
}

func (e *Enumerator) readFunction(bus, slot, fn uint8) *Function {
	e.Scanned++

	idReg := e.bus.ReadConfig32(bus, slot, fn, RegVendorID)
	if uint16(idReg) == VendorIDAbsent {
		return nil
	}

	f := &Function{
		Bus:      bus,
		Slot:     slot,
		Fn:       fn,
		VendorID: uint16(idReg),
		DeviceID: uint16(idReg >> 16),
	}

	// Revision, prog IF, subclass and class share one dword.
	classReg := e.bus.ReadConfig32(bus, slot, fn, RegRevisionID)
	f.Revision = uint8(classReg)
	f.ProgIF = uint8(classReg >> 8)
	f.Subclass = uint8(classReg >> 16)
	f.Class = uint8(classReg >> 24)

	f.HeaderType = e.bus.ReadConfig8(bus, slot, fn, RegHeaderType)
	f.InterruptLine = e.bus.ReadConfig8(bus, slot, fn, RegInterruptLine)

	for i := 0; i < 6; i++ {
		f.BAR[i] = e.bus.ReadConfig32(bus, slot, fn, uint8(RegBAR0+4*i))
	}

	e.funcs = append(e.funcs, f)
	e.Found++

	return f
}

// Probe scans every (bus, slot) coordinate. An absent function 0 skips the
// whole slot; a function 0 with the multi-function bit set has its siblings
// probed, each independently checked for the absent sentinel.
func (e *Enumerator) Probe() {
	for bus := 0; bus < 256; bus++ {
		for slot := 0; slot < 32; slot++ {
			f0 := e.readFunction(uint8(bus), uint8(slot), 0)
			if f0 == nil {
				continue
			}

			if f0.HeaderType&headerTypeMultiFunc == 0 {
				continue
			}

			for fn := 1; fn < 8; fn++ {
				e.readFunction(uint8(bus), uint8(slot), uint8(fn))
			}
		}
	}
}

// Functions returns the discovery list in scan order.
func (e *Enumerator) Functions() []*Function {
	return e.funcs
}

// LookupByIDs returns the first function matching (vendor, device), or nil.
func (e *Enumerator) LookupByIDs(vendor, device uint16) *Function {
	for _, f := range e.funcs {
		if f.VendorID == vendor && f.DeviceID == device {
			return f
		}
	}

	return nil
}

// LookupByClass returns the first function matching (class, subclass), or nil.
func (e *Enumerator) LookupByClass(class, subclass uint8) *Function {
	for _, f := range e.funcs {
		if f.Class == class && f.Subclass == subclass {
			return f
		}
	}

	return nil
}

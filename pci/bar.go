package pci

import "errors"

var ErrBusMasterNotSet = errors.New("bus-master enable did not stick")

const (
	barIOSpace    = 0x1
	barTypeMask   = 0x6
	barType64     = 0x4
	barPrefetch   = 0x8
	barMemMask    = 0xfffffff0
	barIOMask     = 0xfffffffc
	barSizeSenses = 0xffffffff
)

// BARInfo is the decoded geometry of one base address register. A 64-bit
// memory BAR spans two raw slots and produces a single BARInfo.
type BARInfo struct {
	Index        int
	IsMemory     bool
	Is64Bit      bool
	Prefetchable bool
	Base         uint64
	Size         uint64
}

// SizeToBits converts a decoded region size to the mask a device returns
// from its BAR after an all-ones write.
func SizeToBits(size uint32) uint32 {
	return ^(size - 1)
}

// BitsToSize is the inverse of SizeToBits.
func BitsToSize(bits uint32) uint32 {
	return ^bits + 1
}

// sizeBAR probes the size of the BAR at reg with the all-ones write/read-back
// technique, restoring the original value afterward.
func (e *Enumerator) sizeBAR(f *Function, reg uint8, mask uint32) uint32 {
	orig := e.bus.ReadConfig32(f.Bus, f.Slot, f.Fn, reg)
	e.bus.WriteConfig32(f.Bus, f.Slot, f.Fn, reg, barSizeSenses)
	probed := e.bus.ReadConfig32(f.Bus, f.Slot, f.Fn, reg)
	e.bus.WriteConfig32(f.Bus, f.Slot, f.Fn, reg, orig)

	probed &= mask
	if probed == 0 {
		return 0
	}

	return BitsToSize(probed)
}

// ParseBARs decodes all six BARs of f. Unimplemented BARs (size zero) are
// omitted. The raw values in the record are refreshed from config space
// first, so firmware or driver assignments made after the scan are seen.
func (e *Enumerator) ParseBARs(f *Function) []BARInfo {
	var infos []BARInfo

	for i := 0; i < 6; i++ {
		reg := uint8(RegBAR0 + 4*i)
		raw := e.bus.ReadConfig32(f.Bus, f.Slot, f.Fn, reg)
		f.BAR[i] = raw

		if raw&barIOSpace != 0 {
			size := e.sizeBAR(f, reg, barIOMask)
			if size == 0 {
				continue
			}

			infos = append(infos, BARInfo{
				Index:    i,
				IsMemory: false,
				Base:     uint64(raw & barIOMask),
				Size:     uint64(size),
			})

			continue
		}

		info := BARInfo{
			Index:        i,
			IsMemory:     true,
			Is64Bit:      raw&barTypeMask == barType64,
			Prefetchable: raw&barPrefetch != 0,
			Base:         uint64(raw & barMemMask),
		}

		size := e.sizeBAR(f, reg, barMemMask)
		if info.Is64Bit && i < 5 {
			hiReg := uint8(RegBAR0 + 4*(i+1))
			hi := e.bus.ReadConfig32(f.Bus, f.Slot, f.Fn, hiReg)
			f.BAR[i+1] = hi
			info.Base |= uint64(hi) << 32

			// Consume the upper half slot.
			i++
		}

		if size == 0 {
			continue
		}

		info.Size = uint64(size)
		infos = append(infos, info)
	}

	return infos
}

// EnableBusMastering turns on I/O space, memory space and bus-master decode
// in the function's command register and verifies the write stuck.
func (e *Enumerator) EnableBusMastering(f *Function) error {
	cmd := e.bus.ReadConfig16(f.Bus, f.Slot, f.Fn, RegCommand)
	cmd |= CommandIO | CommandMemory | CommandMaster
	e.bus.WriteConfig16(f.Bus, f.Slot, f.Fn, RegCommand, cmd)

	got := e.bus.ReadConfig16(f.Bus, f.Slot, f.Fn, RegCommand)
	if got&CommandMaster == 0 {
		return ErrBusMasterNotSet
	}

	return nil
}

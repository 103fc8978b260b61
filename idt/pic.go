package idt

import "github.com/bobuhiro11/gokernel/iobus"

// 8259A programmable interrupt controller.
//
// The power-on vector offsets collide with CPU exceptions, so both chips are
// reprogrammed with a fixed four-command handshake. The chips need a settling
// delay between commands; the traditional write to the POST diagnostic port
// provides it.
const (
	picMasterCmd  = 0x20
	picMasterData = 0x21
	picSlaveCmd   = 0xa0
	picSlaveData  = 0xa1

	ioWaitPort = 0x80

	icw1Init = 0x10 // required for ICW1
	icw1IC4  = 0x01 // ICW4 follows
	icw4Mode = 0x01 // 8086/88 mode

	icw3MasterWiring = 0x04 // slave chained on line 2
	icw3SlaveWiring  = 0x02 // slave identity

	// MasterOffset and SlaveOffset are the remapped vector bases:
	// lines 0-7 on vectors 32-39, lines 8-15 on vectors 40-47.
	MasterOffset = HWIRQBase
	SlaveOffset  = HWIRQBase + 8
)

// RemapPIC walks both controller chips through the initialization handshake
// and restores the interrupt masks that were programmed before the remap.
func RemapPIC(bus iobus.PortIO) {
	masterMask := bus.In8(picMasterData)
	slaveMask := bus.In8(picSlaveData)

	// ICW1: begin initialization, ICW4 present.
	bus.Out8(picMasterCmd, icw1Init|icw1IC4)
	ioWait(bus)
	bus.Out8(picSlaveCmd, icw1Init|icw1IC4)
	ioWait(bus)

	// ICW2: vector offsets.
	bus.Out8(picMasterData, MasterOffset)
	ioWait(bus)
	bus.Out8(picSlaveData, SlaveOffset)
	ioWait(bus)

	// ICW3: master/slave wiring.
	bus.Out8(picMasterData, icw3MasterWiring)
	ioWait(bus)
	bus.Out8(picSlaveData, icw3SlaveWiring)
	ioWait(bus)

	// ICW4: 8086 mode.
	bus.Out8(picMasterData, icw4Mode)
	ioWait(bus)
	bus.Out8(picSlaveData, icw4Mode)
	ioWait(bus)

	bus.Out8(picMasterData, masterMask)
	bus.Out8(picSlaveData, slaveMask)
}

func ioWait(bus iobus.PortIO) {
	bus.Out8(ioWaitPort, 0)
}

// VectorForLine maps a hardware interrupt line (0-15) to its remapped vector.
func VectorForLine(line uint8) uint8 {
	return HWIRQBase + line
}

package pcnet

// AMD PCnet-PCI (Am79C970A) register model.
//
// refs
// https://wiki.osdev.org/AMD_PCNET
// AMD Am79C970A datasheet, chapter "User Accessible Registers".

const (
	VendorAMD   = 0x1022
	DevicePCnet = 0x2000

	// Ethernet class / ethernet subclass.
	ClassNetwork   = 0x02
	SubclassEthern = 0x00
)

// Register window offsets. The logical CSR/BCR indices are identical across
// both transports; only the window layout and access width differ.
const (
	// 16-bit word I/O layout (port transport).
	wioAPROM = 0x00 // MAC/EEPROM bytes 0x00-0x05
	wioRDP   = 0x10 // CSR data port
	wioRAP   = 0x12 // register address (select) port
	wioReset = 0x14 // reading triggers a software reset
	wioBDP   = 0x16 // BCR data port

	// 32-bit double-word layout (memory-mapped transport).
	dwioAPROM = 0x00
	dwioRDP   = 0x10
	dwioRAP   = 0x14
	dwioReset = 0x18
	dwioBDP   = 0x1c

	// WIOWindow / DWIOWindow are the register window sizes.
	WIOWindow  = 0x20
	DWIOWindow = 0x20
)

// Control and status register indices reached through RAP+RDP.
const (
	csrStatus   = 0  // CSR0: command/status
	csrInitLow  = 1  // CSR1: init block address, low 16 bits
	csrInitHigh = 2  // CSR2: init block address, high 16 bits
	csrMode     = 15 // CSR15: mode (mirrors the init block mode field)
)

// Bus configuration register indices reached through RAP+BDP.
const (
	bcrSWStyle = 20 // BCR20: software style / descriptor format
)

// BCR20 software style field. Style 2 selects 32-bit structures (SSIZE32).
const (
	swStyleMask = 0x00ff
	swStyle32   = 0x0002
)

// CSR0 bits. The upper byte is write-one-to-clear cause bits; ERR is the
// read-only summary of BABL|CERR|MISS|MERR.
const (
	CSR0INIT = 0x0001
	CSR0STRT = 0x0002
	CSR0STOP = 0x0004
	CSR0TDMD = 0x0008
	CSR0TXON = 0x0010
	CSR0RXON = 0x0020
	CSR0INEA = 0x0040
	CSR0INTR = 0x0080
	CSR0IDON = 0x0100
	CSR0TINT = 0x0200
	CSR0RINT = 0x0400
	CSR0MERR = 0x0800
	CSR0MISS = 0x1000
	CSR0CERR = 0x2000
	CSR0BABL = 0x4000
	CSR0ERR  = 0x8000

	// csr0W1C covers every acknowledgeable cause bit.
	csr0W1C = CSR0IDON | CSR0TINT | CSR0RINT | CSR0MERR | CSR0MISS | CSR0CERR | CSR0BABL | CSR0ERR
)

// Descriptor status bits (style 2, 16-byte descriptors).
const (
	descOWN = 0x8000
	descERR = 0x4000
	descSTP = 0x0200
	descENP = 0x0100
)

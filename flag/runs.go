package flag

import (
	"bufio"
	"fmt"
	"log"
	"os"

	"github.com/alecthomas/kong"
	"github.com/bobuhiro11/gokernel/dma"
	"github.com/bobuhiro11/gokernel/iobus"
	"github.com/bobuhiro11/gokernel/kernel"
	"github.com/bobuhiro11/gokernel/pci"
	"github.com/bobuhiro11/gokernel/pcnet"
	"github.com/bobuhiro11/gokernel/pcnetsim"
	"github.com/pkg/profile"
)

type BootCMD struct {
	MemSize   string `default:"4m" help:"DMA arena size: as number[gGmMkK], optional units, defaults to M." short:"m"`
	Ifname    string `default:"eth0" help:"name the attached interface publishes."`
	Frames    int    `default:"4" help:"number of frames to loop through the controller."`
	Transport string `default:"auto" enum:"auto,pio,mmio" help:"register transport selection."`
	Profile   bool   `help:"write a CPU profile to the working directory."`
}

type ScanCMD struct{}

type CLI struct {
	Boot BootCMD `cmd:"" help:"Boot the hardware core against a simulated machine and loop frames through the NIC."`
	Scan ScanCMD `cmd:"" help:"Enumerate the simulated bus and print every responding function."`
}

func Parse() error {
	c := CLI{}

	programName := "gokernel"
	programDesc := "gokernel is a minimal kernel hardware core: PCI enumeration, interrupt routing and a PCnet NIC driver"

	ctx := kong.Parse(&c,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	err := ctx.Run()

	return err
}

// Simulated machine layout for the demo commands.
const (
	dmaBase   = 0x100000
	nicIOBase = 0xd000
	nicSlot   = 3
	nicLine   = 11
)

var nicMAC = [6]byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}

// nicIRQ connects the simulated controller's interrupt pin to a kernel
// line. The kernel is attached after the controller is built.
type nicIRQ struct {
	k    *kernel.Kernel
	line uint8
}

func (n *nicIRQ) InjectNICIRQ() {
	if n.k == nil {
		return
	}

	if err := n.k.InjectIRQ(n.line); err != nil {
		log.Printf("nic irq: %v", err)
	}
}

func nicFunction() *pcnetsim.Function {
	f := &pcnetsim.Function{
		Hdr: pcnetsim.Header{
			VendorID:      pcnet.VendorAMD,
			DeviceID:      pcnet.DevicePCnet,
			ClassCode:     [3]uint8{0, pcnet.SubclassEthern, pcnet.ClassNetwork},
			InterruptLine: nicLine,
			InterruptPin:  1,
		},
	}
	f.Hdr.BAR[0] = nicIOBase | 0x1
	f.BARSize[0] = pcnet.WIOWindow

	return f
}

// buildMachine wires the simulated hardware onto a fresh bus: config space
// at its fixed ports and the controller's register window behind BAR0.
func buildMachine(arena *dma.Arena, irq pcnetsim.IRQInjector,
	egress func([]byte),
) (*iobus.Router, *pcnetsim.Controller, error) {
	router := iobus.NewRouter()

	conf := pcnetsim.NewConfSpace()
	conf.AddFunction(nicSlot, 0, nicFunction())

	if err := router.Register(conf); err != nil {
		return nil, nil, err
	}

	ctrl := pcnetsim.NewController(nicIOBase, arena, nicMAC, irq, egress)
	if err := router.Register(ctrl); err != nil {
		return nil, nil, err
	}

	return router, ctrl, nil
}

// countDispatcher logs delivered frames; it stands where a protocol layer
// would attach.
type countDispatcher struct {
	frames uint64
}

func (c *countDispatcher) DeliverFrame(buf []byte, n int) {
	c.frames++
	log.Printf("rx frame %d: %d bytes", c.frames, n)
}

func (s *BootCMD) Run() error {
	if s.Profile {
		defer profile.Start(profile.ProfilePath(".")).Stop()
	}

	memSize, err := ParseSize(s.MemSize, "m")
	if err != nil {
		return err
	}

	arena, err := dma.New(dmaBase, memSize)
	if err != nil {
		return err
	}

	irq := &nicIRQ{line: nicLine}

	var ctrl *pcnetsim.Controller

	// Egress loops every transmitted frame straight back into the
	// controller's receive path.
	router, ctrl, err := buildMachine(arena, irq, func(frame []byte) {
		if err := ctrl.DeliverFrame(frame); err != nil {
			log.Printf("loopback: %v", err)
		}
	})
	if err != nil {
		return err
	}

	k, err := kernel.New(router, nil, arena)
	if err != nil {
		return err
	}

	irq.k = k

	kind := map[string]pcnet.TransportKind{
		"auto": pcnet.TransportAuto,
		"pio":  pcnet.TransportPIO,
		"mmio": pcnet.TransportMMIO,
	}[s.Transport]

	dev, err := k.AttachNIC(pcnet.Config{
		Name:       s.Ifname,
		Filter:     ^uint64(0),
		Transport:  kind,
		Dispatcher: &countDispatcher{},
	})
	if err != nil {
		return err
	}

	mac := dev.MAC()
	log.Printf("%s: mac %02x:%02x:%02x:%02x:%02x:%02x transport %v irq %d",
		dev.Name(), mac[0], mac[1], mac[2], mac[3], mac[4], mac[5],
		dev.Transport(), dev.InterruptLine())

	frame := make([]byte, 64)
	for i := range frame[:6] {
		frame[i] = 0xff // broadcast
	}

	copy(frame[6:12], mac[:])

	for i := 0; i < s.Frames; i++ {
		if err := dev.Send(frame); err != nil {
			return err
		}
	}

	// Interactive tail: each stdin line is sent as a frame payload and
	// comes back through the loopback.
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		payload := append(frame[:14:14], in.Bytes()...)
		for len(payload) < 60 {
			payload = append(payload, 0)
		}

		if err := dev.Send(payload); err != nil {
			log.Printf("send: %v", err)
		}
	}

	st := dev.Stats()
	log.Printf("%s: tx %d pkts / %d bytes, rx %d pkts / %d bytes, %d errors",
		dev.Name(), st.TxPackets, st.TxBytes, st.RxPackets, st.RxBytes, st.Errors)

	return in.Err()
}

func (s *ScanCMD) Run() error {
	arena, err := dma.New(dmaBase, 1<<20)
	if err != nil {
		return err
	}

	router, _, err := buildMachine(arena, nil, nil)
	if err != nil {
		return err
	}

	e := pci.NewEnumerator(pci.NewBus(router))
	e.Probe()

	for _, f := range e.Functions() {
		fmt.Printf("%02x:%02x.%x %04x:%04x class %02x.%02x rev %02x irq %d\n",
			f.Bus, f.Slot, f.Fn, f.VendorID, f.DeviceID,
			f.Class, f.Subclass, f.Revision, f.InterruptLine)
	}

	fmt.Printf("probed %d coordinates, %d functions responded\n", e.Scanned, e.Found)

	return nil
}

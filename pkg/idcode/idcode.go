// Package idcode decodes identification registers read through the probe:
// IEEE 1149.1 JTAG IDCODEs, the ADIv5 DP identification register (DPIDR)
// and the AP identification register (IDR).
package idcode

import "fmt"

// Designer is an 11-bit JEP106 code: continuation count in bits 10:7,
// identity in bits 6:0.
type Designer uint16

// Known designers
const (
	DesignerARM     Designer = 0x23B
	DesignerST      Designer = 0x020
	DesignerIntel   Designer = 0x009
	DesignerTI      Designer = 0x017
	DesignerNXP     Designer = 0x015
	DesignerAltera  Designer = 0x06E
	DesignerXilinx  Designer = 0x049
	DesignerLattice Designer = 0x021
)

var designers = map[Designer]string{
	DesignerARM:     "ARM",
	DesignerST:      "STMicroelectronics",
	DesignerIntel:   "Intel",
	DesignerTI:      "Texas Instruments",
	DesignerNXP:     "NXP (Philips)",
	DesignerAltera:  "Altera",
	DesignerXilinx:  "Xilinx",
	DesignerLattice: "Lattice",
}

// Bank is the JEP106 bank, counting from 1.
func (d Designer) Bank() int { return int(d>>7) + 1 }

// ID is the identity code within the bank.
func (d Designer) ID() uint8 { return uint8(d & 0x7F) }

// Name returns the manufacturer name, or a bank/id description.
func (d Designer) Name() string {
	if n, ok := designers[d]; ok {
		return n
	}
	return fmt.Sprintf("JEP106 bank %d id 0x%02X", d.Bank(), d.ID())
}

// IDCode is a decoded JTAG IDCODE.
type IDCode struct {
	Raw      uint32
	Version  uint8    // [31:28]
	Part     uint16   // [27:12]
	Designer Designer // [11:1]
}

// Parse decodes raw. Valid reports the mandatory bit 0; a device in
// BYPASS shifts out 0 there.
func Parse(raw uint32) IDCode {
	return IDCode{
		Raw:      raw,
		Version:  uint8(raw >> 28),
		Part:     uint16(raw >> 12),
		Designer: Designer(raw>>1) & 0x7FF,
	}
}

func (id IDCode) Valid() bool { return id.Raw&1 == 1 && id.Designer != 0x7F }

func (id IDCode) String() string {
	if !id.Valid() {
		return fmt.Sprintf("0x%08X (no IDCODE)", id.Raw)
	}
	return fmt.Sprintf("0x%08X (%s part 0x%04X rev %d)", id.Raw, id.Designer.Name(), id.Part, id.Version)
}

// DPIDR is a decoded debug port identification register.
type DPIDR struct {
	Raw      uint32
	Revision uint8    // [31:28]
	PartNo   uint8    // [27:20]
	MinDP    bool     // [16] minimal debug port
	Version  uint8    // [15:12] DP architecture version
	Designer Designer // [11:1]
}

// ParseDPIDR decodes a DP IDCODE/DPIDR read.
func ParseDPIDR(raw uint32) DPIDR {
	return DPIDR{
		Raw:      raw,
		Revision: uint8(raw >> 28),
		PartNo:   uint8(raw >> 20),
		MinDP:    raw&(1<<16) != 0,
		Version:  uint8(raw>>12) & 0xF,
		Designer: Designer(raw>>1) & 0x7FF,
	}
}

func (d DPIDR) String() string {
	s := fmt.Sprintf("0x%08X (%s DPv%d part 0x%02X rev %d", d.Raw, d.Designer.Name(), d.Version, d.PartNo, d.Revision)
	if d.MinDP {
		s += " MINDP"
	}
	return s + ")"
}

// APClass is IDR[16:13].
type APClass uint8

const (
	APClassNone APClass = 0x0
	APClassCOM  APClass = 0x1
	APClassMEM  APClass = 0x8
)

// APIDR is a decoded access port identification register.
type APIDR struct {
	Raw      uint32
	Revision uint8    // [31:28]
	Designer Designer // [27:17]
	Class    APClass  // [16:13]
	Variant  uint8    // [7:4]
	Type     uint8    // [3:0]
}

// ParseAPIDR decodes an AP IDR read. Zero means no AP at that index.
func ParseAPIDR(raw uint32) APIDR {
	return APIDR{
		Raw:      raw,
		Revision: uint8(raw >> 28),
		Designer: Designer(raw>>17) & 0x7FF,
		Class:    APClass(raw>>13) & 0xF,
		Variant:  uint8(raw>>4) & 0xF,
		Type:     uint8(raw) & 0xF,
	}
}

var memAPTypes = map[uint8]string{
	0x0: "JTAG-AP",
	0x1: "AHB3-AP",
	0x2: "APB2/3-AP",
	0x4: "AXI3/4-AP",
	0x5: "AHB5-AP",
	0x6: "APB4/5-AP",
	0x7: "AXI5-AP",
	0x8: "AHB5-AP (enhanced HPROT)",
}

// Kind names the AP type.
func (a APIDR) Kind() string {
	switch a.Class {
	case APClassNone:
		if a.Type == 0 {
			return "JTAG-AP"
		}
	case APClassCOM:
		return "COM-AP"
	case APClassMEM:
		if k, ok := memAPTypes[a.Type]; ok {
			return k
		}
		return "MEM-AP"
	}
	return fmt.Sprintf("AP class 0x%X type 0x%X", uint8(a.Class), a.Type)
}

func (a APIDR) String() string {
	if a.Raw == 0 {
		return "0x00000000 (no AP)"
	}
	return fmt.Sprintf("0x%08X (%s %s rev %d)", a.Raw, a.Designer.Name(), a.Kind(), a.Revision)
}

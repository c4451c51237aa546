package bbflash

// Register is one byte-wide hardware register.
type Register interface {
	Read() byte
	Write(b byte)
}

// Bank is the register block of one bitbang controller.
//
//	Offset | Register       | Access
//	-------+----------------+-------------------
//	0x0    | Control        | read-modify-write
//	0x4    | Input          | read-only, bit 0
//	0x8    | Enable         | write-only
type Bank struct {
	Control Register
	Input   Register
	Enable  Register
}

// Register offsets and enable values. [LiteX-spiflash]
const (
	OffsetControl = 0x0
	OffsetInput   = 0x4
	OffsetEnable  = 0x8

	EnableBitbang  = 0x01
	DisableBitbang = 0x00
)

// Lines holds the control register bit masks of each line.
type Lines struct {
	DataOut    byte // driven data bit, latched by the flash on the rising clock edge
	Clock      byte
	ChipSelect byte // active-low: set means deselected
	Capture    byte // set releases the data line so the flash can drive it
}

// LiteXLines is the control register layout of the LiteX bitbang CSR
// (mosi, clk, cs_n, miso_en). Cores wired differently set Config.Lines.
var LiteXLines = Lines{
	DataOut:    1 << 0,
	Clock:      1 << 1,
	ChipSelect: 1 << 2,
	Capture:    1 << 3,
}

// setLine read-modify-writes the control register, changing only mask.
func (c *Controller) setLine(mask byte, on bool) {
	v := c.regs.Control.Read()
	if on {
		v |= mask
	} else {
		v &^= mask
	}
	c.regs.Control.Write(v)
}

// inputBit samples the data-in line.
func (c *Controller) inputBit() byte {
	return c.regs.Input.Read() & 0x1
}

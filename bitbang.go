package bbflash

// pulse drives one clock cycle: low, then high. The flash latches DataOut
// on the rising edge and presents its next output bit right after it.
func (c *Controller) pulse() {
	c.setLine(c.lines.Clock, false)
	c.setLine(c.lines.Clock, true)
}

// capture switches the data line direction. on releases the line to the flash.
func (c *Controller) capture(on bool) {
	v := c.regs.Control.Read()
	if (v&c.lines.Capture != 0) == on {
		return
	}
	if on {
		v |= c.lines.Capture
	} else {
		v &^= c.lines.Capture
	}
	c.regs.Control.Write(v)
}

func (c *Controller) selectChip()   { c.setLine(c.lines.ChipSelect, false) }
func (c *Controller) deselectChip() { c.setLine(c.lines.ChipSelect, true) }

// idle clocks n cycles without data.
func (c *Controller) idle(n int) {
	for i := 0; i < n; i++ {
		c.pulse()
	}
}

// sendByte shifts b out MSB first.
func (c *Controller) sendByte(b byte) {
	c.capture(false)
	for i := 7; i >= 0; i-- {
		c.setLine(c.lines.DataOut, b&(1<<i) != 0)
		c.pulse()
	}
}

// recvByte shifts one byte in MSB first.
func (c *Controller) recvByte() (b byte) {
	c.capture(true)
	for i := 7; i >= 0; i-- {
		c.pulse()
		b |= c.inputBit() << i
	}
	return b
}

func (c *Controller) sendBytes(p []byte) {
	for _, b := range p {
		c.sendByte(b)
	}
}

func (c *Controller) recvBytes(p []byte) {
	for i := range p {
		p[i] = c.recvByte()
	}
}

// sendAddr sends the 24-bit address most significant byte first.
func (c *Controller) sendAddr(addr uint32) {
	c.sendByte(byte(addr >> 16))
	c.sendByte(byte(addr >> 8))
	c.sendByte(byte(addr))
}

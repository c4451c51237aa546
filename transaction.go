package bbflash

import "fmt"

// command opens a transaction: release any previous one, clock the idle
// cycles with the chip deselected, select it and send the opcode.
func (c *Controller) command(op byte) {
	c.capture(false)
	c.deselectChip()
	c.idle(c.idleCycles)
	c.selectChip()
	c.sendByte(op)
}

// readReg runs a register read transaction for op and fills p.
func (c *Controller) readReg(op byte, p []byte) {
	c.command(op)
	c.recvBytes(p)
	c.deselectChip()
}

func (c *Controller) readStatusByte(op byte) byte {
	var b [1]byte
	c.readReg(op, b[:])
	return b[0]
}

// writeEnable sets the write enable latch and waits for the flash to be idle.
func (c *Controller) writeEnable() error {
	c.command(OpWriteEnable)
	c.deselectChip()
	return c.waitWhileFlagSet(OpReadStatus, StatusWorkInProgress, c.timeout)
}

func (c *Controller) writeReg(op byte, data []byte) error {
	if err := c.writeEnable(); err != nil {
		return err
	}
	c.command(op)
	c.sendBytes(data)
	c.deselectChip()
	return c.waitWhileFlagSet(OpReadStatus, StatusWorkInProgress, c.timeout)
}

func (c *Controller) readData(addr uint32, p []byte) {
	c.command(c.opcodes.Read)
	c.sendAddr(addr)
	c.recvBytes(p)
	c.deselectChip()
}

// programData programs data at addr and checks the program error flag.
func (c *Controller) programData(addr uint32, data []byte) error {
	if err := c.writeEnable(); err != nil {
		return err
	}
	c.command(c.opcodes.Program)
	c.sendAddr(addr)
	c.sendBytes(data)
	c.deselectChip()
	if err := c.waitWhileFlagSet(OpReadStatus, StatusWorkInProgress, c.timeout); err != nil {
		return err
	}
	if fsr := FlagStatusRegister(c.readStatusByte(OpReadFlagStatus)); fsr.ProgramError() {
		return fmt.Errorf("%w at 0x%06X (flag status %v)", ErrProgram, addr, fsr)
	}
	return nil
}

// eraseSector erases the sector containing addr and reports the erase
// error flag.
func (c *Controller) eraseSector(addr uint32) (bool, error) {
	if err := c.writeEnable(); err != nil {
		return false, err
	}
	c.command(c.opcodes.Erase)
	c.sendAddr(addr)
	c.deselectChip()
	// Both flags are waited on with the erase deadline; some parts clear
	// the flag status busy bit before the status register WIP bit.
	if err := c.waitWhileFlagSet(OpReadFlagStatus, FlagEraseBusy, c.eraseTimeout); err != nil {
		return false, err
	}
	if err := c.waitWhileFlagSet(OpReadStatus, StatusWorkInProgress, c.eraseTimeout); err != nil {
		return false, err
	}
	fsr := FlagStatusRegister(c.readStatusByte(OpReadFlagStatus))
	return fsr.EraseError(), nil
}

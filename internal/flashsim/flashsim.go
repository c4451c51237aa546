// Package flashsim simulates a serial NOR flash chip attached to a LiteX
// bitbang register bank. It decodes the control register writes of a
// bbflash.Controller edge by edge and answers on the data-in register.
package flashsim

import (
	"bytes"
	"fmt"

	"github.com/gentam/bbflash"
)

// Command set understood by the simulated chip.
const (
	opWriteStatus     = 0x01
	opPageProgram     = 0x02
	opRead            = 0x03
	opWriteDisable    = 0x04
	opReadStatus      = bbflash.OpReadStatus
	opWriteEnable     = bbflash.OpWriteEnable
	opErase4KB        = 0x20
	opClearFlagStatus = 0x50
	opReadFlagStatus  = bbflash.OpReadFlagStatus
	opReadID          = 0x9F
	opEraseChip       = 0xC7
	opErase64KB       = 0xD8
)

const (
	sectorSize    = 64 << 10
	subsectorSize = 4 << 10
)

// Transaction is one chip-select bracketed exchange seen by the chip.
type Transaction struct {
	Opcode   byte
	Sent     []byte // bytes clocked in from the controller, opcode included
	Received []byte // bytes the chip presented on the data line
}

// Addr returns the 24-bit address following the opcode, if any.
func (t Transaction) Addr() (uint32, bool) {
	if len(t.Sent) < 4 {
		return 0, false
	}
	return uint32(t.Sent[1])<<16 | uint32(t.Sent[2])<<8 | uint32(t.Sent[3]), true
}

// Chip is a simulated flash chip. Configure the exported fields before
// the first transaction.
type Chip struct {
	Memory   []byte
	ID       [3]byte
	PageSize int

	// ProgramPolls is the number of busy status reads after a program or
	// status register write.
	ProgramPolls int
	// ErasePolls is the number of busy reads after an erase, counted on
	// the status and the flag status register separately.
	ErasePolls int
	// StuckBusy keeps the chip busy forever once an operation starts.
	StuckBusy bool
	// FailProgram and FailErase raise the program and erase error flags.
	FailProgram bool
	FailErase   bool

	lines   bbflash.Lines
	ctrl    byte
	enable  byte
	enables []byte
	out     byte

	selected bool
	shift    byte
	nbits    int
	sent     []byte
	received []byte
	outByte  byte
	outBits  int

	wel       bool
	sr        byte // protection bits of the status register
	busy      int
	eraseBusy int
	flags     byte

	log      []Transaction
	problems []string
}

// New returns a chip of size bytes, erased, identifying as id.
func New(size int, id [3]byte) *Chip {
	c := &Chip{
		Memory:   bytes.Repeat([]byte{0xFF}, size),
		ID:       id,
		PageSize: 256,
		lines:    bbflash.LiteXLines,
		ctrl:     bbflash.LiteXLines.ChipSelect,
	}
	return c
}

// Bank returns the register bank wired to the chip.
func (c *Chip) Bank() bbflash.Bank {
	return bbflash.Bank{
		Control: controlReg{c},
		Input:   inputReg{c},
		Enable:  enableReg{c},
	}
}

// Selected reports whether chip-select is asserted.
func (c *Chip) Selected() bool { return c.selected }

// Control returns the last control register value.
func (c *Chip) Control() byte { return c.ctrl }

// EnableWrites returns every value written to the enable register.
func (c *Chip) EnableWrites() []byte { return append([]byte(nil), c.enables...) }

// Transactions returns the completed transactions.
func (c *Chip) Transactions() []Transaction { return append([]Transaction(nil), c.log...) }

// ResetLog forgets the recorded transactions.
func (c *Chip) ResetLog() { c.log = nil }

// Problems returns protocol violations seen so far, such as a transaction
// ending in the middle of a byte.
func (c *Chip) Problems() []string { return append([]string(nil), c.problems...) }

// Busy reports whether an operation is in progress.
func (c *Chip) Busy() bool { return c.busy > 0 || c.eraseBusy > 0 }

type controlReg struct{ c *Chip }

func (r controlReg) Read() byte   { return r.c.ctrl }
func (r controlReg) Write(v byte) { r.c.setControl(v) }

type inputReg struct{ c *Chip }

func (r inputReg) Read() byte { return r.c.out }
func (r inputReg) Write(byte) {}

type enableReg struct{ c *Chip }

func (r enableReg) Read() byte { return r.c.enable }
func (r enableReg) Write(v byte) {
	r.c.enable = v
	r.c.enables = append(r.c.enables, v)
}

func (c *Chip) setControl(v byte) {
	prev := c.ctrl
	c.ctrl = v
	wasSelected := prev&c.lines.ChipSelect == 0
	isSelected := v&c.lines.ChipSelect == 0
	switch {
	case !wasSelected && isSelected:
		c.begin()
	case wasSelected && !isSelected:
		c.finish()
	}
	if isSelected && prev&c.lines.Clock == 0 && v&c.lines.Clock != 0 {
		c.edge(v)
	}
}

func (c *Chip) begin() {
	c.selected = true
	c.shift, c.nbits = 0, 0
	c.sent, c.received = nil, nil
	c.outBits = 0
}

// edge handles a rising clock edge while selected.
func (c *Chip) edge(v byte) {
	if v&c.lines.Capture != 0 {
		if c.outBits == 0 {
			c.outByte = c.next()
			c.received = append(c.received, c.outByte)
			c.outBits = 8
		}
		c.outBits--
		c.out = (c.outByte >> c.outBits) & 1
		return
	}
	c.shift <<= 1
	if v&c.lines.DataOut != 0 {
		c.shift |= 1
	}
	c.nbits++
	if c.nbits == 8 {
		c.sent = append(c.sent, c.shift)
		c.shift, c.nbits = 0, 0
		c.outBits = 0
	}
}

// next returns the next byte the chip drives for the current command.
func (c *Chip) next() byte {
	if len(c.sent) == 0 {
		return 0xFF
	}
	n := len(c.received)
	switch c.sent[0] {
	case opReadStatus:
		return c.status()
	case opReadFlagStatus:
		return c.flagStatus()
	case opReadID:
		if n < len(c.ID) {
			return c.ID[n]
		}
		return 0x00
	case opRead:
		addr, ok := c.addr()
		if !ok || len(c.Memory) == 0 {
			return 0xFF
		}
		return c.Memory[(int(addr)+n)%len(c.Memory)]
	}
	return 0xFF
}

func (c *Chip) status() byte {
	st := c.sr
	if c.wel {
		st |= 1 << 1
	}
	if c.busy > 0 {
		st |= bbflash.StatusWorkInProgress
		if !c.StuckBusy {
			c.busy--
		}
	}
	return st
}

func (c *Chip) flagStatus() byte {
	fs := c.flags
	if c.eraseBusy > 0 {
		fs |= bbflash.FlagEraseBusy
		if !c.StuckBusy {
			c.eraseBusy--
		}
	}
	return fs
}

func (c *Chip) addr() (uint32, bool) {
	return Transaction{Sent: c.sent}.Addr()
}

func (c *Chip) finish() {
	c.selected = false
	if c.nbits != 0 {
		c.problem("transaction ended after %d bits of a byte", c.nbits)
	}
	if len(c.sent) == 0 {
		return
	}
	op := c.sent[0]
	c.log = append(c.log, Transaction{
		Opcode:   op,
		Sent:     c.sent,
		Received: c.received,
	})
	if c.Busy() && op != opReadStatus && op != opReadFlagStatus {
		c.problem("opcode 0x%02X issued while busy", op)
		return
	}
	switch op {
	case opWriteEnable:
		c.wel = true
	case opWriteDisable:
		c.wel = false
	case opClearFlagStatus:
		c.flags = 0
	case opWriteStatus:
		if !c.wel || len(c.sent) < 2 {
			return
		}
		c.sr = c.sent[1] &^ 0x03
		c.start(c.ProgramPolls, 0)
	case opPageProgram:
		addr, ok := c.addr()
		if !c.wel || !ok {
			return
		}
		c.flags &^= bbflash.FlagProgramError
		c.program(addr, c.sent[4:])
		if c.FailProgram {
			c.flags |= bbflash.FlagProgramError
		}
		c.start(c.ProgramPolls, 0)
	case opErase4KB, opErase64KB:
		addr, ok := c.addr()
		if !c.wel || !ok {
			return
		}
		size := sectorSize
		if op == opErase4KB {
			size = subsectorSize
		}
		c.flags &^= bbflash.FlagEraseError
		c.erase(int(addr)&^(size-1), size)
		if c.FailErase {
			c.flags |= bbflash.FlagEraseError
		}
		c.start(c.ErasePolls, c.ErasePolls)
	case opEraseChip:
		if !c.wel {
			return
		}
		c.erase(0, len(c.Memory))
		c.start(c.ErasePolls, c.ErasePolls)
	}
}

func (c *Chip) start(busy, eraseBusy int) {
	c.wel = false
	c.busy = busy
	c.eraseBusy = eraseBusy
	if c.StuckBusy {
		c.busy = max(c.busy, 1)
	}
}

// program ANDs data into memory, wrapping within the page of addr.
func (c *Chip) program(addr uint32, data []byte) {
	page := c.PageSize
	if page <= 0 {
		page = 256
	}
	base := int(addr) &^ (page - 1)
	off := int(addr) - base
	for i, b := range data {
		a := base + (off+i)%page
		if a < len(c.Memory) {
			c.Memory[a] &= b
		}
	}
}

func (c *Chip) erase(base, size int) {
	for a := base; a < base+size && a < len(c.Memory); a++ {
		c.Memory[a] = 0xFF
	}
}

func (c *Chip) problem(format string, a ...any) {
	c.problems = append(c.problems, fmt.Sprintf(format, a...))
}

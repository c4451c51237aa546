package bbflash

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Opcodes fixed by the flash command set. [N25Q128|Command Set]
const (
	OpWriteEnable    = 0x06
	OpReadStatus     = 0x05
	OpReadFlagStatus = 0x70
)

// Timeouts of the busy-poll guard, measured from the end of the
// transaction that started the operation.
const (
	DefaultTimeout      = 50 * time.Millisecond
	DefaultEraseTimeout = 3000 * time.Millisecond
)

// DefaultIdleCycles is the number of clock cycles sent with the chip
// deselected before every command.
const DefaultIdleCycles = 8

const maxAddr = 1<<24 - 1 // 0xFFFFFF

var (
	// ErrTimeout is returned when a busy flag did not clear before its deadline.
	ErrTimeout = errors.New("bbflash: flash busy timeout")
	// ErrProgram is returned when the flag status register reports a
	// program failure after a write completed.
	ErrProgram = errors.New("bbflash: program error")
	// ErrAddress is returned for addresses that do not fit in 24 bits.
	ErrAddress = errors.New("bbflash: address out of 24-bit range")
)

// Operations is the operation set a flash abstraction needs from a
// controller. Every call is synchronous and callers serialize them.
type Operations interface {
	// ReadRegister reads n bytes from the register selected by opcode.
	ReadRegister(opcode byte, n int) ([]byte, error)
	// WriteRegister write-enables the flash and writes data to the
	// register selected by opcode.
	WriteRegister(opcode byte, data []byte) error
	// Read reads n bytes starting at addr.
	Read(addr uint32, n int) ([]byte, error)
	// Write programs data at addr and returns len(data) on success.
	Write(addr uint32, data []byte) (int, error)
	// Erase erases the sector at addr. It returns the erase error flag,
	// which the caller must treat as a failure when true.
	Erase(addr uint32) (bool, error)
}

// Opcodes are the command opcodes chosen by the flash abstraction.
type Opcodes struct {
	Read    byte
	Program byte
	Erase   byte
}

// DefaultOpcodes are READ, PAGE PROGRAM and 64KB SECTOR ERASE.
var DefaultOpcodes = Opcodes{
	Read:    0x03,
	Program: 0x02,
	Erase:   0xD8,
}

// Config configures a Controller. The zero value uses the LiteX line
// layout, the default opcodes and timeouts, wall-clock time and no logging.
type Config struct {
	Lines        Lines
	Opcodes      Opcodes
	Timeout      time.Duration
	EraseTimeout time.Duration
	// PollInterval is slept between status polls. Zero polls back to back.
	PollInterval time.Duration
	// IdleCycles before each command; negative sends none.
	IdleCycles int
	Clock      Clock
	Logger     *slog.Logger
}

// Controller bit-bangs flash transactions over a register Bank.
// It is not safe for concurrent use.
type Controller struct {
	regs    Bank
	lines   Lines
	opcodes Opcodes

	timeout      time.Duration
	eraseTimeout time.Duration
	pollInterval time.Duration
	idleCycles   int

	clock     Clock
	log       *slog.Logger
	reporters []errReporter
}

var _ Operations = (*Controller)(nil)

// errReporter is implemented by register backends whose accesses can fail.
type errReporter interface {
	Err() error
}

// New returns a Controller driving regs. It does not touch the hardware
// until Open.
func New(regs Bank, cfg Config) *Controller {
	c := &Controller{
		regs:         regs,
		lines:        cfg.Lines,
		opcodes:      cfg.Opcodes,
		timeout:      cfg.Timeout,
		eraseTimeout: cfg.EraseTimeout,
		pollInterval: cfg.PollInterval,
		idleCycles:   cfg.IdleCycles,
		clock:        cfg.Clock,
		log:          cfg.Logger,
	}
	if c.lines == (Lines{}) {
		c.lines = LiteXLines
	}
	if c.opcodes == (Opcodes{}) {
		c.opcodes = DefaultOpcodes
	}
	if c.timeout == 0 {
		c.timeout = DefaultTimeout
	}
	if c.eraseTimeout == 0 {
		c.eraseTimeout = DefaultEraseTimeout
	}
	switch {
	case c.idleCycles == 0:
		c.idleCycles = DefaultIdleCycles
	case c.idleCycles < 0:
		c.idleCycles = 0
	}
	if c.clock == nil {
		c.clock = systemClock{}
	}
	for _, r := range []Register{regs.Control, regs.Input, regs.Enable} {
		if er, ok := r.(errReporter); ok {
			c.reporters = append(c.reporters, er)
		}
	}
	return c
}

// SetOpcodes replaces the read, program and erase opcodes.
func (c *Controller) SetOpcodes(op Opcodes) {
	c.opcodes = op
}

// Opcodes returns the read, program and erase opcodes in use.
func (c *Controller) Opcodes() Opcodes {
	return c.opcodes
}

// Open resets the lines (clock low, chip deselected, data line driven)
// and enables bitbang mode.
func (c *Controller) Open() error {
	c.setLine(c.lines.Clock, false)
	c.deselectChip()
	c.capture(false)
	c.regs.Enable.Write(EnableBitbang)
	c.debug("open")
	return c.busErr()
}

// Close disables bitbang mode.
func (c *Controller) Close() error {
	c.regs.Enable.Write(DisableBitbang)
	c.debug("close")
	return c.busErr()
}

func (c *Controller) ReadRegister(opcode byte, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("bbflash: invalid register length %d", n)
	}
	buf := make([]byte, n)
	c.readReg(opcode, buf)
	if err := c.busErr(); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Controller) WriteRegister(opcode byte, data []byte) error {
	c.debug("write_reg", slog.Int("op", int(opcode)), slog.Int("len", len(data)))
	if err := c.writeReg(opcode, data); err != nil {
		return err
	}
	return c.busErr()
}

func (c *Controller) Read(addr uint32, n int) ([]byte, error) {
	if err := checkAddr(addr); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("bbflash: invalid read length %d", n)
	}
	c.debug("read", slog.Uint64("addr", uint64(addr)), slog.Int("len", n))
	buf := make([]byte, n)
	c.readData(addr, buf)
	if err := c.busErr(); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Controller) Write(addr uint32, data []byte) (int, error) {
	if err := checkAddr(addr); err != nil {
		return 0, err
	}
	c.debug("write", slog.Uint64("addr", uint64(addr)), slog.Int("len", len(data)))
	if err := c.programData(addr, data); err != nil {
		return 0, err
	}
	if err := c.busErr(); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (c *Controller) Erase(addr uint32) (bool, error) {
	if err := checkAddr(addr); err != nil {
		return false, err
	}
	c.debug("erase", slog.Uint64("addr", uint64(addr)), slog.Int("op", int(c.opcodes.Erase)))
	failed, err := c.eraseSector(addr)
	if err != nil {
		return false, err
	}
	if err := c.busErr(); err != nil {
		return false, err
	}
	return failed, nil
}

// ReadStatus reads the status register.
func (c *Controller) ReadStatus() (StatusRegister, error) {
	b, err := c.ReadRegister(OpReadStatus, 1)
	if err != nil {
		return 0, err
	}
	return StatusRegister(b[0]), nil
}

// ReadFlagStatus reads the flag status register.
func (c *Controller) ReadFlagStatus() (FlagStatusRegister, error) {
	b, err := c.ReadRegister(OpReadFlagStatus, 1)
	if err != nil {
		return 0, err
	}
	return FlagStatusRegister(b[0]), nil
}

func (c *Controller) busErr() error {
	for _, r := range c.reporters {
		if err := r.Err(); err != nil {
			return err
		}
	}
	return nil
}

func checkAddr(addr uint32) error {
	if addr > maxAddr {
		return fmt.Errorf("%w: 0x%X", ErrAddress, addr)
	}
	return nil
}

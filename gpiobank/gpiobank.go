// Package gpiobank emulates the bitbang register block on plain GPIO pins,
// so the bbflash controller can drive a flash chip wired to any
// periph.io pins.
package gpiobank

import (
	"fmt"
	"time"

	"github.com/gentam/bbflash"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Pins are the lines wired to the flash chip. DataIn and DataOut may be the
// same pin, in which case its direction follows the capture bit.
type Pins struct {
	Clock      gpio.PinOut
	ChipSelect gpio.PinOut
	DataOut    gpio.PinOut
	DataIn     gpio.PinIn
}

// Bank drives Pins from control register writes. Pins have no readable
// register, so the bank keeps the last byte written and applies the changed
// bits to the pins.
type Bank struct {
	pins  Pins
	lines bbflash.Lines
	half  time.Duration
	ctrl  byte
	err   error
}

// New returns a bank for pins. A non-zero rate caps the clock frequency by
// waiting half a period after each clock edge.
func New(pins Pins, rate physic.Frequency) *Bank {
	b := &Bank{
		pins:  pins,
		lines: bbflash.LiteXLines,
		ctrl:  bbflash.LiteXLines.ChipSelect,
	}
	if rate > 0 {
		b.half = rate.Period() / 2
	}
	return b
}

// Registers returns the register view of the bank.
func (b *Bank) Registers() bbflash.Bank {
	return bbflash.Bank{
		Control: control{b},
		Input:   input{b},
		Enable:  enable{b},
	}
}

// Err returns the first pin error. Pin errors are sticky.
func (b *Bank) Err() error { return b.err }

func (b *Bank) shared() bool {
	in, ok := b.pins.DataIn.(gpio.PinOut)
	return ok && in == b.pins.DataOut
}

func (b *Bank) out(p gpio.PinOut, name string, l gpio.Level) {
	if b.err != nil {
		return
	}
	if err := p.Out(l); err != nil {
		b.err = fmt.Errorf("gpiobank: %s %s: %w", name, p, err)
	}
}

func (b *Bank) release() {
	if b.err != nil {
		return
	}
	if err := b.pins.DataIn.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		b.err = fmt.Errorf("gpiobank: data in %s: %w", b.pins.DataIn, err)
	}
}

func (b *Bank) write(v byte) {
	changed := b.ctrl ^ v
	b.ctrl = v
	l := b.lines
	switch {
	case v&l.Capture != 0:
		if changed&l.Capture != 0 && b.shared() {
			b.release()
		}
	case changed&(l.DataOut|l.Capture) != 0:
		b.out(b.pins.DataOut, "data out", gpio.Level(v&l.DataOut != 0))
	}
	if changed&l.ChipSelect != 0 {
		b.out(b.pins.ChipSelect, "chip select", gpio.Level(v&l.ChipSelect != 0))
	}
	if changed&l.Clock != 0 {
		b.out(b.pins.Clock, "clock", gpio.Level(v&l.Clock != 0))
		if b.half > 0 {
			time.Sleep(b.half)
		}
	}
}

type control struct{ b *Bank }

func (r control) Read() byte   { return r.b.ctrl }
func (r control) Write(v byte) { r.b.write(v) }
func (r control) Err() error    { return r.b.err }

type input struct{ b *Bank }

func (r input) Read() byte {
	if r.b.pins.DataIn.Read() == gpio.High {
		return 1
	}
	return 0
}
func (r input) Write(byte) {}

// enable brings the pins to their idle state on enable and deselects the
// chip on disable.
type enable struct{ b *Bank }

func (r enable) Read() byte { return 0 }

func (r enable) Write(v byte) {
	b := r.b
	if v == bbflash.DisableBitbang {
		b.ctrl |= b.lines.ChipSelect
		b.out(b.pins.ChipSelect, "chip select", gpio.High)
		return
	}
	if !b.shared() {
		b.release()
	}
	b.out(b.pins.ChipSelect, "chip select", gpio.Level(b.ctrl&b.lines.ChipSelect != 0))
	b.out(b.pins.Clock, "clock", gpio.Level(b.ctrl&b.lines.Clock != 0))
	if b.ctrl&b.lines.Capture == 0 {
		b.out(b.pins.DataOut, "data out", gpio.Level(b.ctrl&b.lines.DataOut != 0))
	}
}

package bbflash

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// loopback feeds every bit clocked out back on the data-in line when the
// line is switched to capture.
type loopback struct {
	lines  Lines
	ctrl   byte
	in     byte
	fifo   []byte
	writes int
}

func (l *loopback) Read() byte { return l.ctrl }

func (l *loopback) Write(v byte) {
	prev := l.ctrl
	l.ctrl = v
	l.writes++
	if prev&l.lines.Clock != 0 || v&l.lines.Clock == 0 {
		return
	}
	if v&l.lines.Capture != 0 {
		if len(l.fifo) > 0 {
			l.in, l.fifo = l.fifo[0], l.fifo[1:]
		}
		return
	}
	l.fifo = append(l.fifo, v&l.lines.DataOut)
}

// sentBytes groups the bits clocked out so far into bytes, MSB first.
func (l *loopback) sentBytes() []byte {
	var out []byte
	for i := 0; i+8 <= len(l.fifo); i += 8 {
		var b byte
		for _, bit := range l.fifo[i : i+8] {
			b <<= 1
			if bit != 0 {
				b |= 1
			}
		}
		out = append(out, b)
	}
	return out
}

type inputOf struct{ l *loopback }

func (r inputOf) Read() byte { return r.l.in }
func (r inputOf) Write(byte) {}

type nopRegister struct{ v byte }

func (r *nopRegister) Read() byte   { return r.v }
func (r *nopRegister) Write(v byte) { r.v = v }

func newLoopback() (*Controller, *loopback) {
	l := &loopback{lines: LiteXLines, ctrl: LiteXLines.ChipSelect}
	c := New(Bank{Control: l, Input: inputOf{l}, Enable: &nopRegister{}}, Config{})
	return c, l
}

func TestByteRoundTrip(t *testing.T) {
	c, l := newLoopback()
	for i := 0; i < 256; i++ {
		b := byte(i)
		c.sendByte(b)
		if got := c.recvByte(); got != b {
			t.Fatalf("round trip of %#02x returned %#02x", b, got)
		}
		if len(l.fifo) != 0 {
			t.Fatalf("%d bits left after round trip of %#02x", len(l.fifo), b)
		}
	}
}

func TestSendByteMSBFirst(t *testing.T) {
	c, l := newLoopback()
	c.sendByte(0x81)
	c.sendByte(0x40)
	want := []byte{1, 0, 0, 0, 0, 0, 0, 1, 0, 1, 0, 0, 0, 0, 0, 0}
	got := make([]byte, len(l.fifo))
	for i, bit := range l.fifo {
		got[i] = bit & 1
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("bits on the wire (-want +got):\n%s", diff)
	}
}

func TestAddressBigEndian(t *testing.T) {
	for _, addr := range []uint32{0, 0x000001, 0x123456, 0xABCDEF, 0xFFFFFF, 0x010203} {
		c, l := newLoopback()
		c.sendAddr(addr)
		want := []byte{byte(addr >> 16), byte(addr >> 8), byte(addr)}
		if diff := cmp.Diff(want, l.sentBytes()); diff != "" {
			t.Errorf("address 0x%06X (-want +got):\n%s", addr, diff)
		}
	}
}

func TestPulseTwoWrites(t *testing.T) {
	c, l := newLoopback()
	l.ctrl = 0xF0 | LiteXLines.ChipSelect
	c.pulse()
	if l.writes != 2 {
		t.Errorf("pulse made %d register writes, want 2", l.writes)
	}
	if want := byte(0xF0 | LiteXLines.ChipSelect | LiteXLines.Clock); l.ctrl != want {
		t.Errorf("control after pulse = %08b, want %08b", l.ctrl, want)
	}
}

func TestSetLineKeepsOtherBits(t *testing.T) {
	c, l := newLoopback()
	for _, start := range []byte{0x00, 0xFF, 0xA5, 0x5A} {
		for _, mask := range []byte{LiteXLines.Clock, LiteXLines.ChipSelect, LiteXLines.DataOut, LiteXLines.Capture} {
			l.ctrl = start
			c.setLine(mask, true)
			if l.ctrl != start|mask {
				t.Errorf("set %08b on %08b = %08b", mask, start, l.ctrl)
			}
			l.ctrl = start
			c.setLine(mask, false)
			if l.ctrl != start&^mask {
				t.Errorf("clear %08b on %08b = %08b", mask, start, l.ctrl)
			}
		}
	}
}

func TestInputBitMasksHighBits(t *testing.T) {
	c, l := newLoopback()
	l.in = 0xFE
	if got := c.inputBit(); got != 0 {
		t.Errorf("inputBit with 0xFE = %d, want 0", got)
	}
	l.in = 0x03
	if got := c.inputBit(); got != 1 {
		t.Errorf("inputBit with 0x03 = %d, want 1", got)
	}
}

package nor_test

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/gentam/bbflash"
	"github.com/gentam/bbflash/internal/flashsim"
	"github.com/gentam/bbflash/nor"
	"github.com/google/go-cmp/cmp"
)

var idN25Q32 = [3]byte{0x20, 0xBA, 0x16}

func newFlash(t *testing.T) (*nor.Flash, *flashsim.Chip) {
	t.Helper()
	chip := flashsim.New(4<<20, idN25Q32)
	chip.ProgramPolls = 2
	chip.ErasePolls = 3
	c := bbflash.New(chip.Bank(), bbflash.Config{})
	if err := c.Open(); err != nil {
		t.Fatal(err)
	}
	f := nor.New(c, nil)
	if _, _, err := f.ReadID(); err != nil {
		t.Fatal(err)
	}
	chip.ResetLog()
	t.Cleanup(func() {
		if p := chip.Problems(); len(p) != 0 {
			t.Errorf("protocol problems: %q", p)
		}
	})
	return f, chip
}

type op struct {
	Opcode byte
	Addr   uint32
	Len    int
}

// commands lists the program and erase transactions seen by the chip.
func commands(chip *flashsim.Chip) []op {
	var ops []op
	for _, tx := range chip.Transactions() {
		switch tx.Opcode {
		case 0x02, 0x20, 0xD8:
			addr, _ := tx.Addr()
			ops = append(ops, op{tx.Opcode, addr, len(tx.Sent) - 4})
		}
	}
	return ops
}

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + i>>8)
	}
	return p
}

func TestReadID(t *testing.T) {
	for _, tc := range []struct {
		id   [3]byte
		name string
		size int
	}{
		{idN25Q32, "Micron N25Q 32Mb", 4 << 20},
		{[3]byte{0xEF, 0x70, 0x18}, "Winbond W25Q 128Mb", 16 << 20},
		{[3]byte{0xC2, 0x20, 0x16}, "", 16 << 20},
	} {
		chip := flashsim.New(4096, tc.id)
		c := bbflash.New(chip.Bank(), bbflash.Config{})
		c.Open()
		f := nor.New(c, nil)
		id, name, err := f.ReadID()
		if err != nil {
			t.Fatal(err)
		}
		if id != tc.id || name != tc.name {
			t.Errorf("ReadID = %X %q, want %X %q", id, name, tc.id, tc.name)
		}
		if got := f.Size(); got != tc.size {
			t.Errorf("%X: Size = %d, want %d", tc.id, got, tc.size)
		}
	}
}

func TestWriteAtSplitsPages(t *testing.T) {
	f, chip := newFlash(t)
	data := pattern(300)
	n, err := f.WriteAt(data, 0x10F0)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(data) {
		t.Errorf("WriteAt = %d, want %d", n, len(data))
	}
	want := []op{
		{0x02, 0x10F0, 16},
		{0x02, 0x1100, 256},
		{0x02, 0x1200, 28},
	}
	if diff := cmp.Diff(want, commands(chip)); diff != "" {
		t.Errorf("program commands (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(data, chip.Memory[0x10F0:0x10F0+300]); diff != "" {
		t.Errorf("memory (-want +got):\n%s", diff)
	}
}

func TestWriteFromReader(t *testing.T) {
	f, chip := newFlash(t)
	data := pattern(1000)
	n, err := f.Write(0x20080, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if n != len(data) {
		t.Errorf("Write = %d, want %d", n, len(data))
	}
	for _, c := range commands(chip) {
		if int(c.Addr)/nor.PageSize != (int(c.Addr)+c.Len-1)/nor.PageSize {
			t.Errorf("program at 0x%06X+%d crosses a page", c.Addr, c.Len)
		}
	}
	if err := f.Verify(0x20080, data); err != nil {
		t.Error(err)
	}
	sum, err := f.Checksum(0x20080, len(data))
	if err != nil {
		t.Fatal(err)
	}
	if sum != nor.Checksum(data) {
		t.Errorf("Checksum = %08X, want %08X", sum, nor.Checksum(data))
	}
}

func TestChecksumCRC32(t *testing.T) {
	// CRC-32/ISO-HDLC check value
	if got := nor.Checksum([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("Checksum = %08X, want CBF43926", got)
	}
}

func TestVerifyMismatch(t *testing.T) {
	f, chip := newFlash(t)
	chip.Memory[0x105] = 0x00
	err := f.Verify(0x100, bytes.Repeat([]byte{0xFF}, 16))
	if !errors.Is(err, nor.ErrVerify) {
		t.Fatalf("Verify err = %v, want ErrVerify", err)
	}
}

func TestEraseSplits(t *testing.T) {
	f, chip := newFlash(t)
	if err := f.Erase(0x1000, 0x20000); err != nil {
		t.Fatal(err)
	}
	var want []op
	for a := uint32(0x1000); a < 0x10000; a += nor.SubsectorSize {
		want = append(want, op{0x20, a, 0})
	}
	want = append(want, op{0xD8, 0x10000, 0}, op{0x20, 0x20000, 0})
	if diff := cmp.Diff(want, commands(chip)); diff != "" {
		t.Errorf("erase commands (-want +got):\n%s", diff)
	}
}

func TestEraseRoundsUp(t *testing.T) {
	f, chip := newFlash(t)
	if err := f.Erase(0x30000, 1); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]op{{0x20, 0x30000, 0}}, commands(chip)); diff != "" {
		t.Errorf("erase commands (-want +got):\n%s", diff)
	}
}

func TestEraseErrors(t *testing.T) {
	f, chip := newFlash(t)
	if err := f.Erase(0x800, 0x1000); !errors.Is(err, nor.ErrUnaligned) {
		t.Errorf("unaligned Erase err = %v", err)
	}
	if err := f.Erase(4<<20-0x1000, 0x2000); !errors.Is(err, nor.ErrOutOfRange) {
		t.Errorf("out of range Erase err = %v", err)
	}
	chip.FailErase = true
	if err := f.Erase(0, 0x1000); !errors.Is(err, nor.ErrEraseFailed) {
		t.Errorf("failing Erase err = %v", err)
	}
}

func TestProgramError(t *testing.T) {
	f, chip := newFlash(t)
	chip.FailProgram = true
	n, err := f.WriteAt(pattern(512), 0)
	if !errors.Is(err, bbflash.ErrProgram) {
		t.Fatalf("WriteAt err = %v, want ErrProgram", err)
	}
	if n != 0 {
		t.Errorf("WriteAt = %d after a failed first page", n)
	}
	if got := len(commands(chip)); got != 1 {
		t.Errorf("%d program commands, want 1", got)
	}
}

func TestReadAtEOF(t *testing.T) {
	f, chip := newFlash(t)
	copy(chip.Memory[4<<20-4:], []byte{1, 2, 3, 4})
	buf := make([]byte, 8)
	n, err := f.ReadAt(buf, 4<<20-4)
	if err != io.EOF {
		t.Errorf("ReadAt err = %v, want io.EOF", err)
	}
	if diff := cmp.Diff([]byte{1, 2, 3, 4}, buf[:n]); diff != "" {
		t.Errorf("ReadAt (-want +got):\n%s", diff)
	}
	if _, err := f.Read(4<<20-4, 8); !errors.Is(err, nor.ErrOutOfRange) {
		t.Errorf("Read past the end err = %v", err)
	}
}

func TestReadAtEndOf16MB(t *testing.T) {
	chip := flashsim.New(4096, [3]byte{0xEF, 0x70, 0x18})
	c := bbflash.New(chip.Bank(), bbflash.Config{})
	c.Open()
	f := nor.New(c, nil)
	if _, _, err := f.ReadID(); err != nil {
		t.Fatal(err)
	}
	chip.ResetLog()

	end := int64(f.Size())
	if n, err := f.ReadAt(make([]byte, 16), end); n != 0 || err != io.EOF {
		t.Errorf("ReadAt(size) = %d, %v, want 0, io.EOF", n, err)
	}
	if n, err := f.ReadAt(nil, end); n != 0 || err != nil {
		t.Errorf("ReadAt(nil, size) = %d, %v", n, err)
	}
	if got, err := f.Read(int(end), 0); err != nil || len(got) != 0 {
		t.Errorf("Read(size, 0) = %x, %v", got, err)
	}
	sr := io.NewSectionReader(f, end-4, 8)
	if _, err := io.ReadAll(sr); err != nil {
		t.Errorf("ReadAll of the last bytes: %v", err)
	}
	for _, tx := range chip.Transactions() {
		if addr, ok := tx.Addr(); ok && addr >= 1<<24 {
			t.Errorf("opcode 0x%02X sent with address 0x%X", tx.Opcode, addr)
		}
	}
}

func TestReadKeepsEraseOpcode(t *testing.T) {
	chip := flashsim.New(4<<20, idN25Q32)
	c := bbflash.New(chip.Bank(), bbflash.Config{})
	c.Open()
	f := nor.New(c, nil)
	if _, _, err := f.ReadID(); err != nil {
		t.Fatal(err)
	}
	if err := f.Erase(0x1000, 0x1000); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Read(0, 16); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ReadAt(make([]byte, 16), 0x100); err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0x5A}, 0x1000); err != nil {
		t.Fatal(err)
	}
	want := bbflash.Opcodes{Read: 0x03, Program: 0x02, Erase: 0x20}
	if got := c.Opcodes(); got != want {
		t.Errorf("opcodes after read and program = %+v, want %+v", got, want)
	}
}

func TestStatusRegisters(t *testing.T) {
	f, chip := newFlash(t)
	if err := f.WriteStatusRegister(0x1C); err != nil {
		t.Fatal(err)
	}
	sr, err := f.ReadStatusRegister()
	if err != nil {
		t.Fatal(err)
	}
	if sr.BlockProtect() != 7 || sr.WorkInProgress() {
		t.Errorf("status = %v", sr)
	}
	chip.FailProgram = true
	f.WriteAt([]byte{0}, 0)
	fsr, err := f.ReadFlagStatusRegister()
	if err != nil {
		t.Fatal(err)
	}
	if !fsr.ProgramError() {
		t.Errorf("flag status = %v, want PROGRAM_ERR", fsr)
	}
}

func TestConcurrentAccess(t *testing.T) {
	f, chip := newFlash(t)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := int64(i) * nor.SubsectorSize
			data := bytes.Repeat([]byte{byte(i)}, 64)
			if _, err := f.WriteAt(data, addr); err != nil {
				t.Error(err)
				return
			}
			buf := make([]byte, len(data))
			if _, err := f.ReadAt(buf, addr); err != nil {
				t.Error(err)
				return
			}
			if !bytes.Equal(buf, data) {
				t.Errorf("goroutine %d read back %x", i, buf[:4])
			}
		}(i)
	}
	wg.Wait()
	if chip.Selected() {
		t.Error("chip left selected")
	}
}

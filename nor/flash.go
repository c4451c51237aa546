// Package nor is the flash abstraction on top of a bbflash controller: it
// identifies the chip, splits programs at page boundaries, picks erase
// granularity and serializes access to the controller.
package nor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gentam/bbflash"
	"github.com/snksoft/crc"
)

// Controller is the operation set Flash drives.
type Controller interface {
	bbflash.Operations
	SetOpcodes(op bbflash.Opcodes)
}

var (
	ErrEraseFailed = errors.New("nor: erase failed")
	ErrUnaligned   = errors.New("nor: unaligned erase")
	ErrOutOfRange  = errors.New("nor: out of flash range")
	ErrVerify      = errors.New("nor: verify mismatch")
)

// Flash is a NOR flash chip behind a Controller. It is safe for concurrent
// use; every method holds the chip for its whole duration.
type Flash struct {
	mu   sync.Mutex
	ctrl Controller
	log  *slog.Logger
	id   [3]byte // JEDEC ID of the flash chip
	pr   *flashParams
}

// New returns a Flash driving ctrl. A nil logger discards logs.
func New(ctrl Controller, logger *slog.Logger) *Flash {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	f := &Flash{
		ctrl: ctrl,
		log:  logger,
	}
	f.setOpcodes(flashCmdErase64KB)
	return f
}

// ReadID returns the JEDEC ID of the flash chip and configures its parameters.
// It returns a non-empty name for known IDs. The extended device string is ignored.
func (f *Flash) ReadID() (id [3]byte, name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf, err := f.ctrl.ReadRegister(flashCmdReadID, 3)
	if err != nil {
		return
	}
	f.id = [3]byte(buf)
	f.pr = nil
	if params, ok := knownFlash[f.id]; ok {
		f.pr = &params
		name = params.name
		if !params.flagStatus {
			f.log.Warn("flash has no flag status register, program and erase errors may be misreported",
				slog.String("name", name))
		}
	}
	f.log.Debug("flash id", slog.String("id", fmt.Sprintf("%X", f.id)), slog.String("name", name))
	return f.id, name, nil
}

// Size returns the capacity of the identified chip, or the 24-bit address
// space when the chip is unknown.
func (f *Flash) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size()
}

func (f *Flash) ReadStatusRegister() (bbflash.StatusRegister, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.ctrl.ReadRegister(bbflash.OpReadStatus, 1)
	if err != nil {
		return 0, err
	}
	return bbflash.StatusRegister(b[0]), nil
}

func (f *Flash) ReadFlagStatusRegister() (bbflash.FlagStatusRegister, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.ctrl.ReadRegister(bbflash.OpReadFlagStatus, 1)
	if err != nil {
		return 0, err
	}
	return bbflash.FlagStatusRegister(b[0]), nil
}

// WriteStatusRegister writes the status register, e.g. to clear block protection.
func (f *Flash) WriteStatusRegister(sr bbflash.StatusRegister) error {
	const flashCmdWriteStatusRegister = 0x01
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctrl.WriteRegister(flashCmdWriteStatusRegister, []byte{byte(sr)})
}

func (f *Flash) checkRange(addr, n int) error {
	if addr < 0 || n < 0 || addr+n > f.size() {
		return fmt.Errorf("%w: 0x%X+%d (size 0x%X)", ErrOutOfRange, addr, n, f.size())
	}
	return nil
}

func (f *Flash) setOpcodes(erase byte) {
	f.ctrl.SetOpcodes(bbflash.Opcodes{
		Read:    flashCmdRead,
		Program: flashCmdPageProgram,
		Erase:   erase,
	})
}

// Read reads n bytes starting at addr.
func (f *Flash) Read(addr, n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkRange(addr, n); err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	return f.ctrl.Read(uint32(addr), n)
}

// ReadAt implements io.ReaderAt.
func (f *Flash) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	size := int64(f.size())
	if off < 0 || off > size {
		return 0, fmt.Errorf("%w: offset 0x%X", ErrOutOfRange, off)
	}
	n := len(p)
	if rem := size - off; int64(n) > rem {
		n = int(rem)
	}
	if n == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	data, err := f.ctrl.Read(uint32(off), n)
	copy(p, data)
	if err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt programs p at off, splitting it at page boundaries. The range
// must have been erased.
func (f *Flash) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off > int64(f.size()) {
		return 0, fmt.Errorf("%w: offset 0x%X", ErrOutOfRange, off)
	}
	if err := f.checkRange(int(off), len(p)); err != nil {
		return 0, err
	}
	return f.program(int(off), p)
}

func (f *Flash) program(addr int, data []byte) (int, error) {
	written := 0
	for len(data) > 0 {
		chunk := min(len(data), pageRemain(addr))
		n, err := f.ctrl.Write(uint32(addr), data[:chunk])
		written += n
		if err != nil {
			return written, fmt.Errorf("program page at 0x%06X: %w", addr, err)
		}
		addr += chunk
		data = data[chunk:]
	}
	return written, nil
}

// Write programs everything read from r starting at addr and returns the
// number of bytes programmed. The range must have been erased.
func (f *Flash) Write(addr int, r io.Reader) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := [PageSize]byte{}
	total := 0
	for {
		// fill up to the end of the current page
		n, err := io.ReadFull(r, buf[:pageRemain(addr)])
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return total, err
		}
		if n == 0 {
			break
		}
		if err := f.checkRange(addr, n); err != nil {
			return total, err
		}
		w, perr := f.program(addr, buf[:n])
		total += w
		if perr != nil {
			return total, perr
		}
		addr += n
		if err != nil {
			break
		}
	}
	f.log.Debug("flash written", slog.Int("bytes", total))
	return total, nil
}

// Erase erases the size bytes starting from baseAddr, rounded up to whole
// subsectors, using 64KB sectors wherever the range covers one.
func (f *Flash) Erase(baseAddr, size int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if baseAddr != alignDown(baseAddr, SubsectorSize) {
		return fmt.Errorf("%w: 0x%X is not on a %d byte boundary", ErrUnaligned, baseAddr, SubsectorSize)
	}
	size = alignUp(size, SubsectorSize)
	if err := f.checkRange(baseAddr, size); err != nil {
		return err
	}

	addr := baseAddr
	end := baseAddr + size
	for addr < end {
		op, step := byte(flashCmdErase4KB), SubsectorSize
		if addr == alignDown(addr, SectorSize) && end-addr >= SectorSize {
			op, step = flashCmdErase64KB, SectorSize
		}
		if err := f.eraseOne(op, addr); err != nil {
			return err
		}
		addr += step
	}
	return nil
}

func (f *Flash) eraseOne(op byte, addr int) error {
	f.setOpcodes(op)
	failed, err := f.ctrl.Erase(uint32(addr))
	if err != nil {
		return fmt.Errorf("erase at 0x%06X: %w", addr, err)
	}
	if failed {
		return fmt.Errorf("%w at 0x%06X", ErrEraseFailed, addr)
	}
	f.log.Debug("erased", slog.Int("addr", addr), slog.Int("op", int(op)))
	return nil
}

var crcTable = crc.NewTable(crc.CRC32)

// Checksum returns the CRC-32 of n bytes starting at addr.
func (f *Flash) Checksum(addr, n int) (uint32, error) {
	data, err := f.Read(addr, n)
	if err != nil {
		return 0, err
	}
	return Checksum(data), nil
}

// Checksum returns the CRC-32 of data, as reported by Flash.Checksum.
func Checksum(data []byte) uint32 {
	h := crc.NewHashWithTable(crcTable)
	h.Update(data)
	return h.CRC32()
}

// Verify reads back len(data) bytes at addr and compares them with data.
func (f *Flash) Verify(addr int, data []byte) error {
	got, err := f.Read(addr, len(data))
	if err != nil {
		return err
	}
	if !bytes.Equal(data, got) {
		i := 0
		for data[i] == got[i] {
			i++
		}
		return fmt.Errorf("%w at 0x%06X: crc %08X, want %08X", ErrVerify, addr+i, Checksum(got), Checksum(data))
	}
	return nil
}

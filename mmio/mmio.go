// Package mmio maps the bitbang CSRs of a LiteX spiflash core from
// physical memory.
//
// LiteX places every 8-bit CSR in its own 32-bit word, so the registers sit
// at offsets 0x0, 0x4 and 0x8 from the core base.
package mmio

import (
	"fmt"
	"sync/atomic"

	"github.com/gentam/bbflash"
	"periph.io/x/host/v3/pmem"
)

const mapSize = 0x10

// Bank is a mapped register block.
type Bank struct {
	view *pmem.View
	regs []uint32
	base uint64
}

// Open maps the CSR block at the physical address base. It needs
// permission to open /dev/mem.
func Open(base uint64) (*Bank, error) {
	v, err := pmem.Map(base, mapSize)
	if err != nil {
		return nil, fmt.Errorf("failed to map 0x%X: %w", base, err)
	}
	return newBank(v, v.Uint32(), base), nil
}

func newBank(v *pmem.View, regs []uint32, base uint64) *Bank {
	return &Bank{view: v, regs: regs, base: base}
}

// Registers returns the control, input and enable registers.
func (b *Bank) Registers() bbflash.Bank {
	return bbflash.Bank{
		Control: csr{&b.regs[bbflash.OffsetControl/4]},
		Input:   csr{&b.regs[bbflash.OffsetInput/4]},
		Enable:  csr{&b.regs[bbflash.OffsetEnable/4]},
	}
}

// Base returns the physical base address.
func (b *Bank) Base() uint64 { return b.base }

// Close unmaps the registers.
func (b *Bank) Close() error {
	if b.view == nil {
		return nil
	}
	err := b.view.Close()
	b.view = nil
	return err
}

// csr is one 8-bit CSR. Accesses go through sync/atomic so every Read and
// Write reaches the bus.
type csr struct{ p *uint32 }

func (r csr) Read() byte   { return byte(atomic.LoadUint32(r.p)) }
func (r csr) Write(v byte) { atomic.StoreUint32(r.p, uint32(v)) }

package nor

import "golang.org/x/exp/constraints"

type flashParams struct {
	name string
	size int
	// flagStatus is set for parts with a flag status register (0x70).
	// The controller reads it after every program and erase.
	flagStatus bool
}

var (
	flashIDMicronN25Q32   = [3]byte{0x20, 0xBA, 0x16}
	flashIDMicronN25Q128  = [3]byte{0x20, 0xBA, 0x18}
	flashIDMicronMT25QL   = [3]byte{0x20, 0xBA, 0x19}
	flashIDWinbondW25Q128 = [3]byte{0xEF, 0x70, 0x18}
)

var knownFlash = map[[3]byte]flashParams{
	flashIDMicronN25Q32: {
		name:       "Micron N25Q 32Mb",
		size:       4 << 20,
		flagStatus: true,
	},
	flashIDMicronN25Q128: {
		name:       "Micron N25Q 128Mb",
		size:       16 << 20,
		flagStatus: true,
	},
	flashIDMicronMT25QL: {
		// 256Mb part, only the lower 16MB is reachable with 3-byte addresses
		name:       "Micron MT25QL 256Mb",
		size:       16 << 20,
		flagStatus: true,
	},
	flashIDWinbondW25Q128: {
		name: "Winbond W25Q 128Mb",
		size: 16 << 20,
	},
}

// Geometry shared by every supported part.
const (
	PageSize      = 256
	SectorSize    = 64 << 10 // 64KB
	SubsectorSize = 4 << 10  // 4KB

	addrSpace = 1 << 24
)

// Erase opcodes. [N25Q32|Table 16: Command Set] / [W25Q128|8.1.2 Instruction Set Table 1]
const (
	flashCmdRead        = 0x03
	flashCmdPageProgram = 0x02
	flashCmdErase4KB    = 0x20 // Subsector Erase / Sector Erase (4KB)
	flashCmdErase64KB   = 0xD8 // Sector Erase / Block Erase (64KB)
	flashCmdReadID      = 0x9F
)

func (f *Flash) size() int {
	if f.pr != nil {
		return f.pr.size
	}
	return addrSpace
}

func alignDown[T constraints.Integer](v, align T) T {
	return v &^ (align - 1)
}

func alignUp[T constraints.Integer](v, align T) T {
	return alignDown(v+align-1, align)
}

// pageRemain returns the number of bytes from addr to the end of its page.
func pageRemain(addr int) int {
	return PageSize - addr&(PageSize-1)
}

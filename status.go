package bbflash

import (
	"fmt"
	"strings"
)

// Status flag masks.
const (
	StatusWorkInProgress = 1 << 0 // status register, opcode 0x05

	FlagProgramError = 1 << 4 // flag status register, opcode 0x70
	FlagEraseError   = 1 << 5
	FlagEraseBusy    = 1 << 7
)

// StatusRegister represents the status register of the flash chip.
//
//	Bits| [N25Q32|Table 9]                     | [W25Q128|7.1 Status Registers]
//	----+--------------------------------------+-------------------------------
//	7   | Status register write enable/disable | SRP: Status Register Protect
//	6   | Reserved                             | SEC: Sector protect
//	5   | Top/bottom                           | TB: Top/Bottom protect
//	4:2 | Block protect 2-0                    | BP2-0: Block Protect bit 2-0
//	1   | Write enable latch                   | WEL: Write Enable Latch
//	0   | Write in progress                    | BUSY: Erase/Write in progress
type StatusRegister byte

func (sr StatusRegister) StatusRegisterProtect() bool { return sr&(1<<7) != 0 }
func (sr StatusRegister) TopBottom() bool             { return sr&(1<<5) != 0 }
func (sr StatusRegister) BlockProtect() byte          { return byte(sr>>2) & 0x7 }
func (sr StatusRegister) WriteEnabled() bool          { return sr&(1<<1) != 0 }
func (sr StatusRegister) WorkInProgress() bool        { return sr&StatusWorkInProgress != 0 }

func (sr StatusRegister) String() string {
	b := fmt.Sprintf("%08b", byte(sr))
	s := []string{}
	if sr.StatusRegisterProtect() {
		s = append(s, "SRP")
	}
	if sr.TopBottom() {
		s = append(s, "TB")
	}
	if bp := sr.BlockProtect(); bp != 0 {
		s = append(s, fmt.Sprintf("BP=%d", bp))
	}
	if sr.WriteEnabled() {
		s = append(s, "WEL")
	}
	if sr.WorkInProgress() {
		s = append(s, "WIP")
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}

// FlagStatusRegister represents the flag status register of the flash chip.
//
//	Bits| Meaning as polled by the controller
//	----+------------------------------------
//	7   | Erase busy
//	5   | Erase error
//	4   | Program error
//
// [N25Q128|Flag Status Register]
type FlagStatusRegister byte

func (fsr FlagStatusRegister) EraseBusy() bool    { return fsr&FlagEraseBusy != 0 }
func (fsr FlagStatusRegister) EraseError() bool   { return fsr&FlagEraseError != 0 }
func (fsr FlagStatusRegister) ProgramError() bool { return fsr&FlagProgramError != 0 }

func (fsr FlagStatusRegister) String() string {
	b := fmt.Sprintf("%08b", byte(fsr))
	s := []string{}
	if fsr.EraseBusy() {
		s = append(s, "ERASE_BUSY")
	}
	if fsr.EraseError() {
		s = append(s, "ERASE_ERR")
	}
	if fsr.ProgramError() {
		s = append(s, "PROGRAM_ERR")
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}

// Package bbflash drives a serial NOR flash chip by bit-banging its clock,
// chip-select and data lines through a small bank of byte-wide control
// registers, as exposed by the LiteX spiflash core in bitbang mode.
//
// The Controller turns register reads, data reads, page programs and
// erases into individual clock edges and bounds program/erase completion
// with status polling. It performs no locking: callers serialize access to
// one Controller (see package nor).
//
// # References:
//
// LiteX
//   - [LiteX-spiflash]: LiteX SPI flash core, bitbang CSRs (https://github.com/enjoy-digital/litex/blob/master/litex/soc/cores/spi_flash.py)
//
// SPI Flash
//   - [N25Q128]: Micron N25Q128A Serial NOR Flash Memory datasheet
//   - [N25Q32]: N25Q032A Micron Serial NOR Flash Memory datasheet (could not find the official public URL)
//   - [W25Q128]: W25Q128JV-DTR Winbond Serial Flash Memory (https://www.winbond.com/resource-files/W25Q128JV_DTR%20RevD%2012232024%20Plus.pdf)
package bbflash

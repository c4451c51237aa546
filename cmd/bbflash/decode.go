package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
)

// decodeCommand turns Saleae binary digital exports of the chip select,
// clock and data lines into one line per flash transaction. Runs of
// identical transactions, such as status polls, are printed once with a
// repeat count.
func decodeCommand(args []string) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	var (
		csFile, clkFile, dataFile string
		output                    string
		timings                   bool
	)
	fs.StringVar(&csFile, "f-cs", "digital_0.bin", "input filename: chip select")
	fs.StringVar(&clkFile, "f-clk", "digital_1.bin", "input filename: clock")
	fs.StringVar(&dataFile, "f-data", "digital_2.bin", "input filename: data line")
	fs.StringVar(&output, "o", "", "output file (default: stdout)")
	fs.BoolVar(&timings, "t", false, "prefix each line with the capture time in seconds")
	fs.Parse(args)

	flashTxs, err := decodeFiles(csFile, clkFile, dataFile)
	if err != nil {
		fatalf("%v", err)
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			fatalf("%v", err)
		}
		defer f.Close()
		w = f
	}
	bw := bufio.NewWriter(w)
	for _, tx := range collapse(flashTxs) {
		if timings {
			fmt.Fprintf(bw, "t=%f\t", tx.Start)
		}
		fmt.Fprintf(bw, "cmd×%-3d %s\n", tx.Num, describe(tx.Bytes))
	}
	if err := bw.Flush(); err != nil {
		fatalf("%v", err)
	}
	logger.Debug("decoded capture", "transactions", len(flashTxs))
}

// decodeFiles reads the three digital exports and splits them into chip
// select bracketed transactions.
func decodeFiles(csFile, clkFile, dataFile string) ([]flashTx, error) {
	cs, err := openDigital(csFile)
	if err != nil {
		return nil, err
	}
	clk, err := openDigital(clkFile)
	if err != nil {
		return nil, err
	}
	data, err := openDigital(dataFile)
	if err != nil {
		return nil, err
	}

	spi := analyzers.SPI{}
	txs, _ := spi.Scan(clk, cs, data, data)
	flashTxs := make([]flashTx, len(txs))
	for i, tx := range txs {
		flashTxs[i] = flashTx{Num: 1, Start: tx.StartTime(), Bytes: tx.SDO}
	}
	return flashTxs, nil
}

func openDigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return saleae.ReadDigitalFile(fp)
}

type flashTx struct {
	Num   int
	Start float64
	Bytes []byte
}

// collapse merges runs of identical transactions into the first of the run.
func collapse(txs []flashTx) []flashTx {
	var out []flashTx
	for _, tx := range txs {
		if n := len(out); n > 0 && bytes.Equal(out[n-1].Bytes, tx.Bytes) {
			out[n-1].Num += tx.Num
			continue
		}
		out = append(out, tx)
	}
	return out
}

type flashOp struct {
	name string
	addr bool
}

// [n25q_32mb_3v_65nm.pdf|Table 16: Command Set]
var flashOps = map[byte]flashOp{
	0x01: {"WRSR", false},
	0x02: {"PP", true},
	0x03: {"READ", true},
	0x04: {"WRDI", false},
	0x05: {"RDSR", false},
	0x06: {"WREN", false},
	0x20: {"SSE", true},
	0x50: {"CLFSR", false},
	0x70: {"RFSR", false},
	0x9F: {"RDID", false},
	0xC7: {"BE", false},
	0xD8: {"SE", true},
}

const maxShown = 16

// describe formats the bytes of one transaction, opcode first.
func describe(b []byte) string {
	if len(b) == 0 {
		return "(empty)"
	}
	op, ok := flashOps[b[0]]
	if !ok {
		op.name = fmt.Sprintf("0x%02X", b[0])
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-5s", op.name)
	data := b[1:]
	if op.addr {
		if len(data) < 3 {
			fmt.Fprintf(&sb, " addr=%x (truncated)", data)
			return sb.String()
		}
		addr := uint32(data[0])<<16 | uint32(data[1])<<8 | uint32(data[2])
		fmt.Fprintf(&sb, " addr=0x%06X", addr)
		data = data[3:]
	}
	if len(data) == 0 {
		return sb.String()
	}
	fmt.Fprintf(&sb, " len=%d data=", len(data))
	if len(data) > maxShown {
		fmt.Fprintf(&sb, "%x...", data[:maxShown])
	} else {
		fmt.Fprintf(&sb, "%x", data)
	}
	return sb.String()
}

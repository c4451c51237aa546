package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/gentam/bbflash/nor"
)

func readCommand(args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	var (
		addr    int
		nread   int
		outFile string
	)
	df := addDeviceFlags(fs)
	fs.IntVar(&addr, "addr", 0, "start address")
	fs.IntVar(&nread, "n", 256, "number of bytes to read (0 reads to the end of the flash)")
	fs.StringVar(&outFile, "o", "", "output file (default: hexdump)")
	fs.Parse(args)

	var data []byte
	err := withDevice(df, func(d *device) error {
		if nread == 0 {
			nread = d.Flash.Size() - addr
		}
		var err error
		data, err = d.Flash.Read(addr, nread)
		if err != nil {
			return fmt.Errorf("read flash failed: %w", err)
		}
		return nil
	})
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Fprintf(os.Stderr, "read %d bytes at 0x%06X, crc32 %08X\n", len(data), addr, nor.Checksum(data))
	if outFile == "" {
		fmt.Println(hex.Dump(data))
		return
	}
	if err := os.WriteFile(outFile, data, 0644); err != nil {
		fatalf("write file failed: %v", err)
	}
}

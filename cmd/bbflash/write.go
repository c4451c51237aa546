package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"github.com/gentam/bbflash/nor"
)

func writeCommand(args []string) {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	var (
		filename string
		addr     int
		noErase  bool
		noVerify bool
	)
	df := addDeviceFlags(fs)
	fs.StringVar(&filename, "f", "", "input file")
	fs.IntVar(&addr, "addr", 0, "start address")
	fs.BoolVar(&noErase, "no-erase", false, "skip erasing the range before programming")
	fs.BoolVar(&noVerify, "no-verify", false, "skip reading back the programmed range")
	fs.Parse(args)

	if filename == "" {
		fatalUsage("input file is required")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		fatalf("failed to read file: %v", err)
	}

	err = withDevice(df, func(d *device) error {
		return writeImage(d.Flash, addr, data, !noErase, !noVerify)
	})
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Fprintf(os.Stderr, "wrote %d bytes at 0x%06X, crc32 %08X\n", len(data), addr, nor.Checksum(data))
}

// writeImage optionally erases the range of data at addr, programs it and
// optionally reads it back.
func writeImage(f *nor.Flash, addr int, data []byte, erase, verify bool) error {
	if erase {
		if err := f.Erase(addr, len(data)); err != nil {
			return fmt.Errorf("erase flash failed: %w", err)
		}
	}
	n, err := f.Write(addr, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("write flash failed after %d bytes: %w", n, err)
	}
	if verify {
		return f.Verify(addr, data)
	}
	return nil
}

func eraseCommand(args []string) {
	fs := flag.NewFlagSet("erase", flag.ExitOnError)
	var addr, size int
	df := addDeviceFlags(fs)
	fs.IntVar(&addr, "addr", 0, "start address, 4KB aligned")
	fs.IntVar(&size, "size", 0, "number of bytes to erase, rounded up to 4KB (0 erases to the end of the flash)")
	fs.Parse(args)

	err := withDevice(df, func(d *device) error {
		if size == 0 {
			size = d.Flash.Size() - addr
		}
		if err := d.Flash.Erase(addr, size); err != nil {
			return fmt.Errorf("erase flash failed: %w", err)
		}
		return nil
	})
	if err != nil {
		fatalf("%v", err)
	}
}

func verifyCommand(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	var (
		filename string
		addr     int
	)
	df := addDeviceFlags(fs)
	fs.StringVar(&filename, "f", "", "file to compare with")
	fs.IntVar(&addr, "addr", 0, "start address")
	fs.Parse(args)

	if filename == "" {
		fatalUsage("input file is required")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		fatalf("failed to read file: %v", err)
	}

	err = withDevice(df, func(d *device) error {
		return d.Flash.Verify(addr, data)
	})
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Fprintf(os.Stderr, "verified %d bytes at 0x%06X, crc32 %08X\n", len(data), addr, nor.Checksum(data))
}

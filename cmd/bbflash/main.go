package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/gentam/bbflash"
)

var logger *slog.Logger

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func fatalUsage(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(2)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
	bbflash [-v] [-vv] <command> [arguments]

Commands:
	info	 print flash ID and size
	status	 print status and flag status registers
	read	 read flash memory
	write	 erase, program and verify flash memory
	erase	 erase flash memory
	verify	 compare flash memory with a file
	decode	 decode a logic analyzer capture of the flash bus

Run "bbflash <command> -h" for the arguments of a command.
`)
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	verbose := flag.Bool("v", false, "log debug messages")
	trace := flag.Bool("vv", false, "log every status poll")
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
	}

	level := slog.LevelInfo
	switch {
	case *trace:
		level = bbflash.LevelTrace
	case *verbose:
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	args := flag.Args()[1:]
	switch cmd := flag.Arg(0); cmd {
	case "info":
		infoCommand(args)
	case "status":
		statusCommand(args)
	case "read":
		readCommand(args)
	case "write":
		writeCommand(args)
	case "erase":
		eraseCommand(args)
	case "verify":
		verifyCommand(args)
	case "decode":
		decodeCommand(args)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %q\n", cmd)
		usage()
	}
}

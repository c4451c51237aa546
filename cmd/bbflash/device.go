package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gentam/bbflash"
	"github.com/gentam/bbflash/gpiobank"
	"github.com/gentam/bbflash/internal/flashsim"
	"github.com/gentam/bbflash/mmio"
	"github.com/gentam/bbflash/nor"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// deviceFlags select and configure the register backend.
type deviceFlags struct {
	backend  string
	base     uint64
	rate     physic.Frequency
	poll     time.Duration
	lock     string
	simImage string
}

func addDeviceFlags(fs *flag.FlagSet) *deviceFlags {
	df := &deviceFlags{}
	fs.StringVar(&df.backend, "backend", "mem", "register backend: mem, ftdi or sim")
	fs.Uint64Var(&df.base, "base", 0, "physical base address of the bitbang CSRs (mem)")
	fs.Var(&df.rate, "rate", "maximum clock rate, e.g. 1MHz (ftdi, default unpaced)")
	fs.DurationVar(&df.poll, "poll", 0, "sleep between status polls")
	fs.StringVar(&df.lock, "lock", "/tmp/bbflash.lock", "lock file serializing access to the flash (empty disables)")
	fs.StringVar(&df.simImage, "sim-image", "", "file backing the simulated flash (sim)")
	return df
}

var newSimChip = func() *flashsim.Chip {
	chip := flashsim.New(4<<20, [3]byte{0x20, 0xBA, 0x16})
	chip.ProgramPolls = 2
	chip.ErasePolls = 3
	return chip
}

type device struct {
	Flash   *nor.Flash
	ftdi    *gpiobank.Device
	closers []func() error
}

// openDevice locks the flash, opens the backend and the controller. Close
// releases them in reverse order.
func openDevice(df *deviceFlags) (*device, error) {
	d := &device{}
	if df.lock != "" {
		unlock, err := lockFile(df.lock)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, unlock)
	}

	regs, err := d.openBackend(df)
	if err != nil {
		d.Close()
		return nil, err
	}

	ctrl := bbflash.New(regs, bbflash.Config{
		PollInterval: df.poll,
		Logger:       logger,
	})
	d.closers = append(d.closers, ctrl.Close)
	if err := ctrl.Open(); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to open controller: %w", err)
	}
	d.Flash = nor.New(ctrl, logger)
	return d, nil
}

func (d *device) openBackend(df *deviceFlags) (bbflash.Bank, error) {
	switch df.backend {
	case "mem":
		if df.base == 0 {
			return bbflash.Bank{}, errors.New("-base is required for the mem backend")
		}
		b, err := mmio.Open(df.base)
		if err != nil {
			return bbflash.Bank{}, err
		}
		d.closers = append(d.closers, b.Close)
		return b.Registers(), nil

	case "ftdi":
		dev, err := gpiobank.OpenFT232H(df.rate)
		if err != nil {
			return bbflash.Bank{}, err
		}
		// prevent FPGA from acting as a SPI master
		if err := dev.ResetFPGA(gpio.Low); err != nil {
			return bbflash.Bank{}, fmt.Errorf("failed to hold FPGA reset: %w", err)
		}
		d.ftdi = dev
		d.closers = append(d.closers, func() error { return dev.ResetFPGA(gpio.High) })
		return dev.Bank.Registers(), nil

	case "sim":
		chip := newSimChip()
		if df.simImage != "" {
			img, err := os.ReadFile(df.simImage)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return bbflash.Bank{}, err
			}
			copy(chip.Memory, img)
			d.closers = append(d.closers, func() error {
				return os.WriteFile(df.simImage, chip.Memory, 0644)
			})
		}
		return chip.Bank(), nil
	}
	return bbflash.Bank{}, fmt.Errorf("unknown backend %q", df.backend)
}

func (d *device) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	d.closers = nil
	return errors.Join(errs...)
}

// withDevice opens the device and its flash chip, warning about unknown
// IDs, and runs fn. The device is closed before withDevice returns, also
// when fn fails, so the controller always leaves bitbang mode.
func withDevice(df *deviceFlags, fn func(d *device) error) (err error) {
	d, err := openDevice(df)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := d.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close device: %w", cerr)
		}
	}()

	id, name, err := d.Flash.ReadID()
	if err != nil {
		return fmt.Errorf("read flash ID failed: %w", err)
	}
	if name == "" {
		fmt.Fprintf(os.Stderr, "unknown flash ID (%X)\n", id)
	}
	return fn(d)
}

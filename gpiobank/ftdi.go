package gpiobank

import (
	"errors"
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

// Device is an FT2232H/FT232H board whose D-bus pins are wired to an SPI
// flash, such as the iCEstick or iCEBreaker.
type Device struct {
	FTDI *ftdi.FT232H
	Bank *Bank

	reset gpio.PinIO // ADBUS7 Reset
	cdone gpio.PinIO // ADBUS6 Done
}

var hostInitialized atomic.Bool

// OpenFT232H finds the FT2232H device and drives its D-bus pins as GPIO.
func OpenFT232H(rate physic.Frequency) (*Device, error) {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("host initialization failed: %w", err)
		}
	}

	ft, err := findFT2232H()
	if err != nil {
		return nil, err
	}

	// [EB82|Appendix A. Sheet 2 of 5 (USB to SPI/RS232)] / [icebreaker-sch.pdf]
	// ADBUS0 | iCE_SCK
	// ADBUS1 | iCE_MOSI / FLASH_MOSI
	// ADBUS2 | iCE_MISO / FLASH_MISO
	// ADBUS4 | iCE_SS_B
	// ADBUS6 | iCE_CDONE
	// ADBUS7 | iCE_CRESET / iCE_RESET
	d := &Device{
		FTDI:  ft,
		reset: ft.D7,
		cdone: ft.D6,
	}
	d.Bank = New(Pins{
		Clock:      ft.D0,
		DataOut:    ft.D1,
		DataIn:     ft.D2,
		ChipSelect: ft.D4,
	}, rate)
	return d, nil
}

// ResetFPGA asserts (low) or deasserts (high) the FPGA reset line. Hold it
// low while accessing the flash so the FPGA does not act as an SPI master.
func (d *Device) ResetFPGA(l gpio.Level) error {
	return d.reset.Out(l)
}

// Done reports the FPGA configuration done line.
func (d *Device) Done() gpio.Level {
	return d.cdone.Read()
}

func findFT2232H() (*ftdi.FT232H, error) {
	const (
		vendorID  = 0x0403 // FTDI
		productID = 0x6010 // FT2232H
	)

	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		dev.Info(&info)
		if info.VenID != vendorID || info.DevID != productID {
			continue
		}
		if ft, ok := dev.(*ftdi.FT232H); ok {
			return ft, nil
		}
	}

	return nil, errors.New("FT2232H device not found")
}

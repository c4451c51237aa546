package main

import (
	"flag"
	"fmt"

	"periph.io/x/host/v3/ftdi"
)

func infoCommand(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	df := addDeviceFlags(fs)
	fs.Parse(args)

	if err := withDevice(df, printInfo); err != nil {
		fatalf("%v", err)
	}
}

func printInfo(d *device) error {
	if d.ftdi != nil {
		printFTDI(d.ftdi.FTDI)
	}

	id, name, err := d.Flash.ReadID()
	if err != nil {
		return fmt.Errorf("read flash ID failed: %w", err)
	}
	if name == "" {
		name = "unknown"
	}
	fmt.Printf("Flash ID:        %X\n", id)
	fmt.Printf("Flash:           %s\n", name)
	fmt.Printf("Size:            %d bytes\n", d.Flash.Size())
	return nil
}

// Reference: https://github.com/periph/cmd/tree/main/ftdi-list
func printFTDI(ft *ftdi.FT232H) {
	i := ftdi.Info{}
	ft.Info(&i)
	fmt.Printf("Type:            %s\n", i.Type)
	fmt.Printf("Vendor ID:       %#04x\n", i.VenID)
	fmt.Printf("Device ID:       %#04x\n", i.DevID)

	ee := ftdi.EEPROM{}
	if err := ft.EEPROM(&ee); err != nil {
		fmt.Printf("EEPROM:          %v\n", err)
		return
	}
	fmt.Printf("Manufacturer:    %s\n", ee.Manufacturer)
	fmt.Printf("Desc:            %s\n", ee.Desc)
	fmt.Printf("Serial:          %s\n", ee.Serial)
}

func statusCommand(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	df := addDeviceFlags(fs)
	fs.Parse(args)

	if err := withDevice(df, printStatus); err != nil {
		fatalf("%v", err)
	}
}

func printStatus(d *device) error {
	sr, err := d.Flash.ReadStatusRegister()
	if err != nil {
		return fmt.Errorf("read flash status register failed: %w", err)
	}
	fmt.Println("SR: ", sr)

	fsr, err := d.Flash.ReadFlagStatusRegister()
	if err != nil {
		return fmt.Errorf("read flash flag status register failed: %w", err)
	}
	fmt.Println("FSR:", fsr)
	return nil
}

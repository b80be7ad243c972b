package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Station-Manager/dmm"
	"github.com/Station-Manager/types"
	bugst "go.bug.st/serial"
)

func main() {
	device := flag.String("device", "/dev/ttyUSB0", "serial device path")
	baud := flag.Int("baud", 9600, "baud rate")
	dataBits := flag.Int("databits", 8, "data bits")
	parity := flag.String("parity", "N", "parity (N,E,O)")
	stopBits := flag.Int("stopbits", 1, "stop bits (1 or 2)")
	settle := flag.Duration("settle", time.Second, "settle delay after instrument reset")
	timeout := flag.Duration("timeout", 5*time.Second, "timeout per command round trip")
	readings := flag.Int("readings", 3, "number of single-shot voltage readings")

	flag.Parse()

	cfg := &dmm.SessionConfig{
		Serial: types.SerialConfig{
			PortName:    *device,
			BaudRate:    *baud,
			DataBits:    *dataBits,
			ReadTimeout: *timeout,
		},
		SettleDelay:    *settle,
		CommandTimeout: *timeout,
	}

	// map parity
	switch strings.ToUpper(*parity) {
	case "N":
		cfg.Serial.Parity = bugst.NoParity
	case "E":
		cfg.Serial.Parity = bugst.EvenParity
	case "O":
		cfg.Serial.Parity = bugst.OddParity
	default:
		log.Fatalf("unsupported parity %q (use N,E,O)", *parity)
	}

	// map stop bits
	switch *stopBits {
	case 1:
		cfg.Serial.StopBits = bugst.OneStopBit
	case 2:
		cfg.Serial.StopBits = bugst.TwoStopBits
	default:
		log.Fatalf("unsupported stopbits %d (use 1 or 2)", *stopBits)
	}

	session, err := dmm.NewSession(cfg)
	if err != nil {
		log.Fatalf("session: %v", err)
	}

	if err := run(session, *timeout, *readings); err != nil {
		log.Printf("error: %v", err)
	}

	// Always release the port, even after a failed sequence.
	if err := session.Disconnect(); err != nil {
		log.Printf("disconnect: %v", err)
	}
}

func run(session *dmm.Session, timeout time.Duration, readings int) error {
	log.Printf("connecting...")
	if err := session.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	id, err := session.ReadIdentity(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	fmt.Println("instrument:", id)

	ctx, cancel = context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// DC volts, autorange, slow-and-accurate integration.
	if err := session.ConfigureMeasurement(ctx, "DCV", dmm.RangeAuto); err != nil {
		return fmt.Errorf("configure DCV: %w", err)
	}
	if err := session.SetIntegrationTime(ctx, 10); err != nil {
		return fmt.Errorf("set NPLC: %w", err)
	}
	nplc, err := session.GetIntegrationTime(ctx)
	if err != nil {
		return fmt.Errorf("read NPLC: %w", err)
	}
	fmt.Println("integration time (PLC):", nplc)

	for i := 0; i < readings; i++ {
		rctx, rcancel := context.WithTimeout(context.Background(), timeout)
		v, err := session.ReadSingleValue(rctx)
		rcancel()
		if err != nil {
			return fmt.Errorf("reading %d: %w", i+1, err)
		}
		fmt.Printf("reading %d: %g V\n", i+1, v)
		time.Sleep(500 * time.Millisecond)
	}

	// Two-wire resistance with a fast integration for comparison.
	octx, ocancel := context.WithTimeout(context.Background(), timeout)
	defer ocancel()

	if err := session.ConfigureMeasurement(octx, "OHM", dmm.RangeAuto); err != nil {
		return fmt.Errorf("configure OHM: %w", err)
	}
	if err := session.SetIntegrationTime(octx, 1); err != nil {
		return fmt.Errorf("set NPLC: %w", err)
	}
	ohm, err := session.ReadSingleValue(octx)
	if err != nil {
		return fmt.Errorf("resistance reading: %w", err)
	}
	fmt.Printf("resistance: %g Ohm\n", ohm)

	return nil
}

// The twr-anchor command runs the single-antenna ranging responder.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/ETH-PBL/UWB-DualAntenna-AoA/node"
)

func main() {
	cfgPath := pflag.StringP("config", "c", "", "YAML configuration file")
	serialPort := pflag.String("serial", "", "telemetry UART device (default stdout)")
	baud := pflag.Int("baud", 0, "UART baud rate")
	pflag.Parse()

	cfg := node.AnchorConfig()
	if *cfgPath != "" {
		if err := node.Load(*cfgPath, &cfg); err != nil {
			log.Fatal("config failed", "err", err)
		}
	}
	if *serialPort != "" {
		cfg.Serial.Port = *serialPort
	}
	if *baud != 0 {
		cfg.Serial.Baud = *baud
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := node.RunAnchor(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("anchor failed", "err", err)
	}
}

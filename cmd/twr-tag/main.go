// The twr-tag command runs the dual-antenna ranging tag: it initiates
// the four-frame exchanges, computes the range and streams the
// per-round measurements over the serial link.
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
	bare := pflag.Bool("bare", false, "minimal tag: range without measurement collection")
	rotate := pflag.Bool("rotate", false, "sweep the antenna between rounds")
	pflag.Parse()

	cfg := node.DataTagConfig()
	if *bare {
		cfg = node.BareTagConfig()
	}
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
	if *rotate {
		cfg.Rotate.Enabled = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := node.RunTag(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("tag failed", "err", err)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	camera "github.com/mpoegel/apis-edge/pkg/camera"
	capture "github.com/mpoegel/apis-edge/pkg/capture"
	collect "github.com/mpoegel/apis-edge/pkg/collect"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		fmt.Println("missing command: [capture, probe, collect]")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		s := <-sig
		slog.Info("shutdown_requested", "signal", s.String())
		cancel()
	}()

	var err error
	switch args[0] {
	case "capture":
		err = capture.Run(ctx, args[1:])
	case "probe":
		err = camera.Run(ctx, args[1:])
	case "collect":
		err = collect.Run(ctx, args[1:])
	default:
		err = fmt.Errorf("unknown command: %s", args[0])
	}

	if err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

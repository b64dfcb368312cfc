// Package main starts the poker real-time service and handles termination.
//
// The process is a transport adapter around estimation room lifecycle and
// vote fan-out; round state is owned by the engine and its store.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	pokercmd "github.com/planningdeck/planningdeck/internal/cmd/poker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := pokercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[POKER] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pokercmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}

// Package main creates estimation sessions for the poker service.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	seedcmd "github.com/planningdeck/planningdeck/internal/cmd/seed"
)

func main() {
	_ = godotenv.Load()

	cfg, taskTitles, err := seedcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[SEED] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedcmd.Run(ctx, cfg, taskTitles, os.Stdout); err != nil {
		log.Fatalf("failed to seed: %v", err)
	}
}

package main

import (
	"context"
	"log"
	"os"

	"github.com/parleychat/parley/internal/client/cli"
	"github.com/parleychat/parley/internal/client/config"
	"github.com/parleychat/parley/internal/logging"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// the REPL owns stdout; diagnostics go to stderr
	logger := logging.NewText(os.Stderr)

	app, err := cli.NewApp(cfg, logger)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("client: %v", err)
	}
}

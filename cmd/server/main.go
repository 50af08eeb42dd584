package main

import (
	"context"
	"log"
	"os"

	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/server"
	"github.com/parleychat/parley/internal/server/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.NewJSON(os.Stdout)

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}
}

package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/parleychat/parley/internal/flagx"
)

// applyFlags overlays the client's own command-line flags:
//
//	-a string   websocket URL of the messaging server
//	-t string   identity token
//	-f string   path of the local cache database
//
// Args are filtered through flagx.Pick first, so flags owned by other
// layers (like -c) pass through untouched.
func applyFlags(cfg *Config, args []string) error {
	picked := flagx.Pick(args, "-a", "-t", "-f")

	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "websocket URL of the server")
	fs.StringVar(&cfg.Token, "t", cfg.Token, "identity token")
	fs.StringVar(&cfg.DBPath, "f", cfg.DBPath, "local cache database path")

	if err := fs.Parse(picked); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}
	return nil
}

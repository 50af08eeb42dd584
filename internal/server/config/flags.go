package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/parleychat/parley/internal/flagx"
)

// applyFlags overlays the server's own command-line flags:
//
//	-a string   HTTP bind address (e.g. ":8080")
//	-d string   PostgreSQL DSN
//	-s string   identity-token HMAC secret
//	-r string   Redis address for the push hand-off (empty disables it)
//	-n string   Redis pub/sub channel name
//	-p int      default history page size
//
// Args are filtered through flagx.Pick first, so flags owned by other
// layers (like -c) pass through untouched.
func applyFlags(cfg *Config, args []string) error {
	picked := flagx.Pick(args, "-a", "-d", "-s", "-r", "-n", "-p")

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.Addr, "a", cfg.Addr, "address and port to serve on")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database DSN")
	fs.StringVar(&cfg.JWTSecret, "s", cfg.JWTSecret, "identity token secret")
	fs.StringVar(&cfg.RedisAddr, "r", cfg.RedisAddr, "redis address for push hand-off")
	fs.StringVar(&cfg.RedisChannel, "n", cfg.RedisChannel, "redis channel for push hand-off")
	fs.IntVar(&cfg.HistoryPageSize, "p", cfg.HistoryPageSize, "history page size")

	if err := fs.Parse(picked); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}
	return nil
}

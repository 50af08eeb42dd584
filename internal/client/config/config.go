// Package config builds the client configuration in layers: compiled-in
// defaults, then an optional JSON file, then environment variables, then
// command-line flags. Later layers win.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/parleychat/parley/internal/flagx"
)

// Config holds the runtime settings of the chat client.
//
//   - ServerURL: websocket endpoint of the messaging server.
//   - Token: identity token presented on connect. Usually supplied per
//     invocation rather than stored in a file.
//   - DBPath: path of the local SQLite cache.
type Config struct {
	ServerURL string `env:"PARLEY_SERVER_URL"`
	Token     string `env:"PARLEY_TOKEN"`
	DBPath    string `env:"PARLEY_CLIENT_DB"`
}

// LoadDefaults populates development defaults; production deployments
// override them through any later layer.
func (c *Config) LoadDefaults() {
	c.ServerURL = "ws://localhost:8080/ws"
	c.Token = ""
	c.DBPath = "parley.db"
}

// Load builds the configuration from args (usually os.Args[1:]).
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := applyJSON(cfg, flagx.ConfigFile(args)); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := applyFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}

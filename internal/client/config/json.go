package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// fileConfig is the JSON shape of the config file. It exists separately
// from Config so absent keys overlay nothing instead of zeroing defaults.
type fileConfig struct {
	ServerURL string `json:"server_url"`
	Token     string `json:"token"`
	DBPath    string `json:"db_path"`
}

func applyJSON(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := json.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if fc.ServerURL != "" {
		cfg.ServerURL = fc.ServerURL
	}
	if fc.Token != "" {
		cfg.Token = fc.Token
	}
	if fc.DBPath != "" {
		cfg.DBPath = fc.DBPath
	}
	return nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// fileConfig is the JSON shape of the config file. It exists separately
// from Config so absent keys overlay nothing instead of zeroing defaults.
type fileConfig struct {
	Addr            string `json:"addr"`
	DatabaseDSN     string `json:"database_dsn"`
	JWTSecret       string `json:"jwt_secret"`
	RedisAddr       string `json:"redis_addr"`
	RedisChannel    string `json:"redis_channel"`
	HistoryPageSize int    `json:"history_page_size"`
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

	if fc.Addr != "" {
		cfg.Addr = fc.Addr
	}
	if fc.DatabaseDSN != "" {
		cfg.DatabaseDSN = fc.DatabaseDSN
	}
	if fc.JWTSecret != "" {
		cfg.JWTSecret = fc.JWTSecret
	}
	if fc.RedisAddr != "" {
		cfg.RedisAddr = fc.RedisAddr
	}
	if fc.RedisChannel != "" {
		cfg.RedisChannel = fc.RedisChannel
	}
	if fc.HistoryPageSize != 0 {
		cfg.HistoryPageSize = fc.HistoryPageSize
	}
	return nil
}

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all dray configuration that is not per-mission.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ProfileDir  string `json:"profile_dir"`
	DownloadDir string `json:"download_dir"`
	DBPath      string `json:"db_path"`
	LogLevel    string `json:"log_level"`
	Headless    bool   `json:"headless"`
}

func defaultConfig() Config {
	return Config{
		ProfileDir:  filepath.Join(drayDir(), "profile"),
		DownloadDir: filepath.Join(drayDir(), "downloads"),
		DBPath:      filepath.Join(drayDir(), "dray.db"),
		LogLevel:    "info",
		Headless:    true,
	}
}

func drayDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dray"
	}
	return filepath.Join(home, ".dray")
}

func settingsPath() string {
	return filepath.Join(drayDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("DRAY_PROFILE_DIR"); v != "" {
		cfg.ProfileDir = v
	}
	if v := os.Getenv("DRAY_DOWNLOAD_DIR"); v != "" {
		cfg.DownloadDir = v
	}
	if v := os.Getenv("DRAY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DRAY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DRAY_HEADLESS"); v != "" {
		cfg.Headless = v == "true" || v == "1"
	}

	return cfg
}

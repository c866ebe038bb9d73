// Package config loads sherpad's runtime configuration.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

// Config holds all application configuration.
type Config struct {
	// Server
	ListenAddr string `toml:"listen_addr"`

	// Storage layout
	BaseDir string `toml:"base_dir"`

	// Database
	DatabasePath string `toml:"database_path"`

	// Networking
	ManagementCIDR string `toml:"management_cidr"`

	// Virtualization
	LibvirtURI      string `toml:"libvirt_uri"`
	StoragePoolName string `toml:"storage_pool_name"`
	StoragePoolPath string `toml:"storage_pool_path"`

	// Auth
	JWTSecret string `toml:"-"`

	// Logging
	LogLevel string `toml:"log_level"`
}

// Default returns the configuration a freshly initialized base directory
// would carry, before any file or environment override is applied.
func Default() *Config {
	return &Config{
		ListenAddr:     ":7777",
		BaseDir:        "/var/lib/sherpa",
		DatabasePath:   "/var/lib/sherpa/sherpa.db",
		ManagementCIDR:  "172.16.0.0/12",
		LibvirtURI:      "qemu:///system",
		StoragePoolName: "sherpa",
		StoragePoolPath: "/var/lib/sherpa/pool",
		LogLevel:        "info",
	}
}

// Load loads configuration from <base>/config/sherpa.toml with environment
// variable overrides; a .env file in the working directory supplies local
// dev defaults.
func Load(baseDir string) (*Config, error) {
	loadEnvFile(".env")

	cfg := Default()
	if baseDir != "" {
		cfg.BaseDir = baseDir
		cfg.DatabasePath = baseDir + "/sherpa.db"
	}

	tomlPath := cfg.BaseDir + "/config/sherpa.toml"
	if data, err := os.ReadFile(tomlPath); err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", tomlPath, err)
		}
	}

	cfg.ListenAddr = getEnv("SHERPA_LISTEN_ADDR", cfg.ListenAddr)
	cfg.DatabasePath = getEnv("SHERPA_DB_PATH", cfg.DatabasePath)
	cfg.ManagementCIDR = getEnv("SHERPA_MGMT_CIDR", cfg.ManagementCIDR)
	cfg.LibvirtURI = getEnv("SHERPA_LIBVIRT_URI", cfg.LibvirtURI)
	cfg.StoragePoolName = getEnv("SHERPA_STORAGE_POOL", cfg.StoragePoolName)
	cfg.StoragePoolPath = getEnv("SHERPA_STORAGE_POOL_PATH", cfg.StoragePoolPath)
	cfg.JWTSecret = getEnv("SHERPA_JWT_SECRET", "sherpa-dev-secret-change-me")
	cfg.LogLevel = getEnv("SHERPA_LOG", cfg.LogLevel)

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	return nil
}

// LogrusLevel parses LogLevel into a logrus.Level, defaulting to Info on a
// bad or empty value.
func (c *Config) LogrusLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loadEnvFile loads environment variables from a .env file, without
// overriding anything already set in the process environment.
func loadEnvFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"'`)

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

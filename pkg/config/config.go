// Package config loads the YAML configuration of a slotdb instance.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"slotdb/pkg/buffer"
	"slotdb/pkg/logger"
)

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Logger  logger.Config `yaml:"logger"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type StorageConfig struct {
	DataFile   string `yaml:"data_file"`
	PoolSize   int    `yaml:"pool_size"`
	SyncWrites bool   `yaml:"sync_writes"`
	// Replacer names the eviction policy: "lru" or "mru".
	Replacer string `yaml:"replacer"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

func Default() Config {
	return Config{
		Storage: StorageConfig{
			DataFile: "data/slotdb.db",
			PoolSize: 64,
			Replacer: "lru",
		},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9108",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Storage.DataFile == "" {
		errs = append(errs, errors.New("storage.data_file must be set"))
	}
	if c.Storage.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("storage.pool_size must be positive, got %d", c.Storage.PoolSize))
	}
	if _, ok := buffer.NewReplacer(c.Storage.Replacer); !ok {
		errs = append(errs, fmt.Errorf("storage.replacer %q is not supported", c.Storage.Replacer))
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		errs = append(errs, errors.New("metrics.listen_addr must be set when metrics are enabled"))
	}
	return errors.Join(errs...)
}

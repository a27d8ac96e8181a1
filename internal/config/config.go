// Package config loads the YAML configuration file and overlays
// environment/flag bindings on top of it via viper.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v2"
)

// ContractConfig describes the single contract and single event this scan
// targets: one event schema per scan, one contract per cycle.
type ContractConfig struct {
	Name      string   `yaml:"name"`
	Address   string   `yaml:"address"`
	ABI       string   `yaml:"abi"`
	ParsedABI *abi.ABI `yaml:"-"`
	Event     string   `yaml:"event"`
}

// StorageConfig selects and configures exactly one ProgressStore backend,
// plus an optional CSV export sink layered alongside it.
type StorageConfig struct {
	Type string `yaml:"type"` // "mongo" or "sqlite"

	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`

	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`

	CSV struct {
		Enabled   bool   `yaml:"enabled"`
		OutputDir string `yaml:"output_dir"`
	} `yaml:"csv"`
}

// RedisConfig configures the optional creation-block cache (A8). Empty
// Addr disables the cache; Locator falls back to a no-op cache.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// ScanConfig holds every scan-cycle tunable.
type ScanConfig struct {
	MinChunk         uint64 `yaml:"min_chunk"`
	MaxChunk         uint64 `yaml:"max_chunk"`
	InitialChunkSize uint64 `yaml:"initial_chunk_size"`
	MaxRetries       int    `yaml:"max_retries"`
	RetryDelaySeconds int   `yaml:"retry_delay_seconds"`
	ReorgSafety      uint64 `yaml:"reorg_safety"`
	SegmentWidth     uint64 `yaml:"segment_width"`
}

type Config struct {
	RPCURL   string         `yaml:"rpc_url"`
	Contract ContractConfig `yaml:"contract"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Scan     ScanConfig     `yaml:"scan"`
}

// Load reads path, applies defaults, binds CHAINSWEEP_-prefixed environment
// overrides via viper, validates, and resolves the contract's ABI file.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if err := resolveABI(&cfg, filepath.Dir(absPath)); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides layers CHAINSWEEP_*-prefixed environment variables over
// the file-loaded config for the tunables operators most often need to
// adjust without editing the YAML.
func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("CHAINSWEEP")
	v.AutomaticEnv()

	if u := v.GetString("RPC_URL"); u != "" {
		cfg.RPCURL = u
	}
	if v.IsSet("MAX_CHUNK") {
		cfg.Scan.MaxChunk = v.GetUint64("MAX_CHUNK")
	}
	if v.IsSet("MIN_CHUNK") {
		cfg.Scan.MinChunk = v.GetUint64("MIN_CHUNK")
	}
	if v.IsSet("MAX_RETRIES") {
		cfg.Scan.MaxRetries = v.GetInt("MAX_RETRIES")
	}
	if v.IsSet("REORG_SAFETY") {
		cfg.Scan.ReorgSafety = v.GetUint64("REORG_SAFETY")
	}
	if addr := v.GetString("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Scan.MinChunk == 0 {
		cfg.Scan.MinChunk = 10
	}
	if cfg.Scan.MaxChunk == 0 {
		cfg.Scan.MaxChunk = 1000
	}
	if cfg.Scan.InitialChunkSize == 0 {
		cfg.Scan.InitialChunkSize = 20
	}
	if cfg.Scan.MaxRetries == 0 {
		cfg.Scan.MaxRetries = 4
	}
	if cfg.Scan.RetryDelaySeconds == 0 {
		cfg.Scan.RetryDelaySeconds = 12
	}
	if cfg.Scan.ReorgSafety == 0 {
		cfg.Scan.ReorgSafety = 10
	}
	if cfg.Scan.SegmentWidth == 0 {
		cfg.Scan.SegmentWidth = 1000
	}
}

func validate(cfg *Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("config: rpc_url is required")
	}
	if cfg.Contract.Name == "" {
		return fmt.Errorf("config: contract.name is required")
	}
	if cfg.Contract.Address == "" {
		return fmt.Errorf("config: contract.address is required")
	}
	if cfg.Contract.ABI == "" {
		return fmt.Errorf("config: contract.abi is required")
	}
	if cfg.Contract.Event == "" {
		return fmt.Errorf("config: contract.event is required")
	}

	switch cfg.Storage.Type {
	case "mongo":
		if cfg.Storage.Mongo.URI == "" {
			return fmt.Errorf("config: storage.mongo.uri is required when storage.type is mongo")
		}
	case "sqlite":
		if cfg.Storage.SQLite.Path == "" {
			return fmt.Errorf("config: storage.sqlite.path is required when storage.type is sqlite")
		}
	default:
		return fmt.Errorf("config: unsupported storage type %q (want mongo or sqlite)", cfg.Storage.Type)
	}

	if cfg.Storage.CSV.Enabled && cfg.Storage.CSV.OutputDir == "" {
		return fmt.Errorf("config: storage.csv.output_dir is required when storage.csv.enabled is true")
	}

	return nil
}

func resolveABI(cfg *Config, cfgDir string) error {
	abiPath := cfg.Contract.ABI
	if !filepath.IsAbs(abiPath) {
		abiPath = filepath.Join(cfgDir, abiPath)
	}
	if _, err := os.Stat(abiPath); err != nil {
		return fmt.Errorf("config: abi file for contract %q not found: %w", cfg.Contract.Name, err)
	}

	abiBytes, err := os.ReadFile(abiPath)
	if err != nil {
		return fmt.Errorf("config: reading abi for contract %q: %w", cfg.Contract.Name, err)
	}

	parsed, err := abi.JSON(bytes.NewReader(abiBytes))
	if err != nil {
		return fmt.Errorf("config: parsing abi for contract %q: %w", cfg.Contract.Name, err)
	}

	cfg.Contract.ParsedABI = &parsed
	cfg.Contract.ABI = abiPath
	return nil
}

// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config loads grant client and server settings. Values are layered:
// built-in defaults, then a TOML file, then GRANT_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/bitfsorg/libgrant-go/transfer"
)

// EnvPrefix is the prefix of environment overrides. GRANT_LEDGER_RPC__URL
// sets ledger.rpc_url: a single underscore separates sections and a double
// underscore is a literal underscore.
const EnvPrefix = "GRANT_"

// FileName is the configuration file name inside the data directory.
const FileName = "config.toml"

// Config holds all grant settings.
type Config struct {
	DataDir   string          `koanf:"data_dir"`
	LogLevel  string          `koanf:"log_level"`
	LogFile   string          `koanf:"log_file"`
	Ledger    LedgerConfig    `koanf:"ledger"`
	Storage   StorageConfig   `koanf:"storage"`
	Threshold ThresholdConfig `koanf:"threshold"`
	Transfer  TransferConfig  `koanf:"transfer"`
	Server    ServerConfig    `koanf:"server"`
}

// LedgerConfig selects the ledger. An empty RPCURL means the embedded local
// ledger stored under the data directory.
type LedgerConfig struct {
	RPCURL    string `koanf:"rpc_url"`
	PackageID string `koanf:"package_id"`
	ClockID   string `koanf:"clock_id"`
}

// StorageConfig configures the remote blob store and the local fallback.
type StorageConfig struct {
	PublisherURL   string   `koanf:"publisher_url"`
	AggregatorURLs []string `koanf:"aggregator_urls"`
	Epochs         int      `koanf:"epochs"`
	// LocalDir defaults to <data_dir>/blobs.
	LocalDir string `koanf:"local_dir"`
}

// KeyServer is a statically configured key server.
type KeyServer struct {
	ObjectID  string `koanf:"object_id"`
	PublicKey string `koanf:"public_key"`
	URL       string `koanf:"url"`
}

// ThresholdConfig configures encryption and decryption sessions.
type ThresholdConfig struct {
	Threshold  int           `koanf:"threshold"`
	SessionTTL time.Duration `koanf:"session_ttl"`
	KeyServers []KeyServer   `koanf:"key_servers"`
	// DiscoveryDomain, when set, adds the key servers published in its
	// DNSSEC-signed TXT records.
	DiscoveryDomain string `koanf:"discovery_domain"`
	DNSUpstream     string `koanf:"dns_upstream"`
}

// TransferConfig selects degraded modes and grant defaults.
type TransferConfig struct {
	SkipEncryption    bool          `koanf:"skip_encryption"`
	SkipRemoteStorage bool          `koanf:"skip_remote_storage"`
	DefaultGrantTTL   time.Duration `koanf:"default_grant_ttl"`
}

// Mode returns the transfer mode selected by c.
func (c TransferConfig) Mode() transfer.Config {
	return transfer.Config{SkipEncryption: c.SkipEncryption, SkipRemoteStorage: c.SkipRemoteStorage}
}

// ServerConfig configures the long-running services.
type ServerConfig struct {
	KeyServerAddr     string  `koanf:"keyserver_addr"`
	KeyServerObjectID string  `koanf:"keyserver_object_id"`
	KeyServerKeyFile  string  `koanf:"keyserver_key_file"`
	RateLimit         float64 `koanf:"rate_limit"`
	Burst             int     `koanf:"burst"`
	LedgerAddr        string  `koanf:"ledger_addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:  DefaultDataDir(),
		LogLevel: "info",
		Threshold: ThresholdConfig{
			Threshold:   2,
			SessionTTL:  10 * time.Minute,
			DNSUpstream: "8.8.8.8:53",
		},
		Transfer: TransferConfig{
			DefaultGrantTTL: transfer.DefaultGrantTTL,
		},
		Server: ServerConfig{
			KeyServerAddr: ":8180",
			RateLimit:     20,
			Burst:         40,
			LedgerAddr:    ":9000",
		},
	}
}

// DefaultDataDir returns the default data directory: $HOME/.grant.
// Falls back to ".grant" in the current directory if HOME cannot be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".grant"
	}
	return filepath.Join(home, ".grant")
}

// ConfigPath returns the configuration file path inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// BlobDir returns the local blob directory.
func (c Config) BlobDir() string {
	if c.Storage.LocalDir != "" {
		return c.Storage.LocalDir
	}
	return filepath.Join(c.DataDir, "blobs")
}

// LedgerPath returns the embedded ledger database path.
func (c Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// envKey maps GRANT_STORAGE_PUBLISHER__URL to storage.publisher_url.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
	s = strings.ReplaceAll(s, "_", ".")
	return strings.ReplaceAll(s, "%UNDERSCORE%", "_")
}

// LoadConfig is ReadConfig followed by ValidateConfig.
func LoadConfig(path string) (Config, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return cfg, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ReadConfig reads path on top of DefaultConfig and applies environment
// overrides without validating. An empty path skips the file; a missing file
// is ErrConfigNotFound.
func ReadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return cfg, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return cfg, fmt.Errorf("%w: %w", ErrInvalidConfigFile, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return cfg, fmt.Errorf("config: load environment: %w", err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           &cfg,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfigFile, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as TOML, creating parent directories as needed.
func SaveConfig(path string, cfg Config) error {
	data, err := toml.Parser().Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// toMap renders cfg with durations as strings so the file stays readable.
func toMap(cfg Config) map[string]interface{} {
	servers := make([]map[string]interface{}, 0, len(cfg.Threshold.KeyServers))
	for _, ks := range cfg.Threshold.KeyServers {
		servers = append(servers, map[string]interface{}{
			"object_id":  ks.ObjectID,
			"public_key": ks.PublicKey,
			"url":        ks.URL,
		})
	}
	aggregators := cfg.Storage.AggregatorURLs
	if aggregators == nil {
		aggregators = []string{}
	}
	return map[string]interface{}{
		"data_dir":  cfg.DataDir,
		"log_level": cfg.LogLevel,
		"log_file":  cfg.LogFile,
		"ledger": map[string]interface{}{
			"rpc_url":    cfg.Ledger.RPCURL,
			"package_id": cfg.Ledger.PackageID,
			"clock_id":   cfg.Ledger.ClockID,
		},
		"storage": map[string]interface{}{
			"publisher_url":   cfg.Storage.PublisherURL,
			"aggregator_urls": aggregators,
			"epochs":          cfg.Storage.Epochs,
			"local_dir":       cfg.Storage.LocalDir,
		},
		"threshold": map[string]interface{}{
			"threshold":        cfg.Threshold.Threshold,
			"session_ttl":      cfg.Threshold.SessionTTL.String(),
			"key_servers":      servers,
			"discovery_domain": cfg.Threshold.DiscoveryDomain,
			"dns_upstream":     cfg.Threshold.DNSUpstream,
		},
		"transfer": map[string]interface{}{
			"skip_encryption":     cfg.Transfer.SkipEncryption,
			"skip_remote_storage": cfg.Transfer.SkipRemoteStorage,
			"default_grant_ttl":   cfg.Transfer.DefaultGrantTTL.String(),
		},
		"server": map[string]interface{}{
			"keyserver_addr":      cfg.Server.KeyServerAddr,
			"keyserver_object_id": cfg.Server.KeyServerObjectID,
			"keyserver_key_file":  cfg.Server.KeyServerKeyFile,
			"rate_limit":          cfg.Server.RateLimit,
			"burst":               cfg.Server.Burst,
			"ledger_addr":         cfg.Server.LedgerAddr,
		},
	}
}

// Package config loads marketd configuration from a JSON or YAML file,
// an optional .env file and TOLMARKET_* environment variables, in that
// order of increasing precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tolelom/tolmarket/crypto"
)

const envPrefix = "TOLMARKET_"

// GenesisConfig describes the ledger's initial balances.
type GenesisConfig struct {
	Alloc map[string]uint64 `json:"alloc" yaml:"alloc"` // pubkey hex → initial balance
}

// TLSConfig holds PEM paths for serving RPC over TLS. ClientCA, when set,
// requires clients to present a certificate signed by it.
type TLSConfig struct {
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
	ClientCA string `json:"client_ca" yaml:"client_ca"`
}

// Config holds all marketd configuration.
type Config struct {
	ChainID  string        `json:"chain_id" yaml:"chain_id"`
	DataDir  string        `json:"data_dir" yaml:"data_dir"`
	RPCHost  string        `json:"rpc_host" yaml:"rpc_host"`
	RPCPort  int           `json:"rpc_port" yaml:"rpc_port"`
	RPCToken string        `json:"rpc_token" yaml:"rpc_token"` // empty → no auth
	LogFile  string        `json:"log_file" yaml:"log_file"`
	Debug    bool          `json:"debug" yaml:"debug"`
	Keystore string        `json:"keystore" yaml:"keystore"` // operator key
	TLS      TLSConfig     `json:"tls" yaml:"tls"`
	Genesis  GenesisConfig `json:"genesis" yaml:"genesis"`

	// KeystorePassword is read from the environment only.
	KeystorePassword string `json:"-" yaml:"-"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		ChainID:  "tolmarket-dev",
		DataDir:  "./data",
		RPCHost:  "127.0.0.1",
		RPCPort:  8545,
		Keystore: "./operator.key",
		Genesis:  GenesisConfig{Alloc: map[string]uint64{}},
	}
}

// RPCAddr returns host:port for the RPC listener.
func (c *Config) RPCAddr() string {
	return fmt.Sprintf("%s:%d", c.RPCHost, c.RPCPort)
}

// Load builds a Config from DefaultConfig, the file at path (skipped when
// path is empty), the given .env files and the environment, then validates
// it. Missing .env files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := loadDotEnv(envFiles...); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadDotEnv(files ...string) error {
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ChainID = getString("CHAIN_ID", c.ChainID)
	c.DataDir = getString("DATA_DIR", c.DataDir)
	c.RPCHost = getString("RPC_HOST", c.RPCHost)
	c.RPCPort = getInt("RPC_PORT", c.RPCPort)
	c.RPCToken = getString("RPC_TOKEN", c.RPCToken)
	c.LogFile = getString("LOG_FILE", c.LogFile)
	c.Debug = getBool("DEBUG", c.Debug)
	c.Keystore = getString("KEYSTORE", c.Keystore)
	c.KeystorePassword = getString("KEYSTORE_PASSWORD", c.KeystorePassword)
	c.TLS.CertFile = getString("TLS_CERT_FILE", c.TLS.CertFile)
	c.TLS.KeyFile = getString("TLS_KEY_FILE", c.TLS.KeyFile)
	c.TLS.ClientCA = getString("TLS_CLIENT_CA", c.TLS.ClientCA)
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.ChainID == "" {
		return errors.New("chain_id is required")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.RPCPort < 1 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be between 1 and 65535, got %d", c.RPCPort)
	}
	if c.Keystore == "" {
		return errors.New("keystore is required")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls.cert_file and tls.key_file must be set together")
	}
	if c.TLS.ClientCA != "" && c.TLS.CertFile == "" {
		return errors.New("tls.client_ca requires tls.cert_file")
	}
	for addr := range c.Genesis.Alloc {
		if !crypto.IsIdentity(addr) {
			return fmt.Errorf("genesis.alloc: invalid address %q", addr)
		}
	}
	return nil
}

// Save writes the config to path, as YAML for .yaml/.yml and JSON otherwise.
func Save(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func getString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(envPrefix + key); exists {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getString(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(getString(key, "")); err == nil {
		return v
	}
	return defaultValue
}

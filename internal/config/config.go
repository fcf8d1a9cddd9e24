package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/notify-relay/internal/auth"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	// stateFileName is the bbolt database file inside DataDir.
	stateFileName = "state.db"

	// iconDirName is the icon cache directory inside DataDir.
	iconDirName = "icons"

	// disabledAddr turns off a listener. The env parser substitutes
	// defaults for empty values, so an empty string cannot be used.
	disabledAddr = "off"

	// maxFieldBytesCeiling bounds MAX_FIELD_BYTES. Wire lengths are 32-bit
	// but nothing legitimate comes close to this.
	maxFieldBytesCeiling = 256 * 1024 * 1024
)

// Config holds all environment-based configuration for notify-relay.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	// DataDir holds the state database and the icon cache. Defaults to
	// ~/.notify-relay when empty.
	DataDir string `env:"DATA_DIR"`

	// Service identity advertised by both endpoints.
	ServiceName string `env:"SERVICE_NAME" envDefault:"SPP"`
	ServiceUUID string `env:"SERVICE_UUID" envDefault:"00001101-0000-1000-8000-00805F9B34FB"`

	// Peer endpoints. "off" disables the plain endpoint; the TLS endpoint
	// is only enabled when an address is given. At least one must be on.
	InsecureListenAddr string `env:"INSECURE_LISTEN_ADDR" envDefault:":7700"`
	SecureListenAddr   string `env:"SECURE_LISTEN_ADDR"`
	TLSCertFile        string `env:"TLS_CERT_FILE"`
	TLSKeyFile         string `env:"TLS_KEY_FILE"`
	TLSClientCAFile    string `env:"TLS_CLIENT_CA_FILE"`

	// HTTP surface for UI events, MCP tools and metrics. "off" disables it.
	HTTPListenAddr string `env:"HTTP_LISTEN_ADDR" envDefault:"127.0.0.1:8091"`

	// HTTPTokenHashes are bcrypt hashes of the bearer tokens accepted on
	// the HTTP surface. Empty leaves it open. Generate with
	// "notify-relay hash-token".
	HTTPTokenHashes []string `env:"HTTP_TOKEN_HASHES" envSeparator:","`

	// Read sync push tuning.
	ReadSyncWait time.Duration `env:"READ_SYNC_WAIT" envDefault:"5s"`
	ReadSyncPoll time.Duration `env:"READ_SYNC_POLL" envDefault:"250ms"`
	EchoReadAcks bool          `env:"ECHO_READ_ACKS" envDefault:"true"`

	MaxFieldBytes          int `env:"MAX_FIELD_BYTES" envDefault:"16777216"`
	MaxActiveNotifications int `env:"MAX_ACTIVE_NOTIFICATIONS" envDefault:"24"`
	ThumbnailSize          int `env:"THUMBNAIL_SIZE" envDefault:"128"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. The file may carry TLS key paths.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return nil, err
		}

		cfg.DataDir = dir
	}

	absDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving data dir to absolute path: %w", err)
	}

	cfg.DataDir = absDir
	cfg.InsecureListenAddr = normalizeAddr(cfg.InsecureListenAddr)
	cfg.SecureListenAddr = normalizeAddr(cfg.SecureListenAddr)
	cfg.HTTPListenAddr = normalizeAddr(cfg.HTTPListenAddr)

	for i, h := range cfg.HTTPTokenHashes {
		cfg.HTTPTokenHashes[i] = strings.TrimSpace(h)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.InsecureListenAddr == "" && c.SecureListenAddr == "" {
		return fmt.Errorf("at least one of INSECURE_LISTEN_ADDR or SECURE_LISTEN_ADDR must be set")
	}

	if c.SecureListenAddr != "" && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE are required when SECURE_LISTEN_ADDR is set")
	}

	if c.TLSClientCAFile != "" && c.SecureListenAddr == "" {
		return fmt.Errorf("TLS_CLIENT_CA_FILE has no effect without SECURE_LISTEN_ADDR")
	}

	for _, h := range c.HTTPTokenHashes {
		if err := auth.ValidateHash(h); err != nil {
			return fmt.Errorf("HTTP_TOKEN_HASHES: %w", err)
		}
	}

	if _, err := uuid.Parse(c.ServiceUUID); err != nil {
		return fmt.Errorf("SERVICE_UUID is not a valid UUID: %w", err)
	}

	if c.ReadSyncWait <= 0 {
		return fmt.Errorf("READ_SYNC_WAIT must be positive")
	}

	if c.ReadSyncPoll <= 0 || c.ReadSyncPoll > c.ReadSyncWait {
		return fmt.Errorf("READ_SYNC_POLL must be positive and no longer than READ_SYNC_WAIT")
	}

	if c.MaxFieldBytes <= 0 || c.MaxFieldBytes > maxFieldBytesCeiling {
		return fmt.Errorf("MAX_FIELD_BYTES must be between 1 and %d", maxFieldBytesCeiling)
	}

	if c.MaxActiveNotifications <= 0 {
		return fmt.Errorf("MAX_ACTIVE_NOTIFICATIONS must be positive")
	}

	if c.ThumbnailSize <= 0 {
		return fmt.Errorf("THUMBNAIL_SIZE must be positive")
	}

	return nil
}

func normalizeAddr(addr string) string {
	if strings.EqualFold(strings.TrimSpace(addr), disabledAddr) {
		return ""
	}

	return addr
}

// DefaultDataDir returns ~/.notify-relay.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".notify-relay"), nil
}

// StatePath returns the bbolt database path.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, stateFileName)
}

// IconDir returns the icon cache directory.
func (c *Config) IconDir() string {
	return filepath.Join(c.DataDir, iconDirName)
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ServiceID returns the parsed service UUID. Load has already validated it.
func (c *Config) ServiceID() uuid.UUID {
	return uuid.MustParse(c.ServiceUUID)
}

// Package config loads the orchestrator's startup configuration from
// environment variables (via a .env file, mirroring the teacher's
// env-first/settings-db-override layering) and validates the invariants
// that must hold before a single browser is launched.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/riverlock/fleetctl/internal/errkind"
)

// WatchdogConfig holds the Health Watchdog's tunables.
type WatchdogConfig struct {
	ProbeIntervalSeconds int // T
	ConfirmCount         int // K
	RecoveryBudgetSeconds int
	MaxRestarts          int
}

// R2Config holds optional Cloudflare R2 archival credentials. Archival is
// disabled (best-effort, skipped) when any field is empty.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.Bucket != ""
}

// Config is the orchestrator's process-start configuration. ProtectedPort is
// never hot-reloadable; routing and trading defaults live in the hot-reload
// store (see store.go) and are not part of this struct.
type Config struct {
	Port             int
	LogLevel         string
	DevMode          bool
	DataDir          string

	ProtectedPort    int
	ManagedPortBase  int
	MaxInstances     int

	TradingHost      string // URL host the target tab's URL must contain
	CredentialsPath  string // per-account credentials file; storage format is opaque to the core

	BinaryPath  string // path to the browser executable the Supervisor launches
	ProfileRoot string // parent directory under which per-instance profile_dir scratch directories are created
	BundlePath  string // path to the instrumentation bundle script injected into every tab

	Watchdog WatchdogConfig
	R2       R2Config
}

// Load reads configuration from the environment (optionally from a .env
// file in the working directory) and validates the protected-port invariant.
// dataDirFlag, when non-empty, overrides FLEET_DATA_DIR.
func Load(dataDirFlag string) (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	cfg := &Config{
		Port:            envInt("FLEET_PORT", 8080),
		LogLevel:        envStr("FLEET_LOG_LEVEL", "info"),
		DevMode:         envBool("FLEET_DEV_MODE", false),
		DataDir:         envStr("FLEET_DATA_DIR", "./data"),
		ProtectedPort:   envInt("FLEET_PROTECTED_PORT", 9222),
		ManagedPortBase: envInt("FLEET_MANAGED_PORT_BASE", 9223),
		MaxInstances:    envInt("FLEET_MAX_INSTANCES", 8),
		TradingHost:     envStr("FLEET_TRADING_HOST", "trade.example.com"),
		CredentialsPath: envStr("FLEET_CREDENTIALS_PATH", "./credentials.json"),
		BinaryPath:      envStr("FLEET_BINARY_PATH", "/usr/bin/google-chrome"),
		ProfileRoot:     envStr("FLEET_PROFILE_ROOT", "./profiles"),
		BundlePath:      envStr("FLEET_BUNDLE_PATH", "./bundle.js"),
		Watchdog: WatchdogConfig{
			ProbeIntervalSeconds:  envInt("FLEET_WATCHDOG_PROBE_INTERVAL", 10),
			ConfirmCount:          envInt("FLEET_WATCHDOG_CONFIRM_COUNT", 3),
			RecoveryBudgetSeconds: envInt("FLEET_WATCHDOG_RECOVERY_BUDGET", 300),
			MaxRestarts:           envInt("FLEET_WATCHDOG_MAX_RESTARTS", 5),
		},
		R2: R2Config{
			AccountID:       envStr("FLEET_R2_ACCOUNT_ID", ""),
			AccessKeyID:     envStr("FLEET_R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: envStr("FLEET_R2_SECRET_ACCESS_KEY", ""),
			Bucket:          envStr("FLEET_R2_BUCKET", ""),
		},
	}

	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the protected-port invariant described in the fleet's
// data model: the protected port must never collide with the managed range,
// and the managed range must leave room for at least one instance.
func (c *Config) Validate() error {
	if c.ManagedPortBase <= c.ProtectedPort {
		return errkind.New(errkind.ConfigInvalid, "", fmt.Sprintf(
			"managed_port_base (%d) must be strictly greater than protected_port (%d)",
			c.ManagedPortBase, c.ProtectedPort), nil)
	}
	if c.MaxInstances < 1 {
		return errkind.New(errkind.ConfigInvalid, "", "max_instances must be at least 1", nil)
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

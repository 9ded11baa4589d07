// Package config loads the agent's runtime configuration from environment
// variables. The command-line surface and file-based configuration loading
// are deliberately out of scope for the core; this package reads the
// environment, validates it, and hands cmd/pinnerd a typed Config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/inviti8/hvym-pinner/internal/types"
)

// Config is every tunable named in the external interfaces section: ledger
// connection details, mode/poll timing, gateway/storage-node settings, and
// the audit subsystem's schedule.
type Config struct {
	Mode          types.RuntimeMode
	PollInterval  time.Duration
	ErrorBackoff  time.Duration
	LogLevel      string

	RPCURL            string
	NetworkPassphrase string
	ContractID        string
	SigningSecret     string

	GatewayFetchTimeout time.Duration
	MaxContentSize      uint64
	FetchRetries        int
	StorageRPCURL       string

	MinPrice     types.Amount
	DatabasePath string

	AuditEnabled         bool
	CycleInterval        time.Duration
	CheckTimeout         time.Duration
	MaxConcurrent        int
	FailureThreshold     int
	CooldownAfterFlag    time.Duration
	ParticipantCacheTTL  time.Duration
	VerificationMethods  []types.VerificationMethod

	FlowctlEnabled           bool
	FlowctlEndpoint          string
	FlowctlHeartbeatInterval time.Duration
}

// Load populates a Config from the environment, applying its documented
// defaults, and validates the fields whose absence is a fatal startup
// misconfiguration (missing secret or contract identifier).
func Load() (*Config, error) {
	cfg := &Config{
		Mode:         types.RuntimeMode(getEnvOrDefault("HVYM_PINNER_MODE", string(types.ModeAutonomous))),
		LogLevel:     getEnvOrDefault("HVYM_PINNER_LOG_LEVEL", "info"),

		RPCURL:            getEnvOrDefault("HVYM_PINNER_RPC_URL", "https://soroban-testnet.stellar.org"),
		NetworkPassphrase: getEnvOrDefault("HVYM_PINNER_NETWORK_PASSPHRASE", "Test SDF Network ; September 2015"),
		ContractID:        os.Getenv("HVYM_PINNER_CONTRACT_ID"),
		SigningSecret:     os.Getenv("HVYM_PINNER_SECRET"),

		StorageRPCURL: getEnvOrDefault("HVYM_PINNER_STORAGE_RPC_URL", "http://localhost:5001"),

		DatabasePath: getEnvOrDefault("HVYM_PINNER_DATABASE_PATH", defaultDatabasePath()),
	}

	var err error
	if cfg.PollInterval, err = getEnvDuration("HVYM_PINNER_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ErrorBackoff, err = getEnvDuration("HVYM_PINNER_ERROR_BACKOFF", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.GatewayFetchTimeout, err = getEnvDuration("HVYM_PINNER_GATEWAY_FETCH_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxContentSize, err = getEnvUint64("HVYM_PINNER_MAX_CONTENT_SIZE", 1<<30); err != nil {
		return nil, err
	}
	if cfg.FetchRetries, err = getEnvInt("HVYM_PINNER_FETCH_RETRIES", 3); err != nil {
		return nil, err
	}
	minPrice, err := getEnvUint64("HVYM_PINNER_MIN_PRICE", 100)
	if err != nil {
		return nil, err
	}
	cfg.MinPrice = types.Amount(minPrice)

	if cfg.AuditEnabled, err = getEnvBool("HVYM_PINNER_AUDIT_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.CycleInterval, err = getEnvDuration("HVYM_PINNER_CYCLE_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.CheckTimeout, err = getEnvDuration("HVYM_PINNER_CHECK_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrent, err = getEnvInt("HVYM_PINNER_MAX_CONCURRENT", 5); err != nil {
		return nil, err
	}
	if cfg.FailureThreshold, err = getEnvInt("HVYM_PINNER_FAILURE_THRESHOLD", 3); err != nil {
		return nil, err
	}
	if cfg.CooldownAfterFlag, err = getEnvDuration("HVYM_PINNER_COOLDOWN_AFTER_FLAG", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ParticipantCacheTTL, err = getEnvDuration("HVYM_PINNER_PARTICIPANT_CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}
	cfg.VerificationMethods = parseMethods(getEnvOrDefault(
		"HVYM_PINNER_VERIFICATION_METHODS",
		"provider_advertisement,block_exchange"))

	if cfg.FlowctlEnabled, err = getEnvBool("HVYM_PINNER_FLOWCTL_ENABLED", false); err != nil {
		return nil, err
	}
	cfg.FlowctlEndpoint = getEnvOrDefault("FLOWCTL_ENDPOINT", "localhost:8080")
	if cfg.FlowctlHeartbeatInterval, err = getEnvDuration("FLOWCTL_HEARTBEAT_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.SigningSecret == "" {
		return nil, fmt.Errorf("HVYM_PINNER_SECRET environment variable is required")
	}
	if cfg.ContractID == "" {
		return nil, fmt.Errorf("HVYM_PINNER_CONTRACT_ID environment variable is required")
	}
	if cfg.Mode != types.ModeAutonomous && cfg.Mode != types.ModeOperatorApproved {
		return nil, fmt.Errorf("invalid HVYM_PINNER_MODE %q", cfg.Mode)
	}

	return cfg, nil
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "hvym_pinner_state.db"
	}
	return home + "/.hvym_pinner/state.db"
}

func parseMethods(raw string) []types.VerificationMethod {
	parts := strings.Split(raw, ",")
	methods := make([]types.VerificationMethod, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			methods = append(methods, types.VerificationMethod(p))
		}
	}
	return methods
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvUint64(key string, defaultValue uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

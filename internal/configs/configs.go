/*
Package configs loads the server configuration from environment variables.

Every setting has a development default; secrets have no default outside the
development environment.
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"meetline/internal/pkg/auth/cipher"
)

const envDevelopment = "development"

// Insecure development fallbacks. LoadConfig refuses them in other environments.
const (
	devAccessSecret  = "dev_access_secret_change_me"
	devRefreshSecret = "dev_refresh_secret_change_me"
	devCipherKey     = "dev-cipher-key-0123456789abcdef!"
	devCipherIV      = "dev-cipher-iv-16"
)

// AppConfig contains all configuration parameters required by the server.
type AppConfig struct {
	// General Server Settings
	Environment   string
	Port          int
	PublicBaseURL string

	// Security Settings
	AllowedOrigins     []string
	AccessTokenSecret  string
	RefreshTokenSecret string
	CipherKey          []byte
	CipherIV           []byte
	CipherIVMode       cipher.IVMode

	// Storage Settings
	DatabaseDSN string
	RedisURL    string

	// Directory Settings
	ExpirySweepInterval time.Duration
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == envDevelopment
}

// LoadConfig reads and validates the configuration from the environment.
func LoadConfig() (*AppConfig, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*AppConfig, error) {
	cfg := &AppConfig{}

	// --- General Server Settings ---
	cfg.Environment = getenv("ENVIRONMENT")
	if cfg.Environment == "" {
		cfg.Environment = envDevelopment
	}
	dev := cfg.IsDevelopment()

	portStr := getenv("PORT")
	if portStr == "" {
		portStr = "8080"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT environment variable: %w", err)
	}
	if port < 1024 || port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", port, 1024, 65535)
	}
	cfg.Port = port

	cfg.PublicBaseURL = strings.TrimRight(getenv("PUBLIC_BASE_URL"), "/")
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	// --- Security Settings ---
	for _, origin := range strings.Split(getenv("ALLOWED_ORIGINS"), ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	if cfg.AccessTokenSecret, err = secret(getenv, "ACCESS_TOKEN_SECRET", devAccessSecret, dev); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenSecret, err = secret(getenv, "REFRESH_TOKEN_SECRET", devRefreshSecret, dev); err != nil {
		return nil, err
	}
	if cfg.AccessTokenSecret == cfg.RefreshTokenSecret {
		return nil, fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}

	keyStr, err := secret(getenv, "CIPHER_KEY", devCipherKey, dev)
	if err != nil {
		return nil, err
	}
	if cfg.CipherKey, err = cipher.DecodeSecret(keyStr, cipher.KeySize); err != nil {
		return nil, fmt.Errorf("invalid CIPHER_KEY: %w", err)
	}

	cfg.CipherIVMode = cipher.IVMode(strings.ToLower(getenv("CIPHER_IV_MODE")))
	if cfg.CipherIVMode == "" {
		cfg.CipherIVMode = cipher.IVStatic
	}
	switch cfg.CipherIVMode {
	case cipher.IVStatic:
		ivStr, err := secret(getenv, "CIPHER_IV", devCipherIV, dev)
		if err != nil {
			return nil, err
		}
		if cfg.CipherIV, err = cipher.DecodeSecret(ivStr, 16); err != nil {
			return nil, fmt.Errorf("invalid CIPHER_IV: %w", err)
		}
	case cipher.IVRandom:
	default:
		return nil, fmt.Errorf("invalid CIPHER_IV_MODE %q (want static or random)", cfg.CipherIVMode)
	}

	// --- Storage Settings ---
	cfg.DatabaseDSN = getenv("DATABASE_URL")
	if cfg.DatabaseDSN == "" && !dev {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required in %s environment", cfg.Environment)
	}

	cfg.RedisURL = getenv("REDIS_URL")

	// --- Directory Settings ---
	cfg.ExpirySweepInterval = time.Minute
	if v := getenv("EXPIRY_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid EXPIRY_SWEEP_INTERVAL %q", v)
		}
		cfg.ExpirySweepInterval = d
	}

	return cfg, nil
}

// secret returns the variable, falling back to def only in development.
func secret(getenv func(string) string, name, def string, dev bool) (string, error) {
	v := getenv(name)
	if v != "" {
		if !dev && v == def {
			return "", fmt.Errorf("%s must not use the development default in production", name)
		}
		return v, nil
	}
	if dev {
		return def, nil
	}
	return "", fmt.Errorf("%s environment variable is required outside development for security", name)
}

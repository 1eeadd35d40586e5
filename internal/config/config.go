// Package config loads process configuration for both the reducer and
// worker binaries from environment-specific .env files layered under real OS
// environment variables, with real env vars taking precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment selects which .env file is loaded at process start.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds the process configuration surface described in §6: SQL
// connector, glitter socket addresses, worker fan-out, log level sets, and
// the feature toggles that gate optional subsystems.
type Config struct {
	Env Environment

	// DBConnector is the SQL connection string (postgres://...).
	DBConnector string

	// GlitterActionAddr/GlitterEventAddr are the reducer's listen addresses
	// (and a worker's dial addresses) for the action request/reply channel
	// and the event publish/subscribe channel respectively.
	GlitterActionAddr string
	GlitterEventAddr  string

	// NWorkers is the expected worker fleet size. Validate requires it to
	// be at least 1; no other component reads it, and the health daemon
	// keeps no stalled-worker accounting.
	NWorkers int

	// StdoutLogLevel / DBLogLevel / PushLogLevel are level-set strings (see
	// internal/logging.ParseLevelSet). StdoutLogLevel configures the process
	// logger, and PushLogLevel selects the log lines forwarded to the
	// operator push channel. DBLogLevel is loaded but not consulted: the
	// reducer's Log store sink persists every log line.
	StdoutLogLevel string
	DBLogLevel     string
	PushLogLevel   string

	WSPushEnabled            bool
	PoliceEnabled            bool
	AnticheatReceiverEnabled bool

	// AdminHTTPAddr is the listen address for the optional admin HTTP
	// endpoint (§6 addition): /healthz, /metrics, /admin/reload/*.
	AdminHTTPAddr string

	// RequiredProfileFields maps a user group to the UserProfile field
	// names that group must supply, per §3's per-group required-field map.
	RequiredProfileFields map[string][]string

	// MainBoardGroups is the closed set of user groups whose solves count
	// toward score decay (§4.3, §8 P3, Glossary "Main-board group").
	MainBoardGroups []string

	// SSRFToken is the shared secret every action request must present
	// before any other processing, guarding the reducer's action endpoint
	// against requests from anything but a trusted worker/frontend.
	SSRFToken string

	// FlagLeetSalt is mixed into the leet-flag HKDF seed alongside each
	// user's signing token (§3, internal/cryptoutil.flagSeed).
	FlagLeetSalt string
}

// Load loads configuration based on the GEEKGAME_ENV environment variable,
// defaulting to development.
func Load() (*Config, error) {
	envStr := os.Getenv("GEEKGAME_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env := Environment(envStr)
	switch env {
	case Development, Testing, Production:
	default:
		return nil, fmt.Errorf("invalid GEEKGAME_ENV: %s (must be development, testing, or production)", envStr)
	}

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: Could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.DBConnector = getEnv("DB_CONNECTOR", "postgres://localhost:5432/geekgame?sslmode=disable")

	c.GlitterActionAddr = getEnv("GLITTER_ACTION_SOCKET_ADDR", "127.0.0.1:23330")
	c.GlitterEventAddr = getEnv("GLITTER_EVENT_SOCKET_ADDR", "127.0.0.1:23331")

	c.NWorkers = getIntEnv("N_WORKERS", 1)
	if c.NWorkers < 1 {
		return fmt.Errorf("N_WORKERS must be at least 1, got %d", c.NWorkers)
	}

	c.StdoutLogLevel = getEnv("STDOUT_LOG_LEVEL", "info,warning,error,critical")
	c.DBLogLevel = getEnv("DB_LOG_LEVEL", "warning,error,critical")
	c.PushLogLevel = getEnv("PUSH_LOG_LEVEL", "error,critical")

	c.WSPushEnabled = getBoolEnv("WS_PUSH_ENABLED", true)
	c.PoliceEnabled = getBoolEnv("POLICE_ENABLED", false)
	c.AnticheatReceiverEnabled = getBoolEnv("ANTICHEAT_RECEIVER_ENABLED", false)

	c.AdminHTTPAddr = getEnv("ADMIN_HTTP_ADDR", "127.0.0.1:23332")

	c.RequiredProfileFields = parseGroupFieldMap(getEnv("REQUIRED_PROFILE_FIELDS",
		"pku=nickname,stuid,qq,tel,email,gender;other=nickname,qq,tel,email,gender;staff=nickname;banned=nickname"))

	c.MainBoardGroups = splitNonEmpty(getEnv("MAIN_BOARD_GROUPS", "pku"))

	c.SSRFToken = getEnv("GLITTER_SSRF_TOKEN", "")
	c.FlagLeetSalt = getEnv("FLAG_LEET_SALT", "")

	return nil
}

// IsDevelopment reports whether the process was started under the
// development environment.
func (c *Config) IsDevelopment() bool { return c.Env == Development }

// IsProduction reports whether the process was started under the production
// environment.
func (c *Config) IsProduction() bool { return c.Env == Production }

// Validate rejects configurations that would violate the single-reducer
// invariant or leave an operator surface wide open in production.
func (c *Config) Validate() error {
	if c.DBConnector == "" {
		return fmt.Errorf("DB_CONNECTOR is required")
	}
	if c.GlitterActionAddr == "" || c.GlitterEventAddr == "" {
		return fmt.Errorf("GLITTER_ACTION_SOCKET_ADDR and GLITTER_EVENT_SOCKET_ADDR are required")
	}
	if len(c.MainBoardGroups) == 0 {
		return fmt.Errorf("MAIN_BOARD_GROUPS must name at least one group")
	}
	if c.SSRFToken == "" && c.IsProduction() {
		return fmt.Errorf("GLITTER_SSRF_TOKEN is required in production")
	}
	return nil
}

func parseGroupFieldMap(raw string) map[string][]string {
	out := make(map[string][]string)
	for _, group := range strings.Split(raw, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		parts := strings.SplitN(group, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[strings.TrimSpace(parts[0])] = splitNonEmpty(parts[1])
	}
	return out
}

func splitNonEmpty(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

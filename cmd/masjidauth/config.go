package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/masjidku/masjidauth/internal/logger"
)

const (
	defaultListenAddr      = "localhost:8000"
	defaultLoggingLevel    = logger.LevelInfo
	defaultEnvironment     = logger.EnvProduction
	defaultAccessTTLMin    = 15
	defaultRefreshTTLDays  = 7
	defaultMaxActiveTokens = 5
	defaultRevokedGrace    = 30
	defaultCleanupSchedule = "0 2 * * *" // daily at 02:00
)

type Config struct {
	// Default logging level
	LogLevel string

	// Environment (dev, prod)
	Environment string

	// Address on which the auth service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key to sign access tokens
	SecretKey string

	// Access token lifetime in minutes
	AccessTTLMin int

	// Refresh token lifetime in days
	RefreshTTLDays int

	// Hard ceiling of active refresh tokens (devices) per user
	MaxActiveTokens int

	// Days revoked tokens are retained before cleanup
	RevokedGraceDays int

	// Cron spec of the daily token cleanup
	CleanupSchedule string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:         defaultLoggingLevel,
		Environment:      defaultEnvironment,
		ListenAddr:       defaultListenAddr,
		AccessTTLMin:     defaultAccessTTLMin,
		RefreshTTLDays:   defaultRefreshTTLDays,
		MaxActiveTokens:  defaultMaxActiveTokens,
		RevokedGraceDays: defaultRevokedGrace,
		CleanupSchedule:  defaultCleanupSchedule,
	}
}

// Load variables from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}

	// Set int option if value parses, ignore otherwise
	setInt := func(o *int) func(value string) {
		return func(value string) {
			if parsed, err := strconv.Atoi(value); err == nil {
				*o = parsed
			}
		}
	}

	envMap := map[string]func(string){
		"RUN_ADDRESS":        setString(&c.ListenAddr),
		"DATABASE_URI":       setString(&c.DatabaseDSN),
		"SECRET_KEY":         setString(&c.SecretKey),
		"LOG_LEVEL":          setString(&c.LogLevel),
		"ENVIRONMENT":        setString(&c.Environment),
		"ACCESS_TOKEN_TTL":   setInt(&c.AccessTTLMin),
		"REFRESH_TOKEN_TTL":  setInt(&c.RefreshTTLDays),
		"MAX_ACTIVE_TOKENS":  setInt(&c.MaxActiveTokens),
		"REVOKED_GRACE_DAYS": setInt(&c.RevokedGraceDays),
		"CLEANUP_SCHEDULE":   setString(&c.CleanupSchedule),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("masjidauth", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.IntVar(&c.AccessTTLMin, "access-ttl", c.AccessTTLMin, "Access token lifetime in minutes")
	fs.IntVar(&c.RefreshTTLDays, "refresh-ttl", c.RefreshTTLDays, "Refresh token lifetime in days")
	fs.IntVar(&c.MaxActiveTokens, "max-devices", c.MaxActiveTokens, "Max active refresh tokens per user")
	fs.IntVar(&c.RevokedGraceDays, "revoked-grace", c.RevokedGraceDays, "Days revoked tokens are retained")
	fs.StringVar(&c.CleanupSchedule, "cleanup-schedule", c.CleanupSchedule, "Cron spec of the token cleanup")

	return fs.Parse(args)
}
